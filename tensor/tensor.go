package tensor

import (
	"fmt"
	"math/rand"
	"slices"
)

// Tensor 是按行主序存储的 float32 张量，卷积部分使用 NCHW 排布
type Tensor struct {
	Shape []int
	Data  []float32
}

func New(shape ...int) *Tensor {
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float32, Volume(shape))}
}

// FromData 包装已有数据，长度必须与 shape 匹配
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if len(data) != Volume(shape) {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

func Volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (t *Tensor) Len() int { return len(t.Data) }

func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// Reshape 返回共享底层数据的新视图
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if Volume(shape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v to %v", t.Shape, shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: t.Data}, nil
}

func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.Shape, o.Shape)
}

func (t *Tensor) Zero() {
	clear(t.Data)
}

// ArgMax 对 [rows, cols] 张量逐行求最大值下标
func (t *Tensor) ArgMax() []int {
	rows, cols := t.Shape[0], t.Len()/t.Shape[0]
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := t.Data[r*cols : (r+1)*cols]
		best := 0
		for c := 1; c < cols; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out[r] = best
	}
	return out
}

// Param 是可训练参数及其梯度
type Param struct {
	Name  string
	Value *Tensor
	Grad  *Tensor
}

func NewParam(name string, shape ...int) *Param {
	return &Param{Name: name, Value: New(shape...), Grad: New(shape...)}
}

// InitUniform 以 U(-bound, bound) 填充参数
func (p *Param) InitUniform(rng *rand.Rand, bound float32) {
	for i := range p.Value.Data {
		p.Value.Data[i] = (rng.Float32()*2 - 1) * bound
	}
}
