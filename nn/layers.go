package nn

import (
	"GlyphNet/tensor"
	"fmt"
	"math"
	"math/rand"
)

type ReLU struct {
	name string
	out  *tensor.Tensor
}

func NewReLU(name string) *ReLU { return &ReLU{name: name} }

func (r *ReLU) Name() string            { return r.name }
func (r *ReLU) Params() []*tensor.Param { return nil }

func (r *ReLU) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	if train {
		r.out = out
	}
	return out, nil
}

func (r *ReLU) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if r.out == nil {
		return nil, errNoForward
	}
	if dy.Len() != r.out.Len() {
		return nil, shapeErr(r.name, fmt.Sprint(r.out.Shape), dy.Shape)
	}
	dx := tensor.New(r.out.Shape...)
	for i, v := range r.out.Data {
		if v > 0 {
			dx.Data[i] = dy.Data[i]
		}
	}
	r.out = nil
	return dx, nil
}

// MaxPool2D 非重叠池化，窗口与步长相同，尺寸向下取整
type MaxPool2D struct {
	name    string
	Size    int
	inShape []int
	argmax  []int
}

func NewMaxPool2D(name string, size int) *MaxPool2D {
	return &MaxPool2D{name: name, Size: size}
}

func (p *MaxPool2D) Name() string            { return p.name }
func (p *MaxPool2D) Params() []*tensor.Param { return nil }

func (p *MaxPool2D) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, shapeErr(p.name, "[N,C,H,W]", x.Shape)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h/p.Size, w/p.Size
	if oh == 0 || ow == 0 {
		return nil, shapeErr(p.name, fmt.Sprintf("H,W >= %d", p.Size), x.Shape)
	}
	out := tensor.New(n, c, oh, ow)
	var idx []int
	if train {
		idx = make([]int, out.Len())
	}
	o := 0
	for plane := 0; plane < n*c; plane++ {
		base := plane * h * w
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				best := base + (y*p.Size)*w + xx*p.Size
				for dy := 0; dy < p.Size; dy++ {
					for dx := 0; dx < p.Size; dx++ {
						j := base + (y*p.Size+dy)*w + xx*p.Size + dx
						if x.Data[j] > x.Data[best] {
							best = j
						}
					}
				}
				out.Data[o] = x.Data[best]
				if train {
					idx[o] = best
				}
				o++
			}
		}
	}
	if train {
		p.inShape, p.argmax = x.Shape, idx
	}
	return out, nil
}

func (p *MaxPool2D) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if p.argmax == nil {
		return nil, errNoForward
	}
	if dy.Len() != len(p.argmax) {
		return nil, shapeErr(p.name, fmt.Sprintf("%d grad values", len(p.argmax)), dy.Shape)
	}
	dx := tensor.New(p.inShape...)
	for o, j := range p.argmax {
		dx.Data[j] += dy.Data[o]
	}
	p.argmax = nil
	return dx, nil
}

// Flatten [N,...] -> [N, prod(...)]
type Flatten struct {
	name    string
	inShape []int
}

func NewFlatten(name string) *Flatten { return &Flatten{name: name} }

func (f *Flatten) Name() string            { return f.name }
func (f *Flatten) Params() []*tensor.Param { return nil }

func (f *Flatten) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, shapeErr(f.name, "[N,...]", x.Shape)
	}
	if train {
		f.inShape = x.Shape
	}
	return x.Reshape(x.Shape[0], x.Len()/x.Shape[0])
}

func (f *Flatten) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if f.inShape == nil {
		return nil, errNoForward
	}
	dx, err := dy.Reshape(f.inShape...)
	f.inShape = nil
	return dx, err
}

// Linear y = x·Wᵀ + b，W 形状为 [Out, In]
type Linear struct {
	name    string
	In, Out int
	W, B    *tensor.Param
	input   *tensor.Tensor
}

func NewLinear(name string, in, out int) *Linear {
	return &Linear{
		name: name,
		In:   in,
		Out:  out,
		W:    tensor.NewParam(name+".weight", out, in),
		B:    tensor.NewParam(name+".bias", out),
	}
}

func (l *Linear) Init(rng *rand.Rand) {
	bound := float32(1 / math.Sqrt(float64(l.In)))
	l.W.InitUniform(rng, bound)
	l.B.InitUniform(rng, bound)
}

func (l *Linear) Name() string            { return l.name }
func (l *Linear) Params() []*tensor.Param { return []*tensor.Param{l.W, l.B} }

func (l *Linear) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 || x.Shape[1] != l.In {
		return nil, shapeErr(l.name, fmt.Sprintf("[N,%d]", l.In), x.Shape)
	}
	n := x.Shape[0]
	out := tensor.New(n, l.Out)
	gemm(false, true, n, l.Out, l.In, 1, x.Data, l.W.Value.Data, 0, out.Data)
	for i := 0; i < n; i++ {
		row := out.Data[i*l.Out : (i+1)*l.Out]
		for j, b := range l.B.Value.Data {
			row[j] += b
		}
	}
	if train {
		l.input = x
	}
	return out, nil
}

func (l *Linear) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, errNoForward
	}
	n := l.input.Shape[0]
	if dy.Len() != n*l.Out {
		return nil, shapeErr(l.name, fmt.Sprintf("grad [%d,%d]", n, l.Out), dy.Shape)
	}
	// dW += dYᵀ · X
	gemm(true, false, l.Out, l.In, n, 1, dy.Data, l.input.Data, 1, l.W.Grad.Data)
	for i := 0; i < n; i++ {
		for j, v := range dy.Data[i*l.Out : (i+1)*l.Out] {
			l.B.Grad.Data[j] += v
		}
	}
	dx := tensor.New(n, l.In)
	gemm(false, false, n, l.In, l.Out, 1, dy.Data, l.W.Value.Data, 0, dx.Data)
	l.input = nil
	return dx, nil
}
