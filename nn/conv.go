package nn

import (
	"GlyphNet/tensor"
	"fmt"
	"math"
	"math/rand"
)

// Conv2D 步长为 1 的二维卷积，通过 im2col + GEMM 实现
type Conv2D struct {
	name         string
	InC, OutC, K int
	Pad          int
	W, B         *tensor.Param
	input        *tensor.Tensor
	cols         [][]float32
	outH, outW   int
}

func NewConv2D(name string, inC, outC, k, pad int) *Conv2D {
	return &Conv2D{
		name: name,
		InC:  inC,
		OutC: outC,
		K:    k,
		Pad:  pad,
		W:    tensor.NewParam(name+".weight", outC, inC, k, k),
		B:    tensor.NewParam(name+".bias", outC),
	}
}

// Init 与 PyTorch 默认初始化同界：U(-1/sqrt(fan_in), 1/sqrt(fan_in))
func (c *Conv2D) Init(rng *rand.Rand) {
	bound := float32(1 / math.Sqrt(float64(c.InC*c.K*c.K)))
	c.W.InitUniform(rng, bound)
	c.B.InitUniform(rng, bound)
}

func (c *Conv2D) Name() string { return c.name }

func (c *Conv2D) Params() []*tensor.Param { return []*tensor.Param{c.W, c.B} }

func (c *Conv2D) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != c.InC {
		return nil, shapeErr(c.name, fmt.Sprintf("[N,%d,H,W]", c.InC), x.Shape)
	}
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	oh, ow := h+2*c.Pad-c.K+1, w+2*c.Pad-c.K+1
	if oh <= 0 || ow <= 0 {
		return nil, shapeErr(c.name, "spatial size >= kernel", x.Shape)
	}
	ckk, hw := c.InC*c.K*c.K, oh*ow
	inSize, outSize := c.InC*h*w, c.OutC*hw

	out := tensor.New(n, c.OutC, oh, ow)
	var col []float32
	if train {
		c.input, c.outH, c.outW = x, oh, ow
		c.cols = make([][]float32, n)
	} else {
		col = make([]float32, ckk*hw)
	}
	for i := 0; i < n; i++ {
		if train {
			col = make([]float32, ckk*hw)
			c.cols[i] = col
		}
		im2col(x.Data[i*inSize:(i+1)*inSize], c.InC, h, w, c.K, c.Pad, oh, ow, col)
		dst := out.Data[i*outSize : (i+1)*outSize]
		gemm(false, false, c.OutC, hw, ckk, 1, c.W.Value.Data, col, 0, dst)
		for o := 0; o < c.OutC; o++ {
			b := c.B.Value.Data[o]
			row := dst[o*hw : (o+1)*hw]
			for j := range row {
				row[j] += b
			}
		}
	}
	return out, nil
}

func (c *Conv2D) Backward(dy *tensor.Tensor) (*tensor.Tensor, error) {
	if c.input == nil {
		return nil, errNoForward
	}
	x := c.input
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	hw := c.outH * c.outW
	ckk := c.InC * c.K * c.K
	if dy.Len() != n*c.OutC*hw {
		return nil, shapeErr(c.name, fmt.Sprintf("grad [%d,%d,%d,%d]", n, c.OutC, c.outH, c.outW), dy.Shape)
	}
	inSize, outSize := c.InC*h*w, c.OutC*hw

	dx := tensor.New(x.Shape...)
	dcol := make([]float32, ckk*hw)
	for i := 0; i < n; i++ {
		dyi := dy.Data[i*outSize : (i+1)*outSize]
		// dW += dY · colsᵀ
		gemm(false, true, c.OutC, ckk, hw, 1, dyi, c.cols[i], 1, c.W.Grad.Data)
		for o := 0; o < c.OutC; o++ {
			var s float32
			for _, v := range dyi[o*hw : (o+1)*hw] {
				s += v
			}
			c.B.Grad.Data[o] += s
		}
		// dcols = Wᵀ · dY
		gemm(true, false, ckk, hw, c.OutC, 1, c.W.Value.Data, dyi, 0, dcol)
		col2im(dcol, c.InC, h, w, c.K, c.Pad, c.outH, c.outW, dx.Data[i*inSize:(i+1)*inSize])
	}
	c.input, c.cols = nil, nil
	return dx, nil
}

func im2col(src []float32, ch, h, w, k, pad, oh, ow int, col []float32) {
	hw := oh * ow
	for c := 0; c < ch; c++ {
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				row := col[((c*k+kh)*k+kw)*hw:][:hw]
				for y := 0; y < oh; y++ {
					iy := y - pad + kh
					for x := 0; x < ow; x++ {
						ix := x - pad + kw
						if iy < 0 || iy >= h || ix < 0 || ix >= w {
							row[y*ow+x] = 0
							continue
						}
						row[y*ow+x] = src[(c*h+iy)*w+ix]
					}
				}
			}
		}
	}
}

func col2im(col []float32, ch, h, w, k, pad, oh, ow int, dst []float32) {
	hw := oh * ow
	for c := 0; c < ch; c++ {
		for kh := 0; kh < k; kh++ {
			for kw := 0; kw < k; kw++ {
				row := col[((c*k+kh)*k+kw)*hw:][:hw]
				for y := 0; y < oh; y++ {
					iy := y - pad + kh
					if iy < 0 || iy >= h {
						continue
					}
					for x := 0; x < ow; x++ {
						ix := x - pad + kw
						if ix < 0 || ix >= w {
							continue
						}
						dst[(c*h+iy)*w+ix] += row[y*ow+x]
					}
				}
			}
		}
	}
}
