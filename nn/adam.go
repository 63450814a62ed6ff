package nn

import (
	iface "GlyphNet/interface"
	"GlyphNet/tensor"
	"math"
)

// Adam 与 torch.optim.Adam 的默认行为一致（带偏差修正，无权重衰减）
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	steps int
	m, v  map[*tensor.Param][]float32
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		m:     make(map[*tensor.Param][]float32),
		v:     make(map[*tensor.Param][]float32),
	}
}

func (a *Adam) Steps() int { return a.steps }

func (a *Adam) Step(params []*tensor.Param) {
	a.steps++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.steps))
	bc2 := math.Sqrt(1 - math.Pow(a.Beta2, float64(a.steps)))
	stepSize := a.LR / bc1
	b1, b2 := float32(a.Beta1), float32(a.Beta2)
	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			m = make([]float32, p.Value.Len())
			a.m[p] = m
		}
		v, ok := a.v[p]
		if !ok {
			v = make([]float32, p.Value.Len())
			a.v[p] = v
		}
		for i, g := range p.Grad.Data {
			m[i] = b1*m[i] + (1-b1)*g
			v[i] = b2*v[i] + (1-b2)*g*g
			denom := math.Sqrt(float64(v[i]))/bc2 + a.Eps
			p.Value.Data[i] -= float32(stepSize * float64(m[i]) / denom)
		}
	}
}

var _ iface.Optimizer = (*Adam)(nil)
