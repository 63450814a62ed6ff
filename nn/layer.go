package nn

import (
	iface "GlyphNet/interface"
	"GlyphNet/tensor"
	"errors"
	"fmt"
)

var errNoForward = errors.New("backward called without a training forward pass")

// Layer 单层的前向/反向。train=false 时不保留任何中间结果
type Layer interface {
	Name() string
	Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error)
	Backward(dy *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*tensor.Param
}

func shapeErr(layer string, want string, got []int) error {
	return fmt.Errorf("%w: %s expects %s, got %v", iface.ErrShapeMismatch, layer, want, got)
}

// Sequential 按顺序串联各层
type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Name() string { return "sequential" }

func (s *Sequential) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	var err error
	for _, l := range s.Layers {
		x, err = l.Forward(x, train)
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (s *Sequential) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i := len(s.Layers) - 1; i >= 0; i-- {
		grad, err = s.Layers[i].Backward(grad)
		if err != nil {
			return nil, fmt.Errorf("%s backward: %w", s.Layers[i].Name(), err)
		}
	}
	return grad, nil
}

func (s *Sequential) Params() []*tensor.Param {
	var out []*tensor.Param
	for _, l := range s.Layers {
		out = append(out, l.Params()...)
	}
	return out
}

func (s *Sequential) ZeroGrad() {
	for _, p := range s.Params() {
		p.Grad.Zero()
	}
}

var _ Layer = (*Sequential)(nil)
