package iface

import (
	"GlyphNet/tensor"
	"errors"
	"image"
)

var (
	ErrMissingResource = errors.New("missing resource")
	ErrCorruptWeights  = errors.New("corrupt weights")
	ErrMalformedImage  = errors.New("malformed image")
	ErrShapeMismatch   = errors.New("shape mismatch")
)

// ImageOps 图像处理能力，默认由 gocv 实现
type ImageOps interface {
	// Load 读取文件并转为灰度
	Load(path string) (*image.Gray, error)
	// Decode 从内存中的编码图片（png/jpg 等）解码为灰度
	Decode(data []byte) (*image.Gray, error)
	Resize(img *image.Gray, width, height int) (*image.Gray, error)
	// ThresholdInv 反向二值化：src > cutoff 置 0，否则置 255
	ThresholdInv(img *image.Gray, cutoff uint8) (*image.Gray, error)
	// ExternalBoxes 返回最外层轮廓的外接矩形
	ExternalBoxes(binary *image.Gray) ([]image.Rectangle, error)
}

// TensorOps 可训练模型的能力，训练器与评估只依赖这个接口
type TensorOps interface {
	// Forward 输入 [b,1,28,28]，输出 logits [b,62]
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// Backward 把 logits 的梯度反传并累加到 Params 的 Grad，只在训练模式可用
	Backward(grad *tensor.Tensor) error
	Params() []*tensor.Param
	ZeroGrad()
	Train()
	Eval()
	// MarkTrained 优化器更新权重后调用
	MarkTrained()
}

type Optimizer interface {
	Step(params []*tensor.Param)
}

type Box struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

func BoxFromRect(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Detection 一张图的识别结果，Chars 与 Boxes 一一对应
type Detection struct {
	Chars   []string `json:"chars" yaml:"chars"`
	Boxes   []Box    `json:"boxes" yaml:"boxes"`
	Weights string   `json:"weights" yaml:"weights"`
}

// Recognizer 服务层（gRPC / HTTP）依赖的识别能力
type Recognizer interface {
	RecognizeBytes(data []byte) (*Detection, error)
	WeightState() string
}

type RetData struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}
