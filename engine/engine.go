package engine

import (
	iface "GlyphNet/interface"
	"GlyphNet/logger"
	"GlyphNet/nn"
	"GlyphNet/tensor"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Classifier 两层卷积 + 两层全连接的 62 类字符分类网络
type Classifier struct {
	ModelPath string
	State     int
	mode      atomic.Int32
	net       *nn.Sequential
	digest    string
}

// NewClassifier 构建网络并随机初始化；seed 为 0 时使用当前时间
func NewClassifier(seed int64) *Classifier {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	conv1 := nn.NewConv2D("conv1", 1, 32, 3, 1)
	conv2 := nn.NewConv2D("conv2", 32, 64, 3, 1)
	fc1 := nn.NewLinear("fc1", 64*7*7, 128)
	fc2 := nn.NewLinear("fc2", 128, NumClasses)
	conv1.Init(rng)
	conv2.Init(rng)
	fc1.Init(rng)
	fc2.Init(rng)

	c := &Classifier{
		State: UNINITIALIZED,
		net: nn.NewSequential(
			conv1, nn.NewReLU("relu1"), nn.NewMaxPool2D("pool1", 2),
			conv2, nn.NewReLU("relu2"), nn.NewMaxPool2D("pool2", 2),
			nn.NewFlatten("flatten"),
			fc1, nn.NewReLU("relu3"),
			fc2,
		),
	}
	c.mode.Store(EVAL)
	return c
}

func (c *Classifier) Train() { c.mode.Store(TRAIN) }
func (c *Classifier) Eval()  { c.mode.Store(EVAL) }
func (c *Classifier) Mode() int {
	return int(c.mode.Load())
}

func (c *Classifier) WeightState() string {
	return StateName(c.State)
}

// Forward 输入 [b,1,28,28]，输出未经 softmax 的 logits [b,62]
func (c *Classifier) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[0] < 1 || x.Shape[1] != 1 || x.Shape[2] != InputSize || x.Shape[3] != InputSize {
		return nil, fmt.Errorf("%w: classifier expects [b,1,%d,%d], got %v", iface.ErrShapeMismatch, InputSize, InputSize, x.Shape)
	}
	return c.net.Forward(x, c.Mode() == TRAIN)
}

func (c *Classifier) Predict(x *tensor.Tensor) ([]int, error) {
	logits, err := c.Forward(x)
	if err != nil {
		return nil, err
	}
	return logits.ArgMax(), nil
}

// Backward 仅在训练模式下可用，梯度累加到各参数的 Grad
func (c *Classifier) Backward(grad *tensor.Tensor) error {
	if c.Mode() != TRAIN {
		return errors.New("backward requires train mode")
	}
	_, err := c.net.Backward(grad)
	return err
}

func (c *Classifier) ZeroGrad() { c.net.ZeroGrad() }

func (c *Classifier) Params() []*tensor.Param { return c.net.Params() }

// MarkTrained 训练循环更新权重后调用
func (c *Classifier) MarkTrained() {
	c.State = TRAINED
	c.digest = ""
}

// Digest 当前权重的 md5，用于结果缓存的 key
func (c *Classifier) Digest() string {
	if c.digest == "" {
		sum := md5.Sum(EncodeCheckpoint(c.Params()))
		c.digest = hex.EncodeToString(sum[:])
	}
	return c.digest
}

// Save 写入 checkpoint，目录不存在时自动创建
func (c *Classifier) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create weights dir: %w", err)
		}
	}
	if err := os.WriteFile(path, EncodeCheckpoint(c.Params()), 0o644); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	c.ModelPath = path
	logger.Log().Info("weights saved", zap.String("path", path), zap.String("state", c.WeightState()))
	return nil
}

// Load 读取 checkpoint，任何不兼容都视为损坏，不会回退到随机权重
func (c *Classifier) Load(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: weights file %s", iface.ErrMissingResource, path)
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", iface.ErrCorruptWeights, path, err)
	}
	ckpt, err := DecodeCheckpoint(b)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", iface.ErrCorruptWeights, path, err)
	}
	if err := ckpt.applyTo(c.Params()); err != nil {
		return fmt.Errorf("%w: %s: %v", iface.ErrCorruptWeights, path, err)
	}
	c.ModelPath = path
	c.State = LOADED
	c.digest = ""
	logger.Log().Info("weights loaded", zap.String("path", path), zap.Int("tensors", len(ckpt.Tensors)))
	return nil
}

var _ iface.TensorOps = (*Classifier)(nil)
