package trainer

import (
	"GlyphNet/classmap"
	"GlyphNet/dataset"
	iface "GlyphNet/interface"
	"GlyphNet/logger"
	"GlyphNet/monitor"
	"GlyphNet/nn"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultEpochs       = 5
	DefaultBatchSize    = 64
	DefaultLearningRate = 0.001
	DefaultWeightsPath  = "logs/model.ckpt"
)

// SessionConfig 一次训练运行的参数
type SessionConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	// Seed 为 0 时划分与打乱都不可复现
	Seed        int64
	TrainRatio  float64
	WeightsPath string
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Epochs:       DefaultEpochs,
		BatchSize:    DefaultBatchSize,
		LearningRate: DefaultLearningRate,
		TrainRatio:   dataset.DefaultTrainRatio,
		WeightsPath:  DefaultWeightsPath,
	}
}

func (c SessionConfig) Validate() error {
	if c.Epochs <= 0 {
		return errors.New("trainer: epochs must be > 0")
	}
	if c.BatchSize <= 0 {
		return errors.New("trainer: batch size must be > 0")
	}
	if c.LearningRate <= 0 {
		return errors.New("trainer: learning rate must be > 0")
	}
	if c.TrainRatio <= 0 || c.TrainRatio >= 1 {
		return fmt.Errorf("trainer: train ratio %v not in (0,1)", c.TrainRatio)
	}
	if c.WeightsPath == "" {
		return errors.New("trainer: weights path is empty")
	}
	return nil
}

type EpochStats struct {
	Epoch        int
	MeanLoss     float64
	Batches      int
	Samples      int
	Duration     time.Duration
	ImagesPerSec float64
}

// Model 训练器驱动的模型：TensorOps 加上训练结束时的持久化
type Model interface {
	iface.TensorOps
	Save(path string) error
}

// Session 持有一次训练的全部状态：模型、优化器、数据划分和随机源
type Session struct {
	ID        string
	Config    SessionConfig
	Model     Model
	Optimizer iface.Optimizer
	Data      *dataset.Dataset
	Split     dataset.Split
	Metrics   *monitor.Metrics

	rng *rand.Rand
	log *zap.Logger
}

// NewSession metrics 可以为 nil
func NewSession(cfg SessionConfig, model Model, data *dataset.Dataset, metrics *monitor.Metrics) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(data.Classes) > classmap.NumClasses {
		return nil, fmt.Errorf("trainer: dataset has %d classes, classifier outputs %d", len(data.Classes), classmap.NumClasses)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	id := uuid.New().String()
	s := &Session{
		ID:        id,
		Config:    cfg,
		Model:     model,
		Optimizer: nn.NewAdam(cfg.LearningRate),
		Data:      data,
		Split:     dataset.NewSplit(data.Len(), cfg.TrainRatio, rng),
		Metrics:   metrics,
		rng:       rng,
		log:       logger.Named("trainer").With(zap.String("run", id)),
	}
	s.log.Info("training session created",
		zap.Int("train", len(s.Split.Train)),
		zap.Int("test", len(s.Split.Test)),
		zap.Int("classes", len(data.Classes)),
		zap.Int("epochs", cfg.Epochs),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Float64("lr", cfg.LearningRate),
	)
	if cfg.Seed != 0 {
		s.log.Info("split is reproducible", zap.Int64("seed", cfg.Seed))
	}
	s.log.Info("split is not stratified; small classes may be missing from the test set")
	return s, nil
}

// Step 执行一次 zero-grad / forward / loss / backward / optimizer，返回更新前的 loss
func (s *Session) Step(indices []int) (float32, error) {
	x, labels := s.Data.Batch(indices)
	s.Model.Train()
	s.Model.ZeroGrad()
	logits, err := s.Model.Forward(x)
	if err != nil {
		return 0, err
	}
	loss, grad, err := nn.SoftmaxCrossEntropy(logits, labels)
	if err != nil {
		return 0, err
	}
	if err := s.Model.Backward(grad); err != nil {
		return 0, err
	}
	s.Optimizer.Step(s.Model.Params())
	s.Model.MarkTrained()
	return loss, nil
}

func (s *Session) RunEpoch(epoch int) (EpochStats, error) {
	order := make([]int, len(s.Split.Train))
	copy(order, s.Split.Train)
	s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var window monitor.Window
	start := time.Now()
	for _, chunk := range dataset.Chunks(order, s.Config.BatchSize) {
		computeStart := time.Now()
		loss, err := s.Step(chunk)
		if err != nil {
			return EpochStats{}, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0) {
			return EpochStats{}, fmt.Errorf("epoch %d: loss diverged (%v)", epoch, loss)
		}
		window.Record(len(chunk), 0, time.Since(computeStart), float64(loss))
	}
	snap := window.Snapshot()
	stats := EpochStats{
		Epoch:        epoch,
		MeanLoss:     snap.MeanLoss,
		Batches:      snap.Steps,
		Samples:      snap.Samples,
		Duration:     time.Since(start),
		ImagesPerSec: snap.ImagesPerSec,
	}
	s.Metrics.ObserveEpoch(stats.MeanLoss, stats.Samples, stats.ImagesPerSec)
	s.log.Info("epoch finished",
		zap.Int("epoch", epoch),
		zap.Int("epochs", s.Config.Epochs),
		zap.Float64("loss", stats.MeanLoss),
		zap.Int("batches", stats.Batches),
		zap.Duration("took", stats.Duration),
		zap.Float64("images_per_sec", stats.ImagesPerSec),
	)
	return stats, nil
}

// Train 跑完全部 epoch 后保存一次权重，中途不做 checkpoint
func (s *Session) Train() ([]EpochStats, error) {
	if len(s.Split.Train) == 0 {
		return nil, fmt.Errorf("trainer: %w", ErrEmptySet)
	}
	history := make([]EpochStats, 0, s.Config.Epochs)
	for epoch := 1; epoch <= s.Config.Epochs; epoch++ {
		stats, err := s.RunEpoch(epoch)
		if err != nil {
			return history, err
		}
		history = append(history, stats)
	}
	s.Model.Eval()
	if err := s.Model.Save(s.Config.WeightsPath); err != nil {
		return history, err
	}
	return history, nil
}

// Evaluate 在测试集上评估并记录指标
func (s *Session) Evaluate() (float64, error) {
	acc, err := Evaluate(s.Model, s.Data, s.Split.Test, s.Config.BatchSize)
	if err != nil {
		return 0, err
	}
	s.Metrics.ObserveAccuracy(acc)
	s.log.Info("evaluation finished", zap.Float64("accuracy", acc), zap.Int("samples", len(s.Split.Test)))
	return acc, nil
}
