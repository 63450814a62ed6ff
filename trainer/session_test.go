package trainer

import (
	"GlyphNet/classmap"
	"GlyphNet/dataset"
	"GlyphNet/engine"
	"GlyphNet/monitor"
	"GlyphNet/nn"
	"GlyphNet/tensor"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stripes 每个类别是一条位置不同的竖条纹，外加少量噪声
func stripes(classes, perClass int, seed int64) *dataset.Dataset {
	rng := rand.New(rand.NewSource(seed))
	ds := &dataset.Dataset{Root: "memory"}
	width := dataset.Size / classes
	for c := 0; c < classes; c++ {
		ds.Classes = append(ds.Classes, fmt.Sprintf("class%d", c))
		for n := 0; n < perClass; n++ {
			px := make([]float32, dataset.Size*dataset.Size)
			for y := 0; y < dataset.Size; y++ {
				for x := 0; x < dataset.Size; x++ {
					v := rng.Float32() * 0.1
					if x >= c*width && x < (c+1)*width {
						v += 0.9
					}
					px[y*dataset.Size+x] = v
				}
			}
			ds.Samples = append(ds.Samples, dataset.Sample{Path: fmt.Sprintf("%d/%d", c, n), Label: c, Pixels: px})
		}
	}
	return ds
}

func testConfig(t *testing.T) SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.Seed = 11
	cfg.BatchSize = 8
	cfg.WeightsPath = filepath.Join(t.TempDir(), "logs", "model.ckpt")
	return cfg
}

func batchLoss(t *testing.T, s *Session, indices []int) float32 {
	t.Helper()
	x, labels := s.Data.Batch(indices)
	logits, err := s.Model.Forward(x)
	require.NoError(t, err)
	loss, _, err := nn.SoftmaxCrossEntropy(logits, labels)
	require.NoError(t, err)
	return loss
}

func TestStepUpdatesWeights(t *testing.T) {
	cfg := testConfig(t)
	cfg.LearningRate = 1e-4
	clf := engine.NewClassifier(1)
	s, err := NewSession(cfg, clf, stripes(4, 8, 2), nil)
	require.NoError(t, err)

	batch := s.Split.Train[:8]
	before := make([][]float32, 0)
	for _, p := range s.Model.Params() {
		before = append(before, append([]float32(nil), p.Value.Data...))
	}

	loss0, err := s.Step(batch)
	require.NoError(t, err)
	assert.Equal(t, engine.TRAINED, clf.State)

	changed := 0
	for i, p := range s.Model.Params() {
		if !assert.ObjectsAreEqual(before[i], p.Value.Data) {
			changed++
		}
	}
	assert.Equal(t, len(before), changed, "every parameter tensor moves")

	loss1 := batchLoss(t, s, batch)
	assert.LessOrEqual(t, loss1, loss0+1e-4)
}

func TestRepeatedStepsReduceLoss(t *testing.T) {
	s, err := NewSession(testConfig(t), engine.NewClassifier(3), stripes(4, 8, 4), nil)
	require.NoError(t, err)
	batch := s.Split.Train[:8]

	first, err := s.Step(batch)
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		_, err = s.Step(batch)
		require.NoError(t, err)
	}
	assert.Less(t, batchLoss(t, s, batch), first)
}

func TestTrainAndEvaluate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 20
	metrics := monitor.NewMetrics()
	data := stripes(4, 8, 5)
	clf := engine.NewClassifier(5)
	s, err := NewSession(cfg, clf, data, metrics)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Len(t, s.Split.Train, 25)
	assert.Len(t, s.Split.Test, 7)

	history, err := s.Train()
	require.NoError(t, err)
	require.Len(t, history, cfg.Epochs)
	for _, h := range history {
		assert.Equal(t, 4, h.Batches)
		assert.Equal(t, 25, h.Samples)
	}
	assert.Less(t, history[len(history)-1].MeanLoss, history[0].MeanLoss)
	assert.Equal(t, float64(cfg.Epochs), testutil.ToFloat64(metrics.EpochsTotal))

	_, err = os.Stat(cfg.WeightsPath)
	require.NoError(t, err, "weights saved after training")
	assert.Equal(t, engine.EVAL, clf.Mode())

	acc, err := s.Evaluate()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, 0.0)
	assert.LessOrEqual(t, acc, 100.0)

	trainAcc, err := Evaluate(clf, data, s.Split.Train, 8)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, trainAcc, 75.0)

	reloaded := engine.NewClassifier(99)
	require.NoError(t, reloaded.Load(cfg.WeightsPath))
	again, err := Evaluate(reloaded, data, s.Split.Train, 8)
	require.NoError(t, err)
	assert.Equal(t, trainAcc, again)
}

func TestEvaluateEmpty(t *testing.T) {
	_, err := Evaluate(engine.NewClassifier(1), stripes(2, 1, 1), nil, 64)
	assert.ErrorIs(t, err, ErrEmptySet)
}

func TestNewSessionRejects(t *testing.T) {
	cfg := testConfig(t)

	bad := cfg
	bad.Epochs = 0
	_, err := NewSession(bad, engine.NewClassifier(1), stripes(2, 2, 1), nil)
	assert.Error(t, err)

	bad = cfg
	bad.TrainRatio = 1
	assert.Error(t, bad.Validate())

	wide := &dataset.Dataset{}
	for i := 0; i < 63; i++ {
		wide.Classes = append(wide.Classes, fmt.Sprint(i))
	}
	_, err = NewSession(cfg, engine.NewClassifier(1), wide, nil)
	assert.Error(t, err)
}

// MockModel 以每个样本第一个像素的值作为预测类别，并记录训练器的调用顺序
type MockModel struct {
	calls  []string
	mode   string
	saved  string
	weight *tensor.Param
}

func NewMockModel() *MockModel {
	return &MockModel{mode: "eval", weight: tensor.NewParam("w", 2)}
}

func (m *MockModel) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	m.calls = append(m.calls, "forward")
	b := x.Shape[0]
	stride := x.Len() / b
	out := tensor.New(b, classmap.NumClasses)
	for i := 0; i < b; i++ {
		out.Data[i*classmap.NumClasses+int(x.Data[i*stride])] = 1
	}
	return out, nil
}

func (m *MockModel) Backward(grad *tensor.Tensor) error {
	m.calls = append(m.calls, "backward")
	if m.mode != "train" {
		return errors.New("mock: backward outside train mode")
	}
	for i := range m.weight.Grad.Data {
		m.weight.Grad.Data[i] = 1
	}
	return nil
}

func (m *MockModel) Params() []*tensor.Param { return []*tensor.Param{m.weight} }

func (m *MockModel) ZeroGrad() {
	m.calls = append(m.calls, "zero")
	m.weight.Grad.Zero()
}

func (m *MockModel) Train()       { m.mode = "train" }
func (m *MockModel) Eval()        { m.mode = "eval" }
func (m *MockModel) MarkTrained() { m.calls = append(m.calls, "mark") }

func (m *MockModel) Save(path string) error {
	m.saved = path
	return nil
}

// pointData 第 i 个样本的首像素为 preds[i]，标签为 labels[i]
func pointData(preds, labels []int) *dataset.Dataset {
	ds := &dataset.Dataset{Root: "memory", Classes: []string{"0", "1", "2", "3"}}
	for i := range preds {
		px := make([]float32, dataset.Size*dataset.Size)
		px[0] = float32(preds[i])
		ds.Samples = append(ds.Samples, dataset.Sample{Path: fmt.Sprint(i), Label: labels[i], Pixels: px})
	}
	return ds
}

func TestSessionWithMockModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epochs = 2

	t.Run("Test Step", func(t *testing.T) {
		m := NewMockModel()
		s, err := NewSession(cfg, m, pointData([]int{0, 1}, []int{0, 2}), nil)
		require.NoError(t, err)

		loss, err := s.Step([]int{0, 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"zero", "forward", "backward", "mark"}, m.calls)
		assert.Equal(t, "train", m.mode)
		// 一个样本命中、一个未命中时的平均交叉熵
		assert.InDelta(t, math.Log(math.E+61)-0.5, float64(loss), 1e-5)
		for _, v := range m.weight.Value.Data {
			assert.InDelta(t, -cfg.LearningRate, float64(v), 1e-6)
		}
	})

	t.Run("Test Evaluate", func(t *testing.T) {
		m := NewMockModel()
		m.Train()
		data := pointData([]int{0, 1, 2, 0}, []int{0, 1, 2, 3})
		acc, err := Evaluate(m, data, []int{0, 1, 2, 3}, 3)
		require.NoError(t, err)
		assert.Equal(t, 75.0, acc)
		assert.Equal(t, "eval", m.mode)
		assert.Equal(t, []string{"forward", "forward"}, m.calls)
	})

	t.Run("Test Train Saves Once", func(t *testing.T) {
		m := NewMockModel()
		s, err := NewSession(cfg, m, pointData([]int{0, 1, 2, 3, 0}, []int{0, 1, 2, 3, 1}), nil)
		require.NoError(t, err)
		history, err := s.Train()
		require.NoError(t, err)
		assert.Len(t, history, cfg.Epochs)
		assert.Equal(t, cfg.WeightsPath, m.saved)
		assert.Equal(t, "eval", m.mode)
	})
}
