package trainer

import (
	"GlyphNet/dataset"
	iface "GlyphNet/interface"
	"errors"
)

var ErrEmptySet = errors.New("empty sample set")

// Evaluate 切换到 eval 模式，返回 100*正确数/总数
func Evaluate(model iface.TensorOps, data *dataset.Dataset, indices []int, batchSize int) (float64, error) {
	if len(indices) == 0 {
		return 0, ErrEmptySet
	}
	model.Eval()
	correct := 0
	for _, chunk := range dataset.Chunks(indices, batchSize) {
		x, labels := data.Batch(chunk)
		logits, err := model.Forward(x)
		if err != nil {
			return 0, err
		}
		for i, p := range logits.ArgMax() {
			if p == labels[i] {
				correct++
			}
		}
	}
	return 100 * float64(correct) / float64(len(indices)), nil
}
