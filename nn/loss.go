package nn

import (
	"GlyphNet/tensor"
	"fmt"
	"math"
)

// SoftmaxCrossEntropy 返回 batch 平均交叉熵以及对 logits 的梯度
func SoftmaxCrossEntropy(logits *tensor.Tensor, labels []int) (float32, *tensor.Tensor, error) {
	if len(logits.Shape) != 2 || logits.Shape[0] != len(labels) {
		return 0, nil, shapeErr("cross_entropy", fmt.Sprintf("[%d,C]", len(labels)), logits.Shape)
	}
	n, classes := logits.Shape[0], logits.Shape[1]
	grad := tensor.New(n, classes)
	var total float64
	for i, label := range labels {
		if label < 0 || label >= classes {
			return 0, nil, fmt.Errorf("label %d out of range [0,%d)", label, classes)
		}
		row := logits.Data[i*classes : (i+1)*classes]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - maxV))
		}
		logSum := math.Log(sum)
		total += logSum - float64(row[label]-maxV)

		g := grad.Data[i*classes : (i+1)*classes]
		for j, v := range row {
			p := math.Exp(float64(v-maxV) - logSum)
			if j == label {
				p -= 1
			}
			g[j] = float32(p / float64(n))
		}
	}
	return float32(total / float64(n)), grad, nil
}
