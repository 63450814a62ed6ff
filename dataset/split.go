package dataset

import (
	"math/rand"
	"time"
)

const DefaultTrainRatio = 0.8

// Split 训练/测试集下标，二者不相交且覆盖全部样本
type Split struct {
	Train []int
	Test  []int
}

// NewSplit 随机打乱后取前 floor(ratio*n) 个作为训练集，不做分层
func NewSplit(n int, ratio float64, rng *rand.Rand) Split {
	perm := rng.Perm(n)
	cut := int(float64(n) * ratio)
	return Split{Train: perm[:cut], Test: perm[cut:]}
}

// RandomSplit seed 为 0 时每次构造都不同
func (d *Dataset) RandomSplit(ratio float64, seed int64) Split {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewSplit(d.Len(), ratio, rand.New(rand.NewSource(seed)))
}
