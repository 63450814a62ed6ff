package engine

// 权重状态
const UNINITIALIZED = 0x0001
const TRAINED = 0x0002
const LOADED = 0x0003

// 运行模式
const TRAIN = 0x1001
const EVAL = 0x1002

const (
	InputSize  = 28
	NumClasses = 62
	// Architecture 写入 checkpoint，加载时必须一致
	Architecture = "glyphnet-cnn-v1"
)

func StateName(state int) string {
	switch state {
	case UNINITIALIZED:
		return "uninitialized"
	case TRAINED:
		return "trained"
	case LOADED:
		return "loaded"
	}
	return "unknown"
}

func ModeName(mode int) string {
	if mode == TRAIN {
		return "train"
	}
	return "eval"
}
