package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
	ModeNop         = "nop"
)

// Init 按配置中的 log.mode 初始化全局 logger
func Init(mode, level string) error {
	var cfg zap.Config
	switch mode {
	case ModeProduction, "":
		cfg = zap.NewProductionConfig()
	case ModeDevelopment:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case ModeNop:
		setLogger(zap.NewNop())
		return nil
	default:
		return fmt.Errorf("unknown log mode %q", mode)
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = lvl
	}
	// 统一时间字段，便于和服务端日志对齐
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	setLogger(l)
	return nil
}

func InitProduction() error { return Init(ModeProduction, "") }

func InitDevelopment() error { return Init(ModeDevelopment, "") }

// setLogger 替换 zap 全局，使 zap.L()/zap.S() 返回相同实例
func setLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	zap.ReplaceGlobals(l)
	if log != nil {
		_ = log.Sync()
	}
	log = l
	sugar = l.Sugar()
}

// Log 返回 *zap.Logger（非 nil），未初始化时为 zap 的全局 noop
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	return zap.L()
}

func S() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	if sugar != nil {
		return sugar
	}
	return zap.S()
}

// Named 带组件名的子 logger
func Named(component string) *zap.Logger {
	return Log().Named(component)
}

func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
