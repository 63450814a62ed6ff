package main

import (
	"GlyphNet/config"
	"GlyphNet/engine"
	iface "GlyphNet/interface"
	"GlyphNet/logger"
	"GlyphNet/monitor"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
)

const usage = `Usage: glyphnet <command> [flags]

Commands:
  train    train the classifier on a labelled dataset and report accuracy
  detect   segment and recognize every image in a directory
  serve    expose recognition over gRPC, HTTP and websocket

Run 'glyphnet <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "train":
		err = runTrain(os.Args[2:])
	case "detect":
		err = runDetect(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// parseFlags 解析命令行，返回配置文件路径以及显式设置的 flag 按 keys 映射出的覆盖项
func parseFlags(fs *flag.FlagSet, args []string, keys map[string]string) (string, map[string]any, error) {
	path := fs.String("config", config.DefaultPath, "path to the yaml config file")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	overrides := make(map[string]any)
	fs.Visit(func(f *flag.Flag) {
		if key, ok := keys[f.Name]; ok {
			overrides[key] = f.Value.(flag.Getter).Get()
		}
	})
	return *path, overrides, nil
}

// loadConfig 读取配置并初始化日志
func loadConfig(fs *flag.FlagSet, args []string, keys map[string]string) (*config.Config, error) {
	path, overrides, err := parseFlags(fs, args, keys)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, overrides)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log.Mode, cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	logger.Log().Info("host", monitor.HostFields()...)
	return cfg, nil
}

// loadClassifier 权重缺失时只有 allowUninitialized 才继续，损坏的权重总是报错
func loadClassifier(path string, allowUninitialized bool) (*engine.Classifier, error) {
	clf := engine.NewClassifier(1)
	err := clf.Load(path)
	switch {
	case err == nil:
		logger.Log().Info("weights loaded", zap.String("path", path), zap.String("digest", clf.Digest()))
		return clf, nil
	case errors.Is(err, iface.ErrMissingResource) && allowUninitialized:
		logger.Log().Warn("weights not found, continuing uninitialized", zap.String("path", path))
		return clf, nil
	}
	return nil, err
}
