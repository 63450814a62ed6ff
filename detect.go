package main

import (
	"GlyphNet/recognize"
	"GlyphNet/remote"
	"GlyphNet/report"
	"GlyphNet/vision"
	"context"
	"flag"
	"os"
)

func runDetect(args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	fs.String("images", "", "directory of images to recognize")
	fs.String("weights", "", "trained weights file")
	fs.String("format", "", "output format: text, json or yaml")
	fs.String("server", "", "recognize through a running glyphnet server instead of locally")
	fs.Bool("allow-uninitialized", false, "run with random weights when the weights file is missing")
	cfg, err := loadConfig(fs, args, map[string]string{
		"images":              "detect.images_dir",
		"weights":             "detect.weights_path",
		"format":              "detect.format",
		"server":              "detect.server_url",
		"allow-uninitialized": "detect.allow_uninitialized",
	})
	if err != nil {
		return err
	}

	var results []recognize.FileResult
	if cfg.Detect.ServerURL != "" {
		ctx := context.Background()
		client := remote.New(cfg.Detect.ServerURL)
		if err := client.Ping(ctx); err != nil {
			return err
		}
		results, err = client.RecognizeDir(ctx, cfg.Detect.ImagesDir, cfg.Detect.Extensions)
	} else {
		clf, lerr := loadClassifier(cfg.Detect.WeightsPath, cfg.Detect.AllowUninitialized)
		if lerr != nil {
			return lerr
		}
		results, err = recognize.NewPipeline(vision.NewOps(), clf).RecognizeDir(cfg.Detect.ImagesDir, cfg.Detect.Extensions)
	}
	if err != nil {
		return err
	}
	return report.Write(os.Stdout, cfg.Detect.Format, report.Entries(results))
}
