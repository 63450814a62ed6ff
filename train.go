package main

import (
	"GlyphNet/dataset"
	"GlyphNet/engine"
	"GlyphNet/monitor"
	"GlyphNet/trainer"
	"GlyphNet/vision"
	"errors"
	"flag"
	"fmt"
)

func trainFlags() (*flag.FlagSet, map[string]string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	fs.Int("e", trainer.DefaultEpochs, "number of epochs")
	fs.Int("epochs", trainer.DefaultEpochs, "same as -e")
	fs.String("dataset", "", "dataset root, one sub directory per class")
	fs.String("weights", "", "where to write the trained weights")
	fs.Int64("seed", 0, "split and shuffle seed, 0 picks one from the clock")
	fs.Int("batch", trainer.DefaultBatchSize, "mini-batch size")
	fs.Float64("lr", trainer.DefaultLearningRate, "Adam learning rate")
	return fs, map[string]string{
		"e":       "train.epochs",
		"epochs":  "train.epochs",
		"dataset": "train.dataset_dir",
		"weights": "train.weights_path",
		"seed":    "train.seed",
		"batch":   "train.batch_size",
		"lr":      "train.learning_rate",
	}
}

func runTrain(args []string) error {
	fs, keys := trainFlags()
	cfg, err := loadConfig(fs, args, keys)
	if err != nil {
		return err
	}

	data, err := dataset.NewLoader(vision.NewOps()).Load(cfg.Train.DatasetDir)
	if err != nil {
		return err
	}

	session, err := trainer.NewSession(trainer.SessionConfig{
		Epochs:       cfg.Train.Epochs,
		BatchSize:    cfg.Train.BatchSize,
		LearningRate: cfg.Train.LearningRate,
		Seed:         cfg.Train.Seed,
		TrainRatio:   cfg.Train.TrainRatio,
		WeightsPath:  cfg.Train.WeightsPath,
	}, engine.NewClassifier(cfg.Train.Seed), data, monitor.NewMetrics())
	if err != nil {
		return err
	}
	fmt.Printf("Train size: %d, Test size: %d\n", len(session.Split.Train), len(session.Split.Test))

	history, err := session.Train()
	for _, st := range history {
		fmt.Printf("Epoch %d/%d, Loss: %.4f\n", st.Epoch, cfg.Train.Epochs, st.MeanLoss)
	}
	if err != nil {
		return err
	}
	fmt.Println("Model saved to", cfg.Train.WeightsPath)

	acc, err := session.Evaluate()
	if errors.Is(err, trainer.ErrEmptySet) {
		fmt.Println("Test set is empty, skipping evaluation")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Accuracy: %.2f%%\n", acc)
	return nil
}
