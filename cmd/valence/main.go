// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// valence trains and evaluates the multimodal valence network.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/emer/valence/train"
)

func main() {
	cfg := &train.Config{}
	var (
		mods    = flag.String("modalities", "emotient", "comma separated input modalities")
		logFile = flag.String("log", "", "log file (default <save_dir>/train.log)")
	)
	flag.IntVar(&cfg.BatchSize, "batch_size", 10, "input batch size for training")
	flag.IntVar(&cfg.Split, "split", 1, "sections to split each video into")
	flag.IntVar(&cfg.Epochs, "epochs", 3000, "number of epochs to train")
	flag.Float64Var(&cfg.LRate, "lr", 1e-4, "learning rate")
	flag.Float64Var(&cfg.WtDecay, "weight_decay", 1e-4, "L2 weight decay")
	flag.Float64Var(&cfg.SupRatio, "sup_ratio", 0.5, "teacher-forcing ratio, recorded in the parameter history")
	flag.Float64Var(&cfg.BaseRate, "base_rate", 2.0, "sampling rate of the ratings in Hz")
	flag.Float64Var(&cfg.Window, "window", 2.0, "window length in seconds")
	flag.BoolVar(&cfg.LegacyWindow, "legacy_window", false, "legacy window assignment: empty windows are skipped")
	flag.IntVar(&cfg.LogFreq, "log_freq", 5, "print loss N times every epoch")
	flag.IntVar(&cfg.EvalFreq, "eval_freq", 1, "evaluate every N epochs")
	flag.IntVar(&cfg.SaveFreq, "save_freq", 10, "save every N epochs")
	flag.BoolVar(&cfg.Normalize, "normalize", false, "normalize inputs")
	flag.BoolVar(&cfg.Test, "test", false, "evaluate without training")
	flag.StringVar(&cfg.Load, "load", "", "path to trained weights (either resume or test)")
	flag.StringVar(&cfg.DataDir, "data_dir", "../data", "path to data base directory")
	flag.StringVar(&cfg.SaveDir, "save_dir", "./lstm_save", "path to save weights, logs and predictions")
	flag.Int64Var(&cfg.Seed, "seed", 1, "random seed")
	flag.IntVar(&cfg.EmbedSize, "embed", 64, "window embedding size")
	flag.IntVar(&cfg.HiddenSize, "hidden", 128, "LSTM hidden size")
	flag.StringVar(&cfg.Params, "params", "Base", "network parameter set")
	flag.StringVar(&cfg.History, "history", "", "sqlite run history database")
	flag.IntVar(&cfg.Threads, "threads", 0, "goroutines per batch (0 = number of CPUs)")
	flag.Parse()

	for _, m := range strings.Split(*mods, ",") {
		if m = strings.TrimSpace(m); m != "" {
			cfg.Modalities = append(cfg.Modalities, m)
		}
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.SaveDir, 0755); err != nil {
		log.Fatal(err)
	}
	lfn := *logFile
	if lfn == "" {
		lfn = filepath.Join(cfg.SaveDir, "train.log")
	}
	lf, err := os.OpenFile(lfn, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatal(err)
	}
	defer lf.Close()
	log.SetOutput(io.MultiWriter(os.Stderr, lf))
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("- ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trn, tst, err := train.LoadData(cfg)
	if err != nil {
		log.Fatal(err)
	}
	tr, err := train.NewTrainer(cfg, trn, tst)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Train: %d sequences, Valid: %d sequences, %d parameters", trn.Len(), tst.Len(), tr.Net.NParams())
	best, err := tr.Run(ctx)
	if err != nil {
		log.Println(err)
		lf.Close()
		os.Exit(1)
	}
	log.Printf("Best CCC: %0.9f", best)
}
