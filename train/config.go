// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package train

import (
	"errors"
	"fmt"

	"github.com/emer/valence/vnet"
)

// ErrNoData is returned when a split has no usable sequences.
var ErrNoData = errors.New("train: no sequences with rated windows")

// Config holds the settings of a training run.  Zero values of numeric
// and string fields are replaced by Defaults.
type Config struct {
	Modalities   []string `json:"modalities" desc:"input modalities"`
	BatchSize    int      `json:"batch_size" def:"10" desc:"training batch size"`
	Split        int      `json:"split" def:"1" desc:"sections to split each sequence into"`
	Epochs       int      `json:"epochs" def:"3000" desc:"number of training epochs"`
	LRate        float64  `json:"lr" def:"0.0001" desc:"Adam learning rate"`
	WtDecay      float64  `json:"weight_decay" def:"0.0001" desc:"Adam L2 weight decay"`
	SupRatio     float64  `json:"sup_ratio" def:"0.5" desc:"teacher forcing ratio, recorded in the parameter history only"`
	BaseRate     float64  `json:"base_rate" def:"2" desc:"rating sample rate in Hz"`
	Window       float64  `json:"window" def:"2" desc:"window length in seconds"`
	LegacyWindow bool     `json:"legacy_window" desc:"use the legacy window assignment, which never emits empty windows"`
	LogFreq      int      `json:"log_freq" def:"5" desc:"batch log lines per epoch"`
	EvalFreq     int      `json:"eval_freq" def:"1" desc:"evaluate every N epochs"`
	SaveFreq     int      `json:"save_freq" def:"10" desc:"save the current weights every N epochs"`
	Normalize    bool     `json:"normalize" desc:"z-score features using training set statistics"`
	Test         bool     `json:"test" desc:"evaluate the loaded weights without training"`
	Load         string   `json:"load" desc:"weights file to resume from or test"`
	DataDir      string   `json:"data_dir" def:"../data" desc:"data base directory"`
	SaveDir      string   `json:"save_dir" def:"./lstm_save" desc:"directory for weights, logs and predictions"`
	Seed         int64    `json:"seed" def:"1" desc:"random seed"`
	EmbedSize    int      `json:"embed" def:"64" desc:"window embedding size"`
	HiddenSize   int      `json:"hidden" def:"128" desc:"LSTM hidden size"`
	Params       string   `json:"params" def:"Base" desc:"name of the network parameter set"`
	History      string   `json:"history" desc:"sqlite run history database, empty for none"`
	Threads      int      `json:"threads" desc:"goroutines per batch, 0 = number of CPUs"`
}

// Defaults fills in zero-valued fields.
func (cfg *Config) Defaults() {
	if len(cfg.Modalities) == 0 {
		cfg.Modalities = []string{"emotient"}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.Split == 0 {
		cfg.Split = 1
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 3000
	}
	if cfg.LRate == 0 {
		cfg.LRate = 1e-4
	}
	if cfg.WtDecay == 0 {
		cfg.WtDecay = 1e-4
	}
	if cfg.SupRatio == 0 {
		cfg.SupRatio = 0.5
	}
	if cfg.BaseRate == 0 {
		cfg.BaseRate = 2
	}
	if cfg.Window == 0 {
		cfg.Window = 2
	}
	if cfg.LogFreq == 0 {
		cfg.LogFreq = 5
	}
	if cfg.EvalFreq == 0 {
		cfg.EvalFreq = 1
	}
	if cfg.SaveFreq == 0 {
		cfg.SaveFreq = 10
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "../data"
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = "./lstm_save"
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	if cfg.EmbedSize == 0 {
		cfg.EmbedSize = 64
	}
	if cfg.HiddenSize == 0 {
		cfg.HiddenSize = 128
	}
	if cfg.Params == "" {
		cfg.Params = "Base"
	}
}

// Validate checks the settings for consistency.
func (cfg *Config) Validate() error {
	switch {
	case len(cfg.Modalities) == 0:
		return errors.New("train: no modalities")
	case cfg.BatchSize < 1:
		return fmt.Errorf("train: batch size %d < 1", cfg.BatchSize)
	case cfg.Split < 1:
		return fmt.Errorf("train: split %d < 1", cfg.Split)
	case cfg.Epochs < 0:
		return fmt.Errorf("train: negative epochs %d", cfg.Epochs)
	case cfg.Window <= 0 || cfg.BaseRate <= 0:
		return fmt.Errorf("train: window %g and base rate %g must be positive", cfg.Window, cfg.BaseRate)
	case cfg.EvalFreq < 1 || cfg.LogFreq < 0 || cfg.SaveFreq < 0:
		return errors.New("train: eval_freq must be positive, log_freq and save_freq non-negative")
	case cfg.Test && cfg.Load == "":
		return errors.New("train: test mode needs a weights file to load")
	case cfg.EmbedSize < 1 || cfg.HiddenSize < 1:
		return fmt.Errorf("train: embed %d and hidden %d sizes must be positive", cfg.EmbedSize, cfg.HiddenSize)
	}
	seen := make(map[string]bool, len(cfg.Modalities))
	for _, mod := range cfg.Modalities {
		if mod == "" || seen[mod] {
			return fmt.Errorf("train: empty or repeated modality %q", mod)
		}
		seen[mod] = true
	}
	if _, err := vnet.ParamSets.SetByNameTry(cfg.Params); err != nil {
		return err
	}
	return nil
}
