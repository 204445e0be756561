// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package train

import (
	"fmt"
	"log"

	"github.com/emer/valence/data"
)

// LoadData loads the Train and Valid splits from cfg.DataDir and prepares
// them for training.
func LoadData(cfg *Config) (trn, tst *data.Padded, err error) {
	log.Println("Loading data...")
	trds, err := data.Load(cfg.DataDir, "Train", cfg.Modalities, cfg.BaseRate)
	if err != nil {
		return nil, nil, fmt.Errorf("train: loading Train: %w", err)
	}
	tsds, err := data.Load(cfg.DataDir, "Valid", cfg.Modalities, cfg.BaseRate)
	if err != nil {
		return nil, nil, fmt.Errorf("train: loading Valid: %w", err)
	}
	log.Println("Done.")
	return Prepare(cfg, trds, tsds)
}

// Prepare normalizes (if configured), windows, sections and pads a
// training and a test dataset.  Both are padded with the feature
// dimensions of the training set, which fall back to data.DefaultDims.
func Prepare(cfg *Config, trds, tsds *data.Dataset) (trn, tst *data.Padded, err error) {
	if cfg.Normalize {
		nz := data.FitNormalizer(trds)
		nz.Apply(trds)
		nz.Apply(tsds)
	}
	dims := make(map[string]int, len(cfg.Modalities))
	for _, mod := range cfg.Modalities {
		d := trds.Dims[mod]
		if d == 0 {
			d = data.DefaultDims[mod]
		}
		dims[mod] = d
	}
	trn, err = prepare(cfg, trds, dims)
	if err != nil {
		return nil, nil, err
	}
	tst, err = prepare(cfg, tsds, dims)
	if err != nil {
		return nil, nil, err
	}
	return trn, tst, nil
}

func prepare(cfg *Config, ds *data.Dataset, dims map[string]int) (*data.Padded, error) {
	wd := data.ConstructInput(ds, cfg.Window, cfg.LegacyWindow)
	wd = data.SplitSections(wd, cfg.Split).DropEmpty()
	if wd.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, ds.Split)
	}
	pd, err := data.Pad(wd, dims)
	if err != nil {
		return nil, fmt.Errorf("train: padding %s: %w", ds.Split, err)
	}
	return pd, nil
}
