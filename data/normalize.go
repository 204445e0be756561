// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package data

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Normalizer z-scores features per modality and dimension.
type Normalizer struct {
	Mean map[string][]float64
	Std  map[string][]float64
}

// FitNormalizer computes the mean and standard deviation of each feature
// dimension over all non-NaN frames of ds.
func FitNormalizer(ds *Dataset) *Normalizer {
	nz := &Normalizer{
		Mean: make(map[string][]float64, len(ds.Modalities)),
		Std:  make(map[string][]float64, len(ds.Modalities)),
	}
	for _, mod := range ds.Modalities {
		dim := ds.Dims[mod]
		cols := make([][]float64, dim)
		for _, sq := range ds.Seqs {
			ch := sq.Channels[mod]
			if ch == nil {
				continue
			}
			for _, v := range ch.Vecs {
				for d := 0; d < dim && d < len(v); d++ {
					if x := float64(v[d]); !math.IsNaN(x) {
						cols[d] = append(cols[d], x)
					}
				}
			}
		}
		mean := make([]float64, dim)
		std := make([]float64, dim)
		for d, c := range cols {
			std[d] = 1
			switch {
			case len(c) == 1:
				mean[d] = c[0]
			case len(c) > 1:
				m, sd := stat.PopMeanStdDev(c, nil)
				mean[d] = m
				if sd > 0 {
					std[d] = sd
				}
			}
		}
		nz.Mean[mod] = mean
		nz.Std[mod] = std
	}
	return nz
}

// Apply normalizes the channels of ds in place.  NaN values are left for
// windowing to zero out.
func (nz *Normalizer) Apply(ds *Dataset) {
	for _, mod := range ds.Modalities {
		mean, std := nz.Mean[mod], nz.Std[mod]
		for _, sq := range ds.Seqs {
			ch := sq.Channels[mod]
			if ch == nil {
				continue
			}
			for _, v := range ch.Vecs {
				for d := 0; d < len(v) && d < len(mean); d++ {
					v[d] = float32((float64(v[d]) - mean[d]) / std[d])
				}
			}
		}
	}
}
