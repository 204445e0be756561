// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package data

import (
	"fmt"
	"math"
	"math/rand"
)

// SynthParams configures Synth.
type SynthParams struct {
	// MinDur, MaxDur bound the sequence durations in seconds.
	MinDur, MaxDur float64

	// FrameRate is the feature frame rate in Hz.
	FrameRate float64

	// BaseRate is the rating sample rate in Hz.
	BaseRate float64

	// Noise is the standard deviation of feature noise.
	Noise float64

	// NaNProb is the probability of a NaN feature value.
	NaNProb float64

	// GapProb is the per-sequence probability of a 3 second gap in the
	// feature frames.
	GapProb float64
}

// Defaults sets default values.
func (sp *SynthParams) Defaults() {
	sp.MinDur = 20
	sp.MaxDur = 60
	sp.FrameRate = 5
	sp.BaseRate = 2
	sp.Noise = 0.1
	sp.NaNProb = 0.01
	sp.GapProb = 0.2
}

// Synth generates a dataset of n sequences whose ratings follow a slowly
// varying latent valence that every modality encodes linearly plus noise.
func Synth(n int, mods []string, dims map[string]int, sp *SynthParams, rnd *rand.Rand) *Dataset {
	if sp == nil {
		sp = &SynthParams{}
		sp.Defaults()
	}
	ds := &Dataset{Split: "Synth", Modalities: mods, Dims: make(map[string]int, len(mods)), BaseRate: sp.BaseRate}
	loads := make(map[string][]float64, len(mods))
	for _, mod := range mods {
		d := dims[mod]
		if d == 0 {
			d = 4
		}
		ds.Dims[mod] = d
		ld := make([]float64, d)
		for i := range ld {
			ld[i] = rnd.NormFloat64()
		}
		loads[mod] = ld
	}
	for si := 0; si < n; si++ {
		dur := sp.MinDur + rnd.Float64()*(sp.MaxDur-sp.MinDur)
		freq := 0.05 + 0.1*rnd.Float64()
		phase := 2 * math.Pi * rnd.Float64()
		val := func(t float64) float64 { return 0.8 * math.Sin(2*math.Pi*freq*t+phase) }

		sq := &Sequence{
			ID:       SeqID{Subject: fmt.Sprintf("ID%d", si/2+1), Video: fmt.Sprintf("vid%d", si%2+1)},
			Channels: make(map[string]*Channel, len(mods)),
		}
		nr := int(dur * sp.BaseRate)
		sq.Ratings = make([]float32, nr)
		for i := range sq.Ratings {
			sq.Ratings[i] = float32(val(float64(i) / sp.BaseRate))
		}
		gapSt := -1.0
		if rnd.Float64() < sp.GapProb {
			gapSt = rnd.Float64() * (dur - 3)
		}
		for _, mod := range mods {
			ch := &Channel{}
			ld := loads[mod]
			nf := int(dur * sp.FrameRate)
			for fi := 1; fi <= nf; fi++ {
				t := float64(fi) / sp.FrameRate
				if gapSt >= 0 && t >= gapSt && t < gapSt+3 {
					continue
				}
				v := val(t)
				vec := make([]float32, len(ld))
				for d, l := range ld {
					if rnd.Float64() < sp.NaNProb {
						vec[d] = float32(math.NaN())
						continue
					}
					vec[d] = float32(l*v + sp.Noise*rnd.NormFloat64())
				}
				ch.Times = append(ch.Times, t)
				ch.Vecs = append(ch.Vecs, vec)
			}
			sq.Channels[mod] = ch
		}
		ds.Seqs = append(ds.Seqs, sq)
	}
	return ds
}
