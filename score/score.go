// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package score computes agreement statistics between predicted and
// observed rating sequences: the concordance correlation coefficient (CCC)
// and the Pearson correlation, plus their aggregation over a set of
// sequences.
package score

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// popCov returns the population covariance of x and y.
func popCov(x, y []float64) float64 {
	n := float64(len(x))
	if n < 2 {
		return 0
	}
	return stat.Covariance(x, y, nil) * (n - 1) / n
}

// CCC returns the concordance correlation coefficient of yTrue and yPred:
//
//	2·cov(t,p) / (var(t) + var(p) + (mean(p) - mean(t))²)
//
// using population moments.  It is symmetric in its arguments.  Empty or
// mismatched inputs and a zero denominator (two identical constant
// series) give 0.
func CCC(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0
	}
	mt, vt := stat.PopMeanVariance(yTrue, nil)
	mp, vp := stat.PopMeanVariance(yPred, nil)
	den := vt + vp + (mp-mt)*(mp-mt)
	if den == 0 {
		return 0
	}
	return 2 * popCov(yTrue, yPred) / den
}

// Pearson returns the Pearson correlation of x and y, 0 when either is
// constant or the lengths differ.
func Pearson(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// Float64s converts a float32 slice for the statistics functions.
func Float64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Summary aggregates per-sequence statistics.
type Summary struct {
	Corr    float64 `desc:"mean Pearson correlation across sequences"`
	CorrStd float64 `desc:"population standard deviation of the correlations"`
	CCC     float64 `desc:"mean CCC across sequences"`
	CCCStd  float64 `desc:"population standard deviation of the CCCs"`
	MaxCCC  float64 `desc:"largest single-sequence CCC"`
	N       int     `desc:"number of sequences"`
}

// Best is the single sequence with the highest CCC.
type Best struct {
	Index  int
	CCC    float64
	Output []float64
	Target []float64
}

// Accum collects per-sequence statistics.
type Accum struct {
	Corrs []float64
	CCCs  []float64
	Best  Best
}

// NewAccum returns an empty accumulator.  The best CCC starts at -1, the
// lowest possible value, so any sequence replaces it.
func NewAccum() *Accum {
	return &Accum{Best: Best{Index: -1, CCC: -1}}
}

// Add records the prediction for the sequence with the given index and
// returns its CCC.
func (ac *Accum) Add(index int, output, target []float64) float64 {
	c := CCC(target, output)
	ac.CCCs = append(ac.CCCs, c)
	ac.Corrs = append(ac.Corrs, Pearson(output, target))
	if c > ac.Best.CCC {
		ac.Best = Best{Index: index, CCC: c, Output: output, Target: target}
	}
	return c
}

// Summary returns the aggregate statistics.
func (ac *Accum) Summary() Summary {
	sm := Summary{N: len(ac.CCCs), MaxCCC: ac.Best.CCC}
	if sm.N == 0 {
		return sm
	}
	sm.Corr, sm.CorrStd = stat.PopMeanStdDev(ac.Corrs, nil)
	sm.CCC, sm.CCCStd = stat.PopMeanStdDev(ac.CCCs, nil)
	sm.MaxCCC = floats.Max(ac.CCCs)
	return sm
}
