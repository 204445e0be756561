// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package score

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCCC(t *testing.T) {
	x := []float64{0.1, 0.4, -0.2, 0.8, 0.3}
	require.InDelta(t, 1, CCC(x, x), 1e-12)

	neg := make([]float64, len(x))
	for i, v := range x {
		neg[i] = -v
	}
	require.Less(t, CCC(x, neg), 0.0)

	// shifted copy: perfect correlation, CCC penalized by the mean offset
	shift := make([]float64, len(x))
	for i, v := range x {
		shift[i] = v + 1
	}
	require.InDelta(t, 1, Pearson(x, shift), 1e-12)
	require.Less(t, CCC(x, shift), 0.5)

	// hand computed: t = [1,2,3], p = [2,2,2]
	// var_t = 2/3, var_p = 0, cov = 0 -> ccc 0
	require.Equal(t, 0.0, CCC([]float64{1, 2, 3}, []float64{2, 2, 2}))
	// t = [1,2,3], p = [1,3,5]: mt=2 vt=2/3 mp=3 vp=8/3 cov=4/3
	// ccc = (8/3) / (2/3 + 8/3 + 1) = 8/13
	require.InDelta(t, 8.0/13.0, CCC([]float64{1, 2, 3}, []float64{1, 3, 5}), 1e-12)

	require.InDelta(t, CCC(x, shift), CCC(shift, x), 1e-12)
}

func TestDegenerate(t *testing.T) {
	require.Equal(t, 0.0, CCC(nil, nil))
	require.Equal(t, 0.0, CCC([]float64{1}, []float64{1, 2}))
	require.Equal(t, 0.0, CCC([]float64{2, 2}, []float64{2, 2}))
	require.Equal(t, 0.0, Pearson([]float64{1, 1, 1}, []float64{1, 2, 3}))
	require.Equal(t, 0.0, Pearson([]float64{1}, []float64{1}))
	require.False(t, math.IsNaN(CCC([]float64{0, 0}, []float64{0, 0})))
}

func TestAccum(t *testing.T) {
	ac := NewAccum()
	require.Equal(t, Summary{MaxCCC: -1}, ac.Summary())

	good := []float64{1, 2, 3, 4}
	ac.Add(0, []float64{1, 3, 2, 4}, good)
	ac.Add(1, good, good)
	ac.Add(2, []float64{4, 3, 2, 1}, good)

	require.Equal(t, 1, ac.Best.Index)
	require.InDelta(t, 1, ac.Best.CCC, 1e-12)
	require.Equal(t, good, ac.Best.Output)

	sm := ac.Summary()
	require.Equal(t, 3, sm.N)
	require.InDelta(t, 1, sm.MaxCCC, 1e-12)
	require.InDelta(t, (ac.CCCs[0]+ac.CCCs[1]+ac.CCCs[2])/3, sm.CCC, 1e-12)
	require.Greater(t, sm.CCCStd, 0.0)
	require.InDelta(t, -1, ac.Corrs[2], 1e-12)
}

func TestFloat64s(t *testing.T) {
	require.Equal(t, []float64{1, 0.5}, Float64s([]float32{1, 0.5}))
}

func TestSummaryPopStd(t *testing.T) {
	ac := NewAccum()
	ac.CCCs = []float64{0.2, 0.6}
	ac.Corrs = []float64{0.1, 0.5}
	sm := ac.Summary()
	require.InDelta(t, 0.4, sm.CCC, 1e-12)
	require.InDelta(t, 0.2, sm.CCCStd, 1e-12)
	require.InDelta(t, 0.3, sm.Corr, 1e-12)
	require.InDelta(t, 0.2, sm.CorrStd, 1e-12)
	require.InDelta(t, 0.6, sm.MaxCCC, 1e-12)
}
