// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vnet

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/emer/etable/etensor"
	"github.com/emer/valence/data"
	"github.com/goki/gi/gi"
	"github.com/stretchr/testify/require"
)

var testMods = []string{"a", "b"}
var testDims = map[string]int{"a": 3, "b": 2}

func testNet(t *testing.T, mods []string, seed int64) *Network {
	net := &Network{}
	net.InitName(net, "Test")
	require.NoError(t, net.ConfigNet(mods, testDims, 4, 3))
	require.NoError(t, net.Build())
	require.NoError(t, net.ApplyParamSet("Base", false))
	net.InitWts(rand.New(rand.NewSource(seed)))
	return net
}

func randVec(rnd *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(rnd.NormFloat64())
	}
	return v
}

// testBatch returns a batch of two sequences of 4 and 2 windows with
// up to 3 frames per window.
func testBatch(t *testing.T) *data.Batch {
	rnd := rand.New(rand.NewSource(7))
	lens := []int{4, 2}
	wd := &data.Windowed{
		Modalities: testMods,
		IDs:        []data.SeqID{{Subject: "s", Video: "1"}, {Subject: "s", Video: "2"}},
		Feats:      map[string][][][][]float32{},
	}
	for _, mod := range testMods {
		seqs := make([][][][]float32, len(lens))
		for i, n := range lens {
			for w := 0; w < n; w++ {
				var win [][]float32
				for f := 0; f < 1+(w+i)%3; f++ {
					win = append(win, randVec(rnd, testDims[mod]))
				}
				seqs[i] = append(seqs[i], win)
			}
		}
		wd.Feats[mod] = seqs
	}
	for _, n := range lens {
		rs := make([]float32, n)
		for i := range rs {
			rs[i] = rnd.Float32()*2 - 1
		}
		wd.Ratings = append(wd.Ratings, rs)
	}
	pd, err := data.Pad(wd, testDims)
	require.NoError(t, err)
	return data.NewBatcher(pd, nil).Batch([]int{0, 1})
}

func batchLoss(net *Network, bt *data.Batch) float64 {
	sum := 0.0
	for b := 0; b < bt.Size(); b++ {
		l, _ := SeqLoss(net.Forward(bt, b), bt.Targets(b), 1)
		sum += l
	}
	return sum
}

func TestConfigBuild(t *testing.T) {
	net := testNet(t, testMods, 1)
	require.Equal(t, 7, net.NLayers())
	require.Equal(t, []int{GateN, 3}, net.Gates.Shp.Shp)
	require.Equal(t, GatesRole, net.Gates.Role)
	require.True(t, net.Gates.HasBias())
	require.False(t, net.Hidden.HasBias())
	require.Contains(t, net.Hidden.VarNames, "Cell")
	require.Equal(t, "a,b", net.MetaData["Modalities"])
	require.Equal(t, "a:3,b:2", net.MetaData["Dims"])

	// 4 biases (2 Embed, Gates, Output) and 6 projections
	require.Len(t, net.Params, 10)
	require.Equal(t, 4+12+4+8+12+2*12*4+12*3+1+3, net.NParams())
	for _, p := range net.Params {
		require.Equal(t, p.Val.Len(), p.Grad.Len(), p.Name)
	}

	lay, err := net.LayerByNameTry("aEmbed")
	require.NoError(t, err)
	require.Equal(t, "a", lay.(*Layer).Mod)
	require.Equal(t, "Embed", EmbedRole.String())

	bad := &Network{}
	bad.InitName(bad, "Bad")
	require.Error(t, bad.ConfigNet(nil, testDims, 4, 3))
	require.Error(t, bad.ConfigNet([]string{"c"}, testDims, 4, 3))
}

func TestRoleEnum(t *testing.T) {
	require.Equal(t, "Role", KiT_Role.Name())
	require.Equal(t, "Gates", GatesRole.String())
	require.Equal(t, "Role(9)", Role(9).String())

	b, err := json.Marshal(GatesRole)
	require.NoError(t, err)
	require.Equal(t, `"Gates"`, string(b))
	var r Role
	require.NoError(t, json.Unmarshal([]byte(`"Hidden"`), &r))
	require.Equal(t, HiddenRole, r)
	require.Error(t, r.FromString("Decoder"))

	net := testNet(t, testMods, 1)
	require.Contains(t, net.Gates.Class(), "Gates")
}

func TestInitWts(t *testing.T) {
	net := testNet(t, testMods, 1)
	bias := net.Gates.States["Bias"].Values
	for j := 0; j < 3; j++ {
		require.Equal(t, float32(0), bias[GateIn*3+j])
		require.Equal(t, float32(1), bias[GateForget*3+j])
	}
	pj := rcvPrjn(net.Output, net.Hidden)
	lim := 1 / math.Sqrt(3)
	for _, w := range pj.States["Wt"].Values {
		require.LessOrEqual(t, math.Abs(float64(w)), lim)
	}

	other := testNet(t, testMods, 2)
	require.NotEqual(t, net.Params[1].Val.Values, other.Params[1].Val.Values)
}

func TestForwardPredict(t *testing.T) {
	net := testNet(t, testMods, 1)
	bt := testBatch(t)
	tr := net.Forward(bt, 0)
	require.Equal(t, bt.Lens[0], tr.Len)
	require.Len(t, tr.Out, bt.Lens[0])
	for _, o := range tr.Out {
		require.False(t, math.IsNaN(float64(o)))
	}
	for _, h := range tr.Hid[tr.Len-1] {
		require.Less(t, math.Abs(float64(h)), 1.0)
	}

	out := net.Predict(bt, 1)
	require.Len(t, out, bt.Lens[1])
	require.Equal(t, out[len(out)-1], net.Output.States["Act"].Values[0])
	require.Equal(t, out, net.Forward(bt, 1).Out)
}

func TestStateAccess(t *testing.T) {
	net := testNet(t, testMods, 1)
	net.Predict(testBatch(t), 0)

	var vals []float32
	require.NoError(t, net.Hidden.UnitVals(&vals, "Act"))
	require.Len(t, vals, 3)
	require.Error(t, net.Hidden.UnitVals(&vals, "Nope"))
	require.True(t, math.IsNaN(float64(vals[0])))

	tsr := &etensor.Float32{}
	require.NoError(t, net.Gates.UnitValsTensor(tsr, "Bias"))
	require.Equal(t, []int{GateN, 3}, tsr.Shapes())
	require.Equal(t, 1.0, tsr.FloatVal1D(GateForget*3))
	require.Equal(t, float32(1), net.Gates.UnitVal("Bias", []int{GateForget, 2}))

	pj := rcvPrjn(net.Output, net.Hidden)
	require.Equal(t, "Output <- Hidden Pat=Full", pj.String())
	require.NoError(t, net.Output.RecvPrjnVals(&vals, "Wt", net.Hidden, 1, ""))
	require.Len(t, vals, 3, "an existing buffer is not shrunk")
	require.Equal(t, pj.SynVal("Wt", 1, 0), vals[0])
	vals = nil
	require.NoError(t, net.Output.RecvPrjnVals(&vals, "Wt", net.Hidden, 1, ""))
	require.Equal(t, []float32{pj.SynVal("Wt", 1, 0)}, vals)
	require.NoError(t, net.Hidden.SendPrjnVals(&vals, "Wt", net.Output, 0, ""))
	require.Len(t, vals, 3)
	require.Equal(t, pj.SynVal("Wt", 2, 0), vals[2])
	require.Error(t, net.Hidden.SendPrjnVals(&vals, "Wt", net.Embeds["a"], 0, ""))

	mn, mx, err := net.VarRange("Bias")
	require.NoError(t, err)
	require.Equal(t, float32(1), mx)
	require.Less(t, mn, float32(0))
	_, _, err = net.VarRange("Nope")
	require.Error(t, err)

	min, max := net.Bounds()
	require.Greater(t, max.X, min.X)
	require.Contains(t, net.AllParams(), "ForgetBias")
}

func TestEmbedPaddedFrame(t *testing.T) {
	net := testNet(t, testMods, 1)
	for j := range net.Embeds["a"].States["Bias"].Values {
		net.Embeds["a"].States["Bias"].Values[j] = 5
	}
	pj := rcvPrjn(net.Embeds["a"], net.Inputs["a"])
	for i := range pj.States["Wt"].Values {
		pj.States["Wt"].Values[i] = -1
	}
	out, arg := net.embed("a", []float32{1, 1, 1, 0, 0, 0})
	for j := range out {
		require.Equal(t, float32(5), out[j])
		require.Equal(t, 1, arg[j], "the padded frame wins")
	}

	out, _ = net.embed("a", []float32{-1, -1, -1, 0, 0, 0})
	require.Equal(t, float32(8), out[0])
}

func TestGradCheck(t *testing.T) {
	net := testNet(t, testMods, 3)
	bt := testBatch(t)
	net.ZeroGrad()
	loss := net.BatchStep(bt, 1)
	require.InDelta(t, batchLoss(net, bt), loss, 1e-5)

	const eps = 1e-2
	n, bad := 0, 0
	for _, p := range net.Params {
		for i := range p.Val.Values {
			w := p.Val.Values[i]
			p.Val.Values[i] = w + eps
			lp := batchLoss(net, bt)
			p.Val.Values[i] = w - eps
			lm := batchLoss(net, bt)
			p.Val.Values[i] = w
			num := (lp - lm) / (2 * eps)
			ana := float64(p.Grad.Values[i])
			n++
			if math.Abs(num-ana) > 1e-3+0.05*math.Abs(num) {
				bad++
			}
		}
	}
	// a few entries can straddle a ReLU or max-pool kink
	require.LessOrEqual(t, bad, n/20, "%d of %d gradients differ", bad, n)
}

func TestBatchStepThreads(t *testing.T) {
	bt := testBatch(t)
	grads := func(threads int) [][]float32 {
		net := testNet(t, testMods, 1)
		net.Threads = threads
		net.ZeroGrad()
		net.BatchStep(bt, 0.25)
		var gs [][]float32
		for _, p := range net.Params {
			gs = append(gs, append([]float32(nil), p.Grad.Values...))
		}
		return gs
	}
	require.Equal(t, grads(1), grads(4))
}

func TestAdam(t *testing.T) {
	net := testNet(t, testMods, 1)
	ad := NewAdam(net, 0.01, 0)
	ad.ZeroGrad()
	p := net.Params[0]
	w0 := p.Val.Values[0]
	p.Grad.Values[0] = 2
	p.Grad.Values[1] = -2
	w1 := p.Val.Values[1]
	ad.Step()
	require.InDelta(t, w0-0.01, p.Val.Values[0], 1e-6)
	require.InDelta(t, w1+0.01, p.Val.Values[1], 1e-6)
	require.Equal(t, 1, ad.NStep)

	ad.ZeroGrad()
	for _, v := range p.Grad.Values {
		require.Equal(t, float32(0), v)
	}
}

func TestTrainLoss(t *testing.T) {
	net := testNet(t, testMods, 1)
	bt := testBatch(t)
	ad := NewAdam(net, 0.01, 1e-4)
	first := 0.0
	last := 0.0
	for i := 0; i < 100; i++ {
		ad.ZeroGrad()
		loss := net.BatchStep(bt, 1/float32(bt.NPoints()))
		if i == 0 {
			first = loss
		}
		last = loss
		ad.Step()
	}
	require.Less(t, last, first/2)
}

func TestWtsRoundTrip(t *testing.T) {
	net := testNet(t, testMods, 1)
	net.MetaData["Epoch"] = "12"
	for _, ext := range []string{"wts.json", "wts.gz"} {
		fn := filepath.Join(t.TempDir(), "net."+ext)
		require.NoError(t, net.SaveWtsJSON(gi.FileName(fn)))

		other := testNet(t, testMods, 5)
		require.NoError(t, other.OpenWtsJSON(gi.FileName(fn)))
		require.Equal(t, "12", other.MetaData["Epoch"])
		for i, p := range net.Params {
			require.InDeltaSlice(t, p.Val.Values, other.Params[i].Val.Values, 1e-7, p.Name)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, net.WriteWtsJSON(&buf))
	one := testNet(t, []string{"a"}, 1)
	err := one.ReadWtsJSON(&buf)
	require.True(t, errors.Is(err, ErrModalityMismatch))
}

func TestSetWtsUnchangedOnError(t *testing.T) {
	net := testNet(t, testMods, 1)
	other := testNet(t, testMods, 2)
	before := make([][]float32, len(other.Params))
	for i, p := range other.Params {
		before[i] = append([]float32(nil), p.Val.Values...)
	}
	epoch := other.MetaData["Epoch"]

	nw := net.WtsNet()
	nw.MetaData["Epoch"] = "3"
	nw.MetaData["HiddenSize"] = "7"
	require.ErrorIs(t, other.SetWts(nw), ErrShapeMismatch)

	nw = net.WtsNet()
	nw.MetaData["Epoch"] = "3"
	nw.MetaData["Dims"] = "a:3,b:9"
	require.ErrorIs(t, other.SetWts(nw), ErrShapeMismatch)

	// the last layer is corrupt: layers read before it must be restored
	nw = net.WtsNet()
	nw.MetaData["Epoch"] = "3"
	last := &nw.Layers[len(nw.Layers)-1]
	last.Units["Bias"] = []float32{1, 2, 3}
	require.Error(t, other.SetWts(nw))

	for i, p := range other.Params {
		require.Equal(t, before[i], p.Val.Values, p.Name)
	}
	require.Equal(t, epoch, other.MetaData["Epoch"])
	require.Equal(t, "a:3,b:2", other.MetaData["Dims"])
}

func TestPrjnWtsJSON(t *testing.T) {
	net := testNet(t, testMods, 1)
	other := testNet(t, testMods, 2)
	pj := rcvPrjn(net.Gates, net.Hidden)
	var buf bytes.Buffer
	pj.WriteWtsJSON(&buf, 0)
	opj := rcvPrjn(other.Gates, other.Hidden)
	require.NoError(t, opj.ReadWtsJSON(&buf))
	require.Equal(t, pj.States["Wt"].Values, opj.States["Wt"].Values)
}

func TestParamSets(t *testing.T) {
	net := testNet(t, testMods, 1)
	require.NoError(t, net.ApplyParamSet("Small", false))
	require.Equal(t, float32(0), net.Gates.Init.ForgetBias)
	require.Equal(t, float32(0.25), rcvPrjn(net.Gates, net.Hidden).WtInit.Scale)
	require.Equal(t, float32(0.5), rcvPrjn(net.Embeds["a"], net.Inputs["a"]).WtInit.Scale)

	net.InitWts(rand.New(rand.NewSource(1)))
	require.Equal(t, float32(0), net.Gates.States["Bias"].Values[GateForget*3])

	require.Error(t, net.ApplyParamSet("Missing", false))
}
