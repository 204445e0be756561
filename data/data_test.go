// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package data

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func vec(vs ...float32) []float32 { return vs }

func TestWindowChannel(t *testing.T) {
	ch := &Channel{
		Times: []float64{0.5, 1, 6.5, 7},
		Vecs:  [][]float32{vec(1, 2), vec(float32(math.NaN()), 4), vec(5, 6), vec(7, 8)},
	}

	ws := WindowChannel(ch, 2, false)
	require.Len(t, ws, 3)
	require.Len(t, ws[0], 2)
	require.Empty(t, ws[1])
	require.Empty(t, ws[2])
	require.Equal(t, vec(0, 4), ws[0][1], "NaN must become 0")

	lw := WindowChannel(ch, 2, true)
	require.Len(t, lw, 2)
	require.Len(t, lw[0], 2)
	require.Len(t, lw[1], 1)
	require.Equal(t, vec(5, 6), lw[1][0])

	require.Nil(t, WindowChannel(ch, 0, false))
	require.Nil(t, WindowChannel(nil, 2, false))
}

func TestWindowChannelNoMutation(t *testing.T) {
	nan := float32(math.NaN())
	ch := &Channel{Times: []float64{0.5, 3}, Vecs: [][]float32{vec(nan), vec(1)}}
	WindowChannel(ch, 2, false)
	require.True(t, math.IsNaN(float64(ch.Vecs[0][0])))
}

func TestWindowChannelBadTime(t *testing.T) {
	ch := &Channel{Times: []float64{0.5, math.NaN(), 1.0}, Vecs: [][]float32{vec(1), vec(2), vec(3)}}
	require.Empty(t, WindowChannel(ch, 2, false))
	require.Empty(t, WindowChannel(ch, 2, true))

	ch = &Channel{Times: []float64{0.5, 2.5, math.Inf(1)}, Vecs: [][]float32{vec(1), vec(2), vec(3)}}
	ws := WindowChannel(ch, 2, false)
	require.Len(t, ws, 1)
	require.Equal(t, [][]float32{vec(1)}, ws[0])
}

func TestWindowRatings(t *testing.T) {
	rs := make([]float32, 10)
	for i := range rs {
		rs[i] = 1
	}
	got := WindowRatings(rs, 2, 2)
	require.Len(t, got, 2)
	require.InDelta(t, 1.25, got[0], 1e-6)
	require.InDelta(t, 1.0, got[1], 1e-6)

	frac := WindowRatings(rs, 0.75, 2)
	require.Len(t, frac, 3)
	require.InDelta(t, 4/1.5, frac[0], 1e-5)
	require.InDelta(t, 2, frac[1], 1e-5)

	require.Nil(t, WindowRatings(rs, 0, 2))
}

func testDataset() *Dataset {
	ch := func(n int, dt float64) *Channel {
		c := &Channel{}
		for i := 1; i <= n; i++ {
			c.Times = append(c.Times, float64(i)*dt)
			c.Vecs = append(c.Vecs, vec(float32(i), float32(-i)))
		}
		return c
	}
	rs := func(n int) []float32 {
		r := make([]float32, n)
		for i := range r {
			r[i] = 0.5
		}
		return r
	}
	return &Dataset{
		Modalities: []string{"a", "b"},
		Dims:       map[string]int{"a": 2, "b": 2},
		BaseRate:   2,
		Seqs: []*Sequence{
			{ID: SeqID{Subject: "ID1", Video: "vid1"}, Channels: map[string]*Channel{"a": ch(20, 0.5), "b": ch(10, 0.5)}, Ratings: rs(40)},
			{ID: SeqID{Subject: "ID2", Video: "vid1"}, Channels: map[string]*Channel{"a": ch(12, 0.5), "b": ch(12, 0.5)}, Ratings: rs(9)},
		},
	}
}

func TestConstructInput(t *testing.T) {
	wd := ConstructInput(testDataset(), 2, false)
	require.Equal(t, 2, wd.Len())
	// seq 0: a -> 4 full windows, b -> 2, ratings -> 9; min is 2
	require.Len(t, wd.Feats["a"][0], 2)
	require.Len(t, wd.Feats["b"][0], 2)
	require.Len(t, wd.Ratings[0], 2)
	// seq 1: ratings limit to 2 windows
	require.Len(t, wd.Ratings[1], 2)
	require.Len(t, wd.Feats["a"][1], 2)
	require.Len(t, wd.Feats["a"][1][0], 4)
}

func TestSplitSections(t *testing.T) {
	wd := ConstructInput(testDataset(), 1, false)
	require.Len(t, wd.Ratings[0], 4)
	sp := SplitSections(wd, 2)
	require.Equal(t, 4, sp.Len())
	require.Equal(t, 1, sp.IDs[0].Section)
	require.Equal(t, 2, sp.IDs[1].Section)
	require.Equal(t, "ID1_vid1_s2", sp.IDs[1].String())
	require.Len(t, sp.Ratings[0], 2)
	require.Len(t, sp.Feats["b"][1], 2)
	require.Same(t, wd, SplitSections(wd, 1))
}

func TestDropEmpty(t *testing.T) {
	wd := &Windowed{
		Modalities: []string{"m"},
		IDs:        []SeqID{{Subject: "s", Video: "1"}, {Subject: "s", Video: "2"}},
		Feats:      map[string][][][][]float32{"m": {{}, {{vec(1)}}}},
		Ratings:    [][]float32{{}, {0.5}},
	}
	out := wd.DropEmpty()
	require.Equal(t, 1, out.Len())
	require.Equal(t, "2", out.IDs[0].Video)
	require.Len(t, out.Feats["m"], 1)
}

func TestPad(t *testing.T) {
	wd := &Windowed{
		Modalities: []string{"m"},
		IDs:        []SeqID{{Subject: "s", Video: "1"}, {Subject: "s", Video: "2"}},
		Feats: map[string][][][][]float32{
			"m": {
				{{vec(1, 2), vec(3, 4)}, {vec(5, 6)}},
				{{}},
			},
		},
		Ratings: [][]float32{{0.1, 0.2}, {0.3}},
	}
	pd, err := Pad(wd, nil)
	require.NoError(t, err)
	tsr := pd.Feats["m"]
	require.Equal(t, []int{2, 2, 2, 2}, tsr.Shp)
	require.Equal(t, []int{2, 1}, pd.Lens)
	require.Equal(t, 2, pd.Dims["m"])
	require.Equal(t, float32(3), tsr.Value([]int{0, 0, 1, 0}))
	require.Equal(t, float32(6), tsr.Value([]int{0, 1, 0, 1}))
	require.Equal(t, float32(0), tsr.Value([]int{0, 1, 1, 0}))
	for _, v := range tsr.Values[8:] {
		require.Equal(t, float32(0), v)
	}
	require.Equal(t, []float32{0.1, 0.2, 0.3, 0}, pd.Ratings.Values)

	_, err = Pad(wd, map[string]int{"m": 3})
	require.True(t, errors.Is(err, ErrDimMismatch))

	_, err = Pad(&Windowed{}, nil)
	require.ErrorIs(t, err, ErrNoSequences)
}

func testPadded(t *testing.T) *Padded {
	wd := &Windowed{
		Modalities: []string{"m"},
		IDs:        make([]SeqID, 3),
		Feats: map[string][][][][]float32{
			"m": {
				{{vec(1)}},
				{{vec(2)}, {vec(3)}, {vec(4)}},
				{{vec(5)}, {vec(6)}},
			},
		},
		Ratings: [][]float32{{1}, {2, 3, 4}, {5, 6}},
	}
	pd, err := Pad(wd, nil)
	require.NoError(t, err)
	return pd
}

func TestBatch(t *testing.T) {
	pd := testPadded(t)
	br := NewBatcher(pd, nil)
	bt := br.Batch([]int{0, 2})
	require.Equal(t, []int{2, 0}, bt.Idx)
	require.Equal(t, []int{2, 1}, bt.Lens)
	require.Equal(t, 2, bt.MaxLen())
	require.Equal(t, 3, bt.NPoints())
	require.Equal(t, []float32{1, 1, 1, 0}, bt.Mask.Values)
	require.Equal(t, []float32{5, 6, 1, 0}, bt.Target.Values)
	require.Equal(t, []float32{5, 6, 1, 0}, bt.Feats["m"].Values)
	require.Equal(t, []float32{6}, bt.Window("m", 0, 1))
	require.Equal(t, []float32{1}, bt.Targets(1))

	full := br.Batch([]int{0, 1, 2})
	require.Equal(t, []int{1, 2, 0}, full.Idx)
	for b := 1; b < full.Size(); b++ {
		require.GreaterOrEqual(t, full.Lens[b-1], full.Lens[b])
	}
	for b, l := range full.Lens {
		for ti := 0; ti < full.MaxLen(); ti++ {
			want := float32(0)
			if ti < l {
				want = 1
			}
			require.Equal(t, want, full.Mask.Value([]int{b, ti, 0}))
		}
	}
}

func TestChunks(t *testing.T) {
	pd := testPadded(t)
	br := NewBatcher(pd, rand.New(rand.NewSource(3)))
	ch := br.Chunks(2, false)
	require.Equal(t, [][]int{{0, 1}, {2}}, ch)

	seen := map[int]bool{}
	for _, c := range br.Chunks(2, true) {
		for _, i := range c {
			seen[i] = true
		}
	}
	require.Len(t, seen, 3)

	n := 0
	require.NoError(t, br.ForEach(1, true, func(bt *Batch) error {
		n++
		require.Equal(t, 1, bt.Size())
		return nil
	}))
	require.Equal(t, 3, n)
}

func TestNormalizer(t *testing.T) {
	ds := testDataset()
	nz := FitNormalizer(ds)
	nz.Apply(ds)
	for _, mod := range ds.Modalities {
		var sum float64
		var n int
		for _, sq := range ds.Seqs {
			for _, v := range sq.Channels[mod].Vecs {
				sum += float64(v[0])
				n++
			}
		}
		require.InDelta(t, 0, sum/float64(n), 1e-5)
	}
}

func TestNormalizerPopStd(t *testing.T) {
	nan := float32(math.NaN())
	ds := &Dataset{
		Modalities: []string{"a"},
		Dims:       map[string]int{"a": 2},
		Seqs: []*Sequence{{Channels: map[string]*Channel{"a": {
			Times: []float64{0.5, 1, 1.5},
			Vecs:  [][]float32{vec(1, 5), vec(3, 5), vec(nan, 5)},
		}}}},
	}
	nz := FitNormalizer(ds)
	require.Equal(t, []float64{2, 5}, nz.Mean["a"])
	require.Equal(t, []float64{1, 1}, nz.Std["a"])
	nz.Apply(ds)
	require.Equal(t, vec(-1, 0), ds.Seqs[0].Channels["a"].Vecs[0])
	require.Equal(t, vec(1, 0), ds.Seqs[0].Channels["a"].Vecs[1])
}

func TestSynth(t *testing.T) {
	ds := Synth(4, []string{"emotient"}, map[string]int{"emotient": 3}, nil, rand.New(rand.NewSource(1)))
	require.Equal(t, 4, ds.Len())
	wd := ConstructInput(ds, 2, false)
	pd, err := Pad(wd, ds.Dims)
	require.NoError(t, err)
	require.Equal(t, 3, pd.Dims["emotient"])
	for i, l := range pd.Lens {
		require.Equal(t, len(pd.Orig[i]), l)
		require.Greater(t, l, 0)
	}
}

func writeFile(t *testing.T, fn, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(fn), 0755))
	require.NoError(t, os.WriteFile(fn, []byte(content), 0644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Train", "ratings", "ID1_vid1.tsv"),
		"time\trating\n0.0\t0.1\n0.5\t0.2\n1.0\t0.3\n1.5\t0.4\n2.0\t0.5\n2.5\t0.6\n")
	writeFile(t, filepath.Join(dir, "Train", "emotient", "ID1_vid1.tsv"),
		"time\tf1\tf2\n0.5\t1.0\t2.0\n1.0\t3.0\t4.0\n1.5\t5.0\t6.0\n")

	ds, err := Load(dir, "Train", []string{"emotient"}, 2)
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	sq := ds.Seqs[0]
	require.Equal(t, SeqID{Subject: "ID1", Video: "vid1"}, sq.ID)
	require.Equal(t, 2, ds.Dims["emotient"])
	require.Equal(t, 3, sq.Channels["emotient"].Len())
	require.Equal(t, vec(3, 4), sq.Channels["emotient"].Vecs[1])
	// ratings are cut to the 1.5s feature duration
	require.Len(t, sq.Ratings, 3)

	_, err = Load(dir, "Train", []string{"acoustic"}, 2)
	require.ErrorIs(t, err, ErrMissingModality)

	_, err = Load(dir, "Valid", []string{"emotient"}, 2)
	require.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	ratings := "time\trating\n0.0\t0.1\n0.5\t0.2\n1.0\t0.3\n"

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Train", "ratings", "A_1.tsv"), ratings)
	writeFile(t, filepath.Join(dir, "Train", "ratings", "B_1.tsv"), ratings)
	writeFile(t, filepath.Join(dir, "Train", "emotient", "A_1.tsv"), "time\tf1\tf2\n0.5\t1.0\t2.0\n1.0\t3.0\t4.0\n")
	writeFile(t, filepath.Join(dir, "Train", "emotient", "B_1.tsv"), "time\tf1\n0.5\t1.0\n1.0\t3.0\n")
	_, err := Load(dir, "Train", []string{"emotient"}, 2)
	require.ErrorIs(t, err, ErrDimMismatch)
	require.Contains(t, err.Error(), "B_1")

	dir = t.TempDir()
	writeFile(t, filepath.Join(dir, "Train", "ratings", "A_1.tsv"), ratings)
	writeFile(t, filepath.Join(dir, "Train", "emotient", "A_1.tsv"), "time\tf1\n0.5\t1.0\nnan\t2.0\n1.0\t3.0\n")
	_, err = Load(dir, "Train", []string{"emotient"}, 2)
	require.ErrorIs(t, err, ErrBadTimes)

	writeFile(t, filepath.Join(dir, "Train", "emotient", "A_1.tsv"), "time\tf1\n1.0\t1.0\n0.5\t2.0\n")
	_, err = Load(dir, "Train", []string{"emotient"}, 2)
	require.ErrorIs(t, err, ErrBadTimes)
}
