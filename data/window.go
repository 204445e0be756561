// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package data

import (
	"math"
)

// Windowed holds sequences cut into fixed-duration windows.
// Feats[mod][seq][window][frame] is a feature vector; Ratings[seq][window]
// is the mean rating over the window.  All modalities and the ratings of a
// sequence have the same number of windows.
type Windowed struct {
	Modalities []string
	IDs        []SeqID
	Feats      map[string][][][][]float32
	Ratings    [][]float32
}

// Len returns the number of sequences.
func (wd *Windowed) Len() int { return len(wd.IDs) }

// WindowChannel groups the frames of a channel into consecutive windows of
// the given duration (seconds).  NaN feature values are replaced by 0.
//
// In the standard mode a frame at time t joins the open window while
// t <= start+window; otherwise the open window (which may be empty) is
// closed, start advances by one window, and the frame is tried again, so
// gaps in the recording produce empty windows.  In legacy mode the
// overflowing frame always opens the next window.  In both modes the last
// open window is dropped.  A non-finite time ends the channel.
func WindowChannel(ch *Channel, window float64, legacy bool) [][][]float32 {
	if ch == nil || window <= 0 {
		return nil
	}
	vecs := make([][]float32, len(ch.Vecs))
	for i, v := range ch.Vecs {
		cv := make([]float32, len(v))
		for j, x := range v {
			if !math.IsNaN(float64(x)) {
				cv[j] = x
			}
		}
		vecs[i] = cv
	}

	var wins [][][]float32
	var cur [][]float32
	start := 0.0
	if !legacy {
		for i := 0; i < len(vecs); {
			if math.IsNaN(ch.Times[i]) || math.IsInf(ch.Times[i], 0) {
				break
			}
			if ch.Times[i] <= start+window {
				cur = append(cur, vecs[i])
				i++
				continue
			}
			wins = append(wins, cur)
			cur = nil
			start += window
		}
		return wins
	}
	for i, v := range vecs {
		if math.IsNaN(ch.Times[i]) || math.IsInf(ch.Times[i], 0) {
			break
		}
		if ch.Times[i] <= start+window {
			cur = append(cur, v)
			continue
		}
		wins = append(wins, cur)
		cur = [][]float32{v}
		start += window
	}
	return wins
}

// WindowRatings averages ratings sampled at baseRate (Hz) over windows of
// the given duration.  With c = window*baseRate samples per window, a
// window value is emitted at every index i > 0 that is a multiple of c,
// as the running sum divided by c.  The running sum includes sample 0, so
// the first window covers c+1 samples.
func WindowRatings(ratings []float32, window, baseRate float64) []float32 {
	c := window * baseRate
	if c <= 0 {
		return nil
	}
	var out []float32
	sum := 0.0
	for i, r := range ratings {
		sum += float64(r)
		if i != 0 && math.Mod(float64(i), c) == 0 {
			out = append(out, float32(sum/c))
			sum = 0
		}
	}
	return out
}

// ConstructInput windows every channel and the ratings of each sequence,
// truncating all of them to the smallest window count of the sequence.
func ConstructInput(ds *Dataset, window float64, legacy bool) *Windowed {
	wd := &Windowed{
		Modalities: ds.Modalities,
		IDs:        make([]SeqID, 0, len(ds.Seqs)),
		Feats:      make(map[string][][][][]float32, len(ds.Modalities)),
		Ratings:    make([][]float32, 0, len(ds.Seqs)),
	}
	for _, sq := range ds.Seqs {
		rs := WindowRatings(sq.Ratings, window, ds.BaseRate)
		minL := len(rs)
		chw := make(map[string][][][]float32, len(ds.Modalities))
		for _, mod := range ds.Modalities {
			ws := WindowChannel(sq.Channels[mod], window, legacy)
			if len(ws) < minL {
				minL = len(ws)
			}
			chw[mod] = ws
		}
		for _, mod := range ds.Modalities {
			wd.Feats[mod] = append(wd.Feats[mod], chw[mod][:minL])
		}
		wd.Ratings = append(wd.Ratings, rs[:minL])
		wd.IDs = append(wd.IDs, sq.ID)
	}
	return wd
}

// SplitSections divides every sequence into n contiguous sections of
// near-equal window counts.  Sections are numbered from 1 in the IDs.
// n <= 1 returns wd unchanged.
func SplitSections(wd *Windowed, n int) *Windowed {
	if n <= 1 {
		return wd
	}
	out := &Windowed{
		Modalities: wd.Modalities,
		Feats:      make(map[string][][][][]float32, len(wd.Modalities)),
	}
	for si, id := range wd.IDs {
		nw := len(wd.Ratings[si])
		for k := 0; k < n; k++ {
			st, ed := k*nw/n, (k+1)*nw/n
			if ed <= st {
				continue
			}
			sid := id
			sid.Section = k + 1
			out.IDs = append(out.IDs, sid)
			out.Ratings = append(out.Ratings, wd.Ratings[si][st:ed])
			for _, mod := range wd.Modalities {
				out.Feats[mod] = append(out.Feats[mod], wd.Feats[mod][si][st:ed])
			}
		}
	}
	return out
}

// DropEmpty returns wd without the sequences that have no windows.
func (wd *Windowed) DropEmpty() *Windowed {
	out := &Windowed{
		Modalities: wd.Modalities,
		Feats:      make(map[string][][][][]float32, len(wd.Modalities)),
	}
	for si, id := range wd.IDs {
		if len(wd.Ratings[si]) == 0 {
			continue
		}
		out.IDs = append(out.IDs, id)
		out.Ratings = append(out.Ratings, wd.Ratings[si])
		for _, mod := range wd.Modalities {
			out.Feats[mod] = append(out.Feats[mod], wd.Feats[mod][si])
		}
	}
	return out
}
