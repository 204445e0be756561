// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package data

import (
	"math/rand"
	"sort"

	"github.com/emer/etable/etensor"
)

// Batch is a set of sequences from a Padded dataset, sorted by length in
// decreasing order and truncated to the longest of them.
//
// Feats[mod] is [Batch, Window, Frame, Feat]; Target and Mask are
// [Batch, Window, 1], with Mask 1 for t < Lens[b] and 0 after.
// Idx holds the dataset index of each batch row.
type Batch struct {
	Idx    []int
	Feats  map[string]*etensor.Float32
	Target *etensor.Float32
	Mask   *etensor.Float32
	Lens   []int
}

// Size returns the number of sequences in the batch.
func (bt *Batch) Size() int { return len(bt.Idx) }

// MaxLen returns the number of windows in the batch.
func (bt *Batch) MaxLen() int { return bt.Target.Dim(1) }

// NPoints returns the total number of valid windows in the batch.
func (bt *Batch) NPoints() int {
	n := 0
	for _, l := range bt.Lens {
		n += l
	}
	return n
}

// Window returns the feature frames of modality mod for row b and window t
// as a flat [Frame*Feat] slice of the underlying tensor.
func (bt *Batch) Window(mod string, b, t int) []float32 {
	tsr := bt.Feats[mod]
	n := tsr.Dim(2) * tsr.Dim(3)
	off := tsr.Offset([]int{b, t, 0, 0})
	return tsr.Values[off : off+n]
}

// Targets returns the valid target values of row b.
func (bt *Batch) Targets(b int) []float32 {
	tl := bt.Target.Dim(1)
	return bt.Target.Values[b*tl : b*tl+bt.Lens[b]]
}

// Batcher makes batches from a padded dataset.
type Batcher struct {
	Data *Padded
	Rand *rand.Rand
}

// NewBatcher returns a batcher over pd.  rnd is used for shuffling; nil
// means a source seeded with 1.
func NewBatcher(pd *Padded, rnd *rand.Rand) *Batcher {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	return &Batcher{Data: pd, Rand: rnd}
}

// Chunks partitions the dataset indexes into consecutive chunks of size
// (the last one may be smaller), optionally after shuffling them.
func (br *Batcher) Chunks(size int, shuffle bool) [][]int {
	n := br.Data.Len()
	if size <= 0 {
		size = n
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if shuffle {
		br.Rand.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	var chunks [][]int
	for st := 0; st < n; st += size {
		ed := st + size
		if ed > n {
			ed = n
		}
		chunks = append(chunks, idx[st:ed])
	}
	return chunks
}

// Batch builds the batch for the given dataset indexes.
func (br *Batcher) Batch(chunk []int) *Batch {
	pd := br.Data
	idx := make([]int, len(chunk))
	copy(idx, chunk)
	sort.SliceStable(idx, func(i, j int) bool {
		return pd.Lens[idx[i]] > pd.Lens[idx[j]]
	})
	nb := len(idx)
	maxLen := 0
	lens := make([]int, nb)
	for b, di := range idx {
		lens[b] = pd.Lens[di]
		if lens[b] > maxLen {
			maxLen = lens[b]
		}
	}
	if maxLen == 0 {
		maxLen = 1
	}
	bt := &Batch{
		Idx:    idx,
		Feats:  make(map[string]*etensor.Float32, len(pd.Modalities)),
		Target: etensor.NewFloat32([]int{nb, maxLen, 1}, nil, []string{"Batch", "Window", "Rating"}),
		Mask:   etensor.NewFloat32([]int{nb, maxLen, 1}, nil, []string{"Batch", "Window", "Mask"}),
		Lens:   lens,
	}
	for _, mod := range pd.Modalities {
		src := pd.Feats[mod]
		nf, nd := src.Dim(2), src.Dim(3)
		dst := etensor.NewFloat32([]int{nb, maxLen, nf, nd}, nil, []string{"Batch", "Window", "Frame", "Feat"})
		wn := maxLen * nf * nd
		for b, di := range idx {
			soff := src.Offset([]int{di, 0, 0, 0})
			copy(dst.Values[b*wn:(b+1)*wn], src.Values[soff:soff+wn])
		}
		bt.Feats[mod] = dst
	}
	pl := pd.MaxLen()
	for b, di := range idx {
		copy(bt.Target.Values[b*maxLen:(b+1)*maxLen], pd.Ratings.Values[di*pl:di*pl+maxLen])
		for t := 0; t < lens[b]; t++ {
			bt.Mask.Values[b*maxLen+t] = 1
		}
	}
	return bt
}

// ForEach calls fn for each batch of the given size, stopping at the
// first error.
func (br *Batcher) ForEach(size int, shuffle bool, fn func(bt *Batch) error) error {
	for _, ch := range br.Chunks(size, shuffle) {
		if err := fn(br.Batch(ch)); err != nil {
			return err
		}
	}
	return nil
}
