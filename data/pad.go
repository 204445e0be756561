// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package data

import (
	"fmt"

	"github.com/emer/etable/etensor"
)

// FeatDimNames are the dimension names of padded feature tensors.
var FeatDimNames = []string{"Seq", "Window", "Frame", "Feat"}

// Padded is a windowed dataset padded to fixed shape.  Every modality has a
// [Seq, Window, Frame, Feat] tensor; windows are zero-padded to the largest
// frame count of that modality and sequences to the largest window count.
// Ratings is [Seq, Window], zero-padded.  Lens holds the true window count
// of each sequence, shared by all modalities.
type Padded struct {
	Modalities []string
	IDs        []SeqID
	Dims       map[string]int
	Feats      map[string]*etensor.Float32
	Ratings    *etensor.Float32
	Lens       []int

	// Orig are the unpadded window ratings.
	Orig [][]float32
}

// Len returns the number of sequences.
func (pd *Padded) Len() int { return len(pd.Lens) }

// MaxLen returns the padded window count.
func (pd *Padded) MaxLen() int { return pd.Ratings.Dim(1) }

// Frames returns the padded frame count of the given modality.
func (pd *Padded) Frames(mod string) int { return pd.Feats[mod].Dim(2) }

// Pad pads every modality and the ratings of wd.  dims gives the feature
// dimension of each modality; a missing entry is taken from the data.
func Pad(wd *Windowed, dims map[string]int) (*Padded, error) {
	if wd.Len() == 0 {
		return nil, ErrNoSequences
	}
	pd := &Padded{
		Modalities: wd.Modalities,
		IDs:        wd.IDs,
		Dims:       make(map[string]int, len(wd.Modalities)),
		Feats:      make(map[string]*etensor.Float32, len(wd.Modalities)),
		Orig:       wd.Ratings,
	}
	for _, mod := range wd.Modalities {
		tsr, lens, err := padChannel(wd.Feats[mod], dims[mod])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", mod, err)
		}
		pd.Feats[mod] = tsr
		pd.Dims[mod] = tsr.Dim(3)
		pd.Lens = lens
	}
	if pd.Lens == nil {
		pd.Lens = make([]int, len(wd.Ratings))
		for i, r := range wd.Ratings {
			pd.Lens[i] = len(r)
		}
	}
	maxLen := 0
	for _, l := range pd.Lens {
		if l > maxLen {
			maxLen = l
		}
	}
	pd.Ratings = PadRatings(wd.Ratings, maxLen)
	return pd, nil
}

// padChannel pads one modality.  Windows without frames become all-zero.
func padChannel(seqs [][][][]float32, dim int) (*etensor.Float32, []int, error) {
	maxWin, maxFrm := 0, 0
	lens := make([]int, len(seqs))
	for si, sq := range seqs {
		lens[si] = len(sq)
		if len(sq) > maxWin {
			maxWin = len(sq)
		}
		for _, w := range sq {
			if len(w) > maxFrm {
				maxFrm = len(w)
			}
			if dim == 0 && len(w) > 0 {
				dim = len(w[0])
			}
		}
	}
	if maxWin == 0 {
		maxWin = 1
	}
	if maxFrm == 0 {
		maxFrm = 1
	}
	if dim == 0 {
		dim = 1
	}
	tsr := etensor.NewFloat32([]int{len(seqs), maxWin, maxFrm, dim}, nil, FeatDimNames)
	for si, sq := range seqs {
		for wi, w := range sq {
			for fi, v := range w {
				if len(v) != dim {
					return nil, nil, fmt.Errorf("%w: frame has %d features, expected %d", ErrDimMismatch, len(v), dim)
				}
				off := tsr.Offset([]int{si, wi, fi, 0})
				copy(tsr.Values[off:off+dim], v)
			}
		}
	}
	return tsr, lens, nil
}

// PadRatings zero-pads each rating sequence to maxLen into a [Seq, Window] tensor.
func PadRatings(ratings [][]float32, maxLen int) *etensor.Float32 {
	if maxLen == 0 {
		maxLen = 1
	}
	tsr := etensor.NewFloat32([]int{len(ratings), maxLen}, nil, []string{"Seq", "Window"})
	for si, r := range ratings {
		n := len(r)
		if n > maxLen {
			n = maxLen
		}
		copy(tsr.Values[si*maxLen:si*maxLen+n], r[:n])
	}
	return tsr
}
