// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package data

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/emer/etable/etable"
	"github.com/goki/gi/gi"
)

var (
	// ErrNoSequences is returned when a split directory yields no sequences.
	ErrNoSequences = errors.New("data: no sequences found")

	// ErrMissingModality is returned when a sequence lacks a file for a requested modality.
	ErrMissingModality = errors.New("data: sequence is missing a modality")

	// ErrDimMismatch is returned when feature dimensions disagree within a modality.
	ErrDimMismatch = errors.New("data: feature dimension mismatch")

	// ErrBadTimes is returned when a feature file has a non-finite or
	// decreasing timestamp.
	ErrBadTimes = errors.New("data: bad timestamps")
)

// RatingsDir is the per-split directory holding the valence rating files.
const RatingsDir = "ratings"

// TimeCol is the name of the timestamp column in feature files.
const TimeCol = "time"

// RatingCol is the preferred name of the rating column in rating files.
const RatingCol = "rating"

// DefaultDims are the feature dimensions of the standard modalities.
var DefaultDims = map[string]int{
	"linguistic": 300,
	"emotient":   20,
	"acoustic":   988,
}

// SeqID identifies a recorded sequence, optionally a section of one.
type SeqID struct {
	Subject string
	Video   string

	// Section is 1-based when the sequence was split into sections, 0 otherwise.
	Section int
}

func (id SeqID) String() string {
	s := id.Subject + "_" + id.Video
	if id.Section > 0 {
		s += fmt.Sprintf("_s%d", id.Section)
	}
	return s
}

// Channel is one modality of a sequence: time-stamped feature frames.
type Channel struct {
	Times []float64
	Vecs  [][]float32
}

// Len returns the number of frames.
func (ch *Channel) Len() int { return len(ch.Times) }

// Duration returns the timestamp of the last frame, 0 if empty.
func (ch *Channel) Duration() float64 {
	if len(ch.Times) == 0 {
		return 0
	}
	return ch.Times[len(ch.Times)-1]
}

// Sequence is one recording with all its modality channels and the
// valence ratings sampled at the dataset base rate.
type Sequence struct {
	ID       SeqID
	Channels map[string]*Channel
	Ratings  []float32
}

// Dataset is a split (Train, Valid, ...) of sequences.
type Dataset struct {
	Split      string
	Modalities []string
	Dims       map[string]int

	// BaseRate is the sampling rate of the ratings, in Hz.
	BaseRate float64
	Seqs     []*Sequence
}

// Len returns the number of sequences.
func (ds *Dataset) Len() int { return len(ds.Seqs) }

// Load reads a dataset split from dir.  Each modality has its own directory
// <dir>/<split>/<mod> with one <subject>_<video>.tsv file per sequence,
// holding a time column followed by feature columns.  Ratings live in
// <dir>/<split>/ratings with the same file names.  Sequences are truncated
// to the shortest duration among their channels and ratings.
func Load(dir, split string, mods []string, baseRate float64) (*Dataset, error) {
	if baseRate <= 0 {
		baseRate = 2
	}
	rdir := filepath.Join(dir, split, RatingsDir)
	names, err := seqFiles(rdir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSequences, rdir)
	}
	ds := &Dataset{Split: split, Modalities: mods, Dims: make(map[string]int), BaseRate: baseRate}
	for _, fn := range names {
		id := parseSeqID(fn)
		sq := &Sequence{ID: id, Channels: make(map[string]*Channel, len(mods))}
		sq.Ratings, err = readRatings(filepath.Join(rdir, fn))
		if err != nil {
			return nil, err
		}
		for _, mod := range mods {
			mfn := filepath.Join(dir, split, mod, fn)
			if _, err := os.Stat(mfn); err != nil {
				return nil, fmt.Errorf("%w: %s for %v", ErrMissingModality, mod, id)
			}
			ch, err := readChannel(mfn)
			if err != nil {
				return nil, err
			}
			if len(ch.Vecs) > 0 {
				dim := len(ch.Vecs[0])
				if pd, has := ds.Dims[mod]; has && pd != dim {
					return nil, fmt.Errorf("%w: %s has %d features in %v, expected %d", ErrDimMismatch, mod, dim, id, pd)
				}
				ds.Dims[mod] = dim
			}
			sq.Channels[mod] = ch
		}
		sq.Truncate(baseRate)
		ds.Seqs = append(ds.Seqs, sq)
	}
	return ds, nil
}

// Truncate cuts all channels and the ratings of the sequence to the
// shortest duration among them.
func (sq *Sequence) Truncate(baseRate float64) {
	dur := float64(len(sq.Ratings)) / baseRate
	for _, ch := range sq.Channels {
		if d := ch.Duration(); d < dur {
			dur = d
		}
	}
	nr := int(math.Ceil(dur * baseRate))
	if nr < len(sq.Ratings) {
		sq.Ratings = sq.Ratings[:nr]
	}
	for _, ch := range sq.Channels {
		n := sort.SearchFloat64s(ch.Times, dur)
		for n < len(ch.Times) && ch.Times[n] <= dur {
			n++
		}
		ch.Times = ch.Times[:n]
		ch.Vecs = ch.Vecs[:n]
	}
}

func seqFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("data: reading %s: %w", dir, err)
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".tsv", ".csv":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// parseSeqID splits <subject>_<video>.tsv into its parts.  Any trailing
// _<modality> tag after the video is dropped.
func parseSeqID(fn string) SeqID {
	base := strings.TrimSuffix(fn, filepath.Ext(fn))
	parts := strings.SplitN(base, "_", 3)
	if len(parts) == 1 {
		return SeqID{Subject: parts[0]}
	}
	return SeqID{Subject: parts[0], Video: parts[1]}
}

func delimFor(fn string) etable.Delims {
	if filepath.Ext(fn) == ".csv" {
		return etable.Comma
	}
	return etable.Tab
}

func openTable(fn string) (*etable.Table, error) {
	dt := &etable.Table{}
	if err := dt.OpenCSV(gi.FileName(fn), delimFor(fn)); err != nil {
		return nil, fmt.Errorf("data: reading %s: %w", fn, err)
	}
	return dt, nil
}

// readChannel reads a feature table: the time column plus every other column as a feature.
func readChannel(fn string) (*Channel, error) {
	dt, err := openTable(fn)
	if err != nil {
		return nil, err
	}
	tc := -1
	for ci, nm := range dt.ColNames {
		if strings.EqualFold(nm, TimeCol) {
			tc = ci
			break
		}
	}
	if tc < 0 {
		return nil, fmt.Errorf("data: %s has no %q column", fn, TimeCol)
	}
	ch := &Channel{Times: make([]float64, dt.Rows), Vecs: make([][]float32, dt.Rows)}
	nf := len(dt.Cols) - 1
	for ri := 0; ri < dt.Rows; ri++ {
		t := dt.Cols[tc].FloatVal1D(ri)
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: %s row %d is %v", ErrBadTimes, fn, ri, t)
		}
		if ri > 0 && t < ch.Times[ri-1] {
			return nil, fmt.Errorf("%w: %s row %d goes back from %v to %v", ErrBadTimes, fn, ri, ch.Times[ri-1], t)
		}
		ch.Times[ri] = t
		vec := make([]float32, 0, nf)
		for ci, col := range dt.Cols {
			if ci == tc {
				continue
			}
			vec = append(vec, float32(col.FloatVal1D(ri)))
		}
		ch.Vecs[ri] = vec
	}
	return ch, nil
}

// readRatings reads the rating column (or the first non-time column).
func readRatings(fn string) ([]float32, error) {
	dt, err := openTable(fn)
	if err != nil {
		return nil, err
	}
	rc := -1
	for ci, nm := range dt.ColNames {
		if strings.EqualFold(nm, RatingCol) {
			rc = ci
			break
		}
		if rc < 0 && !strings.EqualFold(nm, TimeCol) {
			rc = ci
		}
	}
	if rc < 0 {
		return nil, fmt.Errorf("data: %s has no rating column", fn)
	}
	rs := make([]float32, dt.Rows)
	for ri := range rs {
		rs[ri] = float32(dt.Cols[rc].FloatVal1D(ri))
	}
	return rs, nil
}
