// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package data turns recorded behavioral-signal sequences into fixed-shape
tensors for the valence network.

The pipeline is Load (or Synth) -> optional Normalizer -> ConstructInput
(windowing of every modality and of the ratings) -> optional SplitSections
-> Pad -> Batcher.  Padded features are etensor.Float32 tensors shaped
[Seq, Window, Frame, Feat]; batches are sorted by sequence length in
decreasing order and carry a [Batch, Window, 1] mask of valid windows.
*/
package data
