// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Valence predicts a continuous emotional valence rating over time from
multimodal video features (facial expression, acoustic, linguistic),
using an LSTM over fixed-length time windows.

The packages are:

  - data: loads per-video feature and rating files, groups feature frames
    into rating windows, normalizes, pads and batches sequences.
  - vnet: the network, built on the emergent emer.Network interfaces, with
    state and weights held in etensor maps, trained by hand-written
    backpropagation through time and Adam.
  - score: concordance correlation and Pearson correlation of predictions.
  - train: configuration, the epoch loop, checkpoints, epoch logs,
    predictions and the parameter history.
  - hist: an optional sqlite database of runs and their epoch statistics.

The cmd/valence command trains or evaluates from a data directory, and
examples/synth trains on generated sequences.
*/
package valence
