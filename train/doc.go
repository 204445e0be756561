// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package train runs valence network experiments: it loads and prepares the
Train and Valid splits, trains the network with Adam on shuffled,
length-sorted batches, evaluates the concordance correlation of its
predictions on the held out split, and writes weights, epoch logs,
predictions and a parameter history to the save directory.

The log output follows the line formats

	Batch:     0	Loss: 0.12345
	Epoch: 1	Loss: 0.12345
	Evaluation	Loss: 0.12345	Corr: 0.123	CCC: 0.123456789
	CCC_STATS	SINGLE_BEST: 0.123456789	BEST: 0.123456789
*/
package train
