// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package vnet provides the recurrent valence network: an emergent-style
Network of Layers and Prjns whose states are etensor.Float32 values, with
the forward pass, backpropagation through time and Adam updates done
directly in Go.

For each modality, an Input layer holds one feature frame and an Embed
layer computes a ReLU embedding of every frame of a window, max-pooled over
the frames.  All Embed layers project into the Gates layer of an LSTM,
which also receives the previous Hidden state, and the Output layer reads
the rating from Hidden at every step.

	net := &vnet.Network{}
	net.InitName(net, "Valence")
	net.ConfigNet(mods, dims, 64, 128)
	net.Build()
	net.ApplyParamSet("Base", false)
	net.InitWts(rand.New(rand.NewSource(1)))

Weights are saved in the emergent weights JSON format, with the
modalities and sizes recorded in the network MetaData.
*/
package vnet
