// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vnet

import (
	"sync"

	"github.com/emer/etable/etensor"
	"github.com/emer/valence/data"
	"github.com/goki/mat32"
)

// Rand is the source of initial weight values: *rand.Rand satisfies it.
type Rand interface {
	Float32() float32
}

// Param is one learned tensor of the network with its gradient.
type Param struct {
	Name string
	Val  *etensor.Float32
	Grad *etensor.Float32
}

// Grads holds the gradients of one sequence, parallel to Network.Params.
type Grads [][]float32

// NewGrads returns a zeroed gradient buffer for the network.
func (nt *Network) NewGrads() Grads {
	g := make(Grads, len(nt.Params))
	for i, p := range nt.Params {
		g[i] = make([]float32, p.Val.Len())
	}
	return g
}

// Trace is the forward state of one sequence, kept for backpropagation.
// All slices are indexed by step first.
type Trace struct {
	Len   int
	Wins  map[string][][]float32 `desc:"window frames per modality, flattened frames x dim"`
	Emb   map[string][][]float32 `desc:"pooled window embedding per modality"`
	Arg   map[string][][]int     `desc:"frame giving the max of each embedding unit, -1 if the unit is inactive"`
	Gates [][]float32            `desc:"gate activations, 4 rows of hidden size: input, forget, cell, output"`
	Cell  [][]float32
	Hid   [][]float32
	Out   []float32
}

func sigmoid(x float32) float32 {
	return 1 / (1 + mat32.Exp(-x))
}

// rcvPrjn returns the projection from send into recv.
func rcvPrjn(recv, send *Layer) *Prjn {
	for _, pji := range recv.RcvPrjns {
		pj := pji.(*Prjn)
		if pj.Send == send {
			return pj
		}
	}
	return nil
}

// embed computes the ReLU embedding of each frame of a window and max-pools
// it over the frames.  Zero padded frames are pooled too and embed to
// ReLU(bias).
func (nt *Network) embed(mod string, win []float32) ([]float32, []int) {
	emb := nt.Embeds[mod]
	pj := rcvPrjn(emb, nt.Inputs[mod])
	bias := emb.States["Bias"].Values
	dim := nt.Dims[mod]
	nf := len(win) / dim
	out := make([]float32, nt.EmbedSize)
	arg := make([]int, nt.EmbedSize)
	for j := range arg {
		arg[j] = -1
	}
	z := make([]float32, nt.EmbedSize)
	for f := 0; f < nf; f++ {
		copy(z, bias)
		pj.SendNet(win[f*dim:(f+1)*dim], z)
		for j, v := range z {
			if v > out[j] {
				out[j] = v
				arg[j] = f
			}
		}
	}
	return out, arg
}

// Forward runs sequence b of the batch through the network.  Only the
// Lens[b] valid steps are computed.
func (nt *Network) Forward(bt *data.Batch, b int) *Trace {
	n := bt.Lens[b]
	nh := nt.HiddenSize
	tr := &Trace{
		Len:   n,
		Wins:  make(map[string][][]float32, len(nt.Mods)),
		Emb:   make(map[string][][]float32, len(nt.Mods)),
		Arg:   make(map[string][][]int, len(nt.Mods)),
		Gates: make([][]float32, n),
		Cell:  make([][]float32, n),
		Hid:   make([][]float32, n),
		Out:   make([]float32, n),
	}
	for _, mod := range nt.Mods {
		tr.Wins[mod] = make([][]float32, n)
		tr.Emb[mod] = make([][]float32, n)
		tr.Arg[mod] = make([][]int, n)
	}
	gbias := nt.Gates.States["Bias"].Values
	recur := rcvPrjn(nt.Gates, nt.Hidden)
	outPj := rcvPrjn(nt.Output, nt.Hidden)
	obias := nt.Output.States["Bias"].Values[0]

	hprev := make([]float32, nh)
	cprev := make([]float32, nh)
	for t := 0; t < n; t++ {
		net := make([]float32, GateN*nh)
		copy(net, gbias)
		for _, mod := range nt.Mods {
			win := bt.Window(mod, b, t)
			emb, arg := nt.embed(mod, win)
			tr.Wins[mod][t] = win
			tr.Emb[mod][t] = emb
			tr.Arg[mod][t] = arg
			rcvPrjn(nt.Gates, nt.Embeds[mod]).SendNet(emb, net)
		}
		recur.SendNet(hprev, net)

		c := make([]float32, nh)
		h := make([]float32, nh)
		for j := 0; j < nh; j++ {
			ig := sigmoid(net[GateIn*nh+j])
			fg := sigmoid(net[GateForget*nh+j])
			gg := mat32.Tanh(net[GateCell*nh+j])
			og := sigmoid(net[GateOut*nh+j])
			net[GateIn*nh+j] = ig
			net[GateForget*nh+j] = fg
			net[GateCell*nh+j] = gg
			net[GateOut*nh+j] = og
			c[j] = fg*cprev[j] + ig*gg
			h[j] = og * mat32.Tanh(c[j])
		}
		tr.Gates[t] = net
		tr.Cell[t] = c
		tr.Hid[t] = h

		out := []float32{obias}
		outPj.SendNet(h, out)
		tr.Out[t] = out[0]
		hprev = h
		cprev = c
	}
	return tr
}

// Backward backpropagates dOut, the loss gradient of each step's output,
// through time, adding the parameter gradients into g.
func (nt *Network) Backward(tr *Trace, dOut []float32, g Grads) {
	nh := nt.HiddenSize
	recur := rcvPrjn(nt.Gates, nt.Hidden)
	outPj := rcvPrjn(nt.Output, nt.Hidden)
	zeros := make([]float32, nh)

	dhNext := make([]float32, nh)
	dc := make([]float32, nh)
	for t := tr.Len - 1; t >= 0; t-- {
		dh := dhNext
		do := dOut[t]
		g[nt.Output.BiasIdx][0] += do
		outPj.BackNet([]float32{do}, tr.Hid[t], dh, g[outPj.WtIdx])

		hprev, cprev := zeros, zeros
		if t > 0 {
			hprev = tr.Hid[t-1]
			cprev = tr.Cell[t-1]
		}
		gates := tr.Gates[t]
		c := tr.Cell[t]
		dnet := make([]float32, GateN*nh)
		for j := 0; j < nh; j++ {
			ig := gates[GateIn*nh+j]
			fg := gates[GateForget*nh+j]
			gg := gates[GateCell*nh+j]
			og := gates[GateOut*nh+j]
			tc := mat32.Tanh(c[j])
			dcj := dc[j] + dh[j]*og*(1-tc*tc)
			dnet[GateIn*nh+j] = dcj * gg * ig * (1 - ig)
			dnet[GateForget*nh+j] = dcj * cprev[j] * fg * (1 - fg)
			dnet[GateCell*nh+j] = dcj * ig * (1 - gg*gg)
			dnet[GateOut*nh+j] = dh[j] * tc * og * (1 - og)
			dc[j] = dcj * fg
		}
		gb := g[nt.Gates.BiasIdx]
		for i, d := range dnet {
			gb[i] += d
		}
		dhNext = make([]float32, nh)
		recur.BackNet(dnet, hprev, dhNext, g[recur.WtIdx])

		for _, mod := range nt.Mods {
			demb := make([]float32, nt.EmbedSize)
			epj := rcvPrjn(nt.Gates, nt.Embeds[mod])
			epj.BackNet(dnet, tr.Emb[mod][t], demb, g[epj.WtIdx])
			nt.embedBack(mod, tr.Wins[mod][t], tr.Arg[mod][t], demb, g)
		}
	}
}

// embedBack routes the embedding gradient to the frame that won the max
// pooling of each unit.
func (nt *Network) embedBack(mod string, win []float32, arg []int, demb []float32, g Grads) {
	emb := nt.Embeds[mod]
	pj := rcvPrjn(emb, nt.Inputs[mod])
	dim := nt.Dims[mod]
	gb := g[emb.BiasIdx]
	dz := make([]float32, nt.EmbedSize)
	done := make(map[int]bool)
	for _, f := range arg {
		if f < 0 || done[f] {
			continue
		}
		done[f] = true
		for j := range dz {
			dz[j] = 0
			if arg[j] == f {
				dz[j] = demb[j]
				gb[j] += demb[j]
			}
		}
		pj.BackNet(dz, win[f*dim:(f+1)*dim], nil, g[pj.WtIdx])
	}
}

// SeqLoss returns the summed squared error of a trace against its targets,
// and the gradient of the loss times scale.
func SeqLoss(tr *Trace, targ []float32, scale float32) (float64, []float32) {
	loss := 0.0
	dOut := make([]float32, tr.Len)
	for t := 0; t < tr.Len; t++ {
		d := tr.Out[t] - targ[t]
		loss += float64(d) * float64(d)
		dOut[t] = 2 * d * scale
	}
	return loss, dOut
}

// BatchStep runs forward and backward on every sequence of the batch,
// using up to Threads goroutines, and adds the gradients, scaled by scale,
// into the Grad of each Param.  Sequence gradients are reduced in batch
// order, so the result does not depend on scheduling.  Returns the summed
// squared error over all valid steps.
func (nt *Network) BatchStep(bt *data.Batch, scale float32) float64 {
	nb := bt.Size()
	grads := make([]Grads, nb)
	losses := make([]float64, nb)
	nthr := nt.Threads
	if nthr <= 0 {
		nthr = 1
	}
	sem := make(chan struct{}, nthr)
	var wg sync.WaitGroup
	for b := 0; b < nb; b++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(b int) {
			defer wg.Done()
			defer func() { <-sem }()
			tr := nt.Forward(bt, b)
			loss, dOut := SeqLoss(tr, bt.Targets(b), scale)
			g := nt.NewGrads()
			nt.Backward(tr, dOut, g)
			grads[b] = g
			losses[b] = loss
		}(b)
	}
	wg.Wait()

	sum := 0.0
	for b := 0; b < nb; b++ {
		sum += losses[b]
		for pi, p := range nt.Params {
			gv := p.Grad.Values
			for i, v := range grads[b][pi] {
				gv[i] += v
			}
		}
	}
	return sum
}

// Predict returns the outputs for sequence b of the batch, and records the
// activations of its last step in the layer states.
func (nt *Network) Predict(bt *data.Batch, b int) []float32 {
	tr := nt.Forward(bt, b)
	if tr.Len > 0 {
		nt.record(tr, tr.Len-1)
	}
	return tr.Out
}

func (nt *Network) record(tr *Trace, t int) {
	for _, mod := range nt.Mods {
		inp := nt.Inputs[mod].States["Act"].Values
		win := tr.Wins[mod][t]
		if len(win) >= len(inp) {
			copy(inp, win[len(win)-len(inp):])
		}
		copy(nt.Embeds[mod].States["Act"].Values, tr.Emb[mod][t])
	}
	copy(nt.Gates.States["Act"].Values, tr.Gates[t])
	copy(nt.Hidden.States["Act"].Values, tr.Hid[t])
	copy(nt.Hidden.States["Cell"].Values, tr.Cell[t])
	nt.Output.States["Act"].Values[0] = tr.Out[t]
}

// InitWts initializes all weights and biases from rnd.
func (nt *Network) InitWts(rnd Rand) {
	for _, lyi := range nt.Layers {
		ly := lyi.(*Layer)
		for _, pji := range ly.RcvPrjns {
			pji.(*Prjn).InitWts(rnd)
		}
		ly.InitBias(rnd)
	}
	for _, lyi := range nt.Layers {
		lyi.(*Layer).States["Act"].SetZeros()
	}
	nt.Hidden.States["Cell"].SetZeros()
}

// ZeroGrad sets all parameter gradients to zero.
func (nt *Network) ZeroGrad() {
	for _, p := range nt.Params {
		p.Grad.SetZeros()
	}
}
