// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vnet

import (
	"math"
)

// Adam implements the Adam optimizer with bias correction over the
// network Params.  Weight decay is L2: it is added to the gradient
// before the moments are updated.
//
//	g = grad + decay·w
//	m = β1·m + (1-β1)·g
//	v = β2·v + (1-β2)·g²
//	w = w - lr · (m / (1-β1^t)) / (√(v / (1-β2^t)) + ε)
type Adam struct {
	LRate float64 `def:"0.0001" desc:"learning rate"`
	Beta1 float64 `def:"0.9" desc:"decay of the first moment"`
	Beta2 float64 `def:"0.999" desc:"decay of the second moment"`
	Eps   float64 `def:"1e-08" desc:"added to the root of the second moment"`
	Decay float64 `def:"0.0001" desc:"L2 weight decay"`

	Params []*Param
	M, V   [][]float64
	NStep  int
}

// NewAdam returns an Adam optimizer for the network parameters, with
// default moments and epsilon.  Build must have been called on the network.
func NewAdam(nt *Network, lr, decay float64) *Adam {
	ad := &Adam{LRate: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, Decay: decay, Params: nt.Params}
	ad.M = make([][]float64, len(ad.Params))
	ad.V = make([][]float64, len(ad.Params))
	for i, p := range ad.Params {
		ad.M[i] = make([]float64, p.Val.Len())
		ad.V[i] = make([]float64, p.Val.Len())
	}
	return ad
}

// Step applies one update from the current gradients.
func (ad *Adam) Step() {
	ad.NStep++
	bc1 := 1 - math.Pow(ad.Beta1, float64(ad.NStep))
	bc2 := 1 - math.Pow(ad.Beta2, float64(ad.NStep))
	for pi, p := range ad.Params {
		m := ad.M[pi]
		v := ad.V[pi]
		wv := p.Val.Values
		for i, gr := range p.Grad.Values {
			w := float64(wv[i])
			g := float64(gr) + ad.Decay*w
			m[i] = ad.Beta1*m[i] + (1-ad.Beta1)*g
			v[i] = ad.Beta2*v[i] + (1-ad.Beta2)*g*g
			mh := m[i] / bc1
			vh := v[i] / bc2
			wv[i] = float32(w - ad.LRate*mh/(math.Sqrt(vh)+ad.Eps))
		}
	}
}

// ZeroGrad sets the gradients of all parameters to zero.
func (ad *Adam) ZeroGrad() {
	for _, p := range ad.Params {
		p.Grad.SetZeros()
	}
}
