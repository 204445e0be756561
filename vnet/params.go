// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vnet

import "github.com/emer/emergent/params"

// ParamSets are the named hyperparameter sets for the valence network.
// Base is always applied first, other sets are applied on top of it.
var ParamSets = params.Sets{
	{Name: "Base", Desc: "standard initialization", Sheets: params.Sheets{
		"Network": &params.Sheet{
			{Sel: "Prjn", Desc: "uniform fan-in scaled weights",
				Params: params.Params{
					"Prjn.WtInit.Scale": "1",
				}},
			{Sel: "Layer", Desc: "uniform fan-in scaled biases",
				Params: params.Params{
					"Layer.Init.BiasScale": "1",
				}},
			{Sel: "#Gates", Desc: "keep the cell state early in training",
				Params: params.Params{
					"Layer.Init.ForgetBias": "1",
				}},
		},
	}},
	{Name: "Small", Desc: "small initial weights, for short sequences and quick tests", Sheets: params.Sheets{
		"Network": &params.Sheet{
			{Sel: "Prjn", Desc: "half scale weights",
				Params: params.Params{
					"Prjn.WtInit.Scale": "0.5",
				}},
			{Sel: ".Back", Desc: "weak recurrence",
				Params: params.Params{
					"Prjn.WtInit.Scale": "0.25",
				}},
			{Sel: "#Gates", Desc: "no forget gate bias",
				Params: params.Params{
					"Layer.Init.ForgetBias": "0",
				}},
		},
	}},
}

// ApplyParamSet applies the Base set and then, if different, the named
// set to the network.
func (nt *Network) ApplyParamSet(setName string, setMsg bool) error {
	if err := nt.SetParams(ParamSets, "Base", setMsg); err != nil {
		return err
	}
	if setName == "" || setName == "Base" {
		return nil
	}
	return nt.SetParams(ParamSets, setName, setMsg)
}
