// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vnet

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/emer/emergent/emer"
	"github.com/emer/emergent/params"
	"github.com/emer/emergent/prjn"
	"github.com/emer/emergent/relpos"
	"github.com/emer/emergent/weights"
	"github.com/goki/gi/gi"
	"github.com/goki/mat32"
)

// ErrModalityMismatch is returned when weights saved for one set of
// modalities are loaded into a network configured for another.
var ErrModalityMismatch = errors.New("vnet: checkpoint modalities do not match network")

// ErrShapeMismatch is returned when saved weights have other feature
// dimensions or layer sizes than the network.
var ErrShapeMismatch = errors.New("vnet: checkpoint shape does not match network")

// vnet.Network holds the layers of the valence network: one Input and
// Embed layer per modality, the LSTM Gates and Hidden layers, and the
// Output layer.
type Network struct {
	EmerNet         emer.Network          `copy:"-" json:"-" xml:"-" view:"-" desc:"we need a pointer to ourselves as an emer.Network, which can always be used to extract the true underlying type of object when network is embedded in other structs -- function receivers do not have this ability so this is necessary."`
	Nm              string                `desc:"overall name of network -- helps discriminate if there are multiple"`
	Layers          emer.Layers           `desc:"list of layers"`
	LayMap          map[string]emer.Layer `view:"-" desc:"map of name to layers -- layer names must be unique"`
	MinPos          mat32.Vec3            `view:"-" desc:"minimum display position in network"`
	MaxPos          mat32.Vec3            `view:"-" desc:"maximum display position in network"`
	MetaData        map[string]string     `desc:"optional metadata that is saved in network weights files -- records the modalities and sizes the network was configured with, and the epoch at which weights were saved"`
	LayVarNamesMap  map[string]int        `view:"-" desc:"map of variable names accumulated across layers, with index into the LayVarNames list"`
	LayVarNames     []string              `view:"-" desc:"list of variable names accumulated across layers, alpha order"`
	PrjnVarNamesMap map[string]int        `view:"-" desc:"map of variable names accumulated across prjns, with index into the LayVarNames list"`
	PrjnVarNames    []string              `view:"-" desc:"list of variable names accumulated across prjns, alpha order"`

	Mods       []string          `desc:"input modalities, in order"`
	Dims       map[string]int    `desc:"feature dimension of each modality"`
	EmbedSize  int               `desc:"size of the per-modality window embedding"`
	HiddenSize int               `desc:"number of LSTM hidden units"`
	Threads    int               `desc:"number of goroutines used to process the sequences of a batch -- 0 = number of CPUs"`
	Inputs     map[string]*Layer `view:"-" desc:"input layer of each modality"`
	Embeds     map[string]*Layer `view:"-" desc:"embedding layer of each modality"`
	Gates      *Layer            `view:"-" desc:"LSTM gate layer, 4 rows: input, forget, cell, output"`
	Hidden     *Layer            `view:"-" desc:"LSTM hidden state layer"`
	Output     *Layer            `view:"-" desc:"rating output layer"`
	Params     []*Param          `view:"-" desc:"all learned parameters, in a fixed order"`
}

// InitName MUST be called to initialize the network's pointer to itself as an emer.Network
// which enables the proper interface methods to be called.  Also sets the name.
func (nt *Network) InitName(net emer.Network, name string) {
	nt.EmerNet = net
	nt.Nm = name
}

// emer.Network interface methods:
func (nt *Network) Name() string                  { return nt.Nm }
func (nt *Network) Label() string                 { return nt.Nm }
func (nt *Network) NLayers() int                  { return len(nt.Layers) }
func (nt *Network) Layer(idx int) emer.Layer      { return nt.Layers[idx] }
func (nt *Network) Bounds() (min, max mat32.Vec3) { min = nt.MinPos; max = nt.MaxPos; return }

// LayerByName returns a layer by looking it up by name in the layer map (nil if not found).
// Will create the layer map if it is nil or a different size than layers slice,
// but otherwise needs to be updated manually.
func (nt *Network) LayerByName(name string) emer.Layer {
	if nt.LayMap == nil || len(nt.LayMap) != len(nt.Layers) {
		nt.MakeLayMap()
	}
	ly := nt.LayMap[name]
	return ly
}

// LayerByNameTry returns a layer by looking it up by name -- emits a log error message
// if layer is not found
func (nt *Network) LayerByNameTry(name string) (emer.Layer, error) {
	ly := nt.LayerByName(name)
	if ly == nil {
		err := fmt.Errorf("Layer named: %v not found in Network: %v\n", name, nt.Nm)
		log.Println(err)
		return ly, err
	}
	return ly, nil
}

// MakeLayMap updates layer map based on current layers
func (nt *Network) MakeLayMap() {
	nt.LayMap = make(map[string]emer.Layer, len(nt.Layers))
	for _, ly := range nt.Layers {
		nt.LayMap[ly.Name()] = ly
	}
}

// Layout computes the 3D layout of layers based on their relative position settings
func (nt *Network) Layout() {
	for itr := 0; itr < 5; itr++ {
		var lstly emer.Layer
		for _, ly := range nt.Layers {
			rp := ly.RelPos()
			var oly emer.Layer
			if lstly != nil && rp.Rel == relpos.NoRel {
				oly = lstly
				ly.SetRelPos(relpos.Rel{Rel: relpos.Above, Other: lstly.Name(), XAlign: relpos.Middle, YAlign: relpos.Front})
			} else {
				if rp.Other != "" {
					var err error
					oly, err = nt.LayerByNameTry(rp.Other)
					if err != nil {
						log.Println(err)
						continue
					}
				} else if lstly != nil {
					oly = lstly
					ly.SetRelPos(relpos.Rel{Rel: relpos.Above, Other: lstly.Name(), XAlign: relpos.Middle, YAlign: relpos.Front})
				}
			}
			if oly != nil {
				ly.SetPos(rp.Pos(oly.Pos(), oly.Size(), ly.Size()))
			}
			lstly = ly
		}
	}
	nt.BoundsUpdt()
}

// BoundsUpdt updates the Min / Max display bounds for 3D display
func (nt *Network) BoundsUpdt() {
	mn := mat32.NewVec3Scalar(mat32.Infinity)
	mx := mat32.Vec3Zero
	for _, ly := range nt.Layers {
		ps := ly.Pos()
		sz := ly.Size()
		ru := ps
		ru.X += sz.X
		ru.Y += sz.Y
		mn.SetMin(ps)
		mx.SetMax(ru)
	}
	nt.MinPos = mn
	nt.MaxPos = mx
}

// ApplyParams applies given parameter style Sheet to layers and prjns in this network.
// Calls UpdateParams to ensure derived parameters are all updated.
// If setMsg is true, then a message is printed to confirm each parameter that is set.
// it always prints a message if a parameter fails to be set.
// returns true if any params were set, and error if there were any errors.
func (nt *Network) ApplyParams(pars *params.Sheet, setMsg bool) (bool, error) {
	applied := false
	var rerr error
	for _, ly := range nt.Layers {
		app, err := ly.ApplyParams(pars, setMsg)
		if app {
			applied = true
		}
		if err != nil {
			rerr = err
		}
	}
	return applied, rerr
}

// SetParams applies the "Network" sheet of the named parameter set.
func (nt *Network) SetParams(sets params.Sets, setName string, setMsg bool) error {
	pset, err := sets.SetByNameTry(setName)
	if err != nil {
		return err
	}
	sheet, ok := pset.Sheets["Network"]
	if !ok {
		return fmt.Errorf("vnet: param set %q has no Network sheet", setName)
	}
	_, err = nt.ApplyParams(sheet, setMsg)
	return err
}

// NonDefaultParams returns a listing of all parameters in the Network that
// are not at their default values -- useful for setting param styles etc.
func (nt *Network) NonDefaultParams() string {
	nds := ""
	for _, ly := range nt.Layers {
		nd := ly.NonDefaultParams()
		nds += nd
	}
	return nds
}

// AllParams returns a listing of all parameters in the Network.
func (nt *Network) AllParams() string {
	nds := ""
	for _, ly := range nt.Layers {
		nd := ly.AllParams()
		nds += nd
	}
	return nds
}

// AddLayerInit is implementation routine that takes a given layer and
// adds it to the network, and initializes and configures it properly.
func (nt *Network) AddLayerInit(ly emer.Layer, name string, shape []int, typ emer.LayerType) {
	if nt.EmerNet == nil {
		log.Printf("Network EmerNet is nil -- you MUST call InitName on network, passing a pointer to the network to initialize properly!")
		return
	}
	ly.InitName(ly, name, nt.EmerNet)
	ly.Config(shape, typ)
	nt.Layers = append(nt.Layers, ly)
	nt.MakeLayMap()
}

// AddLayer adds a new layer with given name and shape to the network.
// shape is in row-major format with outer-most dimensions first.
func (nt *Network) AddLayer(name string, shape []int, typ emer.LayerType) emer.Layer {
	ly := nt.EmerNet.NewLayer() // essential to use EmerNet interface here!
	nt.AddLayerInit(ly, name, shape, typ)
	return ly
}

// AddLayer2D adds a new layer with given name and 2D shape to the network.
func (nt *Network) AddLayer2D(name string, shapeY, shapeX int, typ emer.LayerType) emer.Layer {
	return nt.AddLayer(name, []int{shapeY, shapeX}, typ)
}

// addRoleLayer adds a 2D layer playing the given role, optionally for a modality.
func (nt *Network) addRoleLayer(name string, shapeY, shapeX int, typ emer.LayerType, role Role, mod string) *Layer {
	ly := nt.AddLayer2D(name, shapeY, shapeX, typ).(*Layer)
	ly.SetRole(role)
	ly.Mod = mod
	return ly
}

// ConnectLayerNames establishes a projection between two layers, referenced by name
// adding to the recv and send projection lists on each side of the connection.
// Returns error if not successful.
// Does not yet actually connect the units within the layers -- that requires Build.
func (nt *Network) ConnectLayerNames(send, recv string, pat prjn.Pattern, typ emer.PrjnType) (rlay, slay emer.Layer, pj emer.Prjn, err error) {
	rlay, err = nt.LayerByNameTry(recv)
	if err != nil {
		return
	}
	slay, err = nt.LayerByNameTry(send)
	if err != nil {
		return
	}
	pj = nt.ConnectLayers(slay, rlay, pat, typ)
	return
}

// ConnectLayers establishes a projection between two layers,
// adding to the recv and send projection lists on each side of the connection.
// Does not yet actually connect the units within the layers -- that
// requires Build.
func (nt *Network) ConnectLayers(send, recv emer.Layer, pat prjn.Pattern, typ emer.PrjnType) emer.Prjn {
	pj := nt.EmerNet.NewPrjn() // essential to use EmerNet interface here!
	return nt.ConnectLayersPrjn(send, recv, pat, typ, pj)
}

// ConnectLayersPrjn makes connection using given projection between two layers,
// adding given prjn to the recv and send projection lists on each side of the connection.
// Does not yet actually connect the units within the layers -- that
// requires Build.
func (nt *Network) ConnectLayersPrjn(send, recv emer.Layer, pat prjn.Pattern, typ emer.PrjnType, pj emer.Prjn) emer.Prjn {
	pj.Init(pj)
	pj.Connect(send, recv, pat, typ)
	recv.RecvPrjns().Add(pj)
	send.SendPrjns().Add(pj)
	return pj
}

// ConfigNet configures the standard valence network for the given
// modalities: per modality an Input layer of one frame and an Embed layer,
// all Embed layers projecting into the LSTM Gates, which also receive the
// previous Hidden state, and a single-unit Output read from Hidden.
// Build must be called afterwards.
func (nt *Network) ConfigNet(mods []string, dims map[string]int, embed, hidden int) error {
	if nt.EmerNet == nil {
		nt.InitName(nt, "Valence")
	}
	if len(mods) == 0 {
		return errors.New("vnet: no modalities")
	}
	nt.Mods = append([]string(nil), mods...)
	nt.Dims = make(map[string]int, len(mods))
	nt.EmbedSize = embed
	nt.HiddenSize = hidden
	nt.Inputs = make(map[string]*Layer, len(mods))
	nt.Embeds = make(map[string]*Layer, len(mods))

	for mi, mod := range mods {
		dim := dims[mod]
		if dim <= 0 {
			return fmt.Errorf("vnet: no feature dimension for modality %q", mod)
		}
		nt.Dims[mod] = dim
		inp := nt.addRoleLayer(mod+"Input", 1, dim, emer.Input, InputRole, mod)
		emb := nt.addRoleLayer(mod+"Embed", 1, embed, emer.Hidden, EmbedRole, mod)
		if mi > 0 {
			inp.SetRelPos(relpos.Rel{Rel: relpos.RightOf, Other: mods[mi-1] + "Input", YAlign: relpos.Front, Space: 2})
		}
		emb.SetRelPos(relpos.Rel{Rel: relpos.Above, Other: inp.Name(), XAlign: relpos.Left, YAlign: relpos.Front})
		nt.Inputs[mod] = inp
		nt.Embeds[mod] = emb
	}
	nt.Gates = nt.addRoleLayer("Gates", 4, hidden, emer.Hidden, GatesRole, "")
	nt.Hidden = nt.addRoleLayer("Hidden", 1, hidden, emer.Hidden, HiddenRole, "")
	nt.Output = nt.addRoleLayer("Output", 1, 1, emer.Target, OutputRole, "")
	nt.Gates.SetRelPos(relpos.Rel{Rel: relpos.Above, Other: mods[0] + "Embed", XAlign: relpos.Left, YAlign: relpos.Front})
	nt.Hidden.SetRelPos(relpos.Rel{Rel: relpos.Above, Other: "Gates", XAlign: relpos.Left, YAlign: relpos.Front})
	nt.Output.SetRelPos(relpos.Rel{Rel: relpos.Above, Other: "Hidden", XAlign: relpos.Left, YAlign: relpos.Front})

	full := prjn.NewFull()
	for _, mod := range mods {
		nt.ConnectLayers(nt.Inputs[mod], nt.Embeds[mod], full, emer.Forward)
		nt.ConnectLayers(nt.Embeds[mod], nt.Gates, full, emer.Forward)
	}
	nt.ConnectLayers(nt.Hidden, nt.Gates, full, emer.Back)
	nt.ConnectLayers(nt.Hidden, nt.Output, full, emer.Forward)

	nt.MetaData = map[string]string{
		"Modalities": strings.Join(nt.Mods, ","),
		"Dims":       nt.dimsString(),
		"EmbedSize":  strconv.Itoa(embed),
		"HiddenSize": strconv.Itoa(hidden),
	}
	return nil
}

func (nt *Network) dimsString() string {
	ds := make([]string, len(nt.Mods))
	for i, mod := range nt.Mods {
		ds[i] = fmt.Sprintf("%s:%d", mod, nt.Dims[mod])
	}
	return strings.Join(ds, ",")
}

// Build constructs the layer and projection state based on the layer shapes
// and patterns of interconnectivity, and collects the learned parameters.
func (nt *Network) Build() error {
	emsg := ""
	for li, ly := range nt.Layers {
		ly.SetIndex(li)
		if ly.IsOff() {
			continue
		}
		err := ly.Build()
		if err != nil {
			emsg += err.Error() + "\n"
		}
	}
	nt.Layout()
	nt.BuildVarNames()
	if emsg != "" {
		return errors.New(emsg)
	}
	nt.BuildParams()
	if nt.Threads <= 0 {
		nt.Threads = runtime.NumCPU()
	}
	return nil
}

// BuildParams collects the learned weights and biases of the network into
// Params, recording each one's index on its owner.
func (nt *Network) BuildParams() {
	nt.Params = nil
	for _, lyi := range nt.Layers {
		ly := lyi.(*Layer)
		ly.BiasIdx = -1
		if ly.HasBias() {
			ly.BiasIdx = len(nt.Params)
			nt.Params = append(nt.Params, &Param{Name: ly.Nm + ".Bias", Val: ly.States["Bias"], Grad: ly.States["DBias"]})
		}
		for _, pji := range ly.RcvPrjns {
			pj := pji.(*Prjn)
			pj.WtIdx = len(nt.Params)
			nt.Params = append(nt.Params, &Param{Name: pj.Name() + ".Wt", Val: pj.States["Wt"], Grad: pj.States["DWt"]})
		}
	}
}

// NParams returns the total number of learned values.
func (nt *Network) NParams() int {
	n := 0
	for _, p := range nt.Params {
		n += p.Val.Len()
	}
	return n
}

// VarRange returns the min / max values for given variable
func (nt *Network) VarRange(varNm string) (min, max float32, err error) {
	first := true
	for _, ly := range nt.Layers {
		lmin, lmax, lerr := ly.VarRange(varNm)
		if lerr != nil {
			continue
		}
		if first {
			min = lmin
			max = lmax
			first = false
			continue
		}
		if lmin < min {
			min = lmin
		}
		if lmax > max {
			max = lmax
		}
	}
	if first {
		err = fmt.Errorf("variable name not found: %s in Network: %s", varNm, nt.Nm)
	}
	return
}

// NewLayer returns new layer of proper type
func (nt *Network) NewLayer() emer.Layer {
	return &Layer{}
}

// NewPrjn returns new prjn of proper type
func (nt *Network) NewPrjn() emer.Prjn {
	return &Prjn{}
}

// Defaults sets all the default parameters for all layers and projections
func (nt *Network) Defaults() {
	for li, ly := range nt.Layers {
		ly.Defaults()
		ly.SetIndex(li)
		for _, pj := range *ly.RecvPrjns() {
			pj.Defaults()
		}
	}
}

// UpdateParams updates all the derived parameters if any have changed, for all layers
// and projections
func (nt *Network) UpdateParams() {
	for _, ly := range nt.Layers {
		ly.UpdateParams()
	}
}

// BuildVarNames makes the var names from states of network
func (nt *Network) BuildVarNames() {
	nt.LayVarNamesMap = make(map[string]int)
	nt.PrjnVarNamesMap = make(map[string]int)
	for _, lyi := range nt.Layers {
		ly := lyi.(*Layer)
		for nm := range ly.States {
			nt.LayVarNamesMap[nm] = 0
		}
		for _, pji := range ly.RcvPrjns {
			pj := pji.(*Prjn)
			for nm := range pj.States {
				nt.PrjnVarNamesMap[nm] = 0
			}
		}
	}
	nt.LayVarNames = sortedNames(nt.LayVarNamesMap)
	nt.PrjnVarNames = sortedNames(nt.PrjnVarNamesMap)
}

// sortedNames returns the keys of m in alpha order and sets each key's
// value to its index in that order.
func sortedNames(m map[string]int) []string {
	nms := make([]string, 0, len(m))
	for nm := range m {
		nms = append(nms, nm)
	}
	sort.Strings(nms)
	for i, nm := range nms {
		m[nm] = i
	}
	return nms
}

// UnitVarNames returns a list of variable names available on the units in this network.
// Not all layers need to support all variables, but must safely return 0's for
// unsupported ones.  The order of this list determines NetView variable display order.
// This is typically a global list so do not modify!
func (nt *Network) UnitVarNames() []string {
	return nt.LayVarNames
}

// UnitVarProps returns properties for variables
func (nt *Network) UnitVarProps() map[string]string {
	return nil
}

// SynVarNames returns the names of all the variables on the synapses in this network.
// Not all projections need to support all variables, but must safely return 0's for
// unsupported ones.  The order of this list determines NetView variable display order.
// This is typically a global list so do not modify!
func (nt *Network) SynVarNames() []string {
	return nt.PrjnVarNames
}

// SynVarProps returns properties for variables
func (nt *Network) SynVarProps() map[string]string {
	return nil
}

//////////////////////////////////////////////////////////////////////////////////////
//  Weights File

// WtsNet returns the learned state of the network as a weights.Network.
func (nt *Network) WtsNet() *weights.Network {
	nw := &weights.Network{Network: nt.Nm, MetaData: make(map[string]string, len(nt.MetaData))}
	for k, v := range nt.MetaData {
		nw.MetaData[k] = v
	}
	for _, lyi := range nt.Layers {
		ly := lyi.(*Layer)
		if ly.IsOff() {
			continue
		}
		nw.Layers = append(nw.Layers, *ly.WtsLayer())
	}
	return nw
}

// WriteWtsJSON writes network weights (and any other state that adapts with learning)
// to JSON-formatted output.
func (nt *Network) WriteWtsJSON(w io.Writer) error {
	b, err := json.MarshalIndent(nt.WtsNet(), "", "\t")
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadWtsJSON reads network weights (and any other state that adapts with learning)
// from JSON-formatted input.  Reads into a temporary weights.Network structure that
// is then passed to SetWts to actually set the weights.
func (nt *Network) ReadWtsJSON(r io.Reader) error {
	nw, err := weights.NetReadJSON(r)
	if err != nil {
		return err
	}
	return nt.SetWts(nw)
}

// SetWts sets the weights for this network from weights.Network decoded values.
// The modalities, feature dims and layer sizes recorded in the weights must
// match those of the network.  On any error the network is left unchanged.
func (nt *Network) SetWts(nw *weights.Network) error {
	if nt.MetaData != nil {
		if mods, has := nw.MetaData["Modalities"]; has && mods != nt.MetaData["Modalities"] {
			return fmt.Errorf("%w: saved %q, network %q", ErrModalityMismatch, mods, nt.MetaData["Modalities"])
		}
		for _, k := range []string{"Dims", "EmbedSize", "HiddenSize"} {
			if v, has := nw.MetaData[k]; has && v != nt.MetaData[k] {
				return fmt.Errorf("%w: %s saved %q, network %q", ErrShapeMismatch, k, v, nt.MetaData[k])
			}
		}
	}
	saved := make([][]float32, len(nt.Params))
	for i, p := range nt.Params {
		saved[i] = append([]float32(nil), p.Val.Values...)
	}
	var errs []string
	for li := range nw.Layers {
		lw := &nw.Layers[li]
		ly, err := nt.LayerByNameTry(lw.Layer)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if err := ly.SetWts(lw); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		for i, p := range nt.Params {
			copy(p.Val.Values, saved[i])
		}
		return errors.New(strings.Join(errs, "\n"))
	}
	if nt.MetaData == nil {
		nt.MetaData = make(map[string]string)
	}
	for k, v := range nw.MetaData {
		nt.MetaData[k] = v
	}
	return nil
}

// SaveWtsJSON saves network weights (and any other state that adapts with learning)
// to a JSON-formatted file.  If filename has .gz extension, then file is gzip compressed.
func (nt *Network) SaveWtsJSON(filename gi.FileName) error {
	fp, err := os.Create(string(filename))
	if err != nil {
		log.Println(err)
		return err
	}
	defer fp.Close()
	if filepath.Ext(string(filename)) == ".gz" {
		gzr := gzip.NewWriter(fp)
		if err := nt.WriteWtsJSON(gzr); err != nil {
			gzr.Close()
			return err
		}
		return gzr.Close()
	}
	return nt.WriteWtsJSON(fp)
}

// OpenWtsJSON opens network weights (and any other state that adapts with learning)
// from a JSON-formatted file.  If filename has .gz extension, then file is gzip uncompressed.
func (nt *Network) OpenWtsJSON(filename gi.FileName) error {
	fp, err := os.Open(string(filename))
	if err != nil {
		log.Println(err)
		return err
	}
	defer fp.Close()
	if filepath.Ext(string(filename)) == ".gz" {
		gzr, err := gzip.NewReader(fp)
		if err != nil {
			log.Println(err)
			return err
		}
		defer gzr.Close()
		return nt.ReadWtsJSON(gzr)
	}
	return nt.ReadWtsJSON(fp)
}
