// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package train

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emer/etable/etable"
	"github.com/emer/etable/etensor"
	"github.com/emer/valence/data"
	"github.com/emer/valence/score"
	"github.com/goki/gi/gi"
)

// EpochLog is a table with one row per epoch, streamed as tab separated
// rows to a file when one is open.
type EpochLog struct {
	Table *etable.Table
	Cols  []string
	File  *os.File
	hdrs  bool
}

// NewEpochLog returns a log with an Epoch column followed by the given
// float columns.
func NewEpochLog(name string, cols ...string) *EpochLog {
	dt := &etable.Table{}
	dt.SetMetaData("name", name)
	sch := etable.Schema{
		{Name: "Epoch", Type: etensor.INT64},
	}
	for _, c := range cols {
		sch = append(sch, etable.Column{Name: c, Type: etensor.FLOAT64})
	}
	dt.SetFromSchema(sch, 0)
	return &EpochLog{Table: dt, Cols: cols}
}

// Open creates the file the rows are written to.
func (el *EpochLog) Open(fn string) error {
	fp, err := os.Create(fn)
	if err != nil {
		return err
	}
	el.File = fp
	el.hdrs = false
	return nil
}

// Add appends a row for the epoch, with vals in column order.
func (el *EpochLog) Add(epoch int, vals ...float64) {
	dt := el.Table
	row := dt.Rows
	dt.SetNumRows(row + 1)
	dt.SetCellFloat("Epoch", row, float64(epoch))
	for i, c := range el.Cols {
		if i < len(vals) {
			dt.SetCellFloat(c, row, vals[i])
		}
	}
	if el.File != nil {
		if !el.hdrs {
			dt.WriteCSVHeaders(el.File, etable.Tab)
			el.hdrs = true
		}
		dt.WriteCSVRow(el.File, row, etable.Tab)
	}
}

// Close closes the file, if open.
func (el *EpochLog) Close() error {
	if el.File == nil {
		return nil
	}
	err := el.File.Close()
	el.File = nil
	return err
}

// PredFileName returns the prediction file name of a sequence.
func PredFileName(id data.SeqID) string {
	return fmt.Sprintf("target_%s_normal.csv", id)
}

// SavePreds writes one CSV file with a rating column per sequence into dir.
func SavePreds(dir string, ids []data.SeqID, preds [][]float32) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for i, id := range ids {
		dt := &etable.Table{}
		dt.SetFromSchema(etable.Schema{
			{Name: "rating", Type: etensor.FLOAT64},
		}, len(preds[i]))
		for r, v := range preds[i] {
			dt.SetCellFloat("rating", r, float64(v))
		}
		if err := dt.SaveCSV(gi.FileName(filepath.Join(dir, PredFileName(id))), etable.Comma, etable.Headers); err != nil {
			return fmt.Errorf("train: saving predictions of %v: %w", id, err)
		}
	}
	return nil
}

// AppendParamHist appends the settings and final statistics of a run to
// the tab separated file fn, writing the header only when the file is new.
func AppendParamHist(fn, model string, cfg *Config, trn, tst score.Summary) error {
	_, serr := os.Stat(fn)
	isNew := os.IsNotExist(serr)

	dt := &etable.Table{}
	dt.SetMetaData("name", "ParamHist")
	dt.SetFromSchema(etable.Schema{
		{Name: "model", Type: etensor.STRING},
		{Name: "test_ccc", Type: etensor.FLOAT64},
		{Name: "test_ccc_std", Type: etensor.FLOAT64},
		{Name: "train_ccc", Type: etensor.FLOAT64},
		{Name: "train_ccc_std", Type: etensor.FLOAT64},
		{Name: "modalities", Type: etensor.STRING},
		{Name: "batch_size", Type: etensor.INT64},
		{Name: "split", Type: etensor.INT64},
		{Name: "epochs", Type: etensor.INT64},
		{Name: "lr", Type: etensor.FLOAT64},
		{Name: "sup_ratio", Type: etensor.FLOAT64},
		{Name: "base_rate", Type: etensor.FLOAT64},
		{Name: "embed_dim", Type: etensor.INT64},
		{Name: "h_dim", Type: etensor.INT64},
	}, 1)
	dt.SetCellString("model", 0, model)
	dt.SetCellFloat("test_ccc", 0, tst.CCC)
	dt.SetCellFloat("test_ccc_std", 0, tst.CCCStd)
	dt.SetCellFloat("train_ccc", 0, trn.CCC)
	dt.SetCellFloat("train_ccc_std", 0, trn.CCCStd)
	dt.SetCellString("modalities", 0, strings.Join(cfg.Modalities, ","))
	dt.SetCellFloat("batch_size", 0, float64(cfg.BatchSize))
	dt.SetCellFloat("split", 0, float64(cfg.Split))
	dt.SetCellFloat("epochs", 0, float64(cfg.Epochs))
	dt.SetCellFloat("lr", 0, cfg.LRate)
	dt.SetCellFloat("sup_ratio", 0, cfg.SupRatio)
	dt.SetCellFloat("base_rate", 0, cfg.BaseRate)
	dt.SetCellFloat("embed_dim", 0, float64(cfg.EmbedSize))
	dt.SetCellFloat("h_dim", 0, float64(cfg.HiddenSize))

	fp, err := os.OpenFile(fn, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if isNew {
		dt.WriteCSVHeaders(fp, etable.Tab)
	}
	dt.WriteCSVRow(fp, 0, etable.Tab)
	return fp.Close()
}
