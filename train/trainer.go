// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package train

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/emer/valence/data"
	"github.com/emer/valence/hist"
	"github.com/emer/valence/score"
	"github.com/emer/valence/vnet"
	"github.com/goki/gi/gi"
)

// File names within the save directory.
const (
	BestWtsFile   = "best.wts.gz"
	LastWtsFile   = "last.wts.gz"
	TrnEpcFile    = "train_epc.tsv"
	TstEpcFile    = "test_epc.tsv"
	ParamHistFile = "param_hist.tsv"
	PredDir       = "pred"
)

// Trainer trains and evaluates a valence network.
type Trainer struct {
	Config  *Config
	Net     *vnet.Network
	Opt     *vnet.Adam
	Train   *data.Padded
	Test    *data.Padded
	Batcher *data.Batcher `desc:"shuffled training batches"`
	TrnLog  *EpochLog
	TstLog  *EpochLog
	Hist    *hist.DB
	RunID   int64

	BestCCC    float64 `desc:"best mean test CCC so far"`
	SingleBest float64 `desc:"best single sequence test CCC so far"`
}

// EvalResult holds the outcome of evaluating a dataset.
type EvalResult struct {
	Loss    float64 `desc:"squared error per time point"`
	Summary score.Summary
	Best    score.Best
	Preds   [][]float32 `desc:"predictions in dataset order"`
}

// NewTrainer configures, builds and initializes a network for the
// modalities and feature dimensions of trn.
func NewTrainer(cfg *Config, trn, tst *data.Padded) (*Trainer, error) {
	net := &vnet.Network{}
	net.InitName(net, "Valence")
	net.Threads = cfg.Threads
	if err := net.ConfigNet(trn.Modalities, trn.Dims, cfg.EmbedSize, cfg.HiddenSize); err != nil {
		return nil, err
	}
	if err := net.Build(); err != nil {
		return nil, err
	}
	net.Defaults()
	if err := net.ApplyParamSet(cfg.Params, false); err != nil {
		return nil, err
	}
	net.InitWts(rand.New(rand.NewSource(cfg.Seed)))

	tr := &Trainer{
		Config:     cfg,
		Net:        net,
		Opt:        vnet.NewAdam(net, cfg.LRate, cfg.WtDecay),
		Train:      trn,
		Test:       tst,
		Batcher:    data.NewBatcher(trn, rand.New(rand.NewSource(cfg.Seed+1))),
		TrnLog:     NewEpochLog("TrnEpcLog", "Loss"),
		TstLog:     NewEpochLog("TstEpcLog", "Loss", "Corr", "CorrStd", "CCC", "CCCStd", "MaxCCC"),
		BestCCC:    -1,
		SingleBest: -1,
	}
	return tr, nil
}

// TrainEpoch trains on all training sequences once, in shuffled batches,
// and returns the squared error per time point.
func (tr *Trainer) TrainEpoch(ctx context.Context, epoch int) (float64, error) {
	cfg := tr.Config
	chunks := tr.Batcher.Chunks(cfg.BatchSize, true)
	every := logEvery(len(chunks), cfg.LogFreq)
	loss := 0.0
	npts := 0
	for bi, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		bt := tr.Batcher.Batch(ch)
		n := bt.NPoints()
		tr.Opt.ZeroGrad()
		loss += tr.Net.BatchStep(bt, 1/float32(n))
		tr.Opt.Step()
		npts += n
		if cfg.LogFreq > 0 && bi%every == 0 {
			log.Printf("Batch: %5d\tLoss: %2.5f", bi, loss/float64(npts))
		}
	}
	tr.Opt.ZeroGrad()
	if npts > 0 {
		loss /= float64(npts)
	}
	log.Println("---")
	log.Printf("Epoch: %d\tLoss: %2.5f", epoch, loss)
	return loss, nil
}

// logEvery returns the batch interval that gives at most freq log lines
// for n batches.
func logEvery(n, freq int) int {
	if freq <= 0 || n <= freq {
		return 1
	}
	return (n + freq - 1) / freq
}

// Evaluate predicts every sequence of pd, one at a time in dataset order,
// and scores the predictions against the ratings.
func (tr *Trainer) Evaluate(ctx context.Context, pd *data.Padded) (*EvalResult, error) {
	res := &EvalResult{Preds: make([][]float32, pd.Len())}
	ac := score.NewAccum()
	npts := 0
	br := data.NewBatcher(pd, nil)
	err := br.ForEach(1, false, func(bt *data.Batch) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := tr.Net.Predict(bt, 0)
		targ := bt.Targets(0)
		for t, o := range out {
			d := float64(o - targ[t])
			res.Loss += d * d
		}
		npts += len(out)
		idx := bt.Idx[0]
		res.Preds[idx] = out
		ac.Add(idx, score.Float64s(out), score.Float64s(targ))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if npts > 0 {
		res.Loss /= float64(npts)
	}
	res.Summary = ac.Summary()
	res.Best = ac.Best
	log.Printf("Evaluation\tLoss: %2.5f\tCorr: %0.3f\tCCC: %0.9f", res.Loss, res.Summary.Corr, res.Summary.CCC)
	return res, nil
}

// SaveWts saves the network weights, recording the epoch in the metadata.
func (tr *Trainer) SaveWts(fn string, epoch int) error {
	tr.Net.MetaData["Epoch"] = strconv.Itoa(epoch)
	if err := tr.Net.SaveWtsJSON(gi.FileName(fn)); err != nil {
		return fmt.Errorf("train: saving weights: %w", err)
	}
	return nil
}

func (tr *Trainer) savePath(fn string) string {
	return filepath.Join(tr.Config.SaveDir, fn)
}

func (tr *Trainer) logBest(best score.Best) {
	log.Println("===single_max_predict===")
	log.Println(best.Output)
	log.Println(best.Target)
	if best.Index >= 0 && best.Index < len(tr.Test.IDs) {
		log.Println(best.Index, tr.Test.IDs[best.Index])
	}
	log.Println("===end single_max_predict===")
}

// Run loads weights if configured, then either evaluates them (Test mode)
// or trains for the configured epochs.  Training saves the weights with the
// best mean test CCC, and every SaveFreq epochs the current weights.  At
// the end the best weights are restored, test predictions are written and
// the run is appended to the parameter history.  Returns the best mean
// test CCC.
func (tr *Trainer) Run(ctx context.Context) (float64, error) {
	cfg := tr.Config
	if err := os.MkdirAll(cfg.SaveDir, 0755); err != nil {
		return 0, err
	}
	if cfg.Load != "" {
		if err := tr.Net.OpenWtsJSON(gi.FileName(cfg.Load)); err != nil {
			return 0, fmt.Errorf("train: loading %s: %w", cfg.Load, err)
		}
		log.Printf("Loaded weights from %s", cfg.Load)
	}
	if cfg.Test {
		res, err := tr.Evaluate(ctx, tr.Test)
		if err != nil {
			return 0, err
		}
		if err := SavePreds(tr.savePath(PredDir), tr.Test.IDs, res.Preds); err != nil {
			return 0, err
		}
		return res.Summary.CCC, nil
	}

	if err := tr.openLogs(); err != nil {
		return 0, err
	}
	defer tr.closeLogs()
	if cfg.History != "" {
		db, err := hist.Open(cfg.History)
		if err != nil {
			return 0, err
		}
		defer db.Close()
		tr.Hist = db
		tr.RunID, err = db.BeginRun(filepath.Base(cfg.SaveDir), cfg)
		if err != nil {
			return 0, err
		}
	}

	saved := false
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		loss, err := tr.TrainEpoch(ctx, epoch)
		if err != nil {
			return tr.stop(epoch-1, err)
		}
		tr.TrnLog.Add(epoch, loss)
		if epoch%cfg.EvalFreq == 0 {
			res, err := tr.Evaluate(ctx, tr.Test)
			if err != nil {
				return tr.stop(epoch, err)
			}
			sm := res.Summary
			if sm.CCC > tr.BestCCC {
				tr.BestCCC = sm.CCC
				if err := tr.SaveWts(tr.savePath(BestWtsFile), epoch); err != nil {
					return tr.BestCCC, err
				}
				saved = true
			}
			if sm.MaxCCC > tr.SingleBest {
				tr.SingleBest = sm.MaxCCC
				tr.logBest(res.Best)
			}
			log.Printf("CCC_STATS\tSINGLE_BEST: %0.9f\tBEST: %0.9f", tr.SingleBest, tr.BestCCC)
			tr.TstLog.Add(epoch, res.Loss, sm.Corr, sm.CorrStd, sm.CCC, sm.CCCStd, sm.MaxCCC)
			if tr.Hist != nil {
				err := tr.Hist.LogEpoch(tr.RunID, hist.Epoch{Epoch: epoch, TrainLoss: loss, TestLoss: res.Loss, CCC: sm.CCC, Corr: sm.Corr})
				if err != nil {
					log.Println(err)
				}
			}
		}
		if cfg.SaveFreq > 0 && epoch%cfg.SaveFreq == 0 {
			if err := tr.SaveWts(tr.savePath(LastWtsFile), epoch); err != nil {
				return tr.BestCCC, err
			}
		}
	}

	if saved {
		if err := tr.Net.OpenWtsJSON(gi.FileName(tr.savePath(BestWtsFile))); err != nil {
			return tr.BestCCC, err
		}
	}
	return tr.BestCCC, tr.finish(ctx)
}

// stop saves the current weights after an interruption and closes the run.
func (tr *Trainer) stop(epoch int, err error) (float64, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Printf("Stopped after epoch %d", epoch)
		if serr := tr.SaveWts(tr.savePath(LastWtsFile), epoch); serr != nil {
			log.Println(serr)
		}
	}
	if tr.Hist != nil {
		if herr := tr.Hist.EndRun(tr.RunID, tr.BestCCC); herr != nil {
			log.Println(herr)
		}
	}
	return tr.BestCCC, err
}

// finish writes the test predictions and the parameter history row for the
// current weights.
func (tr *Trainer) finish(ctx context.Context) error {
	tst, err := tr.Evaluate(ctx, tr.Test)
	if err != nil {
		return err
	}
	trn, err := tr.Evaluate(ctx, tr.Train)
	if err != nil {
		return err
	}
	if err := SavePreds(tr.savePath(PredDir), tr.Test.IDs, tst.Preds); err != nil {
		return err
	}
	if err := AppendParamHist(tr.savePath(ParamHistFile), tr.Net.Nm, tr.Config, trn.Summary, tst.Summary); err != nil {
		return err
	}
	if tr.Hist != nil {
		return tr.Hist.EndRun(tr.RunID, tr.BestCCC)
	}
	return nil
}

func (tr *Trainer) openLogs() error {
	if err := tr.TrnLog.Open(tr.savePath(TrnEpcFile)); err != nil {
		return err
	}
	return tr.TstLog.Open(tr.savePath(TstEpcFile))
}

func (tr *Trainer) closeLogs() {
	tr.TrnLog.Close()
	tr.TstLog.Close()
}
