// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist.sqlite")
	h, err := Open(path)
	require.NoError(t, err)

	cfg := map[string]any{"lr": 0.001, "modalities": []string{"emotient"}}
	id, err := h.BeginRun("first", cfg)
	require.NoError(t, err)
	require.NoError(t, h.LogEpoch(id, Epoch{Epoch: 1, TrainLoss: 0.5, TestLoss: 0.6, CCC: 0.1, Corr: 0.2}))
	require.NoError(t, h.LogEpoch(id, Epoch{Epoch: 2, TrainLoss: 0.4, TestLoss: 0.5, CCC: 0.3, Corr: 0.4}))
	require.NoError(t, h.LogEpoch(id, Epoch{Epoch: 2, TrainLoss: 0.3, TestLoss: 0.45, CCC: 0.35, Corr: 0.4}))
	require.NoError(t, h.EndRun(id, 0.35))

	id2, err := h.BeginRun("second", cfg)
	require.NoError(t, err)
	require.NotEqual(t, id, id2)
	require.NoError(t, h.Close())

	// reopen: tables persist
	h, err = Open(path)
	require.NoError(t, err)
	defer h.Close()

	runs, err := h.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "first", runs[0].Name)
	require.Equal(t, 2, runs[0].NEpochs)
	require.InDelta(t, 0.35, runs[0].BestCCC, 1e-12)
	require.False(t, runs[0].Ended.IsZero())
	require.JSONEq(t, `{"lr":0.001,"modalities":["emotient"]}`, runs[0].Config)
	require.True(t, runs[1].Ended.IsZero())

	eps, err := h.Epochs(id)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	require.Equal(t, 2, eps[1].Epoch)
	require.InDelta(t, 0.3, eps[1].TrainLoss, 1e-12)
}

func TestBeginRunBadConfig(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), "hist.sqlite"))
	require.NoError(t, err)
	defer h.Close()
	_, err = h.BeginRun("bad", map[string]any{"f": func() {}})
	require.Error(t, err)
}
