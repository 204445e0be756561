// Copyright (c) 2020, The Emergent Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hist records training runs and their epoch statistics in a
// sqlite database, so runs with different settings can be compared.
package hist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB is a run history database.
type DB struct {
	db *sql.DB
}

// Run is one recorded training run.
type Run struct {
	ID      int64
	Name    string
	Config  string
	Started time.Time
	Ended   time.Time
	BestCCC float64
	NEpochs int
}

// Epoch is the record of one evaluated epoch of a run.
type Epoch struct {
	Epoch     int
	TrainLoss float64
	TestLoss  float64
	CCC       float64
	Corr      float64
}

// Open opens or creates the history database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			config TEXT NOT NULL,
			started REAL NOT NULL,
			ended REAL,
			best_ccc REAL
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("hist: create runs: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS epochs(
			run INTEGER NOT NULL REFERENCES runs(id),
			epoch INTEGER NOT NULL,
			train_loss REAL NOT NULL,
			test_loss REAL NOT NULL,
			ccc REAL NOT NULL,
			corr REAL NOT NULL,
			PRIMARY KEY(run, epoch)
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("hist: create epochs: %w", err)
	}
	return &DB{db: db}, nil
}

func unixSec(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000.0
}

func fromUnixSec(s float64) time.Time {
	return time.UnixMilli(int64(s * 1000))
}

// BeginRun records the start of a run, storing cfg as JSON, and returns
// the run id.
func (h *DB) BeginRun(name string, cfg any) (int64, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0, err
	}
	res, err := h.db.Exec("INSERT INTO runs(name, config, started) VALUES(?,?,?)",
		name, string(b), unixSec(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("hist: begin run: %w", err)
	}
	return res.LastInsertId()
}

// LogEpoch records the statistics of one epoch of a run.  A repeated epoch
// replaces the earlier record.
func (h *DB) LogEpoch(run int64, ep Epoch) error {
	_, err := h.db.Exec(`INSERT OR REPLACE INTO epochs(run, epoch, train_loss, test_loss, ccc, corr)
		VALUES(?,?,?,?,?,?)`, run, ep.Epoch, ep.TrainLoss, ep.TestLoss, ep.CCC, ep.Corr)
	if err != nil {
		return fmt.Errorf("hist: log epoch %d: %w", ep.Epoch, err)
	}
	return nil
}

// EndRun records the end of a run and its best mean CCC.
func (h *DB) EndRun(run int64, best float64) error {
	_, err := h.db.Exec("UPDATE runs SET ended = ?, best_ccc = ? WHERE id = ?",
		unixSec(time.Now()), best, run)
	if err != nil {
		return fmt.Errorf("hist: end run: %w", err)
	}
	return nil
}

// Runs returns all runs, oldest first.
func (h *DB) Runs() ([]Run, error) {
	rows, err := h.db.Query(`SELECT r.id, r.name, r.config, r.started, r.ended, r.best_ccc,
		(SELECT COUNT(*) FROM epochs e WHERE e.run = r.id)
		FROM runs r ORDER BY r.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		var started float64
		var ended, best sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Name, &r.Config, &started, &ended, &best, &r.NEpochs); err != nil {
			return nil, err
		}
		r.Started = fromUnixSec(started)
		if ended.Valid {
			r.Ended = fromUnixSec(ended.Float64)
		}
		r.BestCCC = best.Float64
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Epochs returns the epoch records of a run in epoch order.
func (h *DB) Epochs(run int64) ([]Epoch, error) {
	rows, err := h.db.Query(`SELECT epoch, train_loss, test_loss, ccc, corr
		FROM epochs WHERE run = ? ORDER BY epoch ASC`, run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var eps []Epoch
	for rows.Next() {
		var ep Epoch
		if err := rows.Scan(&ep.Epoch, &ep.TrainLoss, &ep.TestLoss, &ep.CCC, &ep.Corr); err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

// Close closes the database.
func (h *DB) Close() error {
	return h.db.Close()
}
