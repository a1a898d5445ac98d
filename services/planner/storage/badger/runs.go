// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
)

// Run kinds.
const (
	KindPlan    = "plan"
	KindSession = "session"
)

var (
	// ErrRunNotFound is returned by Get for unknown IDs.
	ErrRunNotFound = errors.New("run not found")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("run store closed")
)

// Key layout:
//
//	run/<created unix nanos, big endian>/<id>  -> JSON RunRecord
//	id/<id>                                    -> primary key
var (
	runPrefix = []byte("run/")
	idPrefix  = []byte("id/")
)

// StepRecord is a stored plan step.
type StepRecord struct {
	Task     string   `json:"task"`
	Operator string   `json:"operator"`
	Add      []string `json:"add,omitempty"`
	Del      []string `json:"del,omitempty"`
	Cost     float64  `json:"cost"`
}

// RunRecord is one recorded planning run or tutoring session.
type RunRecord struct {
	ID            string        `json:"id"`
	Kind          string        `json:"kind"`
	Domain        string        `json:"domain"`
	Problem       string        `json:"problem,omitempty"`
	Seed          uint64        `json:"seed"`
	Success       bool          `json:"success"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Steps         []StepRecord  `json:"steps"`
	Cost          float64       `json:"cost"`
	Iterations    int           `json:"iterations"`
	Backtracks    int           `json:"backtracks"`
	Accepted      int           `json:"accepted,omitempty"`
	Rejected      int           `json:"rejected,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewPlanRecord summarizes a batch result.
func NewPlanRecord(domainName, problem string, seed uint64, res *engine.Result) RunRecord {
	return RunRecord{
		Kind:          KindPlan,
		Domain:        domainName,
		Problem:       problem,
		Seed:          seed,
		Success:       res.Success,
		FailureReason: res.FailureReason,
		Steps:         stepRecords(res.Plan),
		Cost:          res.Cost,
		Iterations:    res.Iterations,
		Backtracks:    res.Backtracks,
		Duration:      res.Duration,
	}
}

// NewSessionRecord summarizes a tutoring session.
func NewSessionRecord(domainName, problem string, seed uint64, done bool, steps []engine.Step, stats engine.SessionStats, elapsed time.Duration) RunRecord {
	var cost float64
	for _, s := range steps {
		cost += s.Cost
	}
	rec := RunRecord{
		Kind:       KindSession,
		Domain:     domainName,
		Problem:    problem,
		Seed:       seed,
		Success:    done,
		Steps:      stepRecords(steps),
		Cost:       cost,
		Iterations: stats.Iterations,
		Backtracks: stats.Backtracks,
		Accepted:   stats.Accepted,
		Rejected:   stats.Rejected,
		Duration:   elapsed,
	}
	if !done {
		rec.FailureReason = "session ended before the goal"
	}
	return rec
}

func stepRecords(steps []engine.Step) []StepRecord {
	out := make([]StepRecord, len(steps))
	for i, s := range steps {
		out[i] = StepRecord{
			Task:     s.Task.String(),
			Operator: s.Operator,
			Add:      factStrings(s.Add),
			Del:      factStrings(s.Del),
			Cost:     s.Cost,
		}
	}
	return out
}

func factStrings(fs []cond.Fact) []string {
	if len(fs) == 0 {
		return nil
	}
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.String()
	}
	return out
}

// RunStore persists RunRecords.
//
// Thread Safety: Safe for concurrent use.
type RunStore struct {
	db        *badger.DB
	gc        *gcRunner
	retention time.Duration
	now       func() time.Time
}

// OpenRunStore opens (or creates) the history database.
func OpenRunStore(cfg Config) (*RunStore, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	s := &RunStore{db: db, retention: cfg.Retention, now: time.Now}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

// Close stops GC and closes the database.
func (s *RunStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
		s.gc = nil
	}
	return s.db.Close()
}

// Put stores rec, assigning ID and CreatedAt when they are empty.
//
// Outputs:
//
//	string - The record ID.
//	error - Encoding, context or database errors.
func (s *RunStore) Put(ctx context.Context, rec RunRecord) (string, error) {
	if s.db.IsClosed() {
		return "", ErrStoreClosed
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode run %s: %w", rec.ID, err)
	}
	key := runKey(rec.CreatedAt, rec.ID)

	err = withTxn(ctx, s.db, func(txn *badger.Txn) error {
		primary := badger.NewEntry(key, data)
		index := badger.NewEntry(idKey(rec.ID), key)
		if s.retention > 0 {
			primary = primary.WithTTL(s.retention)
			index = index.WithTTL(s.retention)
		}
		if err := txn.SetEntry(primary); err != nil {
			return err
		}
		return txn.SetEntry(index)
	})
	if err != nil {
		return "", fmt.Errorf("store run %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// Get returns the record with id.
func (s *RunStore) Get(ctx context.Context, id string) (RunRecord, error) {
	if s.db.IsClosed() {
		return RunRecord{}, ErrStoreClosed
	}
	var rec RunRecord
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if item, err = txn.Get(key); err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("load run %s: %w", id, err)
	}
	return rec, nil
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *RunStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if s.db.IsClosed() {
		return nil, ErrStoreClosed
	}
	var out []RunRecord
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = runPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, runPrefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(runPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Delete removes the record with id.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if s.db.IsClosed() {
		return ErrStoreClosed
	}
	err := withTxn(ctx, s.db, func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return err
}

func runKey(created time.Time, id string) []byte {
	key := make([]byte, 0, len(runPrefix)+8+1+len(id))
	key = append(key, runPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(created.UnixNano()))
	key = append(key, '/')
	return append(key, id...)
}

func idKey(id string) []byte {
	return append(append([]byte{}, idPrefix...), id...)
}
