// Package store provides the process-wide key/value state store consumed by
// the workflow orchestrator.
//
// The orchestrator keeps two kinds of per-run records here (the checkpoint
// under "checkpoint-info:{runID}" and the outstanding external request under
// "pending-request:{runID}") plus one process-wide record, the
// "pending-approvals" collection that multiple runs append to concurrently.
package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by database-backed stores after Close.
var ErrClosed = errors.New("store is closed")

// Store is an atomic string-keyed value store. Values are JSON-serialized by
// the implementation; keys live until explicitly deleted (they survive
// individual run lifecycles and, for database-backed implementations,
// process restarts).
//
// Per-key operations are atomic. No cross-key transactions are offered: all
// of a run's keys share its run id and are only touched by that run's own
// loop, so none are needed.
type Store interface {
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value any) error

	// Get loads the value stored under key into out, which must be a
	// pointer. It reports whether the key was present; an absent key is not
	// an error.
	Get(ctx context.Context, key string, out any) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Append appends value to the list stored under key, creating the list
	// if absent. The read-modify-write is atomic, so concurrent appends from
	// different runs never lose updates.
	Append(ctx context.Context, key string, value any) error
}

// GetAs loads the value stored under key as type T.
//
// Example:
//
//	info, ok, err := store.GetAs[flow.CheckpointInfo](ctx, st, "checkpoint-info:T1")
func GetAs[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var v T
	ok, err := s.Get(ctx, key, &v)
	return v, ok, err
}
