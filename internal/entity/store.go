package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v2"

	"github.com/zlccccc/HomeAssistant-LLM-Analysis/internal/homeassistant"
)

// StateSource fetches every entity state. [homeassistant.Client]
// satisfies it.
type StateSource interface {
	GetStates(ctx context.Context) ([]homeassistant.State, error)
}

// SourceError is returned by [Store.Refresh] when the state source
// fails. Kind and Status come from the underlying
// [homeassistant.APIError]; errors of any other type are KindStatus with
// Status zero.
type SourceError struct {
	Kind   homeassistant.ErrorKind
	Status int
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("fetch entity states (%s): %v", e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func newSourceError(err error) *SourceError {
	se := &SourceError{Kind: homeassistant.KindStatus, Err: err}
	var apiErr *homeassistant.APIError
	if errors.As(err, &apiErr) {
		se.Kind = apiErr.Kind
		se.Status = apiErr.Status
	}
	return se
}

const snapshotKey = "snapshot"

// Store is the process-wide snapshot cache shared by concurrent turns.
// Refreshes are not serialized; the last one to finish wins.
type Store struct {
	source StateSource
	cache  *ttlcache.Cache
	logger *slog.Logger
}

// NewStore creates a store over source. Cached snapshots expire ttl after
// the refresh that produced them; zero keeps them until invalidated.
func NewStore(source StateSource, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	cache := ttlcache.NewCache()
	cache.SkipTTLExtensionOnHit(true)
	if err := cache.SetTTL(ttl); err != nil {
		logger.Warn("snapshot cache ttl rejected", "ttl", ttl, "error", err)
	}
	return &Store{source: source, cache: cache, logger: logger}
}

// Refresh fetches and classifies all states and caches the result. On
// failure the cached snapshot is left untouched and a *SourceError is
// returned.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	raw, err := s.source.GetStates(ctx)
	if err != nil {
		return nil, newSourceError(err)
	}

	snap := Classify(raw, s.logger)
	if err := s.cache.Set(snapshotKey, snap); err != nil {
		s.logger.Warn("failed to cache snapshot", "error", err)
	}

	s.logger.Debug("entity snapshot refreshed",
		"entities", snap.Len(),
		"skipped", len(snap.Skipped),
		"elapsed", time.Since(start),
	)
	return snap, nil
}

// Latest returns the cached snapshot, or nil when none is cached.
func (s *Store) Latest() *Snapshot {
	v, err := s.cache.Get(snapshotKey)
	if err != nil {
		return nil
	}
	snap, _ := v.(*Snapshot)
	return snap
}

// Current returns the cached snapshot, refreshing when none is cached.
func (s *Store) Current(ctx context.Context) (*Snapshot, error) {
	if snap := s.Latest(); snap != nil {
		return snap, nil
	}
	return s.Refresh(ctx)
}

// Invalidate drops the cached snapshot.
func (s *Store) Invalidate() {
	if err := s.cache.Remove(snapshotKey); err != nil && !errors.Is(err, ttlcache.ErrNotFound) {
		s.logger.Debug("snapshot invalidate failed", "error", err)
	}
}

// Close stops the cache's expiry goroutine.
func (s *Store) Close() error {
	return s.cache.Close()
}
