// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/port/outbound"
)

// Reload results reported to observers.
const (
	ReloadApplied   = "applied"
	ReloadUnchanged = "unchanged"
	ReloadFailed    = "failed"
)

// ReloadObserver is notified after every reload attempt.
type ReloadObserver interface {
	ObserveReload(result string, revision uint64)
}

// PolicyService holds the current policy snapshot. Readers take the snapshot
// with one atomic load and keep it for the whole request; Reload builds a
// new snapshot off to the side and publishes it with one atomic store, so a
// request never sees a mix of two revisions.
type PolicyService struct {
	source   outbound.PolicySource
	compiler policy.ConditionCompiler
	snapshot atomic.Value // stores *policy.Snapshot
	mu       sync.Mutex   // serializes Reload
	revision uint64       // guarded by mu
	observer ReloadObserver
	logger   *slog.Logger
	now      func() time.Time
}

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithConditions enables permission conditions compiled by c.
func WithConditions(c policy.ConditionCompiler) PolicyServiceOption {
	return func(s *PolicyService) { s.compiler = c }
}

// WithReloadObserver registers an observer for reload outcomes.
func WithReloadObserver(o ReloadObserver) PolicyServiceOption {
	return func(s *PolicyService) { s.observer = o }
}

// NewPolicyService reads and loads the initial snapshot. Startup fails if
// the configuration is invalid.
func NewPolicyService(ctx context.Context, source outbound.PolicySource, logger *slog.Logger, opts ...PolicyServiceOption) (*PolicyService, error) {
	s := &PolicyService{source: source, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	raw, fp, err := source.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	snap, err := s.load(raw, fp, 1)
	if err != nil {
		return nil, err
	}
	s.revision = 1
	s.snapshot.Store(snap)
	s.notify(ReloadApplied, snap.Revision)

	logger.Info("policy loaded",
		"version", snap.Version,
		"revision", snap.Revision,
		"roles", len(snap.RoleNames()),
		"tables", len(snap.TableNames()),
	)
	return s, nil
}

// Current returns the published snapshot.
func (s *PolicyService) Current() *policy.Snapshot {
	return s.snapshot.Load().(*policy.Snapshot)
}

// Reload re-reads the source and publishes a new snapshot. An unchanged
// fingerprint is a no-op. On any error the running snapshot stays in place.
// It reports whether a new snapshot was published.
func (s *PolicyService) Reload(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Current()
	raw, fp, err := s.source.Read(ctx)
	if err != nil {
		s.notify(ReloadFailed, current.Revision)
		s.logger.Error("policy reload failed, keeping current snapshot", "error", err, "revision", current.Revision)
		return false, fmt.Errorf("failed to read policy: %w", err)
	}
	if fp != 0 && fp == current.Fingerprint {
		s.notify(ReloadUnchanged, current.Revision)
		s.logger.Debug("policy unchanged", "revision", current.Revision)
		return false, nil
	}

	snap, err := s.load(raw, fp, s.revision+1)
	if err != nil {
		s.notify(ReloadFailed, current.Revision)
		s.logger.Error("policy reload rejected, keeping current snapshot", "error", err, "revision", current.Revision)
		return false, err
	}
	s.revision++
	s.snapshot.Store(snap)
	s.notify(ReloadApplied, snap.Revision)

	s.logger.Info("policy reloaded",
		"version", snap.Version,
		"revision", snap.Revision,
		"previous_revision", current.Revision,
	)
	return true, nil
}

func (s *PolicyService) load(raw policy.RawConfig, fp, revision uint64) (*policy.Snapshot, error) {
	opts := []policy.Option{
		policy.WithRevision(revision),
		policy.WithFingerprint(fp),
		policy.WithClock(s.now),
	}
	if s.compiler != nil {
		opts = append(opts, policy.WithConditionCompiler(s.compiler))
	}
	snap, err := policy.Load(raw, opts...)
	if err != nil {
		var cfgErr *policy.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	return snap, nil
}

func (s *PolicyService) notify(result string, revision uint64) {
	if s.observer != nil {
		s.observer.ObserveReload(result, revision)
	}
}
