// Package service holds the sync and mutual-finding logic.
//
// It sits between the HTTP handlers and the graph store:
//
//	Handler → MutualService → ConnectionService → socialapi + GraphStore
//
// Services take primitives and return domain errors from apperror. They
// know nothing about HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sakif/berri-graph/internal/apperror"
	"github.com/sakif/berri-graph/internal/metrics"
	"github.com/sakif/berri-graph/internal/model"
	"github.com/sakif/berri-graph/internal/repository"
	"github.com/sakif/berri-graph/internal/socialapi"
)

// Upstream is the part of the social API client the sync needs.
type Upstream interface {
	GetProfile(ctx context.Context, username string) (*model.User, error)
	FetchAll(ctx context.Context, ref socialapi.UserRef, dir model.Direction) ([]model.User, error)
}

var _ Upstream = (*socialapi.Client)(nil)

// UserSync describes what ProcessUser did for one user.
type UserSync struct {
	User      model.User       `json:"user"`
	Direction model.Direction  `json:"direction"`
	Decision  Decision         `json:"decision"`
	Delta     *model.EdgeDelta `json:"delta,omitempty"` // nil when the fetch was skipped
	Fetched   int              `json:"fetched"`
	Elapsed   time.Duration    `json:"elapsedNs"`
}

// PairSync is the result of ProcessPair.
type PairSync struct {
	Requester *UserSync `json:"requester"`
	Target    *UserSync `json:"target"`
}

// ConnectionService keeps users' edge lists in the graph store fresh.
type ConnectionService struct {
	store   repository.GraphStore
	api     Upstream
	policy  Policy
	metrics *metrics.Metrics
	logger  *slog.Logger

	// collapses concurrent full syncs of the same (user, direction)
	inflight singleflight.Group
}

// NewConnectionService creates a ConnectionService. m may be nil.
func NewConnectionService(store repository.GraphStore, api Upstream, policy Policy, m *metrics.Metrics, logger *slog.Logger) *ConnectionService {
	return &ConnectionService{
		store:   store,
		api:     api,
		policy:  policy,
		metrics: m,
		logger:  logger,
	}
}

type prior struct {
	user  *model.User
	count int
	last  *model.SyncRecord
}

// ProcessUser makes sure the dir edge list of username is fresh.
//
// The live profile is always fetched, since its counts feed the staleness
// decision. The stored state is looked up concurrently with it. On refresh
// the full list is fetched and applied as an incremental diff; a failed
// fetch leaves the stored edges untouched.
func (s *ConnectionService) ProcessUser(ctx context.Context, username string, dir model.Direction) (*UserSync, error) {
	start := time.Now()
	handle := model.NormalizeUsername(username)
	if handle == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}

	var (
		profile *model.User
		stored  prior
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.api.GetProfile(gctx, handle)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		u, err := s.store.GetUserByUsername(gctx, handle)
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("looking up stored user %s: %w", handle, err)
		}
		stored, err = s.lookupPrior(gctx, u, dir)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The handle may have moved to another account since the last sync.
	if stored.user == nil || stored.user.ID != profile.ID {
		u, err := s.store.GetUserByID(ctx, profile.ID)
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			stored = prior{}
		case err != nil:
			return nil, fmt.Errorf("looking up stored user %s: %w", profile.ID, err)
		default:
			if stored, err = s.lookupPrior(ctx, u, dir); err != nil {
				return nil, err
			}
		}
	}

	if err := s.store.UpsertUser(ctx, profile); err != nil {
		return nil, fmt.Errorf("saving profile of %s: %w", handle, err)
	}

	decision := s.policy.Decide(stored.count, profile.CountFor(dir), stored.last)
	s.metrics.ObserveDecision(dir.String(), string(decision.Reason))

	result := &UserSync{User: *profile, Direction: dir, Decision: decision}

	if decision.Refresh {
		synced, err := s.syncEdges(ctx, profile.ID, dir)
		if err != nil {
			return nil, err
		}
		result.Delta = &synced.delta
		result.Fetched = synced.fetched
	}
	result.Elapsed = time.Since(start)

	attrs := []any{
		slog.String("username", profile.Username),
		slog.String("user_id", profile.ID),
		slog.String("direction", dir.String()),
		slog.Bool("refresh", decision.Refresh),
		slog.String("reason", string(decision.Reason)),
		slog.Int("cached", decision.Cached),
		slog.Int("live", decision.Live),
		slog.Duration("elapsed", result.Elapsed),
	}
	if result.Delta != nil {
		attrs = append(attrs,
			slog.Int("added", result.Delta.Added),
			slog.Int("removed", result.Delta.Removed),
			slog.Int("total", result.Delta.Total),
		)
	}
	s.logger.Info("user processed", attrs...)

	return result, nil
}

func (s *ConnectionService) lookupPrior(ctx context.Context, u *model.User, dir model.Direction) (prior, error) {
	count, err := s.store.EdgeCount(ctx, u.ID, dir)
	if err != nil {
		return prior{}, fmt.Errorf("counting stored %s of %s: %w", dir, u.ID, err)
	}
	last, err := s.store.LastSync(ctx, u.ID, dir)
	if err != nil {
		return prior{}, fmt.Errorf("reading last sync of %s: %w", u.ID, err)
	}
	return prior{user: u, count: count, last: last}, nil
}

type syncOutcome struct {
	delta   model.EdgeDelta
	fetched int
}

// syncTimeout bounds a shared sync once it no longer follows any caller's
// context.
const syncTimeout = 10 * time.Minute

// syncEdges fetches and applies the full edge list. Callers racing on the
// same (userID, dir) share a single fetch. The shared work is detached from
// the caller that started it, so one caller giving up never fails the
// others; each caller still returns as soon as its own ctx is done.
func (s *ConnectionService) syncEdges(ctx context.Context, userID string, dir model.Direction) (syncOutcome, error) {
	key := userID + "/" + dir.String()
	ch := s.inflight.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
		defer cancel()

		fresh, err := s.api.FetchAll(sctx, socialapi.UserRef{ID: userID}, dir)
		if err != nil {
			return nil, err
		}
		delta, err := s.store.ApplyEdges(sctx, userID, dir, fresh)
		if err != nil {
			return nil, fmt.Errorf("applying %s of %s: %w", dir, userID, err)
		}
		s.metrics.ObserveEdges(dir.String(), delta.Added, delta.Removed)
		return syncOutcome{delta: delta, fetched: len(fresh)}, nil
	})

	select {
	case <-ctx.Done():
		return syncOutcome{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return syncOutcome{}, res.Err
		}
		if res.Shared {
			s.logger.Debug("joined in-flight sync", slog.String("key", key))
		}
		return res.Val.(syncOutcome), nil
	}
}

// ProcessPair syncs the requester's followings and the target's followers
// in parallel. If either fails the whole call fails.
func (s *ConnectionService) ProcessPair(ctx context.Context, requester, target string) (*PairSync, error) {
	var pair PairSync

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.ProcessUser(gctx, requester, model.Following)
		if err != nil {
			return err
		}
		pair.Requester = r
		return nil
	})
	g.Go(func() error {
		r, err := s.ProcessUser(gctx, target, model.Followers)
		if err != nil {
			return err
		}
		pair.Target = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &pair, nil
}
