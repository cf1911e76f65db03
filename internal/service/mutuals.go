package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/sakif/berri-graph/internal/apperror"
	"github.com/sakif/berri-graph/internal/cache"
	"github.com/sakif/berri-graph/internal/metrics"
	"github.com/sakif/berri-graph/internal/model"
	"github.com/sakif/berri-graph/internal/repository"
)

// handlePattern matches a Twitter/X handle without the leading "@".
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// Ranking orders introducer candidates.
type Ranking string

const (
	RankQuery        Ranking = "query"        // graph store order
	RankFollowers    Ranking = "followers"    // most followed first
	RankAlphabetical Ranking = "alphabetical" // by lowercase handle
)

// ParseRanking parses a ranking name, ignoring case and surrounding space.
// An empty name means RankQuery.
func ParseRanking(s string) (Ranking, error) {
	switch r := Ranking(strings.ToLower(strings.TrimSpace(s))); r {
	case "", RankQuery:
		return RankQuery, nil
	case RankFollowers, RankAlphabetical:
		return r, nil
	}
	return "", fmt.Errorf("unknown ranking %q", s)
}

// Sort orders users in place. It is stable, so ties keep store order.
func (r Ranking) Sort(users []model.User) {
	switch r {
	case RankFollowers:
		slices.SortStableFunc(users, func(a, b model.User) int {
			return cmp.Compare(b.FollowersCount, a.FollowersCount)
		})
	case RankAlphabetical:
		slices.SortStableFunc(users, func(a, b model.User) int {
			return strings.Compare(model.NormalizeUsername(a.Username), model.NormalizeUsername(b.Username))
		})
	}
}

// pairSyncer is satisfied by ConnectionService.
type pairSyncer interface {
	ProcessPair(ctx context.Context, requester, target string) (*PairSync, error)
}

// Debug is returned alongside the mutuals for troubleshooting.
type Debug struct {
	CacheHit   bool      `json:"cacheHit"`
	Ranking    Ranking   `json:"ranking"`
	Requester  *UserSync `json:"requester,omitempty"`
	Target     *UserSync `json:"target,omitempty"`
	ElapsedMs  int64     `json:"elapsedMs"`
	ComputedAt time.Time `json:"computedAt"`
}

// FindResult is the answer to FindMutuals.
type FindResult struct {
	Result *model.MutualResult
	Debug  Debug
}

// MutualService finds introducer candidates between two users.
type MutualService struct {
	sync    pairSyncer
	store   repository.GraphStore
	cache   cache.MutualCache
	ranking Ranking
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewMutualService creates a MutualService. m may be nil.
func NewMutualService(sync pairSyncer, store repository.GraphStore, c cache.MutualCache, ranking Ranking, m *metrics.Metrics, logger *slog.Logger) *MutualService {
	if ranking == "" {
		ranking = RankQuery
	}
	return &MutualService{
		sync:    sync,
		store:   store,
		cache:   c,
		ranking: ranking,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// validateHandle strips a leading "@" and checks the handle charset.
func validateHandle(field, username string) (string, error) {
	h := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if h == "" {
		return "", apperror.ValidationFailed(field, field+" is required")
	}
	if !handlePattern.MatchString(h) {
		return "", apperror.ValidationFailed(field,
			fmt.Sprintf("%q is not a valid username (1-15 letters, digits or underscores)", username))
	}
	return h, nil
}

// FindMutuals returns accounts X where requester follows X and X follows
// target. Both users are synced first. Results are cached per ordered pair.
func (s *MutualService) FindMutuals(ctx context.Context, requester, target string) (*FindResult, error) {
	start := s.now()

	requester, err := validateHandle("loggedInUserUsername", requester)
	if err != nil {
		return nil, err
	}
	target, err = validateHandle("searchUsername", target)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(requester, target) {
		return nil, apperror.ValidationFailed("searchUsername", "cannot search for mutuals with yourself")
	}

	if cached := s.cacheGet(ctx, requester, target); cached != nil {
		return &FindResult{
			Result: cached,
			Debug: Debug{
				CacheHit:   true,
				Ranking:    s.ranking,
				ElapsedMs:  s.now().Sub(start).Milliseconds(),
				ComputedAt: cached.ComputedAt,
			},
		}, nil
	}

	pair, err := s.sync.ProcessPair(ctx, requester, target)
	if err != nil {
		return nil, err
	}

	mutuals, err := s.store.FindMutuals(ctx, pair.Requester.User.ID, pair.Target.User.ID)
	if err != nil {
		return nil, fmt.Errorf("querying mutuals of %s and %s: %w", requester, target, err)
	}
	s.ranking.Sort(mutuals)

	result := &model.MutualResult{
		Requester:  pair.Requester.User,
		Target:     pair.Target.User,
		Mutuals:    mutuals,
		ComputedAt: s.now().UTC(),
	}

	for _, us := range []*UserSync{pair.Requester, pair.Target} {
		if us.Delta != nil && us.Delta.Changed() {
			s.cacheInvalidateUser(ctx, us.User.Username)
		}
	}
	s.cacheSet(ctx, requester, target, result)

	elapsed := s.now().Sub(start)
	s.metrics.ObserveMutuals(len(mutuals), elapsed)
	s.logger.Info("mutuals found",
		slog.String("requester", requester),
		slog.String("target", target),
		slog.Int("count", len(mutuals)),
		slog.Duration("elapsed", elapsed),
	)

	return &FindResult{
		Result: result,
		Debug: Debug{
			Ranking:    s.ranking,
			Requester:  pair.Requester,
			Target:     pair.Target,
			ElapsedMs:  elapsed.Milliseconds(),
			ComputedAt: result.ComputedAt,
		},
	}, nil
}

// Cache failures are logged and otherwise ignored; the graph is the source
// of truth.

func (s *MutualService) cacheGet(ctx context.Context, a, b string) *model.MutualResult {
	if s.cache == nil {
		return nil
	}
	r, err := s.cache.Get(ctx, a, b)
	if err != nil {
		s.logger.Warn("mutual cache get failed", slog.String("error", err.Error()))
		return nil
	}
	s.metrics.ObserveCache(r != nil)
	return r
}

func (s *MutualService) cacheSet(ctx context.Context, a, b string, r *model.MutualResult) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, a, b, r); err != nil {
		s.logger.Warn("mutual cache set failed", slog.String("error", err.Error()))
	}
}

func (s *MutualService) cacheInvalidateUser(ctx context.Context, username string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateUser(ctx, username); err != nil {
		s.logger.Warn("mutual cache invalidate failed",
			slog.String("username", username),
			slog.String("error", err.Error()))
	}
}
