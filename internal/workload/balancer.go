package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/psds-microservice/conversation-router/internal/deadline"
	"go.uber.org/zap"
)

// Store exposes team membership and open-conversation counts.
type Store interface {
	// TeamMembers returns user ids in stable enumeration order.
	TeamMembers(ctx context.Context, teamID string) ([]string, error)
	// CountOpenByAssignee counts open conversations per assignee in one query.
	// Members with no open conversations may be absent from the result.
	CountOpenByAssignee(ctx context.Context, userIDs []string) (map[string]int, error)
}

// Balancer picks the least-loaded member of a team.
type Balancer struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBalancer creates a balancer. src feeds the random fallback used when
// workload counts cannot be fetched; pass a seeded source for reproducible picks.
func NewBalancer(store Store, src rand.Source, timeout time.Duration, logger *zap.Logger) *Balancer {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Balancer{store: store, rnd: rand.New(src), timeout: timeout, logger: logger}
}

// LeastLoadedMember returns "" when the team has no members. Ties go to the
// member enumerated first. If the count query fails a member is picked
// uniformly at random so routing keeps working.
func (b *Balancer) LeastLoadedMember(ctx context.Context, teamID string) (string, error) {
	mctx, cancel := deadline.With(ctx, b.timeout)
	members, err := b.store.TeamMembers(mctx, teamID)
	cancel()
	if err != nil {
		return "", fmt.Errorf("team members %q: %w", teamID, err)
	}
	if len(members) == 0 {
		return "", nil
	}

	cctx, cancel := deadline.With(ctx, b.timeout)
	counts, err := b.store.CountOpenByAssignee(cctx, members)
	cancel()
	if err != nil {
		pick := b.randomMember(members)
		b.logger.Warn("workload: count query failed, falling back to random member",
			zap.String("team_id", teamID), zap.String("user_id", pick), zap.Error(err))
		return pick, nil
	}

	return LeastLoaded(members, counts), nil
}

// LeastLoaded returns the member with the strictly smallest count, first one on ties.
func LeastLoaded(members []string, counts map[string]int) string {
	best := ""
	bestCount := 0
	for i, m := range members {
		c := counts[m]
		if i == 0 || c < bestCount {
			best, bestCount = m, c
		}
	}
	return best
}

func (b *Balancer) randomMember(members []string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return members[b.rnd.IntN(len(members))]
}
