package memory

import (
	"context"
	"sync"

	"github.com/uzuki-dev/palmtalk/internal/types"
)

// AutoRefiner triggers refine-to-handlog when a conversation accumulates a
// large unrefined backlog. Each (conversation, character) pair fires at
// most once per process; the advancing watermark prevents refiring across
// restarts.
type AutoRefiner struct {
	gens *Generators

	mu   sync.Mutex
	done map[string]struct{}
}

// NewAutoRefiner wraps gens with the auto-refine trigger.
func NewAutoRefiner(gens *Generators) *AutoRefiner {
	return &AutoRefiner{gens: gens, done: make(map[string]struct{})}
}

// ShouldRefine reports whether a log of total messages with the given
// refine watermark has enough unrefined backlog.
func (a *AutoRefiner) ShouldRefine(total, watermark int) bool {
	threshold := a.gens.cfg.RefineThreshold
	unrefined := total - watermark
	if unrefined < 0 {
		unrefined = 0
	}
	return total > threshold && unrefined >= threshold
}

// MaybeRefine runs refine-to-handlog for (conv, charID) if the backlog
// threshold is met and the pair has not fired yet. Reports whether a refine
// ran.
func (a *AutoRefiner) MaybeRefine(ctx context.Context, conv *types.Conversation, charID string) (bool, error) {
	mem := Resolve(conv, charID)
	if mem == nil {
		return false, nil
	}
	if !a.ShouldRefine(len(conv.Messages), mem.LastRefinedMessageCount) {
		return false, nil
	}

	key := conv.ID + "/" + charID
	a.mu.Lock()
	if _, seen := a.done[key]; seen {
		a.mu.Unlock()
		return false, nil
	}
	a.done[key] = struct{}{}
	a.mu.Unlock()

	if _, err := a.gens.RefineToHandlog(ctx, conv, charID); err != nil {
		return false, err
	}
	return true, nil
}
