package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dantwoashim/flowdeck/store"
	"github.com/dantwoashim/flowdeck/types"
)

// DefaultDeadLetterCap bounds the per-user ledger; the oldest entries
// are evicted beyond it.
const DefaultDeadLetterCap = 50

// DefaultEscalationAge is how old a pending entry must be before the
// escalation query surfaces it.
const DefaultEscalationAge = 15 * time.Minute

// DeadLetterQueue is the durable, per-user, capped ledger of background
// runs that failed outright.
type DeadLetterQueue struct {
	store         store.Store
	cap           int
	escalationAge time.Duration
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

// NewDeadLetterQueue creates a queue over the shared store. cap <= 0 and
// escalationAge <= 0 fall back to the defaults.
func NewDeadLetterQueue(st store.Store, cap int, escalationAge time.Duration, logger *zap.Logger) *DeadLetterQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cap <= 0 {
		cap = DefaultDeadLetterCap
	}
	if escalationAge <= 0 {
		escalationAge = DefaultEscalationAge
	}
	return &DeadLetterQueue{
		store:         st,
		cap:           cap,
		escalationAge: escalationAge,
		logger:        logger.With(zap.String("component", "dead_letter_queue")),
		now:           time.Now,
		newID:         func() string { return uuid.NewString() },
	}
}

// Append records a failed background run. The ledger is append-only;
// beyond the cap the oldest entries are evicted.
func (q *DeadLetterQueue) Append(ctx context.Context, entry types.DeadLetterEntry) (*types.DeadLetterEntry, error) {
	if entry.ID == "" {
		entry.ID = q.newID()
	}
	entry.Status = types.DeadLetterPending
	entry.CreatedAt = q.now()

	state, err := q.store.Load(ctx, entry.UserID)
	if err != nil {
		return nil, err
	}
	state.DeadLetters = append(state.DeadLetters, entry)
	if excess := len(state.DeadLetters) - q.cap; excess > 0 {
		state.DeadLetters = state.DeadLetters[excess:]
	}
	if err := q.store.Save(ctx, entry.UserID, state); err != nil {
		return nil, err
	}

	q.logger.Warn("dead letter appended",
		zap.String("entry_id", entry.ID),
		zap.String("workflow_id", entry.WorkflowID),
		zap.String("user_id", entry.UserID),
		zap.String("reason", entry.Reason),
	)
	return &entry, nil
}

// List returns the user's entries sorted newest-first.
func (q *DeadLetterQueue) List(ctx context.Context, userID string) ([]types.DeadLetterEntry, error) {
	state, err := q.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries := append([]types.DeadLetterEntry{}, state.DeadLetters...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// MarkRetrying increments the retry counter and flips the entry to
// retrying. Resolved entries stay resolved.
func (q *DeadLetterQueue) MarkRetrying(ctx context.Context, userID, entryID string) (*types.DeadLetterEntry, error) {
	return q.update(ctx, userID, entryID, func(e *types.DeadLetterEntry) error {
		if e.Status == types.DeadLetterResolved {
			return types.NewErrorf(types.ErrInvalidTransition, "dead letter %s is already resolved", entryID)
		}
		e.RetryCount++
		e.Status = types.DeadLetterRetrying
		e.LastRetryAt = q.now()
		return nil
	})
}

// MarkResolved is terminal.
func (q *DeadLetterQueue) MarkResolved(ctx context.Context, userID, entryID string) (*types.DeadLetterEntry, error) {
	return q.update(ctx, userID, entryID, func(e *types.DeadLetterEntry) error {
		e.Status = types.DeadLetterResolved
		return nil
	})
}

func (q *DeadLetterQueue) update(ctx context.Context, userID, entryID string, apply func(*types.DeadLetterEntry) error) (*types.DeadLetterEntry, error) {
	state, err := q.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range state.DeadLetters {
		if state.DeadLetters[i].ID != entryID {
			continue
		}
		if err := apply(&state.DeadLetters[i]); err != nil {
			return nil, err
		}
		if err := q.store.Save(ctx, userID, state); err != nil {
			return nil, err
		}
		entry := state.DeadLetters[i]
		return &entry, nil
	}
	return nil, types.NewErrorf(types.ErrNotFound, "dead letter %s not found", entryID)
}

// Escalations lists pending entries older than the escalation age,
// newest-first, for surfacing to operators. It never mutates state.
func (q *DeadLetterQueue) Escalations(ctx context.Context, userID string) ([]types.DeadLetterEntry, error) {
	entries, err := q.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	cutoff := q.now().Add(-q.escalationAge)
	var escalations []types.DeadLetterEntry
	for _, e := range entries {
		if e.Status == types.DeadLetterPending && e.CreatedAt.Before(cutoff) {
			escalations = append(escalations, e)
		}
	}
	return escalations, nil
}
