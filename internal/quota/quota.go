package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/voidxp/voidgate/internal/identity"
)

// AnonymousDailyLimit caps guest principals per UTC day. It is a
// compile-time constant; raising it means shipping a new build.
const AnonymousDailyLimit = 5

// CounterStore atomically increments a usage counter when the result stays
// within limit. The check and increment must be a single step.
type CounterStore interface {
	IncrBelow(ctx context.Context, key string, limit int, w Window) (count int, admitted bool, err error)
}

// LimitSource reports the daily request limit for a registered principal.
type LimitSource interface {
	DailyLimit(ctx context.Context, principalID string) (int, error)
}

// Admission describes an admitted request's standing within its window.
type Admission struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// DeniedError rejects a request before any provider work happens. Reason is
// for logs; clients only see the retry hint.
type DeniedError struct {
	RetryAfter time.Duration
	Limit      int
	Reason     string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("quota denied: %s (retry in %s)", e.Reason, e.RetryAfter)
}

// Enforcer admits or denies requests against per-principal daily limits.
// Anonymous principals count in a process-local store under a fixed limit;
// registered principals count in a shared store under their tier's limit.
type Enforcer struct {
	anonymous  CounterStore
	registered CounterStore
	limits     LimitSource
	now        func() time.Time
}

func NewEnforcer(anonymous, registered CounterStore, limits LimitSource) *Enforcer {
	return &Enforcer{
		anonymous:  anonymous,
		registered: registered,
		limits:     limits,
		now:        time.Now,
	}
}

// Admit consumes one unit of the principal's daily quota. The unit stays
// consumed even if the request later fails downstream. A limit lookup or
// counter failure denies the request rather than letting it through.
func (e *Enforcer) Admit(ctx context.Context, p *identity.Principal) (*Admission, error) {
	now := e.now()
	window := CurrentWindow(now)

	limit := AnonymousDailyLimit
	store := e.anonymous
	if !p.Anonymous() {
		var err error
		limit, err = e.limits.DailyLimit(ctx, p.ID)
		if err != nil {
			return nil, &DeniedError{
				RetryAfter: window.UntilReset(now),
				Reason:     fmt.Sprintf("limit lookup failed: %v", err),
			}
		}
		store = e.registered
	}

	count, admitted, err := store.IncrBelow(ctx, p.ID, limit, window)
	if err != nil {
		return nil, &DeniedError{
			RetryAfter: window.UntilReset(now),
			Limit:      limit,
			Reason:     fmt.Sprintf("counter unavailable: %v", err),
		}
	}
	if !admitted {
		return nil, &DeniedError{
			RetryAfter: window.UntilReset(now),
			Limit:      limit,
			Reason:     "daily request limit reached",
		}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &Admission{
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   window.ResetAt(),
	}, nil
}
