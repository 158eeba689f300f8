package credits

import (
	"context"
	"fmt"
	"time"
)

const keyPrefix = "credits"

// Balance describes a subject's budget for the current UTC day.
type Balance struct {
	Limit     int  `json:"limit"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

// Limiter enforces a daily credit budget per subject. Signed-in users and
// anonymous callers get separate limits; a limit <= 0 disables the budget.
type Limiter struct {
	store              Store
	anonymousLimit     int
	authenticatedLimit int
	now                func() time.Time
}

func NewLimiter(store Store, anonymousLimit, authenticatedLimit int) *Limiter {
	return &Limiter{
		store:              store,
		anonymousLimit:     anonymousLimit,
		authenticatedLimit: authenticatedLimit,
		now:                time.Now,
	}
}

// Consume charges cost credits. When the charge would overdraw the budget
// nothing is charged and allowed is false.
func (l *Limiter) Consume(ctx context.Context, subject string, authenticated bool, cost int) (Balance, bool, error) {
	limit := l.limitFor(authenticated)
	if limit <= 0 {
		return Balance{Unlimited: true}, true, nil
	}
	if cost <= 0 {
		balance, err := l.Remaining(ctx, subject, authenticated)
		return balance, true, err
	}

	key, ttl := l.key(subject)
	used, err := l.store.Add(ctx, key, cost, ttl)
	if err != nil {
		return Balance{}, false, fmt.Errorf("consume credits: %w", err)
	}
	if used <= limit {
		return newBalance(limit, used), true, nil
	}

	used, err = l.store.Add(ctx, key, -cost, ttl)
	if err != nil {
		return Balance{}, false, fmt.Errorf("refund credits: %w", err)
	}
	return newBalance(limit, used), false, nil
}

func (l *Limiter) Remaining(ctx context.Context, subject string, authenticated bool) (Balance, error) {
	limit := l.limitFor(authenticated)
	if limit <= 0 {
		return Balance{Unlimited: true}, nil
	}
	key, _ := l.key(subject)
	used, err := l.store.Get(ctx, key)
	if err != nil {
		return Balance{}, fmt.Errorf("read credits: %w", err)
	}
	return newBalance(limit, used), nil
}

func (l *Limiter) limitFor(authenticated bool) int {
	if authenticated {
		return l.authenticatedLimit
	}
	return l.anonymousLimit
}

// key returns the counter key for today and how long it has to live. The
// expiry runs an hour past midnight UTC so late charges still land.
func (l *Limiter) key(subject string) (string, time.Duration) {
	now := l.now().UTC()
	day := now.Format("2006-01-02")
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return fmt.Sprintf("%s:%s:%s", keyPrefix, day, subject), midnight.Sub(now) + time.Hour
}

func newBalance(limit, used int) Balance {
	if used < 0 {
		used = 0
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Balance{Limit: limit, Used: used, Remaining: remaining}
}
