package embedding

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/domain"
)

// BudgetAction defines behavior once the token budget is spent.
type BudgetAction string

const (
	// BudgetActionWarn logs a warning and lets the call through.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject refuses the call; retrieval then ranks by keywords.
	BudgetActionReject BudgetAction = "reject"
)

// BudgetStore persists spent-token counters. IncrBy must accumulate.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Get(ctx context.Context, key string) (int64, error)
}

// budgetWindow is one spending window (a UTC day or month).
type budgetWindow struct {
	name     string
	limit    int64
	used     int64
	start    time.Time
	truncate func(time.Time) time.Time
	layout   string
}

// roll zeroes the counter when now falls into a later window.
func (w *budgetWindow) roll(now time.Time) {
	if cur := w.truncate(now); cur.After(w.start) {
		w.used = 0
		w.start = cur
	}
}

func (w *budgetWindow) exceeded() bool { return w.limit > 0 && w.used >= w.limit }

func (w *budgetWindow) remaining() int64 {
	if w.limit == 0 {
		return -1
	}
	return max(w.limit-w.used, 0)
}

// BudgetTracker caps provider tokens per UTC day and month. Check reads
// in-memory counters only; Record writes behind to the store when attached.
type BudgetTracker struct {
	mu        sync.Mutex
	daily     budgetWindow
	monthly   budgetWindow
	action    BudgetAction
	provider  string
	keyPrefix string
	store     BudgetStore
	logger    *zap.Logger
}

// NewBudgetTracker creates a tracker. A zero limit leaves that window unlimited.
func NewBudgetTracker(
	provider string, dailyLimit, monthlyLimit int64,
	action BudgetAction, logger *zap.Logger,
) *BudgetTracker {
	now := time.Now().UTC()
	return &BudgetTracker{
		daily: budgetWindow{
			name: "daily", limit: dailyLimit, truncate: truncateToDay,
			start: truncateToDay(now), layout: "2006-01-02",
		},
		monthly: budgetWindow{
			name: "monthly", limit: monthlyLimit, truncate: truncateToMonth,
			start: truncateToMonth(now), layout: "2006-01",
		},
		action:   action,
		provider: provider,
		logger:   logger,
	}
}

// WithStore attaches persistence under keyPrefix and loads the current counters.
func (b *BudgetTracker) WithStore(ctx context.Context, store BudgetStore, keyPrefix string) *BudgetTracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	b.keyPrefix = keyPrefix
	for _, w := range []*budgetWindow{&b.daily, &b.monthly} {
		val, err := store.Get(ctx, b.key(w, w.start))
		if err != nil {
			b.logger.Warn("Failed to load token budget", zap.String("window", w.name), zap.Error(err))
			continue
		}
		w.used = val
	}
	b.logger.Info("Token budget loaded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.daily.used),
		zap.Int64("monthly_used", b.monthly.used),
	)
	return b
}

func (b *BudgetTracker) key(w *budgetWindow, t time.Time) string {
	return b.keyPrefix + "budget:" + b.provider + ":" + w.name + ":" + t.Format(w.layout)
}

// Check reports domain.ErrBudgetExceeded when a window is spent and the
// action is reject.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollAll()
	if !b.daily.exceeded() && !b.monthly.exceeded() {
		return nil
	}
	if b.action == BudgetActionReject {
		return domain.ErrBudgetExceeded
	}
	b.logger.Warn("Token budget exceeded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.daily.used),
		zap.Int64("daily_limit", b.daily.limit),
		zap.Int64("monthly_used", b.monthly.used),
		zap.Int64("monthly_limit", b.monthly.limit),
	)
	return nil
}

// Record adds consumed tokens to both windows.
func (b *BudgetTracker) Record(tokens int64) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	b.rollAll()
	b.daily.used += tokens
	b.monthly.used += tokens
	store := b.store
	keys := []string{b.key(&b.daily, b.daily.start), b.key(&b.monthly, b.monthly.start)}
	b.mu.Unlock()

	if store == nil {
		return
	}

	// Background context: persistence must not fail or delay the caller.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, k := range keys {
		if err := store.IncrBy(ctx, k, tokens); err != nil {
			b.logger.Warn("Failed to persist token budget", zap.String("key", k), zap.Error(err))
		}
	}
}

// RemainingDaily returns tokens left today, or -1 when unlimited.
func (b *BudgetTracker) RemainingDaily() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollAll()
	return b.daily.remaining()
}

// RemainingMonthly returns tokens left this month, or -1 when unlimited.
func (b *BudgetTracker) RemainingMonthly() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollAll()
	return b.monthly.remaining()
}

// DailyUsed returns tokens consumed today.
func (b *BudgetTracker) DailyUsed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollAll()
	return b.daily.used
}

// MonthlyUsed returns tokens consumed this month.
func (b *BudgetTracker) MonthlyUsed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollAll()
	return b.monthly.used
}

func (b *BudgetTracker) rollAll() {
	now := time.Now().UTC()
	b.daily.roll(now)
	b.monthly.roll(now)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
