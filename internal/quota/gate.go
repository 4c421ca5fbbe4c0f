// Package quota enforces the per-user daily request limit.
//
// The stored counter is only meaningful for the calendar day of the stored
// reset time; once that day is over the counter is treated as zero by every
// read, and the first write of the new day stores 1 directly.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/models"
)

var (
	ErrUserNotFound  = errors.New("quota: user not found")
	ErrQuotaExceeded = errors.New("quota: daily request limit exceeded")
	// ErrConflict means the optimistic update kept losing to concurrent
	// writers for the same user.
	ErrConflict = errors.New("quota: concurrent update conflict")
)

const defaultMaxAttempts = 16

type Gate struct {
	db          *gorm.DB
	loc         *time.Location
	now         func() time.Time
	maxAttempts int
}

type Option func(*Gate)

// WithLocation sets the time zone the day boundary is computed in.
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func NewGate(db *gorm.DB, opts ...Option) *Gate {
	g := &Gate{db: db, loc: time.Local, now: time.Now, maxAttempts: defaultMaxAttempts}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Usage is a read-only snapshot with rollover already applied.
type Usage struct {
	UserID            uint64 `json:"userId"`
	Username          string `json:"username"`
	DailyLimit        int    `json:"dailyLimit"`
	RequestsUsedToday int    `json:"requestsUsedToday"`
	RemainingRequests int    `json:"remainingRequests"`
}

// CanMakeRequest never writes.
func (g *Gate) CanMakeRequest(ctx context.Context, userID uint64) (bool, error) {
	u, err := g.load(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.Unlimited() {
		return true, nil
	}
	used, _ := g.effectiveUsage(u, g.now())
	return used < u.DailyRequestLimit, nil
}

// GetRemainingRequests returns -1 for unlimited users.
func (g *Gate) GetRemainingRequests(ctx context.Context, userID uint64) (int, error) {
	u, err := g.Usage(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.RemainingRequests, nil
}

func (g *Gate) Usage(ctx context.Context, userID uint64) (Usage, error) {
	u, err := g.load(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	out := Usage{UserID: u.ID, Username: u.Username, DailyLimit: u.DailyRequestLimit}
	if u.Unlimited() {
		out.RequestsUsedToday, _ = g.effectiveUsage(u, g.now())
		out.RemainingRequests = models.UnlimitedRequests
		return out, nil
	}
	used, _ := g.effectiveUsage(u, g.now())
	out.RequestsUsedToday = used
	out.RemainingRequests = max(0, u.DailyRequestLimit-used)
	return out, nil
}

// IncrementRequestCount counts one request without checking the limit.
// It is a no-op for unlimited users.
func (g *Gate) IncrementRequestCount(ctx context.Context, userID uint64) error {
	return g.bump(ctx, userID, false)
}

// Consume checks the limit and counts one request in the same conditional
// write, so two concurrent callers cannot both take the last slot.
func (g *Gate) Consume(ctx context.Context, userID uint64) error {
	return g.bump(ctx, userID, true)
}

func (g *Gate) bump(ctx context.Context, userID uint64, enforce bool) error {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		u, err := g.load(ctx, userID)
		if err != nil {
			return err
		}
		if u.Unlimited() {
			return nil
		}

		now := g.now()
		used, rolled := g.effectiveUsage(u, now)
		if enforce && used >= u.DailyRequestLimit {
			return ErrQuotaExceeded
		}

		// on rollover used is 0, so the new day starts at exactly 1
		updates := map[string]any{
			"requests_used_today": used + 1,
			"quota_version":       gorm.Expr("quota_version + 1"),
		}
		if rolled {
			updates["last_request_reset"] = now.UTC()
		}

		res := g.db.WithContext(ctx).
			Model(&models.User{}).
			Where("id = ? AND quota_version = ?", u.ID, u.QuotaVersion).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("quota: update user %d: %w", userID, res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return ErrConflict
}

func (g *Gate) load(ctx context.Context, userID uint64) (*models.User, error) {
	var u models.User
	err := g.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("quota: load user %d: %w", userID, err)
	}
	return &u, nil
}

// effectiveUsage reports the counter as it applies to now, and whether the
// stored one belongs to an earlier day.
func (g *Gate) effectiveUsage(u *models.User, now time.Time) (int, bool) {
	if u.LastRequestReset == nil {
		return 0, true
	}
	if dayBefore(u.LastRequestReset.In(g.loc), now.In(g.loc)) {
		return 0, true
	}
	return u.RequestsUsedToday, false
}

func dayBefore(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}
