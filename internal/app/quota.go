package app

import (
	"context"
	"fmt"
	"sync"

	"balloon-go/internal/balloon"
	"balloon-go/internal/config"
)

// Quota enforces the per-user byte limits from config. Usage is tracked in
// process: Prime measures what a user already stores and every accepted
// write is added on top.
//
// CheckQuota runs inside write transactions, so it must never call back
// into the Service.
type Quota struct {
	limits config.QuotaConfig

	mu   sync.Mutex
	used map[string]int64
}

// NewQuota creates a quota policy with no recorded usage.
func NewQuota(limits config.QuotaConfig) *Quota {
	return &Quota{limits: limits, used: make(map[string]int64)}
}

// CheckQuota accepts the write and records it when the user stays within
// their limit.
func (q *Quota) CheckQuota(_ context.Context, userID string, additionalBytes int64) bool {
	limit := q.limits.Limit(userID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit > 0 && q.used[userID]+additionalBytes > limit {
		return false
	}
	q.used[userID] += additionalBytes
	return true
}

// Used returns the bytes currently attributed to userID.
func (q *Quota) Used(userID string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used[userID]
}

// Prime sets the usage of the acting user to the size of every file they
// own, trashed files included.
func (q *Quota) Prime(ctx context.Context, svc *balloon.Service) error {
	user, ok := balloon.UserFrom(ctx)
	if !ok {
		return fmt.Errorf("no acting user")
	}
	var total int64
	var walk func(id string) error
	walk = func(id string) error {
		children, err := svc.Children(ctx, id, true)
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.IsFile() {
				if c.OwnerID == user {
					total += c.Size
				}
				continue
			}
			if err := walk(c.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(balloon.RootID); err != nil {
		return err
	}

	q.mu.Lock()
	q.used[user] = total
	q.mu.Unlock()
	return nil
}

var _ balloon.QuotaPolicy = (*Quota)(nil)
