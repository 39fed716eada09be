package testutil

import (
	"context"
	"sync"

	"balloon-go/internal/balloon"
)

// FakeAccess allows everything except the node/permission pairs denied
// explicitly. Root checks use the node id "".
type FakeAccess struct {
	mu     sync.Mutex
	denied map[string]map[balloon.Permission]bool
}

func NewFakeAccess() *FakeAccess {
	return &FakeAccess{denied: make(map[string]map[balloon.Permission]bool)}
}

// Deny refuses perm on nodeID.
func (a *FakeAccess) Deny(nodeID string, perm balloon.Permission) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.denied[nodeID] == nil {
		a.denied[nodeID] = make(map[balloon.Permission]bool)
	}
	a.denied[nodeID][perm] = true
}

func (a *FakeAccess) IsAllowed(_ context.Context, node *balloon.Node, perm balloon.Permission) bool {
	id := ""
	if node != nil {
		id = node.ID
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.denied[id][perm]
}

// FakeQuota accepts writes while the bytes accepted so far plus the request
// stay within Limit. It never releases bytes.
type FakeQuota struct {
	mu       sync.Mutex
	limit    int64
	used     map[string]int64
	requests int
}

func NewFakeQuota(limit int64) *FakeQuota {
	return &FakeQuota{limit: limit, used: make(map[string]int64)}
}

func (q *FakeQuota) CheckQuota(_ context.Context, userID string, additional int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests++
	if q.used[userID]+additional > q.limit {
		return false
	}
	q.used[userID] += additional
	return true
}

// Requests returns how often the quota was consulted.
func (q *FakeQuota) Requests() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requests
}
