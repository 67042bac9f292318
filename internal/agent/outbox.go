package agent

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingReport tracks one result awaiting server acknowledgment.
type PendingReport struct {
	ExecutionID   string
	Status        string
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	LastError     string
}

// ReportOutbox stores pending result reports by execution identifier. It
// exists for observability of the REPORTING step; the server re-offers
// unacknowledged work, so nothing here is re-queued locally.
type ReportOutbox struct {
	mu    sync.RWMutex
	items map[string]PendingReport
}

func NewReportOutbox() *ReportOutbox {
	return &ReportOutbox{items: make(map[string]PendingReport)}
}

func (o *ReportOutbox) Upsert(item PendingReport) {
	key := strings.TrimSpace(item.ExecutionID)
	if key == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[key] = item
}

func (o *ReportOutbox) MarkAttempt(executionID string, at time.Time, lastErr string) (PendingReport, bool) {
	key := strings.TrimSpace(executionID)
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingReport{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.LastError = strings.TrimSpace(lastErr)
	o.items[key] = item
	return item, true
}

func (o *ReportOutbox) Remove(executionID string) {
	key := strings.TrimSpace(executionID)
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, key)
}

func (o *ReportOutbox) Get(executionID string) (PendingReport, bool) {
	key := strings.TrimSpace(executionID)
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[key]
	return item, ok
}

func (o *ReportOutbox) List() []PendingReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingReport, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExecutionID < out[j].ExecutionID
	})
	return out
}
