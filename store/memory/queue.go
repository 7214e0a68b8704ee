package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/queue"
)

func copyItem(it *queue.Item) *queue.Item {
	cp := *it
	if it.Envelope.Payload != nil {
		cp.Envelope.Payload = append(json.RawMessage(nil), it.Envelope.Payload...)
	}
	if it.Envelope.Meta != nil {
		cp.Envelope.Meta = make(map[string]string, len(it.Envelope.Meta))
		for k, v := range it.Envelope.Meta {
			cp.Envelope.Meta[k] = v
		}
	}
	if it.ClaimedAt != nil {
		t := *it.ClaimedAt
		cp.ClaimedAt = &t
	}
	return &cp
}

// EnqueueItem persists a new item.
func (m *Store) EnqueueItem(_ context.Context, item *queue.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := item.ID.String()
	if _, exists := m.items[key]; exists {
		return outpost.ErrItemAlreadyExists
	}
	m.items[key] = copyItem(item)
	return nil
}

// ClaimItems claims up to limit eligible items, oldest first.
func (m *Store) ClaimItems(_ context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*queue.Item, 0, len(m.items))
	for _, it := range m.items {
		if it.Eligible(now) {
			candidates = append(candidates, it)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID.String() < candidates[j].ID.String()
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]*queue.Item, 0, len(candidates))
	for _, it := range candidates {
		at := now
		it.Status = queue.StatusProcessing
		it.Attempts++
		it.ClaimedBy = workerID
		it.ClaimedAt = &at
		it.UpdatedAt = now
		claimed = append(claimed, copyItem(it))
	}
	return claimed, nil
}

// MarkItemProcessed moves the item held by c to processed.
func (m *Store) MarkItemProcessed(_ context.Context, c queue.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[c.ItemID.String()]
	if !ok {
		return outpost.ErrItemNotFound
	}
	if it.Status == queue.StatusProcessed {
		return nil
	}
	it, err := m.heldItem(c)
	if err != nil {
		return err
	}
	it.Status = queue.StatusProcessed
	it.UpdatedAt = time.Now().UTC()
	return nil
}

// heldItem returns the item if it is processing under claim c.
func (m *Store) heldItem(c queue.Claim) (*queue.Item, error) {
	it, ok := m.items[c.ItemID.String()]
	if !ok {
		return nil, outpost.ErrItemNotFound
	}
	if it.Status != queue.StatusProcessing {
		return nil, outpost.ErrInvalidState
	}
	if !it.Holds(c) {
		return nil, outpost.ErrClaimLost
	}
	return it, nil
}

// RequeueItem moves the item held by c back to queued.
func (m *Store) RequeueItem(_ context.Context, c queue.Claim, availableAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, err := m.heldItem(c)
	if err != nil {
		return err
	}
	it.Status = queue.StatusQueued
	it.AvailableAt = availableAt
	it.LastError = lastError
	it.ClaimedBy = id.Nil
	it.ClaimedAt = nil
	it.UpdatedAt = time.Now().UTC()
	return nil
}

// DeadLetterItem moves the item held by c to dead_letter.
func (m *Store) DeadLetterItem(_ context.Context, c queue.Claim, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, err := m.heldItem(c)
	if err != nil {
		return err
	}
	it.Status = queue.StatusDeadLetter
	it.LastError = lastError
	it.UpdatedAt = time.Now().UTC()
	return nil
}

// GetItem retrieves an item by ID.
func (m *Store) GetItem(_ context.Context, itemID id.ItemID) (*queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID.String()]
	if !ok {
		return nil, outpost.ErrItemNotFound
	}
	return copyItem(it), nil
}

// ListItems returns items ordered by CreatedAt.
func (m *Store) ListItems(_ context.Context, opts queue.ListOpts) ([]*queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*queue.Item, 0, len(m.items))
	for _, it := range m.items {
		if opts.Status != "" && it.Status != opts.Status {
			continue
		}
		out = append(out, copyItem(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return paginate(out, opts.Offset, opts.Limit), nil
}

// CountItems returns the number of items with status, or all items.
func (m *Store) CountItems(_ context.Context, status queue.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, it := range m.items {
		if status == "" || it.Status == status {
			n++
		}
	}
	return n, nil
}

// ReleaseStale requeues processing items claimed before olderThan.
func (m *Store) ReleaseStale(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for _, it := range m.items {
		if it.Status != queue.StatusProcessing || it.ClaimedAt == nil || !it.ClaimedAt.Before(olderThan) {
			continue
		}
		it.Status = queue.StatusQueued
		it.AvailableAt = now
		it.ClaimedBy = id.Nil
		it.ClaimedAt = nil
		it.UpdatedAt = now
		n++
	}
	return n, nil
}

// PurgeProcessed deletes processed items last updated before the cutoff.
func (m *Store) PurgeProcessed(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, it := range m.items {
		if it.Status == queue.StatusProcessed && it.UpdatedAt.Before(before) {
			delete(m.items, key)
			n++
		}
	}
	return n, nil
}

func paginate[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return []T{}
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
