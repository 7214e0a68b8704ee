package sqlite

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/queue"
)

// EnqueueItem persists a new item in queued state.
func (s *Store) EnqueueItem(ctx context.Context, item *queue.Item) error {
	m, err := toItemModel(item)
	if err != nil {
		return fmt.Errorf("outpost/sqlite: enqueue item: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return outpost.ErrItemAlreadyExists
		}
		return fmt.Errorf("outpost/sqlite: enqueue item: %w", err)
	}
	return nil
}

// ClaimItems atomically claims up to limit eligible items, oldest first.
// SQLite doesn't support FOR UPDATE SKIP LOCKED; a single UPDATE with a
// subquery runs under the database write lock instead.
func (s *Store) ClaimItems(ctx context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*queue.Item, error) {
	at := micros(now)

	var models []itemModel
	err := s.sdb.NewRaw(`
		UPDATE outpost_items
		SET status = 'processing', attempts = attempts + 1,
		    claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM outpost_items
			WHERE status = 'queued' AND available_at <= ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?
		)
		RETURNING *`,
		workerID.String(), at, at, at, limit,
	).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("outpost/sqlite: claim items: %w", err)
	}

	items, err := itemsFromModels(models)
	if err != nil {
		return nil, fmt.Errorf("outpost/sqlite: claim convert: %w", err)
	}
	// RETURNING order is unspecified.
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return items, nil
}

// MarkItemProcessed moves the item held by c to processed.
func (s *Store) MarkItemProcessed(ctx context.Context, c queue.Claim) error {
	res, err := s.sdb.NewUpdate((*itemModel)(nil)).
		Set("status = ?", string(queue.StatusProcessed)).
		Set("updated_at = ?", micros(time.Now())).
		Where("id = ?", c.ItemID.String()).
		Where("status = ?", string(queue.StatusProcessing)).
		Where("claimed_by = ?", c.WorkerID.String()).
		Where("attempts = ?", c.Attempt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outpost/sqlite: mark item processed: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return nil
	}
	return s.transitionMiss(ctx, c, queue.StatusProcessed)
}

// RequeueItem moves the item held by c back to queued.
func (s *Store) RequeueItem(ctx context.Context, c queue.Claim, availableAt time.Time, lastError string) error {
	res, err := s.sdb.NewUpdate((*itemModel)(nil)).
		Set("status = ?", string(queue.StatusQueued)).
		Set("available_at = ?", micros(availableAt)).
		Set("last_error = ?", lastError).
		Set("claimed_by = ''").
		Set("claimed_at = NULL").
		Set("updated_at = ?", micros(time.Now())).
		Where("id = ?", c.ItemID.String()).
		Where("status = ?", string(queue.StatusProcessing)).
		Where("claimed_by = ?", c.WorkerID.String()).
		Where("attempts = ?", c.Attempt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outpost/sqlite: requeue item: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return nil
	}
	return s.transitionMiss(ctx, c, "")
}

// DeadLetterItem moves the item held by c to dead_letter.
func (s *Store) DeadLetterItem(ctx context.Context, c queue.Claim, lastError string) error {
	res, err := s.sdb.NewUpdate((*itemModel)(nil)).
		Set("status = ?", string(queue.StatusDeadLetter)).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", micros(time.Now())).
		Where("id = ?", c.ItemID.String()).
		Where("status = ?", string(queue.StatusProcessing)).
		Where("claimed_by = ?", c.WorkerID.String()).
		Where("attempts = ?", c.Attempt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outpost/sqlite: dead-letter item: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return nil
	}
	return s.transitionMiss(ctx, c, "")
}

// transitionMiss explains why a guarded transition touched no row.
func (s *Store) transitionMiss(ctx context.Context, c queue.Claim, idempotent queue.Status) error {
	m := new(itemModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", c.ItemID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return outpost.ErrItemNotFound
		}
		return fmt.Errorf("outpost/sqlite: load item status: %w", err)
	}
	switch st := queue.Status(m.Status); {
	case idempotent != "" && st == idempotent:
		return nil
	case st == queue.StatusProcessing:
		return outpost.ErrClaimLost
	default:
		return outpost.ErrInvalidState
	}
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID id.ItemID) (*queue.Item, error) {
	m := new(itemModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", itemID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, outpost.ErrItemNotFound
		}
		return nil, fmt.Errorf("outpost/sqlite: get item: %w", err)
	}
	return fromItemModel(m)
}

// ListItems returns items ordered by CreatedAt.
func (s *Store) ListItems(ctx context.Context, opts queue.ListOpts) ([]*queue.Item, error) {
	var models []itemModel
	q := s.sdb.NewSelect(&models)
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	q = q.OrderExpr("created_at ASC, id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("outpost/sqlite: list items: %w", err)
	}

	items, err := itemsFromModels(models)
	if err != nil {
		return nil, fmt.Errorf("outpost/sqlite: list items convert: %w", err)
	}
	return items, nil
}

// CountItems returns the number of items with status, or all items.
func (s *Store) CountItems(ctx context.Context, status queue.Status) (int64, error) {
	q := s.sdb.NewSelect((*itemModel)(nil))
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("outpost/sqlite: count items: %w", err)
	}
	return count, nil
}

// ReleaseStale requeues processing items claimed before olderThan. The
// attempt counter is left as is.
func (s *Store) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	now := micros(time.Now())
	res, err := s.sdb.NewUpdate((*itemModel)(nil)).
		Set("status = ?", string(queue.StatusQueued)).
		Set("available_at = ?", now).
		Set("claimed_by = ''").
		Set("claimed_at = NULL").
		Set("updated_at = ?", now).
		Where("status = ?", string(queue.StatusProcessing)).
		Where("claimed_at < ?", micros(olderThan)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("outpost/sqlite: release stale items: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// PurgeProcessed deletes processed items last updated before the cutoff.
func (s *Store) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*itemModel)(nil)).
		Where("status = ?", string(queue.StatusProcessed)).
		Where("updated_at < ?", micros(before)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("outpost/sqlite: purge processed items: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

func itemsFromModels(models []itemModel) ([]*queue.Item, error) {
	items := make([]*queue.Item, 0, len(models))
	for i := range models {
		it, err := fromItemModel(&models[i])
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}
