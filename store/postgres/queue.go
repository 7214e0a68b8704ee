package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/queue"
)

const itemColumns = `
	id, envelope, status, attempts, available_at, last_error,
	claimed_by, claimed_at, created_at, updated_at`

// EnqueueItem persists a new item in queued state.
func (s *Store) EnqueueItem(ctx context.Context, item *queue.Item) error {
	env, err := json.Marshal(item.Envelope)
	if err != nil {
		return fmt.Errorf("outpost/postgres: marshal envelope: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO outpost_items (
			id, name, site_id, envelope, status, attempts, available_at,
			last_error, claimed_by, claimed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID.String(), item.Envelope.Name, item.Envelope.SiteID, env,
		string(item.Status), item.Attempts, item.AvailableAt,
		item.LastError, item.ClaimedBy.String(), item.ClaimedAt,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return outpost.ErrItemAlreadyExists
		}
		return fmt.Errorf("outpost/postgres: enqueue item: %w", err)
	}
	return nil
}

// ClaimItems atomically claims up to limit eligible items, oldest first.
// FOR UPDATE SKIP LOCKED keeps concurrent claimers on disjoint rows.
func (s *Store) ClaimItems(ctx context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*queue.Item, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE outpost_items
			SET status = 'processing', attempts = attempts + 1,
			    claimed_by = $1, claimed_at = $2, updated_at = $2
			WHERE id IN (
				SELECT id FROM outpost_items
				WHERE status = 'queued' AND available_at <= $2
				ORDER BY created_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $3
			)
			RETURNING`+itemColumns+`
		)
		SELECT * FROM claimed ORDER BY created_at ASC, id ASC`,
		workerID.String(), now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("outpost/postgres: claim items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// MarkItemProcessed moves the item held by c to processed.
func (s *Store) MarkItemProcessed(ctx context.Context, c queue.Claim) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outpost_items
		SET status = 'processed', updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		  AND claimed_by = $2 AND attempts = $3`,
		c.ItemID.String(), c.WorkerID.String(), c.Attempt,
	)
	if err != nil {
		return fmt.Errorf("outpost/postgres: mark item processed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.transitionMiss(ctx, c, queue.StatusProcessed)
}

// RequeueItem moves the item held by c back to queued.
func (s *Store) RequeueItem(ctx context.Context, c queue.Claim, availableAt time.Time, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outpost_items
		SET status = 'queued', available_at = $4, last_error = $5,
		    claimed_by = '', claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		  AND claimed_by = $2 AND attempts = $3`,
		c.ItemID.String(), c.WorkerID.String(), c.Attempt, availableAt.UTC(), lastError,
	)
	if err != nil {
		return fmt.Errorf("outpost/postgres: requeue item: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.transitionMiss(ctx, c, "")
}

// DeadLetterItem moves the item held by c to dead_letter.
func (s *Store) DeadLetterItem(ctx context.Context, c queue.Claim, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outpost_items
		SET status = 'dead_letter', last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		  AND claimed_by = $2 AND attempts = $3`,
		c.ItemID.String(), c.WorkerID.String(), c.Attempt, lastError,
	)
	if err != nil {
		return fmt.Errorf("outpost/postgres: dead-letter item: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.transitionMiss(ctx, c, "")
}

// transitionMiss explains why a guarded transition touched no row. A
// status equal to idempotent counts as success.
func (s *Store) transitionMiss(ctx context.Context, c queue.Claim, idempotent queue.Status) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM outpost_items WHERE id = $1`, c.ItemID.String(),
	).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return outpost.ErrItemNotFound
		}
		return fmt.Errorf("outpost/postgres: load item status: %w", err)
	}
	switch st := queue.Status(status); {
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
	row := s.pool.QueryRow(ctx,
		`SELECT`+itemColumns+` FROM outpost_items WHERE id = $1`,
		itemID.String(),
	)
	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, outpost.ErrItemNotFound
		}
		return nil, fmt.Errorf("outpost/postgres: get item: %w", err)
	}
	return it, nil
}

// ListItems returns items ordered by CreatedAt.
func (s *Store) ListItems(ctx context.Context, opts queue.ListOpts) ([]*queue.Item, error) {
	query := `SELECT` + itemColumns + ` FROM outpost_items WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	query += " ORDER BY created_at ASC, id ASC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outpost/postgres: list items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// CountItems returns the number of items with status, or all items.
func (s *Store) CountItems(ctx context.Context, status queue.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM outpost_items`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("outpost/postgres: count items: %w", err)
	}
	return count, nil
}

// ReleaseStale requeues processing items claimed before olderThan. The
// attempt counter is left as is.
func (s *Store) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outpost_items
		SET status = 'queued', available_at = NOW(),
		    claimed_by = '', claimed_at = NULL, updated_at = NOW()
		WHERE status = 'processing' AND claimed_at < $1`,
		olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("outpost/postgres: release stale items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeProcessed deletes processed items last updated before the cutoff.
func (s *Store) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM outpost_items WHERE status = 'processed' AND updated_at < $1`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("outpost/postgres: purge processed items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanItem scans a single item row.
func scanItem(row pgx.Row) (*queue.Item, error) {
	var (
		it        queue.Item
		idStr     string
		env       []byte
		statusStr string
		claimedBy string
	)
	err := row.Scan(
		&idStr, &env, &statusStr, &it.Attempts, &it.AvailableAt, &it.LastError,
		&claimedBy, &it.ClaimedAt, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseItemID(idStr)
	if err != nil {
		return nil, fmt.Errorf("outpost/postgres: parse item id %q: %w", idStr, err)
	}
	it.ID = parsed
	if claimedBy != "" {
		if worker, workerErr := id.ParseWorkerID(claimedBy); workerErr == nil {
			it.ClaimedBy = worker
		}
	}
	if err := json.Unmarshal(env, &it.Envelope); err != nil {
		return nil, fmt.Errorf("outpost/postgres: decode envelope %s: %w", idStr, err)
	}

	it.Status = queue.Status(statusStr)
	it.AvailableAt = it.AvailableAt.UTC()
	it.ClaimedAt = utc(it.ClaimedAt)
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return &it, nil
}

// collectItems collects all items from query rows.
func collectItems(rows pgx.Rows) ([]*queue.Item, error) {
	items := make([]*queue.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("outpost/postgres: scan item row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outpost/postgres: iterate item rows: %w", err)
	}
	return items, nil
}
