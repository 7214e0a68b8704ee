package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/queue"
)

// claimScript promotes due delayed items to the ready set, then moves up
// to limit of the oldest ready items to processing.
//
// KEYS: delayed, ready, processing
// ARGV: now, limit, worker, item key prefix
var claimScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  local created = redis.call('HGET', ARGV[4] .. id, 'created_at')
  if created then
    redis.call('ZADD', KEYS[2], created, id)
  end
end
local ids = redis.call('ZRANGE', KEYS[2], 0, tonumber(ARGV[2]) - 1)
for _, id in ipairs(ids) do
  local key = ARGV[4] .. id
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[3], ARGV[1], id)
  redis.call('HINCRBY', key, 'attempts', 1)
  redis.call('HSET', key, 'status', 'processing', 'claimed_by', ARGV[3],
    'claimed_at', ARGV[1], 'updated_at', ARGV[1])
end
return ids
`)

// transitionScript moves an item held by a claim to a target state. It
// returns "ok" when applied, "lost" when the item is processing under
// another claim, otherwise the current status or "" for a missing item.
//
// KEYS: item, processing, target set
// ARGV: id, target status, now, target score, last error, set error flag,
// worker id, attempt
var transitionScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return '' end
if status ~= 'processing' then return status end
local claim = redis.call('HMGET', KEYS[1], 'claimed_by', 'attempts')
if claim[1] ~= ARGV[7] or claim[2] ~= ARGV[8] then return 'lost' end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
if ARGV[6] == '1' then
  redis.call('HSET', KEYS[1], 'last_error', ARGV[5])
end
if ARGV[2] == 'queued' then
  redis.call('HSET', KEYS[1], 'available_at', ARGV[4], 'claimed_by', '', 'claimed_at', '')
end
return 'ok'
`)

// releaseScript requeues processing items claimed before a cutoff.
//
// KEYS: processing, delayed
// ARGV: cutoff (exclusive), now, item key prefix
var releaseScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[2], id)
  redis.call('HSET', ARGV[3] .. id, 'status', 'queued', 'available_at', ARGV[2],
    'claimed_by', '', 'claimed_at', '', 'updated_at', ARGV[2])
end
return #ids
`)

// purgeScript deletes processed items last updated before a cutoff.
//
// KEYS: processed, all
// ARGV: cutoff (exclusive), item key prefix
var purgeScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
  redis.call('DEL', ARGV[2] .. id)
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZREM', KEYS[2], id)
end
return #ids
`)

func micros(t time.Time) int64 { return t.UTC().UnixMicro() }

// EnqueueItem stores the item as a Hash and indexes it as delayed; the
// next claim promotes it once AvailableAt has passed.
func (s *Store) EnqueueItem(ctx context.Context, item *queue.Item) error {
	iID := item.ID.String()
	key := itemKey(iID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("outpost/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return outpost.ErrItemAlreadyExists
	}

	fields, err := itemToMap(item)
	if err != nil {
		return fmt.Errorf("outpost/redis: enqueue item: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ZAdd(ctx, allItemsKey, goredis.Z{Score: float64(micros(item.CreatedAt)), Member: iID})
	pipe.ZAdd(ctx, delayedKey, goredis.Z{Score: float64(micros(item.AvailableAt)), Member: iID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("outpost/redis: enqueue item: %w", err)
	}
	return nil
}

// ClaimItems atomically claims up to limit eligible items, oldest first.
func (s *Store) ClaimItems(ctx context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*queue.Item, error) {
	if limit <= 0 {
		return []*queue.Item{}, nil
	}
	ids, err := claimScript.Run(ctx, s.client,
		[]string{delayedKey, readyKey, processingKey},
		micros(now), limit, workerID.String(), itemKeyPrefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("outpost/redis: claim items: %w", err)
	}
	return s.getItems(ctx, ids)
}

// transition runs transitionScript and maps its reply to store errors.
// A current status equal to idempotent counts as success.
func (s *Store) transition(ctx context.Context, c queue.Claim, target queue.Status, targetSet string, score int64, lastError *string, idempotent queue.Status) error {
	iID := c.ItemID.String()
	setErr, errText := "0", ""
	if lastError != nil {
		setErr, errText = "1", *lastError
	}

	reply, err := transitionScript.Run(ctx, s.client,
		[]string{itemKey(iID), processingKey, targetSet},
		iID, string(target), micros(time.Now()), score, errText, setErr,
		c.WorkerID.String(), strconv.Itoa(c.Attempt),
	).Text()
	if err != nil {
		return fmt.Errorf("outpost/redis: transition item to %s: %w", target, err)
	}

	switch reply {
	case "ok":
		return nil
	case "lost":
		return outpost.ErrClaimLost
	case "":
		return outpost.ErrItemNotFound
	default:
		if idempotent != "" && queue.Status(reply) == idempotent {
			return nil
		}
		return outpost.ErrInvalidState
	}
}

// MarkItemProcessed moves the item held by c to processed.
func (s *Store) MarkItemProcessed(ctx context.Context, c queue.Claim) error {
	return s.transition(ctx, c, queue.StatusProcessed, processedKey,
		micros(time.Now()), nil, queue.StatusProcessed)
}

// RequeueItem moves the item held by c back to queued.
func (s *Store) RequeueItem(ctx context.Context, c queue.Claim, availableAt time.Time, lastError string) error {
	return s.transition(ctx, c, queue.StatusQueued, delayedKey,
		micros(availableAt), &lastError, "")
}

// DeadLetterItem moves the item held by c to dead_letter.
func (s *Store) DeadLetterItem(ctx context.Context, c queue.Claim, lastError string) error {
	return s.transition(ctx, c, queue.StatusDeadLetter, deadLetterKey,
		micros(time.Now()), &lastError, "")
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID id.ItemID) (*queue.Item, error) {
	iID := itemID.String()
	fields, err := s.client.HGetAll(ctx, itemKey(iID)).Result()
	if err != nil {
		return nil, fmt.Errorf("outpost/redis: get item: %w", err)
	}
	if len(fields) == 0 {
		return nil, outpost.ErrItemNotFound
	}
	return itemFromMap(iID, fields)
}

// ListItems returns items ordered by CreatedAt.
func (s *Store) ListItems(ctx context.Context, opts queue.ListOpts) ([]*queue.Item, error) {
	ids, err := s.client.ZRange(ctx, allItemsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("outpost/redis: list items zrange: %w", err)
	}
	all, err := s.getItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]*queue.Item, 0, len(all))
	for _, it := range all {
		if opts.Status != "" && it.Status != opts.Status {
			continue
		}
		items = append(items, it)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []*queue.Item{}, nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items, nil
}

// CountItems returns the number of items with status, or all items.
func (s *Store) CountItems(ctx context.Context, status queue.Status) (int64, error) {
	var keys []string
	switch status {
	case "":
		keys = []string{allItemsKey}
	case queue.StatusQueued:
		keys = []string{delayedKey, readyKey}
	case queue.StatusProcessing:
		keys = []string{processingKey}
	case queue.StatusProcessed:
		keys = []string{processedKey}
	case queue.StatusDeadLetter:
		keys = []string{deadLetterKey}
	default:
		return 0, nil
	}

	var total int64
	for _, k := range keys {
		n, err := s.client.ZCard(ctx, k).Result()
		if err != nil {
			return 0, fmt.Errorf("outpost/redis: count items: %w", err)
		}
		total += n
	}
	return total, nil
}

// ReleaseStale requeues processing items claimed before olderThan. The
// attempt counter is left as is.
func (s *Store) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := releaseScript.Run(ctx, s.client,
		[]string{processingKey, delayedKey},
		micros(olderThan), micros(time.Now()), itemKeyPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("outpost/redis: release stale items: %w", err)
	}
	return n, nil
}

// PurgeProcessed deletes processed items last updated before the cutoff.
func (s *Store) PurgeProcessed(ctx context.Context, before time.Time) (int64, error) {
	n, err := purgeScript.Run(ctx, s.client,
		[]string{processedKey, allItemsKey},
		micros(before), itemKeyPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("outpost/redis: purge processed items: %w", err)
	}
	return n, nil
}

// getItems loads items by ID in one pipeline, preserving order. IDs whose
// Hash has vanished are skipped.
func (s *Store) getItems(ctx context.Context, ids []string) ([]*queue.Item, error) {
	items := make([]*queue.Item, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, iID := range ids {
		cmds[i] = pipe.HGetAll(ctx, itemKey(iID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("outpost/redis: load items: %w", err)
	}

	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		it, err := itemFromMap(ids[i], fields)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// itemToMap encodes an item as Hash fields. Timestamps are Unix
// microseconds so scripts can score with them directly.
func itemToMap(it *queue.Item) (map[string]any, error) {
	env, err := json.Marshal(it.Envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	claimedAt := ""
	if it.ClaimedAt != nil {
		claimedAt = strconv.FormatInt(micros(*it.ClaimedAt), 10)
	}
	return map[string]any{
		"envelope":     string(env),
		"status":       string(it.Status),
		"attempts":     it.Attempts,
		"available_at": micros(it.AvailableAt),
		"last_error":   it.LastError,
		"claimed_by":   it.ClaimedBy.String(),
		"claimed_at":   claimedAt,
		"created_at":   micros(it.CreatedAt),
		"updated_at":   micros(it.UpdatedAt),
	}, nil
}

// itemFromMap decodes Hash fields into an item.
func itemFromMap(iID string, m map[string]string) (*queue.Item, error) {
	itemID, err := id.ParseItemID(iID)
	if err != nil {
		return nil, fmt.Errorf("outpost/redis: parse item id %q: %w", iID, err)
	}

	var env event.Envelope
	if err := json.Unmarshal([]byte(m["envelope"]), &env); err != nil {
		return nil, fmt.Errorf("outpost/redis: decode envelope %s: %w", iID, err)
	}

	it := &queue.Item{
		Entity: outpost.Entity{
			CreatedAt: parseMicros(m["created_at"]),
			UpdatedAt: parseMicros(m["updated_at"]),
		},
		ID:          itemID,
		Envelope:    env,
		Status:      queue.Status(m["status"]),
		AvailableAt: parseMicros(m["available_at"]),
		LastError:   m["last_error"],
	}
	it.Attempts, _ = strconv.Atoi(m["attempts"]) //nolint:errcheck // written by this package
	if v := m["claimed_by"]; v != "" {
		if worker, workerErr := id.ParseWorkerID(v); workerErr == nil {
			it.ClaimedBy = worker
		}
	}
	if v := m["claimed_at"]; v != "" {
		t := parseMicros(v)
		it.ClaimedAt = &t
	}
	return it, nil
}

// parseMicros decodes a Unix microsecond field; malformed or empty
// values yield the zero time.
func parseMicros(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMicro(n).UTC()
}
