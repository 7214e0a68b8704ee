package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/queue"
)

// Request headers set on every delivery.
const (
	HeaderEvent     = "X-Outpost-Event"
	HeaderDelivery  = "X-Outpost-Delivery"
	HeaderTimestamp = "X-Outpost-Timestamp"
	HeaderSignature = "X-Outpost-Signature"
)

// maxResponseDrain bounds how much of a response body is read before the
// connection is returned to the pool.
const maxResponseDrain = 64 << 10

// Emitter receives delivery outcomes. ext.Registry satisfies it.
type Emitter interface {
	EmitWebhookDelivered(ctx context.Context, d *Delivery)
	EmitWebhookFailed(ctx context.Context, d *Delivery)
}

// Body is the JSON document posted to subscribers.
type Body struct {
	ID      id.ItemID      `json:"id"`
	Attempt int            `json:"attempt"`
	Event   event.Envelope `json:"event"`
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithHTTPClient sets the client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fanout) { f.client = c }
}

// WithTimeout bounds each delivery request.
func WithTimeout(d time.Duration) Option {
	return func(f *Fanout) { f.timeout = d }
}

// WithSigner replaces the HMAC signer.
func WithSigner(s Signer) Option {
	return func(f *Fanout) { f.signer = s }
}

// WithMaxParallel bounds concurrent deliveries for one event.
func WithMaxParallel(n int) Option {
	return func(f *Fanout) { f.maxParallel = n }
}

// WithHostLimiter throttles deliveries per target host: each request holds
// one of the host's MaxConcurrency slots and takes one rate token.
func WithHostLimiter(l *queue.Limiter) Option {
	return func(f *Fanout) { f.limiter = l }
}

// WithEmitter reports delivery outcomes.
func WithEmitter(e Emitter) Option {
	return func(f *Fanout) { f.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fanout) { f.logger = l }
}

// Fanout posts events to matching subscriptions.
type Fanout struct {
	source      SubscriptionSource
	deliveries  DeliveryStore
	client      *http.Client
	timeout     time.Duration
	signer      Signer
	maxParallel int
	limiter     *queue.Limiter
	emitter     Emitter
	logger      *slog.Logger
	now         func() time.Time
}

// NewFanout creates a Fanout reading subscriptions from source and
// recording attempts in deliveries.
func NewFanout(source SubscriptionSource, deliveries DeliveryStore, opts ...Option) *Fanout {
	f := &Fanout{
		source:      source,
		deliveries:  deliveries,
		client:      http.DefaultClient,
		timeout:     10 * time.Second,
		signer:      HMACSigner{},
		maxParallel: 8,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Deliver sends item to every matching subscription and returns one
// Delivery per attempt. On a retried item (Attempts > 1) subscriptions
// that already have a delivered row for the item are skipped, so a
// subscriber receives each event once while failed subscribers get
// another attempt with every item retry. Per-subscription failures are
// recorded, not returned; an error means the subscriptions could not be
// listed or the body could not be encoded.
func (f *Fanout) Deliver(ctx context.Context, item *queue.Item) ([]*Delivery, error) {
	subs, err := f.source.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("outpost: list subscriptions: %w", err)
	}

	done := f.deliveredTo(ctx, item)
	matched := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s.Matches(item.Envelope.Name, item.Envelope.SiteID) && !done[s.ID.String()] {
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(Body{ID: item.ID, Attempt: item.Attempts, Event: item.Envelope})
	if err != nil {
		return nil, fmt.Errorf("outpost: encode webhook body: %w", err)
	}

	out := make([]*Delivery, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	if f.maxParallel > 0 {
		g.SetLimit(f.maxParallel)
	}
	for i, sub := range matched {
		g.Go(func() error {
			d := f.deliverOne(gctx, sub, item, body)
			if recErr := f.deliveries.RecordDelivery(ctx, d); recErr != nil {
				f.logger.Error("record webhook delivery failed",
					slog.String("delivery_id", d.ID.String()),
					slog.String("subscription_id", sub.ID.String()),
					slog.String("error", recErr.Error()),
				)
			}
			f.emit(ctx, d)
			out[i] = d
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors

	return out, nil
}

// deliveredTo returns the subscriptions that already accepted item on an
// earlier attempt. A lookup failure is logged and treated as none.
func (f *Fanout) deliveredTo(ctx context.Context, item *queue.Item) map[string]bool {
	if item.Attempts <= 1 {
		return nil
	}
	prior, err := f.deliveries.ListDeliveries(ctx, ListOpts{EventID: item.ID})
	if err != nil {
		f.logger.Warn("list prior webhook deliveries failed",
			slog.String("item_id", item.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	done := make(map[string]bool, len(prior))
	for _, d := range prior {
		if d.Outcome == OutcomeDelivered {
			done[d.SubscriptionID.String()] = true
		}
	}
	return done
}

func (f *Fanout) deliverOne(ctx context.Context, sub *Subscription, item *queue.Item, body []byte) *Delivery {
	start := f.now()
	d := &Delivery{
		ID:             id.NewDeliveryID(),
		SubscriptionID: sub.ID,
		EventID:        item.ID,
		EventName:      item.Envelope.Name,
		Attempt:        item.Attempts,
		CreatedAt:      start.UTC(),
	}

	status, err := f.post(ctx, sub, d, body)
	d.DurationMs = time.Since(start).Milliseconds()
	d.StatusCode = status
	switch {
	case err != nil:
		d.Outcome = OutcomeFailed
		d.Error = outpost.TruncateError(err)
	case status < 200 || status > 299:
		d.Outcome = OutcomeFailed
		d.Error = fmt.Sprintf("unexpected status %d", status)
	default:
		d.Outcome = OutcomeDelivered
	}
	return d
}

func (f *Fanout) post(ctx context.Context, sub *Subscription, d *Delivery, body []byte) (int, error) {
	u, err := url.Parse(sub.URL)
	if err != nil {
		return 0, fmt.Errorf("parse url: %w", err)
	}
	if err := f.limiter.Acquire(ctx, u.Host); err != nil {
		return 0, fmt.Errorf("host limit: %w", err)
	}
	defer f.limiter.Release(u.Host)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	ts := strconv.FormatInt(f.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, d.EventName)
	req.Header.Set(HeaderDelivery, d.ID.String())
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, f.signer.Sign(sub.Secret, ts, body))

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain)) //nolint:errcheck // drain only

	return resp.StatusCode, nil
}

func (f *Fanout) emit(ctx context.Context, d *Delivery) {
	if d.Outcome == OutcomeDelivered {
		f.logger.Debug("webhook delivered",
			slog.String("delivery_id", d.ID.String()),
			slog.String("subscription_id", d.SubscriptionID.String()),
			slog.Int("status", d.StatusCode),
		)
		if f.emitter != nil {
			f.emitter.EmitWebhookDelivered(ctx, d)
		}
		return
	}
	f.logger.Warn("webhook delivery failed",
		slog.String("delivery_id", d.ID.String()),
		slog.String("subscription_id", d.SubscriptionID.String()),
		slog.Int("status", d.StatusCode),
		slog.String("error", d.Error),
	)
	if f.emitter != nil {
		f.emitter.EmitWebhookFailed(ctx, d)
	}
}
