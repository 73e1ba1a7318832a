// Package stream is a durable event stream on Redis Streams: at-least-once
// delivery to named consumer groups, competing consumers, per-message acks
// and batch-oriented handler dispatch.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"

	"github.com/bosquejun/flashdrop/internal/obs"
)

// maxLen bounds stream retention (approximate trim). Reconciliation only
// needs a bounded backlog, not infinite history.
const maxLen = 10000

// failureBackoff paces retries of a batch whose handler failed. The pending
// read returns that batch again immediately, so without a pause a dead
// dependency turns the listen loop into a busy spin.
const failureBackoff = 200 * time.Millisecond

// Action names an event kind within a domain stream.
type Action string

// Metadata travels with every event.
type Metadata struct {
	Timestamp int64             `json:"timestamp"`
	TraceID   string            `json:"traceId"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Event is one delivered message: opaque id for acking, raw payload for the
// handler to decode, plus metadata.
type Event struct {
	ID       string
	Payload  json.RawMessage
	Metadata Metadata
}

// Handler receives the full batch of events pulled for one action in one
// poll cycle. Returning an error leaves every message in the batch
// unacknowledged for redelivery, so handlers must tolerate duplicates.
type Handler func(ctx context.Context, batch []Event) error

// Stream is one domain's event log plus this process's consumer identity.
// Register handlers with On before calling Listen; registration is not safe
// concurrently with Listen.
type Stream struct {
	rdb      *rd.Client
	key      string
	group    string
	consumer string
	handlers map[Action]Handler
}

// New builds a stream for a domain ("order", "product") and consumer group.
func New(rdb *rd.Client, domain, group string) *Stream {
	return &Stream{
		rdb:      rdb,
		key:      fmt.Sprintf("stream:%s", domain),
		group:    group,
		consumer: fmt.Sprintf("worker-%s", uuid.New().String()),
		handlers: make(map[Action]Handler),
	}
}

// On registers the handler for an action. One handler per action; actions
// without a handler are drained with an immediate ack.
func (s *Stream) On(action Action, h Handler) {
	s.handlers[action] = h
}

// Publish appends one event. Trace id and timestamp are filled in when the
// caller does not supply them. The log is trimmed to roughly maxLen entries.
func (s *Stream) Publish(ctx context.Context, action Action, payload any, meta *Metadata) error {
	m := Metadata{Timestamp: time.Now().UnixMilli(), TraceID: uuid.New().String()}
	if meta != nil {
		if meta.Timestamp != 0 {
			m.Timestamp = meta.Timestamp
		}
		if meta.TraceID != "" {
			m.TraceID = meta.TraceID
		}
		m.Meta = meta.Meta
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("stream publish %s/%s: marshal payload: %w", s.key, action, err)
	}
	rawMeta, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("stream publish %s/%s: marshal metadata: %w", s.key, action, err)
	}

	err = s.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: s.key,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"action":   string(action),
			"payload":  string(rawPayload),
			"metadata": string(rawMeta),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("stream publish %s/%s: %w", s.key, action, err)
	}
	return nil
}

// Listen drains the stream until ctx is cancelled. Each cycle pulls up to
// batchSize messages for this consumer (pending entries first, then new
// ones), groups them by action and invokes each registered handler once
// with its batch. Acks follow handler success; handler failure leaves the
// batch pending for redelivery. Read errors back off and retry.
func (s *Stream) Listen(ctx context.Context, batchSize int) {
	if batchSize <= 0 {
		batchSize = 10
	}
	if err := s.ensureGroup(ctx); err != nil {
		obs.Logger.Error("stream group create failed", "stream", s.key, "group", s.group, "err", err)
		return
	}
	obs.Logger.Info("stream listening", "stream", s.key, "group", s.group, "consumer", s.consumer)

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := s.read(ctx, "0", 0, batchSize)
		if err == nil && len(msgs) == 0 {
			msgs, err = s.read(ctx, ">", 2*time.Second, batchSize)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			obs.Logger.Error("stream read failed", "stream", s.key, "err", err)
			sleep(ctx, 2*time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		if failed := s.dispatch(ctx, msgs); failed {
			sleep(ctx, failureBackoff)
		}
	}
}

func (s *Stream) ensureGroup(ctx context.Context) error {
	// Group starts at 0 so a consumer brought up after the first publish
	// still drains the backlog.
	err := s.rdb.XGroupCreateMkStream(ctx, s.key, s.group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (s *Stream) read(ctx context.Context, id string, block time.Duration, count int) ([]rd.XMessage, error) {
	streams, err := s.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.key, id},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, count)
	for _, st := range streams {
		out = append(out, st.Messages...)
	}
	return out, nil
}

// dispatch parses and routes one read cycle, then acks whatever is safe to
// ack. It reports whether any handler failed and left its batch pending.
func (s *Stream) dispatch(ctx context.Context, msgs []rd.XMessage) bool {
	batches, malformed := GroupByAction(msgs)

	// Malformed entries are acked and dropped so they cannot wedge the group.
	for _, id := range malformed {
		obs.Logger.Warn("stream dropping malformed message", "stream", s.key, "id", id)
	}
	s.ack(ctx, malformed)

	ackIDs, failed := s.runHandlers(ctx, batches)
	s.ack(ctx, ackIDs)
	return failed
}

// runHandlers invokes each registered handler with its action batch and
// returns the ids safe to acknowledge: batches whose handler succeeded,
// plus batches with no handler at all. A failed handler keeps its ids out
// of the ack set so the group redelivers them.
func (s *Stream) runHandlers(ctx context.Context, batches map[Action][]Event) (ack []string, failed bool) {
	for action, batch := range batches {
		handler, ok := s.handlers[action]
		if !ok {
			// No consumer for this action: ack immediately so the backlog
			// cannot grow without bound.
			ack = append(ack, eventIDs(batch)...)
			continue
		}
		if err := handler(ctx, batch); err != nil {
			obs.Logger.Warn("stream handler failed, batch left pending",
				"stream", s.key, "action", string(action), "size", len(batch), "err", err)
			failed = true
			continue
		}
		ack = append(ack, eventIDs(batch)...)
	}
	return ack, failed
}

func (s *Stream) ack(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.rdb.XAck(ctx, s.key, s.group, ids...).Err(); err != nil {
		// The messages will be redelivered; handlers are idempotent-enough.
		obs.Logger.Warn("stream ack failed", "stream", s.key, "ids", ids, "err", err)
	}
}

// GroupByAction parses raw stream entries and buckets them per action,
// preserving delivery order within each bucket. Entries missing an action
// or carrying unparseable metadata are reported as malformed.
func GroupByAction(msgs []rd.XMessage) (map[Action][]Event, []string) {
	batches := make(map[Action][]Event)
	var malformed []string

	for _, m := range msgs {
		action, ev, err := parseMessage(m)
		if err != nil {
			malformed = append(malformed, m.ID)
			continue
		}
		batches[action] = append(batches[action], ev)
	}
	return batches, malformed
}

func parseMessage(m rd.XMessage) (Action, Event, error) {
	rawAction, ok := stringField(m.Values, "action")
	if !ok || rawAction == "" {
		return "", Event{}, fmt.Errorf("message %s: missing action", m.ID)
	}

	ev := Event{ID: m.ID}
	if payload, ok := stringField(m.Values, "payload"); ok {
		ev.Payload = json.RawMessage(payload)
	}
	if metaRaw, ok := stringField(m.Values, "metadata"); ok && metaRaw != "" {
		if err := json.Unmarshal([]byte(metaRaw), &ev.Metadata); err != nil {
			return "", Event{}, fmt.Errorf("message %s: bad metadata: %w", m.ID, err)
		}
	}
	return Action(rawAction), ev, nil
}

func stringField(values map[string]any, key string) (string, bool) {
	v, ok := values[key]
	if !ok {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	default:
		return fmt.Sprint(x), true
	}
}

func eventIDs(batch []Event) []string {
	ids := make([]string, len(batch))
	for i, ev := range batch {
		ids[i] = ev.ID
	}
	return ids
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
