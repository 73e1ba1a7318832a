package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	rd "github.com/redis/go-redis/v9"
)

func msg(id string, values map[string]any) rd.XMessage {
	return rd.XMessage{ID: id, Values: values}
}

func TestGroupByActionBucketsPerAction(t *testing.T) {
	msgs := []rd.XMessage{
		msg("1-0", map[string]any{"action": "completed", "payload": `{"sku":"A"}`, "metadata": `{"timestamp":1,"traceId":"t1"}`}),
		msg("2-0", map[string]any{"action": "updated", "payload": `{"sku":"B"}`, "metadata": `{"timestamp":2,"traceId":"t2"}`}),
		msg("3-0", map[string]any{"action": "completed", "payload": `{"sku":"C"}`, "metadata": `{"timestamp":3,"traceId":"t3"}`}),
	}

	batches, malformed := GroupByAction(msgs)
	if len(malformed) != 0 {
		t.Fatalf("malformed = %v, want none", malformed)
	}
	if got := len(batches[Action("completed")]); got != 2 {
		t.Fatalf("completed batch size = %d, want 2", got)
	}
	if got := len(batches[Action("updated")]); got != 1 {
		t.Fatalf("updated batch size = %d, want 1", got)
	}

	// Delivery order preserved within a bucket.
	completed := batches[Action("completed")]
	if completed[0].ID != "1-0" || completed[1].ID != "3-0" {
		t.Fatalf("completed order = [%s %s], want [1-0 3-0]", completed[0].ID, completed[1].ID)
	}
	if completed[0].Metadata.TraceID != "t1" {
		t.Fatalf("traceId = %q, want t1", completed[0].Metadata.TraceID)
	}

	var payload struct {
		SKU string `json:"sku"`
	}
	if err := json.Unmarshal(completed[1].Payload, &payload); err != nil || payload.SKU != "C" {
		t.Fatalf("payload decode = %+v, %v", payload, err)
	}
}

func TestGroupByActionReportsMalformed(t *testing.T) {
	msgs := []rd.XMessage{
		msg("1-0", map[string]any{"payload": `{}`}),
		msg("2-0", map[string]any{"action": "completed", "metadata": `not-json`}),
		msg("3-0", map[string]any{"action": "completed", "payload": `{}`}),
	}

	batches, malformed := GroupByAction(msgs)
	if len(malformed) != 2 {
		t.Fatalf("malformed = %v, want 2 entries", malformed)
	}
	if got := len(batches[Action("completed")]); got != 1 {
		t.Fatalf("completed batch size = %d, want 1", got)
	}
}

func ackSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func TestRunHandlersAcksOnSuccess(t *testing.T) {
	st := New(nil, "order", "workers")
	var gotBatch []Event
	st.On("completed", func(_ context.Context, batch []Event) error {
		gotBatch = batch
		return nil
	})

	batches := map[Action][]Event{"completed": {{ID: "1-0"}, {ID: "2-0"}}}
	ack, failed := st.runHandlers(context.Background(), batches)
	if failed {
		t.Fatal("failed = true, want false")
	}
	if len(gotBatch) != 2 {
		t.Fatalf("handler batch size = %d, want 2", len(gotBatch))
	}
	set := ackSet(ack)
	if len(set) != 2 || !set["1-0"] || !set["2-0"] {
		t.Fatalf("ack = %v, want both ids", ack)
	}
}

func TestRunHandlersKeepsFailedBatchPending(t *testing.T) {
	st := New(nil, "order", "workers")
	st.On("completed", func(context.Context, []Event) error {
		return errors.New("db down")
	})

	batches := map[Action][]Event{"completed": {{ID: "1-0"}}}
	ack, failed := st.runHandlers(context.Background(), batches)
	if !failed {
		t.Fatal("failed = false, want true")
	}
	if len(ack) != 0 {
		t.Fatalf("ack = %v, want none (batch must stay pending)", ack)
	}
}

func TestRunHandlersAcksUnregisteredAction(t *testing.T) {
	st := New(nil, "order", "workers")

	batches := map[Action][]Event{"deleted": {{ID: "1-0"}, {ID: "2-0"}}}
	ack, failed := st.runHandlers(context.Background(), batches)
	if failed {
		t.Fatal("failed = true, want false")
	}
	if len(ack) != 2 {
		t.Fatalf("ack = %v, want both ids drained", ack)
	}
}

func TestRunHandlersMixedOutcomes(t *testing.T) {
	st := New(nil, "order", "workers")
	st.On("completed", func(context.Context, []Event) error { return nil })
	st.On("updated", func(context.Context, []Event) error {
		return errors.New("handler broken")
	})

	batches := map[Action][]Event{
		"completed": {{ID: "1-0"}},
		"updated":   {{ID: "2-0"}},
		"deleted":   {{ID: "3-0"}},
	}
	ack, failed := st.runHandlers(context.Background(), batches)
	if !failed {
		t.Fatal("failed = false, want true (one handler errored)")
	}
	set := ackSet(ack)
	if !set["1-0"] || !set["3-0"] {
		t.Fatalf("ack = %v, want the successful and unregistered batches", ack)
	}
	if set["2-0"] {
		t.Fatalf("ack = %v, failed batch must stay pending", ack)
	}
}

func TestGroupByActionHandlesByteValues(t *testing.T) {
	msgs := []rd.XMessage{
		msg("1-0", map[string]any{"action": []byte("completed"), "payload": []byte(`{"q":1}`)}),
	}
	batches, malformed := GroupByAction(msgs)
	if len(malformed) != 0 {
		t.Fatalf("malformed = %v, want none", malformed)
	}
	if got := len(batches[Action("completed")]); got != 1 {
		t.Fatalf("completed batch size = %d, want 1", got)
	}
}
