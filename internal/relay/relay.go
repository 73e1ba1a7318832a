package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bosquejun/flashdrop/internal/model"
	"github.com/bosquejun/flashdrop/internal/obs"
	"github.com/bosquejun/flashdrop/internal/order"
	"github.com/bosquejun/flashdrop/internal/stream"
)

type kafkaPublisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// Relay republishes order.completed events to Kafka. Messages are acked on
// the stream only after Kafka confirms the write, so a broker outage keeps
// them pending instead of dropping them.
type Relay struct {
	producer kafkaPublisher
}

func New(producer kafkaPublisher) *Relay {
	return &Relay{producer: producer}
}

// Register wires the relay onto the order stream.
func (r *Relay) Register(st *stream.Stream) {
	st.On(order.ActionCompleted, r.forward)
}

func (r *Relay) forward(ctx context.Context, batch []stream.Event) error {
	for _, ev := range batch {
		var o model.Order
		if err := json.Unmarshal(ev.Payload, &o); err != nil {
			// Dirty message: skip it rather than wedge the whole batch.
			obs.Logger.Warn("relay skipping undecodable event", "id", ev.ID, "err", err)
			continue
		}
		if err := r.producer.Publish(ctx, o.PaymentReference, &o); err != nil {
			return fmt.Errorf("relay publish %s: %w", ev.ID, err)
		}
	}
	obs.Logger.Debug("relay forwarded batch", "size", len(batch))
	return nil
}
