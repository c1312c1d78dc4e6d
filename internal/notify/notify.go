// Package notify fans out store change notifications to in-process subscribers.
//
// Notifier implements storage.ChangeSink; wrap a gateway with
// storage.Observe(gw, notifier, ...) and every committed mutation that
// touched rows becomes one Change on every open subscription. Delivery is
// best effort: changes published while nobody is subscribed are dropped.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"mediasync/internal/logging"
	"mediasync/internal/metrics"
	"mediasync/internal/storage"
)

// DefaultTopic carries every change.
const DefaultTopic = "mediasync.changes"

// Options configures a Notifier.
type Options struct {
	Topic string
	// Buffer is the per-subscriber channel size. Default 64.
	Buffer int64
}

// Notifier publishes storage.Change values over a watermill go-channel pub/sub.
type Notifier struct {
	pubsub    *gochannel.GoChannel
	topic     string
	buffer    int
	closeOnce sync.Once
}

var _ storage.ChangeSink = (*Notifier)(nil)

// New creates a Notifier.
func New(opts Options) *Notifier {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	return &Notifier{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: opts.Buffer}, logAdapter{}),
		topic:  opts.Topic,
		buffer: int(opts.Buffer),
	}
}

// Publish sends c to every current subscriber.
func (n *Notifier) Publish(ctx context.Context, c storage.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("notify: encode change: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("table", c.Table)
	msg.Metadata.Set("op", c.Op)
	if id := logging.CorrelationID(ctx); id != "" {
		msg.Metadata.Set("correlation_id", id)
	}
	if err := n.pubsub.Publish(n.topic, msg); err != nil {
		return fmt.Errorf("notify: publish %s: %w", c.Table, err)
	}
	metrics.RecordChange(c.Table)
	return nil
}

// Subscribe returns a channel of changes published from now on. The channel
// closes when ctx is done or the Notifier is closed.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan storage.Change, error) {
	msgs, err := n.pubsub.Subscribe(ctx, n.topic)
	if err != nil {
		return nil, fmt.Errorf("notify: subscribe: %w", err)
	}
	out := make(chan storage.Change, n.buffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			var c storage.Change
			err := json.Unmarshal(msg.Payload, &c)
			// Nack would make the go-channel redeliver forever.
			msg.Ack()
			if err != nil {
				logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("notify: dropping undecodable change")
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close ends every subscription. It is safe to call more than once.
func (n *Notifier) Close() error {
	var err error
	n.closeOnce.Do(func() { err = n.pubsub.Close() })
	return err
}

// logAdapter routes watermill's logs to the global zerolog logger.
// watermill's Info is routine lifecycle chatter and is logged at debug.
type logAdapter struct {
	fields watermill.LogFields
}

func (a logAdapter) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(map[string]any(a.fields.Add(fields))).Str("component", "notify").Msg(msg)
}

func (a logAdapter) Info(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(a.fields.Add(fields))).Str("component", "notify").Msg(msg)
}

func (a logAdapter) Debug(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(a.fields.Add(fields))).Str("component", "notify").Msg(msg)
}

func (a logAdapter) Trace(string, watermill.LogFields) {}

func (a logAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return logAdapter{fields: a.fields.Add(fields)}
}
