package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName  = "FACEATTEND"
	SubjectBase = "faceattend"
)

// NATSQueue publishes to a JetStream work-queue stream. Each message type is
// its own subject under SubjectBase.
type NATSQueue struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer string
}

// NewNATSQueue connects and makes sure the stream exists.
func NewNATSQueue(ctx context.Context, natsURL, consumerName string) (*NATSQueue, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(opCtx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectBase + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Description: "Check-in jobs and attendance notifications",
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream %s: %w", StreamName, err)
	}

	if consumerName == "" {
		consumerName = "faceattend-worker"
	}
	return &NATSQueue{nc: nc, js: js, consumer: consumerName}, nil
}

// Subject returns the subject used for a message type.
func Subject(msgType string) string {
	return SubjectBase + "." + msgType
}

// Publish sends the message body on the subject of its type.
func (q *NATSQueue) Publish(ctx context.Context, msg Message) error {
	if _, err := q.js.Publish(ctx, Subject(msg.Type), msg.Body); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

// Consume fetches from a durable consumer. Messages are acked once handed to
// the returned channel.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	stream, err := q.js.Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", StreamName, err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          q.consumer,
		Durable:       q.consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		FilterSubject: SubjectBase + ".>",
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", q.consumer, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("nats fetch failed", "error", err)
				time.Sleep(time.Second)
				continue
			}
			for m := range batch.Messages() {
				msg := Message{Type: strings.TrimPrefix(m.Subject(), SubjectBase+"."), Body: m.Data()}
				select {
				case out <- msg:
					_ = m.Ack()
				case <-ctx.Done():
					_ = m.Nak()
					return
				}
			}
		}
	}()

	slog.Info("nats consumer started", "consumer", q.consumer)
	return out, nil
}

// Ping reports whether the connection is up.
func (q *NATSQueue) Ping() error {
	if !q.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

// Close closes the connection.
func (q *NATSQueue) Close() {
	q.nc.Close()
}
