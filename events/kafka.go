package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the part of *kafka.Writer the tap uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTap exports every bus event to a Kafka topic for offline analysis.
// Events are queued and written in batches by one goroutine; when the queue
// is full new events are dropped and counted.
type KafkaTap struct {
	w      messageWriter
	logger *zap.Logger

	mu      sync.Mutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped int64
}

// NewKafkaTap creates a tap writing to topic on brokers.
func NewKafkaTap(brokers []string, topic string, logger *zap.Logger) *KafkaTap {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 200 * time.Millisecond,
		Async:        false,
	}
	return newKafkaTap(w, logger)
}

func newKafkaTap(w messageWriter, logger *zap.Logger) *KafkaTap {
	t := &KafkaTap{
		w:      w,
		logger: logger,
		queue:  make(chan Event, 1024),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

// Offer queues e without blocking.
func (t *KafkaTap) Offer(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- e:
	default:
		t.dropped++
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (t *KafkaTap) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

func (t *KafkaTap) run() {
	defer close(t.done)
	batch := make([]kafka.Message, 0, 64)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.w.WriteMessages(ctx, batch...); err != nil {
			t.logger.Warn("kafka export failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
		batch = batch[:0]
	}
	for e := range t.queue {
		value, err := json.Marshal(e)
		if err != nil {
			continue
		}
		batch = append(batch, kafka.Message{Key: []byte(e.Topic()), Value: value, Time: e.At})
		// Drain whatever is already queued into the same batch.
		for len(batch) < cap(batch) {
			select {
			case more, ok := <-t.queue:
				if !ok {
					flush()
					return
				}
				if v, err := json.Marshal(more); err == nil {
					batch = append(batch, kafka.Message{Key: []byte(more.Topic()), Value: v, Time: more.At})
				}
				continue
			default:
			}
			break
		}
		flush()
	}
	flush()
}

// Close flushes queued events and closes the writer.
func (t *KafkaTap) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()
	<-t.done
	return t.w.Close()
}
