package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message is done and its offset may be
// committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	log     *zap.Logger
	workers int
	// attempts per message before it is given up until the next restart
	attempts int
	backoff  time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, log: log, workers: workers, attempts: 5, backoff: 200 * time.Millisecond}
}

// Start fans messages out to a pool of workers and blocks until ctx is done
// or the reader fails. A failing message is retried with backoff; if it
// keeps failing its partition stops committing, so the message and
// everything after it are delivered again after a restart or rebalance.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	offsets := newOffsetTracker()
	var wg sync.WaitGroup

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				if !c.handle(ctx, h, m) {
					continue
				}
				if err := offsets.handled(m, func(upTo kafka.Message) error {
					return c.r.CommitMessages(ctx, upTo)
				}); err != nil {
					c.log.Warn("commit failed",
						zap.String("topic", m.Topic), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
				}
			}
		}()
	}
	stop := func() {
		close(jobs)
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		offsets.fetched(m)
		select {
		case jobs <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle runs h until it succeeds, attempts run out or ctx is done.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		fields := []zap.Field{
			zap.String("topic", m.Topic), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt), zap.Error(err),
		}
		if attempt >= c.attempts {
			c.log.Error("handler gave up, partition commits held", fields...)
			return false
		}
		c.log.Warn("handler failed, retrying", fields...)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
}

type partitionKey struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	order []int64 // fetched and not yet committed, ascending
	done  map[int64]kafka.Message
}

// offsetTracker commits a partition only up to its oldest unfinished
// message. Committing an offset in a consumer group acknowledges every
// earlier offset too.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: map[partitionKey]*partitionOffsets{}}
}

func (t *offsetTracker) part(m kafka.Message) *partitionOffsets {
	k := partitionKey{m.Topic, m.Partition}
	p, ok := t.parts[k]
	if !ok {
		p = &partitionOffsets{done: map[int64]kafka.Message{}}
		t.parts[k] = p
	}
	return p
}

func (t *offsetTracker) fetched(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.part(m)
	p.order = append(p.order, m.Offset)
}

// handled marks m done and calls commit with the newest message whose
// predecessors are all done, if that moved. commit runs under the lock so
// commits for a partition never go backwards.
func (t *offsetTracker) handled(m kafka.Message, commit func(kafka.Message) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.part(m)
	p.done[m.Offset] = m

	var upTo kafka.Message
	advanced := false
	for len(p.order) > 0 {
		dm, ok := p.done[p.order[0]]
		if !ok {
			break
		}
		delete(p.done, p.order[0])
		p.order = p.order[1:]
		upTo, advanced = dm, true
	}
	if !advanced {
		return nil
	}
	return commit(upTo)
}
