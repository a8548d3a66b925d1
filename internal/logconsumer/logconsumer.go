// Package logconsumer polls the consensus log substrate on a fixed
// cadence, advances a durable per-topic cursor, and delivers reassembled
// messages to the admission coordinator in sequence order exactly once.
package logconsumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethdenver2026/relay/internal/chunkreassembler"
	"github.com/ethdenver2026/relay/internal/logsource"
	"github.com/ethdenver2026/relay/internal/routestore"
)

// DefaultInterval is the default per-topic poll cadence.
const DefaultInterval = 5 * time.Second

// fetchLimit bounds how many messages are requested per tick.
const fetchLimit = 100

// Admitter is the sink for fully reassembled messages — satisfied by
// admission.Coordinator.
type Admitter interface {
	Admit(ctx context.Context, payload []byte)
}

// Consumer runs one periodic polling task for one topic.
type Consumer struct {
	Topic    string
	Interval time.Duration

	Source     logsource.Source
	Store      *routestore.Store
	Reassemble *chunkreassembler.Reassembler
	Admit      Admitter

	stop chan struct{}
	done chan struct{}
}

// New creates a Consumer for topic. interval <= 0 uses DefaultInterval.
func New(topic string, interval time.Duration, source logsource.Source, store *routestore.Store, admitter Admitter) *Consumer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Consumer{
		Topic:      topic,
		Interval:   interval,
		Source:     source,
		Store:      store,
		Reassemble: chunkreassembler.New(),
		Admit:      admitter,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the polling loop in its own goroutine. Each tick is
// sequential with respect to itself — a slow tick never overlaps with
// the next.
func (c *Consumer) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop terminates the loop at the next natural tick boundary. In-flight
// admission for the current tick is allowed to finish.
func (c *Consumer) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	firstTick := true
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx, firstTick)
			firstTick = false
		}
	}
}

// tick fetches new messages and processes them, advancing and
// persisting the cursor as it goes. Transient fetch errors are logged
// and retried next tick with the cursor unchanged.
func (c *Consumer) tick(ctx context.Context, isFirstTick bool) {
	cursor := c.Store.Cursor(c.Topic)

	afterSeq := cursor
	messages, err := c.Source.ListMessages(ctx, c.Topic, &afterSeq, fetchLimit)
	if err != nil {
		if isNotFound(err) {
			return
		}
		slog.Warn("logconsumer: fetch failed, retrying next tick", "topic", c.Topic, "err", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	if isFirstTick && cursor == 1 {
		// Fresh node: skip history, jump the cursor past the
		// pre-existing tail without delivering anything this tick.
		maxSeq := cursor
		for _, m := range messages {
			if m.SequenceNumber > maxSeq {
				maxSeq = m.SequenceNumber
			}
		}
		if err := c.Store.SetCursor(c.Topic, maxSeq); err != nil {
			slog.Error("logconsumer: fatal — cannot persist resync cursor", "topic", c.Topic, "err", err)
		}
		return
	}

	c.Reassemble.Sweep(time.Now())

	for _, msg := range messages {
		if msg.SequenceNumber <= cursor {
			continue
		}

		reassembled, ready := c.Reassemble.Feed(msg)
		if ready && reassembled != nil {
			c.Admit.Admit(ctx, reassembled.Payload)
		}

		// Whether or not admission succeeded — or this message was
		// only a partial chunk — advance and persist the cursor
		// before moving to the next message.
		cursor = msg.SequenceNumber
		if err := c.Store.SetCursor(c.Topic, cursor); err != nil {
			slog.Error("logconsumer: fatal — cannot persist cursor advance", "topic", c.Topic, "err", err)
			return
		}
	}
}

// notFoundError lets logsource implementations signal "no messages"
// distinctly from a transient failure, without this package importing
// net/http status machinery beyond what's needed to check it.
type notFoundError struct{ error }

// NotFound wraps err so isNotFound recognises it as "no messages",
// matching the §4.4/§6 rule that a 404 on the messages endpoint is not
// an error.
func NotFound(err error) error { return notFoundError{err} }

func isNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf)
}
