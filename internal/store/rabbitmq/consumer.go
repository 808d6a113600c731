package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPermanent marks a failure that retrying cannot fix; the message goes
// straight to the DLQ.
var ErrPermanent = errors.New("rabbitmq: permanent failure")

func Permanent(err error) error { return fmt.Errorf("%w: %w", ErrPermanent, err) }

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

type disposition int

const (
	ack disposition = iota
	retry
	dead
)

func decide(err error, attempt, maxAttempts int) disposition {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, ErrPermanent):
		return dead
	case attempt+1 >= maxAttempts:
		return dead
	default:
		return retry
	}
}

// backoff doubles from base per attempt.
func backoff(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int

	MaxAttempts int
	RetryBase   time.Duration

	pubMu sync.Mutex
}

func NewConsumer(url, queue string, concurrency int) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		concurrency: concurrency,
		MaxAttempts: 3,
		RetryBase:   5 * time.Second,
	}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run feeds deliveries to a fixed pool of workers until ctx ends, then waits
// for in-flight messages to finish.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	slog.Info("consumer started", "queue", c.queue, "concurrency", c.concurrency)

	jobs := make(chan amqp.Delivery, c.concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.process(ctx, workerID, d, h)
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("consumer shutting down", "queue", c.queue)
			close(jobs)
			wg.Wait()
			return nil
		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return errors.New("rabbitmq: delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery, h Handler) {
	start := time.Now()
	attempt := Attempt(d.Headers)
	// let an in-flight message finish after shutdown starts
	err := h(context.WithoutCancel(ctx), d.Body)

	switch decide(err, attempt, c.MaxAttempts) {
	case ack:
		if cost := time.Since(start); cost > 2*time.Second {
			slog.Info("message_timing", "worker", workerID, "attempt", attempt, "total_ms", cost.Milliseconds())
		}
		if err := d.Ack(false); err != nil {
			slog.Error("ack failed", "worker", workerID, "error", err)
		}
	case retry:
		delay := backoff(c.RetryBase, attempt)
		slog.Warn("message failed, retrying", "worker", workerID, "attempt", attempt, "delay", delay, "cost_ms", time.Since(start).Milliseconds(), "error", err)
		if perr := c.publishRetry(ctx, d.Body, attempt+1, delay); perr != nil {
			slog.Error("retry publish failed", "worker", workerID, "error", perr)
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
	case dead:
		slog.Error("message dead-lettered", "worker", workerID, "attempt", attempt, "cost_ms", time.Since(start).Milliseconds(), "error", err)
		_ = d.Nack(false, false)
	}
}

// publishRetry parks a message on the retry queue; it returns to the main
// queue after delay.
func (c *Consumer) publishRetry(ctx context.Context, body []byte, attempt int, delay time.Duration) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return publish(context.WithoutCancel(ctx), c.ch, RetryQueue(c.queue), body,
		amqp.Table{AttemptHeader: int32(attempt)},
		strconv.FormatInt(delay.Milliseconds(), 10))
}
