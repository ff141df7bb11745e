package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Processor handles one parsed submission event. A nil return means the
// message is done (including the benign quiz-not-found outcome); an error
// means a transient infrastructure failure worth redelivering.
type Processor interface {
	Process(ctx context.Context, ev domain.QuizSubmittedEvent) error
}

// Config describes the broker topology and connection policy.
type Config struct {
	URL             string
	Exchange        string
	Queue           string
	RoutingKey      string
	Prefetch        int
	ConnectAttempts int
}

const (
	defaultExchange   = "quiz_exchange"
	defaultQueue      = "quiz_submissions"
	defaultRoutingKey = "quiz_submitted"
	defaultAttempts   = 10
	baseBackoff       = time.Second
	maxBackoff        = 30 * time.Second
)

// Consumer maintains a durable subscription to the submission queue and
// drives the processor for every delivery, translating outcomes into
// acknowledgment decisions.
type Consumer struct {
	cfg       Config
	processor Processor
	log       *zap.Logger
}

func NewConsumer(cfg Config, processor Processor, log *zap.Logger) *Consumer {
	if cfg.Exchange == "" {
		cfg.Exchange = defaultExchange
	}
	if cfg.Queue == "" {
		cfg.Queue = defaultQueue
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = defaultRoutingKey
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = defaultAttempts
	}
	return &Consumer{cfg: cfg, processor: processor, log: log}
}

// Run connects to the broker and consumes until ctx is canceled. Failing to
// establish the first connection after all attempts is a fatal startup
// condition and is returned to the caller. A connection lost later is
// re-established with the same backoff schedule.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		conn, ch, deliveries, err := c.connect(ctx)
		if err != nil {
			return fmt.Errorf("rabbitmq consumer unavailable: %w", err)
		}
		c.log.Info("consuming submissions",
			zap.String("queue", c.cfg.Queue),
			zap.String("exchange", c.cfg.Exchange),
			zap.String("routingKey", c.cfg.RoutingKey))

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		again := c.consumeLoop(ctx, deliveries, closed)

		_ = ch.Close()
		_ = conn.Close()
		if !again {
			c.log.Info("consumer stopped")
			return nil
		}
		c.log.Warn("broker connection lost, reconnecting")
	}
}

// consumeLoop drains deliveries until shutdown (returns false) or until the
// connection drops (returns true).
func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-closed:
			if err != nil {
				c.log.Warn("broker closed connection", zap.Error(err))
			}
			return true
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery decides the acknowledgment for one message.
//
//   - body fails to parse: nack without requeue, it will never parse
//   - processing succeeds or the quiz is unknown: ack
//   - processing fails (store/infra): nack with requeue for redelivery
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var ev domain.QuizSubmittedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.log.Error("malformed submission message, discarding",
			zap.ByteString("body", d.Body),
			zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := c.processor.Process(ctx, ev); err != nil {
		c.log.Error("submission processing failed, requeueing",
			zap.Int("quizId", ev.QuizID),
			zap.Int("userId", ev.UserID),
			zap.Error(err))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// connect dials the broker with bounded exponential backoff and declares
// the topology. Declarations are idempotent and repeated on every
// (re)connect.
func (c *Consumer) connect(ctx context.Context) (*amqp.Connection, *amqp.Channel, <-chan amqp.Delivery, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.ConnectAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.log.Info("retrying broker connection",
				zap.Int("attempt", attempt+1),
				zap.Int("maxAttempts", c.cfg.ConnectAttempts),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, nil, nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			lastErr = err
			c.log.Warn("broker dial failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		ch, deliveries, err := c.setup(conn)
		if err != nil {
			lastErr = err
			c.log.Warn("broker setup failed", zap.Int("attempt", attempt+1), zap.Error(err))
			_ = conn.Close()
			continue
		}
		return conn, ch, deliveries, nil
	}
	return nil, nil, nil, fmt.Errorf("connect after %d attempts: %w", c.cfg.ConnectAttempts, lastErr)
}

func (c *Consumer) setup(conn *amqp.Connection) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.cfg.Queue, "scoring-service", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("start consume: %w", err)
	}
	return ch, deliveries, nil
}

// backoffDelay doubles from a 1s base: 1s, 2s, 4s, ... capped at 30s.
func backoffDelay(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
