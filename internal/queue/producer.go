// Package queue hands export jobs to RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"notehub/internal/errs"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const ExportNotesQueue = "export:notes"

// ExportRequest is the message body consumed by the export worker.
type ExportRequest struct {
	UserID      string `json:"userId"`
	TargetEmail string `json:"targetEmail"`
}

type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Connection interface {
	Channel() (Channel, error)
	Close() error
}

type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP connects to a real broker.
func DialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

type Option func(*Producer)

func WithDialer(d Dialer) Option {
	return func(p *Producer) { p.dial = d }
}

// Producer publishes each message over its own connection. Publishing does
// not wait for consumers; the connection is closed CloseDelay later.
type Producer struct {
	url        string
	dial       Dialer
	closeDelay time.Duration
	log        zerolog.Logger
	pending    sync.WaitGroup
}

func NewProducer(url string, closeDelay time.Duration, log zerolog.Logger, opts ...Option) *Producer {
	p := &Producer{
		url:        url,
		dial:       DialAMQP,
		closeDelay: closeDelay,
		log:        log.With().Str("component", "producer").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dispatch declares queue as durable and publishes payload to it. Any broker
// failure is returned as errs.Dispatch; nothing is retried.
func (p *Producer) Dispatch(ctx context.Context, queue string, payload []byte) error {
	conn, err := p.dial(p.url)
	if err != nil {
		return errs.Wrap(errs.Dispatch, err, "failed to connect to message broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errs.Wrap(errs.Dispatch, err, "failed to open broker channel")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.teardown(ch, conn)
		return errs.Wrap(errs.Dispatch, err, "failed to declare queue "+queue)
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		p.teardown(ch, conn)
		return errs.Wrap(errs.Dispatch, err, "failed to publish to queue "+queue)
	}
	p.log.Info().Str("queue", queue).Int("bytes", len(payload)).Msg("message dispatched")

	p.pending.Add(1)
	time.AfterFunc(p.closeDelay, func() {
		defer p.pending.Done()
		p.teardown(ch, conn)
	})
	return nil
}

func (p *Producer) DispatchExport(ctx context.Context, req ExportRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errs.Wrap(errs.Dispatch, err, "failed to encode export request")
	}
	return p.Dispatch(ctx, ExportNotesQueue, payload)
}

// Wait blocks until every scheduled connection teardown has run.
func (p *Producer) Wait() {
	p.pending.Wait()
}

func (p *Producer) teardown(ch Channel, conn Connection) {
	if err := ch.Close(); err != nil {
		p.log.Debug().Err(err).Msg("closing broker channel")
	}
	if err := conn.Close(); err != nil {
		p.log.Debug().Err(err).Msg("closing broker connection")
	}
}
