package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/badminton-sessions/internal/events"
)

// Publisher forwards local signals to the fanout exchange.  Forward only
// enqueues; Run owns the connection.  Signals are invalidations, so a full
// buffer or a broken connection drops them instead of blocking a commit.
type Publisher struct {
	url      string
	exchange string
	buf      chan events.Signal
}

// NewPublisher returns a publisher buffering up to size signals.
func NewPublisher(url, exchange string, size int) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if size <= 0 {
		size = 1024
	}
	return &Publisher{url: url, exchange: exchange, buf: make(chan events.Signal, size)}
}

// Forward implements events.Forwarder.
func (p *Publisher) Forward(sig events.Signal) {
	select {
	case p.buf <- sig:
	default:
		log.Printf("rabbitmq: signal buffer full, dropping %s", sig.Topic)
	}
}

// Run publishes buffered signals until ctx is canceled, reconnecting with
// backoff when the broker goes away.
func (p *Publisher) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			log.Printf("rabbitmq: dial failed: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		err = p.publishLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("rabbitmq: publish loop ended: %v; reconnecting", err)
	}
}

func (p *Publisher) publishLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-closed:
			return fmt.Errorf("connection closed: %v", err)
		case sig := <-p.buf:
			body, err := EncodeSignal(sig)
			if err != nil {
				log.Printf("rabbitmq: marshal signal failed: %v", err)
				continue
			}
			pub := amqp.Publishing{
				ContentType: "application/json",
				Timestamp:   time.Now().UTC(),
				Body:        body,
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = ch.PublishWithContext(pctx, p.exchange, "", false, false, pub)
			cancel()
			if err != nil {
				return fmt.Errorf("publish: %w", err)
			}
		}
	}
}
