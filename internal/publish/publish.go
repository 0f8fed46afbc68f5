// Package publish forwards normalized points to a fan-out exchange. The
// publisher is shared by every receiver in the process: producers enqueue,
// a single writer drains, and a reconnect loop keeps the broker session
// alive. While the broker is down, points are dropped, never raised.
package publish

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streadway/amqp"

	"ingest-svr/internal/observability"
	"ingest-svr/internal/point"
)

const reconnectDelay = 5 * time.Second

// Publisher maintains one connection and channel to the broker and declares
// a non-durable fan-out exchange on it.
type Publisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	queue     chan point.Point
	ready     atomic.Bool
	dropNoted atomic.Bool

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	stop chan struct{}
	done sync.WaitGroup
}

// New starts the publisher. The broker connection is established in the
// background; Write is safe to call immediately.
func New(url, exchange string, logger *slog.Logger) *Publisher {
	p := &Publisher{
		url:      url,
		exchange: exchange,
		logger:   logger,
		queue:    make(chan point.Point, 512),
		stop:     make(chan struct{}),
	}
	p.done.Add(2)
	go p.connectLoop()
	go p.writeLoop()
	return p
}

// Write enqueues one point for publication. When the broker session is not
// ready the point is dropped with a single log line per down-transition.
// Blocks only when the broker is up and the outbound queue is full.
func (p *Publisher) Write(pt point.Point) error {
	if !p.ready.Load() {
		if p.dropNoted.CompareAndSwap(false, true) {
			p.logger.Warn("broker not ready, dropping points", "exchange", p.exchange)
		}
		observability.PublisherDrops.Inc()
		return nil
	}
	select {
	case p.queue <- pt:
	case <-p.stop:
	}
	return nil
}

// Close stops the reconnect loop, drains pending publishes and closes the
// channel and connection.
func (p *Publisher) Close() error {
	close(p.stop)
	p.done.Wait()

	// Drain whatever the writer left behind.
	for {
		select {
		case pt := <-p.queue:
			p.publish(pt)
		default:
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.channel != nil {
				p.channel.Close()
			}
			if p.conn != nil {
				return p.conn.Close()
			}
			return nil
		}
	}
}

func (p *Publisher) connectLoop() {
	defer p.done.Done()
	for {
		closed, err := p.connect()
		if err != nil {
			p.logger.Warn("broker connect failed", "error", err, "url", p.url)
		} else {
			p.ready.Store(true)
			p.dropNoted.Store(false)
			p.logger.Info("broker connected", "exchange", p.exchange)
			select {
			case err := <-closed:
				p.ready.Store(false)
				p.logger.Warn("broker connection lost", "error", err)
			case <-p.stop:
				return
			}
		}
		select {
		case <-time.After(reconnectDelay):
		case <-p.stop:
			return
		}
	}
}

func (p *Publisher) connect() (chan *amqp.Error, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := channel.ExchangeDeclare(
		p.exchange, // name
		"fanout",   // type
		false,      // durable
		false,      // auto-delete
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = channel
	p.mu.Unlock()

	return conn.NotifyClose(make(chan *amqp.Error, 1)), nil
}

func (p *Publisher) writeLoop() {
	defer p.done.Done()
	for {
		select {
		case pt := <-p.queue:
			p.publish(pt)
		case <-p.stop:
			return
		}
	}
}

func (p *Publisher) publish(pt point.Point) {
	if !p.ready.Load() {
		observability.PublisherDrops.Inc()
		return
	}
	body, err := json.Marshal(pt)
	if err != nil {
		p.logger.Error("point marshal failed", "error", err)
		return
	}
	p.mu.Lock()
	channel := p.channel
	p.mu.Unlock()
	if channel == nil {
		observability.PublisherDrops.Inc()
		return
	}
	err = channel.Publish(
		p.exchange, // exchange
		"",         // routing key: fan-out ignores it
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		observability.PublisherDrops.Inc()
		p.logger.Warn("publish failed", "error", err, "device", pt.DeviceID)
		return
	}
	observability.PointsPublished.Inc()
}
