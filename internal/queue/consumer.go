package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/xopay/notify-service/internal/metrics"
)

// Handler processes one decoded queue message. Handler errors are logged
// by the consumer and never reach the broker: every delivery is acked
// whatever the handler does, so handlers with downstream side effects
// must be idempotent.
type Handler func(ctx context.Context, payload map[string]any) error

// Binding ties a queue name to its handler.
type Binding struct {
	Queue  string
	Handle Handler
}

// Consumer keeps one connection to RabbitMQ alive for the process
// lifetime, with a channel and a durable queue declare per binding. On
// any connection or channel error it reconnects after the current
// backoff timeout.
type Consumer struct {
	url      string
	bindings []Binding
	log      *logrus.Entry
	stats    *metrics.Collector

	dial func(url string) (*amqp.Connection, error)
}

func NewConsumer(url string, bindings []Binding, stats *metrics.Collector, log *logrus.Entry) *Consumer {
	return &Consumer{
		url:      url,
		bindings: bindings,
		log:      log,
		stats:    stats,
		dial:     amqp.Dial,
	}
}

type boundChannel struct {
	ch  *amqp.Channel
	tag string
}

// Run blocks until ctx is cancelled. The first sleep uses the starting
// backoff value, so even a clean first connect waits one second. In-flight
// handlers are joined before Run returns and between reconnects.
func (c *Consumer) Run(ctx context.Context) {
	bo := newBackoff()
	for {
		if !sleepCtx(ctx, bo.Next()) {
			return
		}

		c.log.Info("Connecting to RabbitMQ...")
		conn, err := c.dial(c.url)
		if err != nil {
			c.stats.Reconnect()
			c.log.Errorf("Queue connection error: %v. Reconnecting...", err)
			continue
		}

		var loops sync.WaitGroup
		channels, failures, err := c.setup(ctx, conn, &loops)
		if err != nil {
			c.stats.Reconnect()
			c.log.Errorf("Channel setup error: %v. Reconnecting...", err)
			conn.Close()
			loops.Wait()
			continue
		}

		bo.Reset()
		c.log.Info("Connected to the RabbitMQ. Consumers running")

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			c.close(conn, channels)
			loops.Wait()
			return
		case amqpErr := <-closed:
			c.stats.Reconnect()
			c.log.Errorf("Connection closed: %v. Reconnecting...", amqpErr)
		case reason := <-failures:
			c.stats.Reconnect()
			c.log.Errorf("%s. Reconnecting...", reason)
			conn.Close()
		}
		loops.Wait()
	}
}

// setup opens a channel per binding, declares the queue as durable and
// starts the consumer loop. Channel-level errors and broker-side consumer
// cancellations are funneled into the returned failures channel so any of
// them tears the whole connection down.
func (c *Consumer) setup(ctx context.Context, conn *amqp.Connection, loops *sync.WaitGroup) ([]boundChannel, chan string, error) {
	failures := make(chan string, len(c.bindings))

	var channels []boundChannel
	for _, binding := range c.bindings {
		ch, err := conn.Channel()
		if err != nil {
			return nil, nil, fmt.Errorf("open channel for [%s]: %w", binding.Queue, err)
		}
		if _, err := ch.QueueDeclare(binding.Queue, true, false, false, false, nil); err != nil {
			return nil, nil, fmt.Errorf("declare queue [%s]: %w", binding.Queue, err)
		}

		tag := "notify-" + binding.Queue
		deliveries, err := ch.Consume(binding.Queue, tag, false, false, false, false, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("consume queue [%s]: %w", binding.Queue, err)
		}

		c.log.Infof("Bind to the queue [%s]", binding.Queue)
		go watchChannel(tag, ch.NotifyClose(make(chan *amqp.Error, 1)),
			ch.NotifyCancel(make(chan string, 1)), failures)
		loops.Add(1)
		go func(binding Binding, deliveries <-chan amqp.Delivery) {
			defer loops.Done()
			c.consumeLoop(ctx, binding, deliveries)
		}(binding, deliveries)
		channels = append(channels, boundChannel{ch: ch, tag: tag})
	}
	return channels, failures, nil
}

// watchChannel forwards the first close or cancel event of one bound
// channel. failures is buffered for one event per binding, so the watcher
// never blocks even when nobody is left to read.
func watchChannel(tag string, closed <-chan *amqp.Error, cancelled <-chan string, failures chan<- string) {
	select {
	case amqpErr := <-closed:
		failures <- fmt.Sprintf("Channel for %s closed: %v", tag, amqpErr)
	case consumer := <-cancelled:
		failures <- fmt.Sprintf("Consumer %s cancelled by broker", consumer)
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, binding Binding, deliveries <-chan amqp.Delivery) {
	for delivery := range deliveries {
		c.handleDelivery(ctx, binding, delivery)
	}
}

// handleDelivery decodes, dispatches and acks one delivery. Exactly one
// ack is issued whether the handler succeeds, errors or panics; a body
// that is not JSON is acked too, so a poison message cannot block the
// queue.
func (c *Consumer) handleDelivery(ctx context.Context, binding Binding, delivery amqp.Delivery) {
	c.stats.MessageConsumed(binding.Queue)
	c.log.Debugf("Received message #%d from [%s]", delivery.DeliveryTag, binding.Queue)

	var payload map[string]any
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		c.log.Errorf("Drop invalid message from [%s] queue: %v", binding.Queue, err)
	} else if err := c.safeHandle(ctx, binding.Handle, payload); err != nil {
		c.stats.HandlerError(binding.Queue)
		c.log.Errorf("Handler error on [%s] queue: %v", binding.Queue, err)
	}

	if err := delivery.Ack(false); err != nil {
		c.log.Errorf("Ack message #%d on [%s] failed: %v", delivery.DeliveryTag, binding.Queue, err)
		return
	}
	c.stats.MessageAcked(binding.Queue)
}

func (c *Consumer) safeHandle(ctx context.Context, handle Handler, payload map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handle(ctx, payload)
}

// close cancels consumers, closes channels and then the connection.
func (c *Consumer) close(conn *amqp.Connection, channels []boundChannel) {
	c.log.Info("Close queue connection")
	for _, bound := range channels {
		if err := bound.ch.Cancel(bound.tag, false); err != nil {
			c.log.Warnf("Cancel consumer %s: %v", bound.tag, err)
		}
		if err := bound.ch.Close(); err != nil {
			c.log.Warnf("Close channel for %s: %v", bound.tag, err)
		}
	}
	if err := conn.Close(); err != nil {
		c.log.Warnf("Close connection: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
