package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("component", "test")
}

type fakeAcker struct {
	acks    int
	nacks   int
	rejects int
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple bool, requeue bool) error {
	a.nacks++
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	a.rejects++
	return nil
}

func deliveryWith(acker *fakeAcker, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  1,
		Body:         []byte(body),
	}
}

func TestHandleDeliveryAcksValidMessage(t *testing.T) {
	var got map[string]any
	binding := Binding{
		Queue: "transactions_status",
		Handle: func(ctx context.Context, payload map[string]any) error {
			got = payload
			return nil
		},
	}
	c := NewConsumer("amqp://", []Binding{binding}, nil, testLog())

	acker := &fakeAcker{}
	c.handleDelivery(context.Background(), binding, deliveryWith(acker, `{"id": "tx-1", "status": "success"}`))

	require.NotNil(t, got)
	assert.Equal(t, "tx-1", got["id"])
	assert.Equal(t, 1, acker.acks)
	assert.Zero(t, acker.nacks)
	assert.Zero(t, acker.rejects)
}

func TestHandleDeliveryAcksInvalidJSON(t *testing.T) {
	called := false
	binding := Binding{
		Queue: "notify_email",
		Handle: func(ctx context.Context, payload map[string]any) error {
			called = true
			return nil
		},
	}
	c := NewConsumer("amqp://", []Binding{binding}, nil, testLog())

	acker := &fakeAcker{}
	c.handleDelivery(context.Background(), binding, deliveryWith(acker, `not json`))

	assert.False(t, called, "handler must not see an undecodable body")
	assert.Equal(t, 1, acker.acks)
}

func TestHandleDeliveryAcksOnHandlerError(t *testing.T) {
	binding := Binding{
		Queue: "notify_sms",
		Handle: func(ctx context.Context, payload map[string]any) error {
			return errors.New("downstream is gone")
		},
	}
	c := NewConsumer("amqp://", []Binding{binding}, nil, testLog())

	acker := &fakeAcker{}
	c.handleDelivery(context.Background(), binding, deliveryWith(acker, `{}`))

	assert.Equal(t, 1, acker.acks)
}

func TestHandleDeliveryAcksOnHandlerPanic(t *testing.T) {
	binding := Binding{
		Queue: "notify_request",
		Handle: func(ctx context.Context, payload map[string]any) error {
			panic("template explosion")
		},
	}
	c := NewConsumer("amqp://", []Binding{binding}, nil, testLog())

	acker := &fakeAcker{}
	assert.NotPanics(t, func() {
		c.handleDelivery(context.Background(), binding, deliveryWith(acker, `{}`))
	})
	assert.Equal(t, 1, acker.acks)
}

func TestConsumeLoopJoinsInFlightHandler(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	binding := Binding{
		Queue: "notify_email",
		Handle: func(ctx context.Context, payload map[string]any) error {
			close(started)
			<-release
			return nil
		},
	}
	c := NewConsumer("amqp://", []Binding{binding}, nil, testLog())

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- deliveryWith(&fakeAcker{}, `{}`)

	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		c.consumeLoop(context.Background(), binding, deliveries)
	}()

	<-started
	close(deliveries)

	joined := make(chan struct{})
	go func() {
		loops.Wait()
		close(joined)
	}()

	select {
	case <-joined:
		t.Fatal("join returned while a handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("join did not return after the handler finished")
	}
}

func TestWatchChannelReportsChannelClose(t *testing.T) {
	closed := make(chan *amqp.Error, 1)
	cancelled := make(chan string, 1)
	failures := make(chan string, 1)
	go watchChannel("notify-notify_email", closed, cancelled, failures)

	closed <- &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED"}
	select {
	case reason := <-failures:
		assert.Contains(t, reason, "notify-notify_email")
		assert.Contains(t, reason, "PRECONDITION_FAILED")
	case <-time.After(time.Second):
		t.Fatal("channel close was not reported")
	}
}

func TestWatchChannelReportsBrokerCancel(t *testing.T) {
	closed := make(chan *amqp.Error, 1)
	cancelled := make(chan string, 1)
	failures := make(chan string, 1)
	go watchChannel("notify-notify_sms", closed, cancelled, failures)

	cancelled <- "notify-notify_sms"
	select {
	case reason := <-failures:
		assert.Contains(t, reason, "notify-notify_sms")
		assert.Contains(t, reason, "cancelled by broker")
	case <-time.After(time.Second):
		t.Fatal("broker cancel was not reported")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c := NewConsumer("amqp://", nil, nil, testLog())
	c.dial = func(url string) (*amqp.Connection, error) {
		return nil, errors.New("refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
}
