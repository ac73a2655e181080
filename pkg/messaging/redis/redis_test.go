package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReceiver struct {
	messages []*redis.Message
	calls    int
}

func (s *stubReceiver) ReceiveMessage(ctx context.Context) (*redis.Message, error) {
	s.calls++
	if len(s.messages) == 0 {
		return nil, errors.New("connection refused")
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return msg, nil
}

func newTestBroker() *RedisBroker {
	nop := zerolog.Nop()
	return &RedisBroker{logger: &nop}
}

func TestReceiveLoop_ForwardsPayloads(t *testing.T) {
	b := newTestBroker()
	sub := &stubReceiver{messages: []*redis.Message{
		{Channel: "automation.dispatches", Payload: `{"outcome":"dispatched"}`},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.receiveLoop(ctx, "automation.dispatches", sub, out)
	}()

	select {
	case payload := <-out:
		assert.JSONEq(t, `{"outcome":"dispatched"}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("no message forwarded")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestReceiveLoop_BacksOffOnReceiveError(t *testing.T) {
	b := newTestBroker()
	sub := &stubReceiver{}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.receiveLoop(ctx, "automation.dispatches", sub, out)
	}()

	// Give the loop time for the first failure plus part of the backoff
	// window. Without the backoff this would rack up thousands of calls.
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancel")
	}

	require.GreaterOrEqual(t, sub.calls, 1)
	assert.LessOrEqual(t, sub.calls, 2, "error branch must back off between receive attempts")
}
