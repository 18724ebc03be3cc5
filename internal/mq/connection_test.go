package mq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{5, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff(tt.attempt, time.Second, 30*time.Second), "attempt %d", tt.attempt)
	}
}

func TestConnectionConfig_Defaults(t *testing.T) {
	cfg := ConnectionConfig{}.withDefaults()
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.NotNil(t, cfg.Logger)

	cfg = ConnectionConfig{ReconnectDelay: time.Minute}.withDefaults()
	assert.Equal(t, time.Minute, cfg.ReconnectMaxDelay, "max delay is never below the first delay")
}

func failingDial(calls *atomic.Int32) func(string) (*amqp.Connection, error) {
	return func(string) (*amqp.Connection, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	}
}

func TestConnection_ReconnectGivesUp(t *testing.T) {
	var calls atomic.Int32
	c := newConnection(ConnectionConfig{
		URL:               "amqp://nowhere",
		ReconnectDelay:    time.Millisecond,
		ReconnectMaxDelay: 2 * time.Millisecond,
		ReconnectAttempts: 3,
	}, failingDial(&calls))

	err := c.reconnect()
	require.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, int32(3), calls.Load())

	c.fail(err)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed after giving up")
	}
	assert.ErrorIs(t, c.Err(), ErrReconnectExhausted)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.WithChannel(context.Background(), nil), ErrNoChannel)
}

func TestConnection_CloseStopsReconnect(t *testing.T) {
	var calls atomic.Int32
	c := newConnection(ConnectionConfig{
		ReconnectDelay: time.Hour,
	}, failingDial(&calls))

	done := make(chan error, 1)
	go func() { done <- c.reconnect() }()

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNoChannel)
	case <-time.After(time.Second):
		t.Fatal("reconnect did not stop after Close")
	}
	assert.Zero(t, calls.Load())
	assert.NoError(t, c.Err())
	assert.NoError(t, c.Close(), "second Close is a no-op")
}

func TestConsumer_StopsWhenConnectionGivesUp(t *testing.T) {
	var calls atomic.Int32
	conn := newConnection(ConnectionConfig{}, failingDial(&calls))
	conn.fail(ErrReconnectExhausted)

	consumer := &Consumer{conn: conn, queue: "q", logger: conn.logger}
	err := consumer.waitReconnect(context.Background())
	assert.ErrorIs(t, err, ErrReconnectExhausted)
}
