package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNoChannel AMQP канал ещё не открыт или соединение переподключается.
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrReconnectExhausted исчерпаны попытки переподключения.
	ErrReconnectExhausted = errors.New("amqp reconnect attempts exhausted")
)

// ConnectionConfig параметры соединения с брокером.
type ConnectionConfig struct {
	URL string

	// ReconnectDelay задержка перед первой попыткой, дальше удваивается.
	ReconnectDelay time.Duration

	// ReconnectMaxDelay верхняя граница задержки.
	ReconnectMaxDelay time.Duration

	// ReconnectAttempts попыток подряд до отказа. 0 без ограничения.
	ReconnectAttempts int

	// OnReconnect вызывается после открытия нового канала, до уведомления
	// ReconnectNotify. Ошибка засчитывается как неудачная попытка.
	OnReconnect func(ctx context.Context, conn *Connection) error

	Logger *slog.Logger
}

func (cfg ConnectionConfig) withDefaults() ConnectionConfig {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectDelay {
		cfg.ReconnectMaxDelay = max(30*time.Second, cfg.ReconnectDelay)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// backoff задержка перед попыткой attempt (с нуля).
func backoff(attempt int, initial, limit time.Duration) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	return min(delay, limit)
}

// Connection соединение с RabbitMQ, которое само восстанавливается.
//
// После переподключения канал другой, поэтому код работает с ним через
// WithChannel и подписывается на ReconnectNotify, если держит consumer.
type Connection struct {
	cfg    ConnectionConfig
	logger *slog.Logger
	dial   func(url string) (*amqp.Connection, error)

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	err     error

	closed   bool
	closedCh chan struct{}

	reconnectCh chan struct{}
}

// NewConnection подключается к брокеру и запускает наблюдение за соединением.
func NewConnection(cfg ConnectionConfig) (*Connection, error) {
	c := newConnection(cfg, amqp.Dial)
	if err := c.connect(); err != nil {
		return nil, err
	}

	go c.watch()

	return c, nil
}

func newConnection(cfg ConnectionConfig, dial func(string) (*amqp.Connection, error)) *Connection {
	cfg = cfg.withDefaults()
	return &Connection{
		cfg:         cfg,
		logger:      cfg.Logger.With("component", "amqp"),
		dial:        dial,
		closedCh:    make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}
}

// connect открывает соединение и канал и подменяет текущие.
func (c *Connection) connect() error {
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		ch.Close()
		conn.Close()
		return ErrNoChannel
	}
	c.conn = conn
	c.channel = ch

	c.logger.Info("connected to RabbitMQ")
	return nil
}

// watch ждёт разрыва соединения и восстанавливает его.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.closedCh:
			return
		case amqpErr, ok := <-closeCh:
			if !ok && amqpErr == nil && c.isClosed() {
				return
			}
			c.logger.Warn("connection lost", "error", amqpErr)
		}

		if err := c.reconnect(); err != nil {
			if !errors.Is(err, ErrNoChannel) {
				c.logger.Error("giving up on RabbitMQ", "error", err)
				c.fail(err)
			}
			return
		}
	}
}

// reconnect повторяет connect и OnReconnect с экспоненциальной задержкой.
func (c *Connection) reconnect() error {
	var lastErr error

	for attempt := 0; c.cfg.ReconnectAttempts == 0 || attempt < c.cfg.ReconnectAttempts; attempt++ {
		delay := backoff(attempt, c.cfg.ReconnectDelay, c.cfg.ReconnectMaxDelay)
		c.logger.Info("reconnecting", "attempt", attempt+1, "delay", delay)

		select {
		case <-c.closedCh:
			return ErrNoChannel
		case <-time.After(delay):
		}

		if lastErr = c.connect(); lastErr != nil {
			if errors.Is(lastErr, ErrNoChannel) {
				return lastErr
			}
			c.logger.Warn("reconnect failed", "attempt", attempt+1, "error", lastErr)
			continue
		}

		if c.cfg.OnReconnect != nil {
			if lastErr = c.cfg.OnReconnect(context.Background(), c); lastErr != nil {
				c.logger.Warn("reconnect hook failed", "attempt", attempt+1, "error", lastErr)
				c.dropCurrent()
				continue
			}
		}

		c.logger.Info("reconnected to RabbitMQ", "attempt", attempt+1)
		select {
		case c.reconnectCh <- struct{}{}:
		default:
		}
		return nil
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, c.cfg.ReconnectAttempts, lastErr)
}

// dropCurrent закрывает соединение, на котором не удалось восстановить
// topology, чтобы следующая попытка начала с чистого.
func (c *Connection) dropCurrent() {
	c.mu.Lock()
	conn := c.conn
	c.channel = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// fail закрывает Connection с причиной, которую вернёт Err.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.Close()
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Channel возвращает текущий AMQP канал.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify сигналит после каждого успешного переподключения.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

// Done закрывается после Close или отказа от переподключения.
func (c *Connection) Done() <-chan struct{} {
	return c.closedCh
}

// Err возвращает причину закрытия: ErrReconnectExhausted или nil.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close закрывает канал и соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.logger.Info("RabbitMQ connection closed")
	return errors.Join(errs...)
}

// IsConnected сообщает, открыто ли соединение сейчас.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}

// WithChannel выполняет fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}
