package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/rules-qa/internal/infrastructure/resilience"
)

// ReloadSignal asks every API replica to rebuild its BM25 index and reload
// the curated tables.
type ReloadSignal struct {
	ID          string    `json:"id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// ReloadBus publishes and receives index reload signals.
type ReloadBus struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string) (*ReloadBus, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*ReloadBus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("rules-qa"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &ReloadBus{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (b *ReloadBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *ReloadBus) PublishReload(ctx context.Context, reason string) (ReloadSignal, error) {
	signal := ReloadSignal{
		ID:          uuid.NewString(),
		Reason:      strings.TrimSpace(reason),
		RequestedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(signal)
	if err != nil {
		return ReloadSignal{}, fmt.Errorf("marshal reload signal: %w", err)
	}

	call := func(_ context.Context) error {
		if err := b.conn.Publish(b.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return b.conn.FlushTimeout(2 * time.Second)
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return ReloadSignal{}, publishError(err)
	}
	return signal, nil
}

// SubscribeReload blocks until ctx is done. Every subscriber receives every
// signal, so each replica rebuilds its own in-process index.
func (b *ReloadBus) SubscribeReload(ctx context.Context, handler func(context.Context, ReloadSignal) error) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		signal := decodeSignal(msg.Data)

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, signal); err != nil {
			slog.Error("reload_handler_failed", "signal_id", signal.ID, "reason", signal.Reason, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// decodeSignal accepts the JSON form and, for manual `nats pub` use, any
// plain text payload as the reason.
func decodeSignal(data []byte) ReloadSignal {
	var signal ReloadSignal
	if err := json.Unmarshal(data, &signal); err != nil {
		signal = ReloadSignal{Reason: strings.TrimSpace(string(data))}
	}
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if signal.RequestedAt.IsZero() {
		signal.RequestedAt = time.Now().UTC()
	}
	return signal
}
