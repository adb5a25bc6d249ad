package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/momo-shadow/shadow-engine/internal/integration"
	"github.com/momo-shadow/shadow-engine/internal/storage"
)

// NATSRecorder persists notifications published by engines on the bus
type NATSRecorder struct {
	nc      *nats.Conn
	store   storage.Store
	prefix  string
	timeout time.Duration
	subs    []*nats.Subscription
}

// NewNATSRecorder creates NATS recorder
func NewNATSRecorder(nc *nats.Conn, store storage.Store, prefix string) *NATSRecorder {
	return &NATSRecorder{
		nc:      nc,
		store:   store,
		prefix:  prefix,
		timeout: 5 * time.Second,
		subs:    make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions and blocks until ctx is done
func (r *NATSRecorder) Start(ctx context.Context) error {
	subjects := []string{
		r.prefix + ".capture.>",
		r.prefix + ".probe.>",
		r.prefix + ".state_changed",
		r.prefix + ".warning",
	}

	for _, subject := range subjects {
		sub, err := r.nc.Subscribe(subject, r.handleMessage)
		if err != nil {
			r.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}

	log.Info().
		Int("subscriptions", len(r.subs)).
		Str("prefix", r.prefix).
		Msg("NATS recorder started")

	<-ctx.Done()
	r.unsubscribe()
	return ctx.Err()
}

func (r *NATSRecorder) unsubscribe() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.subs = nil
}

func (r *NATSRecorder) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.Record(ctx, msg.Subject, msg.Data); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to record notification")
	}
}

// Record decodes and persists one published notification.
// Redelivered notifications are ignored.
func (r *NATSRecorder) Record(ctx context.Context, subject string, data []byte) error {
	log.Debug().
		Str("subject", subject).
		Int("size", len(data)).
		Msg("Received notification")

	var env integration.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal notification: %w", err)
	}

	err := integration.Persist(ctx, r.store, env.Notification)
	if errors.Is(err, storage.ErrDuplicateKey) {
		log.Debug().Str("id", env.ID.String()).Msg("Duplicate notification ignored")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("device", env.Device).
		Str("kind", string(env.Kind)).
		Msg("Notification recorded")
	return nil
}
