// Package reconcile retries deletion of orders whose stock compensation failed.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-order-saga/internal/apperr"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"time"
)

// Deleter dipenuhi oleh *orders.Saga.
type Deleter interface {
	DeleteOrder(ctx context.Context, id int64) error
}

type Service struct {
	Orders Deleter
	Redis  *redis.Client // opsional, dedup per event_id
	// Jeda sebelum mencoba lagi, supaya stock service sempat pulih.
	Delay       time.Duration
	ServiceName string
	Log         zerolog.Logger
}

// HandleCompensationFailed: dipasang sebagai handler consumer topic
// order.compensation.failed. Kalau delete masih gagal, saga sendiri
// mem-publish event baru, jadi pesan ini boleh di-commit.
func (s *Service) HandleCompensationFailed(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Error().Err(err).Int64("offset", m.Offset).Msg("skip undecodable message")
		return nil
	}
	if env.EventType != orders.EventCompensationFailed {
		return nil
	} // ignore

	// 2) dedup via Redis (pakai event_id)
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if s.Redis != nil {
		if first, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup); err == nil && !first {
			return nil
		}
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.CompensationFailedPayload](env.Payload)
	if err != nil {
		s.Log.Error().Err(err).Str("event_id", env.EventID).Msg("skip bad payload")
		return nil
	}
	log := s.Log.With().Int64("order_id", p.OrderID).Str("event_id", env.EventID).Logger()

	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.forget(dkey)
			return ctx.Err()
		case <-t.C:
		}
	}

	// 4) ulangi delete; saga hanya me-release item yang belum ter-release
	err = s.Orders.DeleteOrder(ctx, p.OrderID)
	switch {
	case err == nil:
		log.Info().Int("pending", len(p.Pending)).Msg("order reconciled")
		return nil
	case apperr.Is(err, apperr.KindNotFound):
		log.Debug().Msg("order already gone")
		return nil
	case apperr.Is(err, apperr.KindUnavailable):
		log.Warn().Err(err).Msg("stock still unavailable, waiting for next event")
		return nil
	default:
		s.forget(dkey)
		return fmt.Errorf("reconcile order %d: %w", p.OrderID, err)
	}
}

// forget menghapus tanda dedup supaya pesan yang di-redeliver diproses lagi.
func (s *Service) forget(key string) {
	if s.Redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Redis.Del(ctx, key).Err()
}
