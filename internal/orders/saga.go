package orders

import (
	"context"
	"github.com/ariefcatur/go-order-saga/internal/apperr"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/ariefcatur/go-order-saga/internal/stockclient"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"strconv"
	"strings"
	"time"
)

var tracer = otel.Tracer("orders")

const defaultCompensationTimeout = 10 * time.Second

// Publisher dipenuhi oleh kafka.Producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Saga orchestrates order placement against the remote stock service and
// the compensating release on deletion. Stock must already be wrapped in the
// resilience envelope (stockclient.New).
type Saga struct {
	Repo    Repository
	Stock   stockclient.Client
	Events  Publisher // opsional
	Cache   Cache     // opsional
	Log     zerolog.Logger
	Service string

	// Batas waktu release saat kompensasi, lepas dari cancel-nya request.
	CompensationTimeout time.Duration
}

type placementState string

const (
	stateCollecting placementState = "COLLECTING_ITEMS"
	stateReserving  placementState = "RESERVING_STOCK"
	statePersisting placementState = "PERSISTING"
	stateDone       placementState = "DONE"
	stateAborted    placementState = "ABORTED"
)

// placement tracks one placeOrder run. reserved is the compensation stack,
// released newest first on abort.
type placement struct {
	state    placementState
	log      zerolog.Logger
	reserved []OrderItem
}

func (p *placement) to(next placementState) {
	if p.state == next {
		return
	}
	p.log.Debug().Str("from", string(p.state)).Str("to", string(next)).Msg("saga transition")
	p.state = next
}

func (s *Saga) cache() Cache {
	if s.Cache == nil {
		return noCache{}
	}
	return s.Cache
}

func validatePlacement(customerName string, items []ItemRequest) error {
	if strings.TrimSpace(customerName) == "" {
		return apperr.Invalid("Customer name is required")
	}
	if len(items) == 0 {
		return apperr.Invalid("Order must contain at least one item")
	}
	for _, it := range items {
		if it.VariantID <= 0 {
			return apperr.Invalid("Variant id is required")
		}
		if it.Quantity <= 0 {
			return apperr.Invalid("Quantity must be greater than zero")
		}
	}
	return nil
}

// PlaceOrder reserves stock for every item in request order, then persists
// a PENDING order. The first failure aborts the saga after releasing what
// this call already reserved.
func (s *Saga) PlaceOrder(ctx context.Context, customerName string, req []ItemRequest) (o *Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(attribute.Int("items", len(req))))
	defer func() { s.observe(span, "place", err) }()

	if err := validatePlacement(customerName, req); err != nil {
		return nil, err
	}

	p := &placement{
		state: stateCollecting,
		log:   s.Log.With().Str("saga", "placeOrder").Str("customer", customerName).Logger(),
	}
	p.log.Info().Int("items", len(req)).Msg("START placeOrder")

	items := make([]OrderItem, 0, len(req))
	total := decimal.Zero
	for _, r := range req {
		p.to(stateCollecting)
		v, err := s.Stock.GetVariant(ctx, r.VariantID)
		if err != nil {
			return nil, s.abort(ctx, p, err)
		}
		if v.StockCount < r.Quantity {
			return nil, s.abort(ctx, p, apperr.InsufficientStock("Insufficient stock for variant id: %d", r.VariantID))
		}

		p.to(stateReserving)
		rv, err := s.Stock.Reserve(ctx, r.VariantID, r.Quantity)
		if err != nil {
			return nil, s.abort(ctx, p, err)
		}

		it := OrderItem{
			VariantID: r.VariantID,
			Quantity:  r.Quantity,
			UnitPrice: rv.UnitPrice,
			Color:     rv.Color,
			Size:      rv.Size,
		}
		p.reserved = append(p.reserved, it)
		items = append(items, it)
		total = total.Add(it.Subtotal())
	}

	p.to(statePersisting)
	o = &Order{
		CustomerName: customerName,
		Status:       StatusPending,
		TotalAmount:  total,
		Items:        items,
	}
	if err := s.Repo.Create(ctx, o); err != nil {
		return nil, s.abort(ctx, p, apperr.Wrap(apperr.KindInternal, err, "Could not save order"))
	}
	p.to(stateDone)

	s.cache().Set(ctx, o)
	s.emit(ctx, TopicOrderLifecycle, EventOrderPlaced, o.ID, OrderPlacedPayload{
		OrderID:      o.ID,
		CustomerName: o.CustomerName,
		Items:        itemQtys(o.Items),
		TotalAmount:  o.TotalAmount,
	})
	p.log.Info().Int64("order_id", o.ID).Str("total", o.TotalAmount.String()).Msg("FINISHED placeOrder")
	return o, nil
}

// abort releases every reservation made by p (newest first) and returns cause.
// Release failures are logged; the caller still sees cause.
func (s *Saga) abort(ctx context.Context, p *placement, cause error) error {
	p.log.Warn().Err(cause).Str("state", string(p.state)).Int("reserved", len(p.reserved)).Msg("placeOrder aborted")
	p.to(stateAborted)
	if len(p.reserved) == 0 {
		return cause
	}

	cctx, cancel := s.compensationCtx(ctx)
	defer cancel()
	for i := len(p.reserved) - 1; i >= 0; i-- {
		it := p.reserved[i]
		if _, err := s.Stock.Release(cctx, it.VariantID, it.Quantity); err != nil {
			metrics.CompensationFailures.WithLabelValues("abort").Inc()
			p.log.Error().Err(err).Int64("variant_id", it.VariantID).Int("quantity", it.Quantity).
				Msg("compensation failed, stock left short")
		}
	}
	return cause
}

func (s *Saga) compensationCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.CompensationTimeout
	if d <= 0 {
		d = defaultCompensationTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

func (s *Saga) GetOrder(ctx context.Context, id int64) (o *Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.GetOrder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer func() { s.observe(span, "get", err) }()

	if o, ok := s.cache().Get(ctx, id); ok {
		return o, nil
	}
	o, err = s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache().Set(ctx, o)
	return o, nil
}

func (s *Saga) ListOrders(ctx context.Context) (out []Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.ListOrders")
	defer func() { s.observe(span, "list", err) }()
	return s.Repo.List(ctx)
}

// CompleteOrder moves a PENDING order to COMPLETED under the version check.
// Completing an already completed order is a no-op.
func (s *Saga) CompleteOrder(ctx context.Context, id int64) (o *Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.CompleteOrder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer func() { s.observe(span, "complete", err) }()

	o, err = s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case o.Status == StatusCompleted:
		return o, nil
	case !CanTransition(o.Status, StatusCompleted):
		return nil, apperr.New(apperr.KindInvalidState, "Order %d cannot be completed from status %s", id, o.Status)
	}

	o.Status = StatusCompleted
	if err := s.Repo.Update(ctx, o); err != nil {
		return nil, err
	}

	s.cache().Set(ctx, o)
	s.emit(ctx, TopicOrderLifecycle, EventOrderCompleted, o.ID, OrderCompletedPayload{OrderID: o.ID})
	s.Log.Info().Int64("order_id", o.ID).Int64("version", o.Version).Msg("order completed")
	return o, nil
}

// DeleteOrder releases the stock of every item not yet released and then
// deletes the order. If any release fails the order is kept with status
// COMPENSATION_FAILED and ServiceUnavailable is returned; calling again
// resumes with the remaining items.
func (s *Saga) DeleteOrder(ctx context.Context, id int64) (err error) {
	ctx, span := tracer.Start(ctx, "orders.DeleteOrder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer func() { s.observe(span, "delete", err) }()

	o, err := s.Repo.Get(ctx, id)
	if err != nil {
		return err
	}
	log := s.Log.With().Str("saga", "deleteOrder").Int64("order_id", id).Logger()
	log.Info().Int("items", len(o.Items)).Msg("START deleteOrder")

	cctx, cancel := s.compensationCtx(ctx)
	defer cancel()

	var released, pending []OrderItem
	var firstErr error
	contended := 0
	for _, i := range o.pendingRelease() {
		it := &o.Items[i]
		won, err := s.Repo.ClaimRelease(cctx, it.ID)
		if err != nil {
			log.Error().Err(err).Int64("item_id", it.ID).Msg("claim item for release")
			if firstErr == nil {
				firstErr = err
			}
			pending = append(pending, *it)
			continue
		}
		if !won {
			contended++
			continue
		}

		_, err = s.Stock.Release(cctx, it.VariantID, it.Quantity)
		switch {
		case err == nil:
			it.Released = true
			released = append(released, *it)
		case apperr.Is(err, apperr.KindNotFound):
			// variant sudah dihapus, tidak ada stok yang bisa dikembalikan
			it.Released = true
			log.Warn().Int64("variant_id", it.VariantID).Msg("variant gone, nothing to release")
		default:
			metrics.CompensationFailures.WithLabelValues("delete").Inc()
			log.Error().Err(err).Int64("variant_id", it.VariantID).Int("quantity", it.Quantity).Msg("release failed")
			if uerr := s.Repo.UnclaimRelease(cctx, it.ID); uerr != nil {
				log.Error().Err(uerr).Int64("item_id", it.ID).Msg("unclaim item")
			}
			if firstErr == nil {
				firstErr = err
			}
			pending = append(pending, *it)
		}
	}

	if len(pending) > 0 {
		return s.keepForReconciliation(cctx, log, o, pending, firstErr)
	}
	if contended > 0 {
		return apperr.Conflict("Order %d is being deleted concurrently", id)
	}

	if err := s.finishDelete(cctx, log, o); err != nil {
		return err
	}
	s.cache().Invalidate(cctx, id)
	s.emit(ctx, TopicOrderLifecycle, EventOrderDeleted, id, OrderDeletedPayload{OrderID: id, Released: itemQtys(released)})
	log.Info().Int("released", len(released)).Msg("FINISHED deleteOrder")
	return nil
}

// finishDelete menghapus order yang semua itemnya sudah released. Stok sudah
// dikembalikan, jadi version conflict (mis. completeOrder di tengah release)
// tidak boleh menggagalkan delete: baca ulang lalu coba lagi.
func (s *Saga) finishDelete(ctx context.Context, log zerolog.Logger, o *Order) error {
	const maxAttempts = 3
	version := o.Version
	for attempt := 1; ; attempt++ {
		err := s.Repo.Delete(ctx, o.ID, version)
		if err == nil || !apperr.Is(err, apperr.KindConflict) || attempt == maxAttempts {
			return err
		}
		cur, gerr := s.Repo.Get(ctx, o.ID)
		if gerr != nil {
			return gerr
		}
		if len(cur.pendingRelease()) > 0 {
			return err
		}
		log.Warn().Int64("version", version).Int64("current", cur.Version).Msg("order changed during delete, retrying")
		version = cur.Version
	}
}

func (s *Saga) keepForReconciliation(ctx context.Context, log zerolog.Logger, o *Order, pending []OrderItem, cause error) error {
	if o.Status != StatusCompensationFailed && CanTransition(o.Status, StatusCompensationFailed) {
		o.Status = StatusCompensationFailed
		if err := s.Repo.Update(ctx, o); err != nil {
			log.Error().Err(err).Msg("persist COMPENSATION_FAILED")
		} else {
			s.cache().Set(ctx, o)
		}
	}

	s.emit(ctx, TopicCompensationFailed, EventCompensationFailed, o.ID, CompensationFailedPayload{
		OrderID: o.ID,
		Pending: itemQtys(pending),
		Reason:  apperr.Message(cause),
	})
	log.Warn().Int("pending", len(pending)).Msg("order kept for reconciliation")
	return apperr.New(apperr.KindUnavailable,
		"Could not release stock for %d of %d items of order %d; order kept for reconciliation",
		len(pending), len(o.Items), o.ID)
}

func (s *Saga) observe(span trace.Span, op string, err error) {
	defer span.End()
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	metrics.SagaOutcomes.WithLabelValues(op, outcome).Inc()
}

func (s *Saga) emit(ctx context.Context, topic, eventType string, orderID int64, payload any) {
	if s.Events == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: strconv.FormatInt(orderID, 10),
		Payload:       kafkax.MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	s.Events.Publish(topic, PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
