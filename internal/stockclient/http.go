package stockclient

import (
	"context"
	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"net/http"
	"strconv"
	"time"
)

var tracer = otel.Tracer("stockclient")

// wireResponse mengikuti envelope {code,status,message,data} dari stock service.
type wireResponse struct {
	Code    string         `json:"code"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    *stock.Variant `json:"data"`
}

// HTTPClient talks to the stock service over HTTP. It classifies every
// failure: domain rejections keep their kind, everything else becomes
// KindUnavailable so the envelope can retry it.
type HTTPClient struct {
	r       *resty.Client
	timeout time.Duration
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPClient{r: r, timeout: timeout}
}

func (c *HTTPClient) GetVariant(ctx context.Context, id int64) (stock.Variant, error) {
	return c.do(ctx, OpGetVariant, resty.MethodGet, "/variants/{id}", id, 0)
}

func (c *HTTPClient) Reserve(ctx context.Context, id int64, qty int) (stock.Variant, error) {
	return c.do(ctx, OpReserve, resty.MethodPut, "/variants/{id}/reduce-stock", id, qty)
}

func (c *HTTPClient) Release(ctx context.Context, id int64, qty int) (stock.Variant, error) {
	return c.do(ctx, OpRelease, resty.MethodPut, "/variants/{id}/increase-stock", id, qty)
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, id int64, qty int) (stock.Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "stock."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("variant.id", id), attribute.Int("quantity", qty)))
	defer span.End()

	var body wireResponse
	req := c.r.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetResult(&body).
		SetError(&body)
	if qty != 0 {
		req.SetQueryParam("quantity", strconv.Itoa(qty))
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := req.Execute(method, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return stock.Variant{}, apperr.Wrap(apperr.KindUnavailable, err, "stock service %s variant %d", op, id)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))

	msg := body.Message
	if msg == "" {
		msg = resp.Status()
	}
	switch code := resp.StatusCode(); {
	case resp.IsSuccess():
		if body.Data == nil {
			return stock.Variant{}, apperr.New(apperr.KindUnavailable, "stock service %s variant %d: empty response", op, id)
		}
		return *body.Data, nil
	case code == http.StatusNotFound:
		return stock.Variant{}, apperr.NotFound("%s", msg)
	case code == http.StatusConflict:
		return stock.Variant{}, apperr.InsufficientStock("%s", msg)
	case code == http.StatusBadRequest:
		return stock.Variant{}, apperr.Invalid("%s", msg)
	default:
		span.SetStatus(codes.Error, resp.Status())
		return stock.Variant{}, apperr.New(apperr.KindUnavailable, "stock service %s variant %d: %s", op, id, msg)
	}
}
