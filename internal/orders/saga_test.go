package orders

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/ariefcatur/go-order-saga/internal/stockclient"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"sync"
	"sync/atomic"
	"testing"
)

// localStock memanggil stock.Service langsung, tanpa HTTP.
type localStock struct{ svc *stock.Service }

func (l localStock) GetVariant(ctx context.Context, id int64) (stock.Variant, error) {
	return l.svc.Get(ctx, id)
}

func (l localStock) Reserve(ctx context.Context, id int64, qty int) (stock.Variant, error) {
	return l.svc.Reserve(ctx, id, qty)
}

func (l localStock) Release(ctx context.Context, id int64, qty int) (stock.Variant, error) {
	return l.svc.Release(ctx, id, qty)
}

// flakyStock gagal Release untuk variant tertentu sampai di-heal.
type flakyStock struct {
	stockclient.Client

	mu       sync.Mutex
	failing  map[int64]bool
	releases map[int64]int
}

func newFlaky(c stockclient.Client, failing ...int64) *flakyStock {
	f := &flakyStock{Client: c, failing: map[int64]bool{}, releases: map[int64]int{}}
	for _, id := range failing {
		f.failing[id] = true
	}
	return f
}

func (f *flakyStock) heal() {
	f.mu.Lock()
	f.failing = map[int64]bool{}
	f.mu.Unlock()
}

func (f *flakyStock) Release(ctx context.Context, id int64, qty int) (stock.Variant, error) {
	f.mu.Lock()
	if f.failing[id] {
		f.mu.Unlock()
		return stock.Variant{}, apperr.New(apperr.KindUnavailable, "Product Service unavailable. Could not increase stock.")
	}
	f.releases[id]++
	f.mu.Unlock()
	return f.Client.Release(ctx, id, qty)
}

type published struct {
	Topic string
	Env   Envelope
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) Publish(topic string, _, value []byte, _ ...kafkago.Header) {
	var env Envelope
	_ = json.Unmarshal(value, &env)
	r.mu.Lock()
	r.msgs = append(r.msgs, published{Topic: topic, Env: env})
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Env.EventType)
	}
	return out
}

type fixture struct {
	saga   *Saga
	stock  *stock.Service
	repo   *MemRepo
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := &stock.Service{Store: stock.NewMemStore(), Log: zerolog.Nop()}
	repo := NewMemRepo()
	ev := &recorder{}
	return &fixture{
		saga: &Saga{
			Repo:    repo,
			Stock:   localStock{svc: svc},
			Events:  ev,
			Log:     zerolog.Nop(),
			Service: "order-api",
		},
		stock:  svc,
		repo:   repo,
		events: ev,
	}
}

func (f *fixture) variant(t *testing.T, color string, price int64, count int) stock.Variant {
	t.Helper()
	v, err := f.stock.Create(context.Background(), stock.VariantInput{
		Color: color, Size: "M", UnitPrice: decimal.NewFromInt(price), StockCount: count,
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) stockOf(t *testing.T, id int64) int {
	t.Helper()
	v, err := f.stock.Get(context.Background(), id)
	require.NoError(t, err)
	return v.StockCount
}

func TestPlaceOrder_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	black := f.variant(t, "Black", 10000, 5)
	white := f.variant(t, "White", 2500, 4)

	o, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{
		{VariantID: black.ID, Quantity: 2},
		{VariantID: white.ID, Quantity: 3},
	})

	require.NoError(t, err)
	assert.NotZero(t, o.ID)
	assert.Equal(t, StatusPending, o.Status)
	assert.EqualValues(t, 1, o.Version)
	assert.True(t, decimal.NewFromInt(27500).Equal(o.TotalAmount), "total %s", o.TotalAmount)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Black", o.Items[0].Color)
	assert.Equal(t, o.ID, o.Items[1].OrderID)
	assert.Equal(t, 3, f.stockOf(t, black.ID))
	assert.Equal(t, 1, f.stockOf(t, white.ID))
	assert.Equal(t, []string{EventOrderPlaced}, f.events.types())
}

func TestPlaceOrder_RoundTripTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(t, "Red", 1999, 10)

	placed, err := f.saga.PlaceOrder(ctx, "Sari", []ItemRequest{{VariantID: v.ID, Quantity: 3}})
	require.NoError(t, err)

	got, err := f.saga.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.True(t, placed.TotalAmount.Equal(got.TotalAmount))
	assert.Equal(t, placed.Items, got.Items)

	all, err := f.saga.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPlaceOrder_InsufficientStockLeavesStockUntouched(t *testing.T) {
	f := newFixture(t)
	v := f.variant(t, "Black", 10000, 5)

	_, err := f.saga.PlaceOrder(context.Background(), "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 6}})

	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
	assert.Equal(t, "Insufficient stock for variant id: 1", apperr.Message(err))
	assert.Equal(t, 5, f.stockOf(t, v.ID))
	all, _ := f.saga.ListOrders(context.Background())
	assert.Empty(t, all)
	assert.Empty(t, f.events.types())
}

func TestPlaceOrder_AbortReleasesEarlierReservations(t *testing.T) {
	f := newFixture(t)
	first := f.variant(t, "Black", 100, 5)
	second := f.variant(t, "White", 100, 1)

	_, err := f.saga.PlaceOrder(context.Background(), "Budi", []ItemRequest{
		{VariantID: first.ID, Quantity: 2},
		{VariantID: second.ID, Quantity: 2},
	})

	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
	assert.Equal(t, 5, f.stockOf(t, first.ID), "first reservation must be released")
	assert.Equal(t, 1, f.stockOf(t, second.ID))
}

func TestPlaceOrder_UnknownVariant(t *testing.T) {
	f := newFixture(t)
	v := f.variant(t, "Black", 100, 5)

	_, err := f.saga.PlaceOrder(context.Background(), "Budi", []ItemRequest{
		{VariantID: v.ID, Quantity: 1},
		{VariantID: 404, Quantity: 1},
	})

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, 5, f.stockOf(t, v.ID))
}

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		customer string
		items    []ItemRequest
	}{
		{"blank customer", "  ", []ItemRequest{{VariantID: 1, Quantity: 1}}},
		{"no items", "Budi", nil},
		{"zero quantity", "Budi", []ItemRequest{{VariantID: 1, Quantity: 0}}},
		{"missing variant", "Budi", []ItemRequest{{Quantity: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.saga.PlaceOrder(context.Background(), tt.customer, tt.items)
			assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
		})
	}
}

type failingCreate struct{ *MemRepo }

func (failingCreate) Create(context.Context, *Order) error { return errors.New("disk full") }

func TestPlaceOrder_PersistFailureReleasesStock(t *testing.T) {
	f := newFixture(t)
	f.saga.Repo = failingCreate{f.repo}
	v := f.variant(t, "Black", 100, 3)

	_, err := f.saga.PlaceOrder(context.Background(), "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 2}})

	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, 3, f.stockOf(t, v.ID))
}

func TestPlaceOrder_ConcurrentBuyersNeverOversell(t *testing.T) {
	f := newFixture(t)
	v := f.variant(t, "Black", 100, 5)

	var ok atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := f.saga.PlaceOrder(context.Background(), "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 1}})
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.Is(err, apperr.KindInsufficientStock):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 5, ok.Load())
	assert.Equal(t, 0, f.stockOf(t, v.ID))
	all, err := f.saga.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestGetOrder_SnapshotSurvivesVariantChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(t, "Black", 10000, 5)

	placed, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 1}})
	require.NoError(t, err)

	_, err = f.stock.Update(ctx, v.ID, stock.VariantInput{Color: "Pink", Size: "XL", UnitPrice: decimal.NewFromInt(1), StockCount: 50})
	require.NoError(t, err)

	got, err := f.saga.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Black", got.Items[0].Color)
	assert.Equal(t, "M", got.Items[0].Size)
	assert.True(t, decimal.NewFromInt(10000).Equal(got.Items[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(10000).Equal(got.TotalAmount))
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.saga.GetOrder(context.Background(), 77)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCompleteOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(t, "Black", 100, 5)
	placed, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 2}})
	require.NoError(t, err)

	done, err := f.saga.CompleteOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.EqualValues(t, 2, done.Version)
	assert.Equal(t, 3, f.stockOf(t, v.ID), "completion has no stock effect")

	again, err := f.saga.CompleteOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, again.Version, "completing twice does not write")

	_, err = f.saga.CompleteOrder(ctx, 999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, []string{EventOrderPlaced, EventOrderCompleted}, f.events.types())
}

// barrierRepo menahan Get sampai semua pemanggil sudah membaca.
type barrierRepo struct {
	*MemRepo
	wg *sync.WaitGroup
}

func (r barrierRepo) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := r.MemRepo.Get(ctx, id)
	r.wg.Done()
	r.wg.Wait()
	return o, err
}

func TestCompleteOrder_ConcurrentWritersConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(t, "Black", 100, 5)
	placed, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 1}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	f.saga.Repo = barrierRepo{MemRepo: f.repo, wg: &wg}

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		g.Go(func() error {
			_, errs[i] = f.saga.CompleteOrder(ctx, placed.ID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	kinds := []apperr.Kind{apperr.KindOf(errs[0]), apperr.KindOf(errs[1])}
	assert.ElementsMatch(t, []apperr.Kind{"", apperr.KindConflict}, kinds)

	got, err := f.repo.Get(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.EqualValues(t, 2, got.Version)
}

func TestDeleteOrder_ReleasesEveryItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.variant(t, "Black", 100, 10)
	b := f.variant(t, "White", 100, 10)
	placed, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{
		{VariantID: a.ID, Quantity: 2},
		{VariantID: b.ID, Quantity: 3},
	})
	require.NoError(t, err)
	require.Equal(t, 8, f.stockOf(t, a.ID))
	require.Equal(t, 7, f.stockOf(t, b.ID))

	require.NoError(t, f.saga.DeleteOrder(ctx, placed.ID))

	assert.Equal(t, 10, f.stockOf(t, a.ID))
	assert.Equal(t, 10, f.stockOf(t, b.ID))
	_, err = f.saga.GetOrder(ctx, placed.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, []string{EventOrderPlaced, EventOrderDeleted}, f.events.types())
}

func TestDeleteOrder_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.saga.DeleteOrder(context.Background(), 5)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteOrder_PartialFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.variant(t, "Black", 100, 10)
	b := f.variant(t, "White", 100, 10)
	placed, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{
		{VariantID: a.ID, Quantity: 2},
		{VariantID: b.ID, Quantity: 3},
	})
	require.NoError(t, err)

	flaky := newFlaky(f.saga.Stock, b.ID)
	f.saga.Stock = flaky

	err = f.saga.DeleteOrder(ctx, placed.ID)
	require.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))

	kept, err := f.repo.Get(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompensationFailed, kept.Status)
	assert.True(t, kept.Items[0].Released)
	assert.False(t, kept.Items[1].Released)
	assert.Equal(t, 10, f.stockOf(t, a.ID))
	assert.Equal(t, 7, f.stockOf(t, b.ID))
	assert.Contains(t, f.events.types(), EventCompensationFailed)

	// retry setelah stock service pulih: hanya item sisa yang di-release
	flaky.heal()
	require.NoError(t, f.saga.DeleteOrder(ctx, placed.ID))

	assert.Equal(t, 10, f.stockOf(t, a.ID), "released items are not released twice")
	assert.Equal(t, 10, f.stockOf(t, b.ID))
	assert.Equal(t, 1, flaky.releases[a.ID])
	assert.Equal(t, 1, flaky.releases[b.ID])
	_, err = f.repo.Get(ctx, placed.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteOrder_VariantGoneStillDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(t, "Black", 100, 3)
	placed, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 1}})
	require.NoError(t, err)
	require.NoError(t, f.stock.Delete(ctx, v.ID))

	require.NoError(t, f.saga.DeleteOrder(ctx, placed.ID))

	_, err = f.repo.Get(ctx, placed.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// mapCache memegang aturan yang sama dengan RedisCache: version lama tidak
// menimpa yang baru, dan order yang dihapus jadi tombstone.
type mapCache struct {
	mu   sync.Mutex
	m    map[int64]*Order
	gone map[int64]bool
}

func newMapCache() *mapCache {
	return &mapCache{m: map[int64]*Order{}, gone: map[int64]bool{}}
}

func (c *mapCache) Get(_ context.Context, id int64) (*Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.m[id]
	return o, ok
}

func (c *mapCache) Set(_ context.Context, o *Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.m[o.ID]; c.gone[o.ID] || ok && cur.Version >= o.Version {
		return
	}
	c.m[o.ID] = o.clone()
}

func (c *mapCache) Invalidate(_ context.Context, id int64) {
	c.mu.Lock()
	delete(c.m, id)
	c.gone[id] = true
	c.mu.Unlock()
}

func TestSaga_CacheFollowsLifecycle(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()
	f.saga.Cache = cache
	ctx := context.Background()
	v := f.variant(t, "Black", 100, 3)

	placed, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 1}})
	require.NoError(t, err)
	_, ok := cache.Get(ctx, placed.ID)
	assert.True(t, ok)

	_, err = f.saga.CompleteOrder(ctx, placed.ID)
	require.NoError(t, err)
	cached, _ := cache.Get(ctx, placed.ID)
	assert.Equal(t, StatusCompleted, cached.Status)

	require.NoError(t, f.saga.DeleteOrder(ctx, placed.ID))
	_, ok = cache.Get(ctx, placed.ID)
	assert.False(t, ok)
}

// completingStock menyelesaikan order di tengah release, seolah-olah
// completeOrder lain menang balapan setelah item di-claim.
type completingStock struct {
	stockclient.Client
	saga    *Saga
	orderID int64
	once    sync.Once
}

func (c *completingStock) Release(ctx context.Context, id int64, qty int) (stock.Variant, error) {
	c.once.Do(func() { _, _ = c.saga.CompleteOrder(ctx, c.orderID) })
	return c.Client.Release(ctx, id, qty)
}

func TestDeleteOrder_CompletesDespiteConcurrentComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(t, "Black", 100, 10)
	placed, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 4}})
	require.NoError(t, err)

	f.saga.Stock = &completingStock{Client: f.saga.Stock, saga: f.saga, orderID: placed.ID}

	require.NoError(t, f.saga.DeleteOrder(ctx, placed.ID))

	_, err = f.repo.Get(ctx, placed.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, 10, f.stockOf(t, v.ID))
	assert.Equal(t, []string{EventOrderPlaced, EventOrderCompleted, EventOrderDeleted}, f.events.types())
}

// bumpingRepo menaikkan version setiap kali Delete dipanggil, jadi delete
// tidak pernah lolos version check.
type bumpingRepo struct{ *MemRepo }

func (r bumpingRepo) Delete(ctx context.Context, id, version int64) error {
	o, err := r.MemRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	_ = r.MemRepo.Update(ctx, o)
	return r.MemRepo.Delete(ctx, id, version)
}

func TestDeleteOrder_GivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(t, "Black", 100, 10)
	placed, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 1}})
	require.NoError(t, err)
	f.saga.Repo = bumpingRepo{f.repo}

	err = f.saga.DeleteOrder(ctx, placed.ID)

	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, 10, f.stockOf(t, v.ID))
	got, err := f.repo.Get(ctx, placed.ID)
	require.NoError(t, err)
	assert.Empty(t, got.pendingRelease(), "retry must not release again")
}

// racingRepo: Get pertama mengembalikan row lama, tapi sebelum itu
// completeOrder sudah menulis row baru ke cache.
type racingRepo struct {
	*MemRepo
	saga  *Saga
	raced bool
}

func (r *racingRepo) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := r.MemRepo.Get(ctx, id)
	if !r.raced {
		r.raced = true
		_, cerr := r.saga.CompleteOrder(ctx, id)
		if cerr != nil {
			return nil, cerr
		}
	}
	return o, err
}

func TestGetOrder_StaleReadDoesNotOverwriteCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(t, "Black", 100, 3)
	placed, err := f.saga.PlaceOrder(ctx, "Budi", []ItemRequest{{VariantID: v.ID, Quantity: 1}})
	require.NoError(t, err)

	cache := newMapCache()
	f.saga.Cache = cache
	f.saga.Repo = &racingRepo{MemRepo: f.repo, saga: f.saga}

	got, err := f.saga.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	cached, ok := cache.Get(ctx, placed.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, cached.Status)
}
