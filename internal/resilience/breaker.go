// Package resilience berisi circuit breaker dan retry untuk panggilan ke service lain.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// Clock bisa diganti di test supaya transisi open -> half-open deterministik.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type Settings struct {
	// Trip setelah N kegagalan berturut-turut. 0 = nonaktif.
	FailureThreshold int
	// Trip kalau rasio gagal di WindowSize panggilan terakhir >= FailureRate
	// (minimal MinCalls panggilan). 0 = nonaktif.
	FailureRate float64
	WindowSize  int
	MinCalls    int
	// Lama state OPEN sebelum boleh probe.
	CoolDown time.Duration
	// Jumlah probe sukses yang dibutuhkan untuk kembali CLOSED.
	HalfOpenProbes int

	// Dipanggil sambil memegang lock breaker, jangan panggil balik ke breaker.
	OnStateChange func(name string, from, to State)
}

func (s Settings) withDefaults() Settings {
	if s.WindowSize <= 0 {
		s.WindowSize = 20
	}
	if s.MinCalls <= 0 {
		s.MinCalls = s.WindowSize / 2
	}
	if s.HalfOpenProbes <= 0 {
		s.HalfOpenProbes = 1
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 10 * time.Second
	}
	if s.FailureThreshold <= 0 && s.FailureRate <= 0 {
		s.FailureThreshold = 5
	}
	return s
}

type Breaker struct {
	name  string
	s     Settings
	clock Clock

	mu          sync.Mutex
	state       State
	generation  uint64
	openedAt    time.Time
	consecutive int
	window      []bool // true = gagal
	next        int
	filled      int
	inFlight    int
	probeOK     int
}

func NewBreaker(name string, s Settings, clock Clock) *Breaker {
	if clock == nil {
		clock = SystemClock{}
	}
	s = s.withDefaults()
	return &Breaker{
		name:   name,
		s:      s,
		clock:  clock,
		window: make([]bool, s.WindowSize),
	}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Allow reserves a slot for one call. The returned generation must be handed
// back to Done; outcomes from an older generation are ignored.
func (b *Breaker) Allow() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh()
	switch b.state {
	case StateOpen:
		return 0, ErrOpen
	case StateHalfOpen:
		if b.inFlight >= b.s.HalfOpenProbes-b.probeOK {
			return 0, ErrOpen
		}
		b.inFlight++
	}
	return b.generation, nil
}

func (b *Breaker) Done(generation uint64, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation != b.generation {
		return
	}
	switch b.state {
	case StateClosed:
		b.record(failed)
		if b.shouldTrip() {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.inFlight--
		if failed {
			b.transition(StateOpen)
			return
		}
		b.probeOK++
		if b.probeOK >= b.s.HalfOpenProbes {
			b.transition(StateClosed)
		}
	}
}

// Abandon returns the slot taken by Allow without recording an outcome.
// Dipakai kalau pemanggil sendiri yang menyerah (ctx cancel), bukan dependency-nya.
func (b *Breaker) Abandon(generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation == b.generation && b.state == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
}

// refresh pindah OPEN -> HALF_OPEN kalau cool down sudah lewat. Harus pegang mu.
func (b *Breaker) refresh() {
	if b.state == StateOpen && !b.clock.Now().Before(b.openedAt.Add(b.s.CoolDown)) {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) record(failed bool) {
	b.window[b.next] = failed
	b.next = (b.next + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}
	if failed {
		b.consecutive++
	} else {
		b.consecutive = 0
	}
}

func (b *Breaker) shouldTrip() bool {
	if b.s.FailureThreshold > 0 && b.consecutive >= b.s.FailureThreshold {
		return true
	}
	if b.s.FailureRate <= 0 || b.filled < b.s.MinCalls {
		return false
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures)/float64(b.filled) >= b.s.FailureRate
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.generation++
	b.inFlight = 0
	b.probeOK = 0
	switch to {
	case StateOpen:
		b.openedAt = b.clock.Now()
	case StateClosed:
		b.consecutive = 0
		b.filled = 0
		b.next = 0
	}
	if b.s.OnStateChange != nil && from != to {
		b.s.OnStateChange(b.name, from, to)
	}
}

// Execute runs fn through the breaker. failed decides which errors count
// against the dependency; errors it rejects are recorded as successes.
// If ctx is already done when fn fails, the caller gave up: the outcome is
// dropped and ctx.Err() returned.
func Execute[T any](ctx context.Context, b *Breaker, fn func() (T, error), failed func(error) bool) (T, error) {
	var zero T
	gen, err := b.Allow()
	if err != nil {
		return zero, err
	}
	v, err := fn()
	if err != nil && ctx.Err() != nil {
		b.Abandon(gen)
		return zero, ctx.Err()
	}
	b.Done(gen, err != nil && failed(err))
	return v, err
}

// BreakerSet menyimpan satu breaker per operasi target.
type BreakerSet struct {
	s     Settings
	clock Clock

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewBreakerSet(s Settings, clock Clock) *BreakerSet {
	return &BreakerSet{s: s, clock: clock, breakers: make(map[string]*Breaker)}
}

func (bs *BreakerSet) For(name string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.breakers[name]
	if !ok {
		b = NewBreaker(name, bs.s, bs.clock)
		bs.breakers[name] = b
	}
	return b
}
