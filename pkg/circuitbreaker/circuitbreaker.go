package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config 熔断器配置，零值字段使用默认值
type Config struct {
	FailureThreshold    int           // 连续失败次数达到后打开
	SuccessThreshold    int           // 半开状态下连续成功次数达到后关闭
	Timeout             time.Duration // 打开状态持续时间
	HalfOpenMaxRequests int           // 半开状态下允许同时放行的请求数

	// OnStateChange 在状态切换时调用（持有锁，不可回调熔断器）
	OnStateChange func(from, to State)
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	return c
}

// counts 只在当前状态内有效，切换状态时清零
type counts struct {
	failures  int
	successes int
	inFlight  int
}

// CircuitBreaker guards calls to a dependency that can stop answering.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	state    State
	counts   counts
	openedAt time.Time
}

func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: StateClosed,
	}
}

// WithClock replaces the time source; used by tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
	return cb
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteContext(context.Background(), func(context.Context) error { return fn() })
}

// ExecuteContext runs fn under breaker protection. A cancellation by the caller
// is returned unchanged and does not count against the dependency.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.release(ctx, err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.current() {
	case StateOpen:
		return ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.counts.inFlight >= cb.cfg.HalfOpenMaxRequests {
			return ErrCircuitBreakerOpen
		}
	}
	cb.counts.inFlight++
	return nil
}

func (cb *CircuitBreaker) release(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.counts.inFlight > 0 {
		cb.counts.inFlight--
	}

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}

	switch cb.state {
	case StateClosed:
		if err == nil {
			cb.counts.failures = 0
			return
		}
		cb.counts.failures++
		if cb.counts.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		if err != nil {
			cb.transition(StateOpen)
			return
		}
		cb.counts.successes++
		if cb.counts.successes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
	// 打开状态下返回的结果来自切换之前放行的请求，忽略
}

// current 处理打开状态的超时，调用方需持有锁
func (cb *CircuitBreaker) current() State {
	if cb.state == StateOpen && !cb.now().Before(cb.openedAt.Add(cb.cfg.Timeout)) {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	inFlight := cb.counts.inFlight
	cb.state = to
	cb.counts = counts{inFlight: inFlight}
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current()
}

// Reset 强制关闭熔断器
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}
