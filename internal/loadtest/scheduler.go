package loadtest

import (
	"context"
	"crypto/tls"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It provides:
// - weighted user type distribution (Picker)
// - a shared transport so all VUs share one connection pool
// - per-VU clients, each with its own cookie session
// - graceful shutdown coordination
//
// The scheduler is used by executors to control VU counts.
type VUScheduler struct {
	picker  *Picker
	metrics *metrics.Engine
	logger  *zap.Logger

	httpClientConfig HTTPClientConfig
	transport        *http.Transport

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32
	seed     uint64

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// BaseURL of the system under test
	BaseURL string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// DisableCompression disables automatic decompression
	DisableCompression bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// UserAgent sent with every request
	UserAgent string

	// Headers added to every request unless already set
	Headers map[string]string
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           "storeload",
	}
}

// SchedulerOption configures a VUScheduler.
type SchedulerOption func(*VUScheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) SchedulerOption {
	return func(s *VUScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSeed makes per-VU random sources deterministic.
func WithSeed(seed uint64) SchedulerOption {
	return func(s *VUScheduler) {
		s.seed = seed
	}
}

// NewVUScheduler creates a new VU scheduler for the given user types.
func NewVUScheduler(userTypes []*UserType, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig, opts ...SchedulerOption) (*VUScheduler, error) {
	picker, err := NewPicker(userTypes)
	if err != nil {
		return nil, err
	}

	scheduler := &VUScheduler{
		picker:           picker,
		metrics:          metricsEngine,
		logger:           zap.NewNop(),
		httpClientConfig: httpConfig,
		vus:              make(map[int]*VirtualUser),
		seed:             rand.Uint64(),
		shutdownCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(scheduler)
	}
	scheduler.transport = NewTransport(httpConfig)

	return scheduler, nil
}

// NewTransport builds the pooled transport shared by all VUs.
func NewTransport(cfg HTTPClientConfig) *http.Transport {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		DisableCompression:  cfg.DisableCompression,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed test shops
	}
	return transport
}

// UserTypes returns the scheduled user types.
func (s *VUScheduler) UserTypes() []*UserType {
	return s.picker.UserTypes()
}

// SpawnVU creates and registers a new Virtual User of the next user type.
//
// The VU is not started; the caller runs it (usually via RunVU).
func (s *VUScheduler) SpawnVU() (*VirtualUser, error) {
	id := int(s.nextVUID.Add(1))
	userType := s.picker.Next()

	client, err := NewClient(s.httpClientConfig.BaseURL, s.transport, s.httpClientConfig, s.metrics)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(s.seed, uint64(id)))
	vu := NewVirtualUser(id, userType, client, s.metrics, s.logger, rng)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSpawn(userType.Name)
	}
	s.logger.Debug("spawned user", zap.Int("vu", id), zap.String("user", userType.Name))

	return vu, nil
}

// GetVU returns a VU by ID, or nil if not found.
func (s *VUScheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// GetActiveVUs returns all currently active VUs.
func (s *VUScheduler) GetActiveVUs() []*VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	result := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			result = append(result, vu)
		}
	}
	return result
}

// GetActiveVUCount returns the count of non-stopped VUs.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// GetRunningVUCount returns the count of VUs that are neither stopping nor stopped.
func (s *VUScheduler) GetRunningVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if !vu.Stopping() {
			count++
		}
	}
	return count
}

// StopVU requests a specific VU to stop.
func (s *VUScheduler) StopVU(id int) {
	s.vusMu.RLock()
	vu, exists := s.vus[id]
	s.vusMu.RUnlock()

	if exists {
		vu.RequestStop()
	}
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// RemoveVU removes a VU from the scheduler.
// The VU should be stopped before calling this.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	if vu, exists := s.vus[id]; exists {
		vu.MarkStopped()
		delete(s.vus, id)
	}
}

// WaitForAllVUs waits for all VUs to stop with a timeout.
//
// Returns the number of VUs that did not stop within the timeout.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	s.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vus = append(vus, vu)
	}
	s.vusMu.RUnlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			notStopped++
			continue
		}

		if !vu.WaitForStop(remaining) {
			notStopped++
		}
	}

	return notStopped
}

// RunVU runs a VU until it is stopped, ctx is cancelled or it has completed
// maxIterations iterations (0 means unlimited).
//
// The VU's OnStart hook runs first; if it fails the VU stops without running
// any task. Between iterations the VU sleeps its user type's wait time.
// OnStop runs on the way out, detached from ctx cancellation.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser, maxIterations int64) {
	s.shutdownWg.Add(1)
	defer s.shutdownWg.Done()
	defer vu.MarkStopped()

	if s.metrics != nil {
		s.metrics.AddActiveVUs(1)
		defer s.metrics.AddActiveVUs(-1)
	}

	if err := vu.Start(ctx); err != nil {
		return
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.stopTimeout())
		defer cancel()
		vu.Stop(stopCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		default:
		}

		if vu.Stopping() {
			return
		}

		if err := vu.RunIteration(ctx); err != nil && IsCancellation(err) && ctx.Err() != nil {
			return
		}

		if maxIterations > 0 && vu.GetIteration() >= maxIterations {
			return
		}

		if !vu.Wait(ctx) {
			return
		}
	}
}

func (s *VUScheduler) stopTimeout() time.Duration {
	if s.httpClientConfig.Timeout > 0 {
		return s.httpClientConfig.Timeout
	}
	return 30 * time.Second
}

// Shutdown gracefully shuts down all VUs. It is safe to call more than once.
func (s *VUScheduler) Shutdown(timeout time.Duration) {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})

	s.StopAllVUs()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("virtual users did not stop in time", zap.Duration("timeout", timeout))
	}

	s.transport.CloseIdleConnections()
}

// ScaleVUs adjusts the running VU count to target.
//
// New VUs are handed to onSpawn, which is responsible for running them.
// When limiter is non-nil every spawn waits for a token, which caps the
// spawn rate. Excess VUs are stopped newest first so the user type mix of
// the survivors stays close to the weights.
//
// Returns the running VU count after adjustment.
func (s *VUScheduler) ScaleVUs(ctx context.Context, target int, limiter *rate.Limiter, onSpawn func(*VirtualUser)) int {
	current := s.GetRunningVUCount()

	if target > current {
		for i := current; i < target; i++ {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					break
				}
			}
			vu, err := s.SpawnVU()
			if err != nil {
				s.logger.Error("failed to spawn user", zap.Error(err))
				break
			}
			if onSpawn != nil {
				onSpawn(vu)
			}
		}
	} else if target < current {
		s.stopNewest(current - target)
	}

	return s.GetRunningVUCount()
}

func (s *VUScheduler) stopNewest(n int) {
	s.vusMu.RLock()
	ids := make([]int, 0, len(s.vus))
	for id, vu := range s.vus {
		if !vu.Stopping() {
			ids = append(ids, id)
		}
	}
	s.vusMu.RUnlock()

	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	for i := 0; i < n && i < len(ids); i++ {
		s.StopVU(ids[i])
	}
}
