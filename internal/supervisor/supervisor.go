// Package supervisor provides a supervision tree for managing the daemon's
// long-running services (scheduler, job runner upload dispatcher, notifier
// dispatcher, health server).
//
// The supervisor implements Erlang/OTP-style process supervision on top of
// github.com/thejerf/suture/v4, which provides the actual restart/backoff
// engine. This package adds a name-keyed registry and a Status() view so
// callers can inspect what's running without reaching into suture directly.
//
// Example:
//
//	sup := supervisor.New(supervisor.Config{
//	    ShutdownTimeout: 10 * time.Second,
//	})
//
//	sup.Add(scheduler)
//	sup.Add(jobRunner)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	if err := sup.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
)

// Service is the interface that supervised services must implement.
// Implementations should block until the context is cancelled or an error occurs.
type Service interface {
	// Run starts the service. It should block until ctx is cancelled or
	// the service encounters an unrecoverable error.
	Run(ctx context.Context) error

	// Name returns the service's identifier.
	Name() string
}

// ServiceState represents the current state of a supervised service.
type ServiceState int

const (
	ServiceStateIdle     ServiceState = iota // Not started
	ServiceStateRunning                      // Running normally
	ServiceStateStopping                     // Being stopped
	ServiceStateFailed                       // Failed, may restart
	ServiceStateStopped                      // Stopped, terminal
)

func (s ServiceState) String() string {
	switch s {
	case ServiceStateIdle:
		return "idle"
	case ServiceStateRunning:
		return "running"
	case ServiceStateStopping:
		return "stopping"
	case ServiceStateFailed:
		return "failed"
	case ServiceStateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ServiceStatus contains status information about a supervised service.
type ServiceStatus struct {
	Name      string
	State     ServiceState
	StartTime time.Time
	Uptime    time.Duration
	Restarts  int
	LastError error
}

// Config contains supervisor configuration.
type Config struct {
	// Name identifies this supervisor in suture's own event log.
	Name string

	// ShutdownTimeout is the maximum time to wait for services to stop gracefully.
	// Default: 10 seconds.
	ShutdownTimeout time.Duration

	// Logger is optional; if set, supervisor events (service added/removed,
	// restarts, suture's own lifecycle events) are logged here.
	Logger *slog.Logger

	// RestartDelay is the backoff suture applies once a service has failed
	// enough times within its decay window to be considered unstable.
	// Default: 1 second.
	RestartDelay time.Duration

	// MaxRestartDelay bounds how long a repeatedly-failing service's
	// backoff window is allowed to grow to. Suture itself does not grow
	// FailureBackoff over time (it is a single fixed duration applied
	// once the failure threshold is crossed); MaxRestartDelay is recorded
	// so a future per-service exponential policy has somewhere to read
	// its ceiling from, and so this Config stays a complete restart-policy
	// description even though suture consumes only RestartDelay today.
	// Default: 5 minutes.
	MaxRestartDelay time.Duration

	// RestartMultiplier is likewise not consumed by suture's backoff
	// model directly (see MaxRestartDelay) but is kept alongside it for
	// the same reason.
	// Default: 2.0.
	RestartMultiplier float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout:   10 * time.Second,
		RestartDelay:      1 * time.Second,
		MaxRestartDelay:   5 * time.Minute,
		RestartMultiplier: 2.0,
	}
}

// Supervisor manages a collection of services, restarting them on failure
// via an embedded suture.Supervisor.
type Supervisor struct {
	cfg Config

	mu       sync.RWMutex
	services map[string]*serviceEntry
	running  bool

	suture *suture.Supervisor
}

// serviceEntry tracks a single service's lifecycle as observed through our
// own adapter, independent of suture's internal bookkeeping.
type serviceEntry struct {
	service   Service
	state     ServiceState
	startTime time.Time
	restarts  int
	lastError error
	token     suture.ServiceToken
	hasToken  bool
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 1 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "supervisor"
	}

	s := &Supervisor{
		cfg:      cfg,
		services: make(map[string]*serviceEntry),
	}

	s.suture = suture.New(name, suture.Spec{
		EventHook: s.sutureEvent,
		// A single failure is enough to trigger suture's backoff window;
		// our services each carry their own internal retry logic (see
		// internal/stream.Backoff), so suture's job is just to keep the
		// goroutine alive, not to out-think a crash loop.
		FailureThreshold: 1,
		FailureDecay:     30,
		FailureBackoff:   cfg.RestartDelay,
		Timeout:          cfg.ShutdownTimeout,
	})

	return s
}

// sutureEvent forwards suture's own lifecycle events to Logger.
func (s *Supervisor) sutureEvent(ev suture.Event) {
	s.logf("%s", ev.String())
}

// logf writes a formatted log message if Logger is configured (thread-safe
// via slog's own handler locking).
func (s *Supervisor) logf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(fmt.Sprintf("[Supervisor] "+format, args...))
	}
}

// Add registers a service with the supervisor.
// If the supervisor is already running, the service is started immediately.
// Returns an error if a service with the same name already exists.
func (s *Supervisor) Add(svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := svc.Name()
	if _, exists := s.services[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}

	entry := &serviceEntry{
		service: svc,
		state:   ServiceStateIdle,
	}
	s.services[name] = entry
	entry.token = s.suture.Add(&serviceAdapter{entry: entry})
	entry.hasToken = true
	s.logf("Added service: %s", name)

	return nil
}

// Remove unregisters and stops a service.
func (s *Supervisor) Remove(name string) error {
	s.mu.Lock()
	entry, exists := s.services[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("service %q not found", name)
	}
	delete(s.services, name)
	token := entry.token
	hasToken := entry.hasToken
	entry.state = ServiceStateStopping
	s.mu.Unlock()

	if hasToken {
		if err := s.suture.Remove(token); err != nil {
			return fmt.Errorf("supervisor: remove %q: %w", name, err)
		}
	}

	s.logf("Removed service: %s", name)
	return nil
}

// Status returns the current status of all services.
func (s *Supervisor) Status() []ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ServiceStatus, 0, len(s.services))
	now := time.Now()

	for name, entry := range s.services {
		var uptime time.Duration
		if !entry.startTime.IsZero() && entry.state == ServiceStateRunning {
			uptime = now.Sub(entry.startTime)
		}

		result = append(result, ServiceStatus{
			Name:      name,
			State:     entry.state,
			StartTime: entry.startTime,
			Uptime:    uptime,
			Restarts:  entry.restarts,
			LastError: entry.lastError,
		})
	}

	return result
}

// ServiceCount returns the number of registered services.
func (s *Supervisor) ServiceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.services)
}

// Run starts all registered services and blocks until ctx is cancelled,
// handing the supervision loop itself to suture.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("supervisor already running")
	}
	s.running = true
	count := len(s.services)
	s.mu.Unlock()

	s.logf("Supervisor started with %d services", count)

	err := s.suture.Serve(ctx)
	// A canceled ctx is the normal shutdown path, not a failure.
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}

	s.mu.Lock()
	s.running = false
	for _, entry := range s.services {
		if entry.state != ServiceStateFailed {
			entry.state = ServiceStateStopped
		}
	}
	s.mu.Unlock()

	s.logf("Supervisor stopped")
	return err
}

// serviceAdapter bridges a supervisor.Service (Name+Run) to suture's own
// Service interface (Serve), updating the shared serviceEntry on every
// start/stop so Status() stays accurate across suture-driven restarts.
type serviceAdapter struct {
	entry *serviceEntry
}

func (a *serviceAdapter) String() string {
	return a.entry.service.Name()
}

func (a *serviceAdapter) Serve(ctx context.Context) error {
	a.entry.state = ServiceStateRunning
	a.entry.startTime = time.Now()

	err := a.entry.service.Run(ctx)

	if ctx.Err() != nil {
		a.entry.state = ServiceStateStopped
		return err
	}

	a.entry.state = ServiceStateFailed
	a.entry.lastError = err
	a.entry.restarts++
	return err
}
