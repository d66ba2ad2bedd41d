// Package install serializes install and update requests against the backend,
// driving one at a time to completion and publishing its progress.
package install

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/storage"
	"github.com/kilnhq/kiln/internal/transport"
)

const (
	// DefaultTickInterval is the periodic queue check interval.
	DefaultTickInterval = 5 * time.Second
	// DefaultRequestTimeout bounds the wait for the install intent reply.
	DefaultRequestTimeout = 10 * time.Minute
)

// Transport is the backend transport used by the orchestrator.
type Transport interface {
	Request(ctx context.Context, payload transport.Payload, timeout time.Duration) (transport.Message, error)
	Subscribe(fn func(transport.Message)) (unsubscribe func())
	IsAlive() bool
}

// OrchestratorConfig is the configuration for the install orchestrator.
type OrchestratorConfig struct {
	Transport Transport
	Instances storage.InstanceRepository
	// History records finished installs, optional.
	History        storage.InstallHistoryRepository
	TickInterval   time.Duration
	RequestTimeout time.Duration
	Now            func() time.Time
	Metrics        metrics.Recorder
	Logger         log.Logger
}

func (c *OrchestratorConfig) defaults() error {
	if c.Transport == nil {
		return fmt.Errorf("transport is required")
	}
	if c.Instances == nil {
		return fmt.Errorf("instance repository is required")
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "install.Orchestrator"})
	return nil
}

// Orchestrator runs queued install requests one at a time, in FIFO order.
type Orchestrator struct {
	transport      Transport
	instances      storage.InstanceRepository
	history        storage.InstallHistoryRepository
	tickInterval   time.Duration
	requestTimeout time.Duration
	now            func() time.Time
	metrics        metrics.Recorder
	logger         log.Logger

	driveCtx    context.Context
	cancelDrive context.CancelFunc
	inflight    sync.WaitGroup

	mu      sync.Mutex
	queue   []model.InstallRequest
	locked  bool
	status  *model.InstallStatus
	subs    map[uint64]func(*model.InstallStatus)
	nextSub uint64
	// idle is closed while nothing is queued or in flight.
	idle       chan struct{}
	idleClosed bool
}

// NewOrchestrator returns a new install orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Orchestrator{
		transport:      cfg.Transport,
		instances:      cfg.Instances,
		history:        cfg.History,
		tickInterval:   cfg.TickInterval,
		requestTimeout: cfg.RequestTimeout,
		now:            cfg.Now,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		driveCtx:       ctx,
		cancelDrive:    cancel,
		subs:           map[uint64]func(*model.InstallStatus){},
		idle:           idle,
		idleClosed:     true,
	}, nil
}

// RequestInstall appends an install request to the queue and checks the queue.
// A missing request UUID is generated. The enqueued request is returned.
func (o *Orchestrator) RequestInstall(ctx context.Context, req model.InstallRequest) (model.InstallRequest, error) {
	if req.RequestUUID == "" {
		req.RequestUUID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		return model.InstallRequest{}, fmt.Errorf("invalid install request: %w", err)
	}

	o.mu.Lock()
	o.queue = append(o.queue, req)
	n := len(o.queue)
	o.updateIdleLocked()
	o.mu.Unlock()
	o.metrics.SetInstallQueueLength(ctx, n)

	o.logger.Infof("Queued install %s of package %d version %d (queue: %d)", req.RequestUUID, req.PackageID, req.VersionID, n)
	o.checkQueue(ctx)

	return req, nil
}

// Run checks the queue periodically until the context is done, then cancels
// the in-flight install and waits for it.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			o.cancelDrive()
			o.mu.Unlock()
			o.inflight.Wait()
			return nil
		case <-ticker.C:
			o.checkQueue(ctx)
		}
	}
}

// checkQueue starts the next queued install unless one is in flight. Requests
// stay queued while the backend socket is down.
func (o *Orchestrator) checkQueue(ctx context.Context) {
	if !o.transport.IsAlive() {
		o.logger.Debugf("Backend socket is down, install queue on hold")
		return
	}

	o.mu.Lock()
	if o.locked || len(o.queue) == 0 || o.driveCtx.Err() != nil {
		o.mu.Unlock()
		return
	}
	req := o.queue[0]
	o.queue = o.queue[1:]
	o.locked = true
	n := len(o.queue)
	o.updateIdleLocked()
	o.inflight.Add(1)
	o.mu.Unlock()

	o.metrics.SetInstallQueueLength(ctx, n)
	go o.drive(log.CtxWithValues(o.driveCtx, log.Kv{"request": req.RequestUUID}), req)
}

// release unlocks the queue after an install finished and drains the next one.
func (o *Orchestrator) release(ctx context.Context) {
	o.mu.Lock()
	o.locked = false
	o.updateIdleLocked()
	o.mu.Unlock()
	o.inflight.Done()

	o.checkQueue(ctx)
}

// Queue returns the waiting requests, oldest first.
func (o *Orchestrator) Queue() []model.InstallRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.InstallRequest{}, o.queue...)
}

// Status returns the active install status.
func (o *Orchestrator) Status() (*model.InstallStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == nil {
		return nil, false
	}
	st := *o.status
	return &st, true
}

// Busy returns true while an install is in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.locked
}

// SubscribeStatus registers fn for every status change, nil means cleared.
// It returns the unsubscribe func.
func (o *Orchestrator) SubscribeStatus(fn func(*model.InstallStatus)) (unsubscribe func()) {
	o.mu.Lock()
	o.nextSub++
	id := o.nextSub
	o.subs[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

// Wait blocks until no install is in flight and the queue is empty, or the context is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

// updateIdleLocked opens or closes the idle channel, o.mu must be held.
func (o *Orchestrator) updateIdleLocked() {
	idle := !o.locked && len(o.queue) == 0
	switch {
	case idle && !o.idleClosed:
		close(o.idle)
		o.idleClosed = true
	case !idle && o.idleClosed:
		o.idle = make(chan struct{})
		o.idleClosed = false
	}
}

func (o *Orchestrator) publish(st *model.InstallStatus) {
	o.mu.Lock()
	if st == nil {
		o.status = nil
	} else {
		c := *st
		o.status = &c
	}
	subs := make([]func(*model.InstallStatus), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	for _, fn := range subs {
		if st == nil {
			fn(nil)
			continue
		}
		c := *st
		fn(&c)
	}
}
