package metrics

import (
	"context"
	"time"
)

// Result labels used by the recorders.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Recorder knows how to record the control plane metrics.
type Recorder interface {
	// IncRuntimeDownloadAttempt counts one runtime archive download attempt.
	IncRuntimeDownloadAttempt(ctx context.Context, result string)
	// IncBackendLaunch counts one backend launch outcome.
	IncBackendLaunch(ctx context.Context, result string)
	// IncTransportReconnect counts one socket (re)connection attempt.
	IncTransportReconnect(ctx context.Context, result string)
	// SetTransportPendingRequests sets the number of requests awaiting a reply.
	SetTransportPendingRequests(ctx context.Context, n int)
	// IncTransportDroppedFrame counts one malformed inbound frame.
	IncTransportDroppedFrame(ctx context.Context)
	// SetInstallQueueLength sets the number of queued install requests.
	SetInstallQueueLength(ctx context.Context, n int)
	// ObserveInstall records one finished install.
	ObserveInstall(ctx context.Context, result string, duration time.Duration)
}

// Noop is a recorder that doesn't record anything.
const Noop = noop(0)

type noop int

func (noop) IncRuntimeDownloadAttempt(context.Context, string)     {}
func (noop) IncBackendLaunch(context.Context, string)              {}
func (noop) IncTransportReconnect(context.Context, string)         {}
func (noop) SetTransportPendingRequests(context.Context, int)      {}
func (noop) IncTransportDroppedFrame(context.Context)              {}
func (noop) SetInstallQueueLength(context.Context, int)            {}
func (noop) ObserveInstall(context.Context, string, time.Duration) {}
