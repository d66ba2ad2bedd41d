package install

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/transport"
)

// drive runs one install to completion. It always releases the queue lock.
func (o *Orchestrator) drive(ctx context.Context, req model.InstallRequest) {
	logger := o.logger.WithCtxValues(ctx)
	outcome := model.InstallOutcome{Request: req, StartedAt: o.now()}

	defer func() {
		outcome.FinishedAt = o.now()
		o.finish(ctx, logger, outcome)
		o.release(ctx)
	}()

	// Subscribed before sending so no event is missed.
	events := newMailbox()
	unsubscribe := o.transport.Subscribe(func(msg transport.Message) {
		if isInstallEvent(msg, req.RequestUUID) {
			events.put(msg)
		}
	})
	defer unsubscribe()

	logger.Infof("Installing package %d version %d", req.PackageID, req.VersionID)
	reply, err := o.transport.Request(ctx, installPayload(req), o.requestTimeout)
	if err != nil {
		outcome.Phase = model.InstallPhaseRejected
		outcome.Error = err.Error()
		logger.Errorf("Install intent failed, dropping request: %v", err)
		return
	}
	if st := reply.String("status"); st == statusError || st == statusPrepareError {
		outcome.Phase = model.InstallPhaseRejected
		outcome.Error = fmt.Sprintf("%s: %s", model.ErrInstallRejected, st)
		logger.Warningf("Backend rejected install (%s), dropping request", st)
		return
	}

	o.publish(&model.InstallStatus{Request: req, Phase: model.InstallPhaseInstalling, Percent: "0"})
	defer o.publish(nil)

	// Events only arrive over the socket the intent was accepted on.
	lost := reply.Closed()
	stage := ""
	for {
		select {
		case <-ctx.Done():
			outcome.Phase = model.InstallPhaseFailed
			outcome.Error = ctx.Err().Error()
			logger.Warningf("Install abandoned: %v", ctx.Err())
			return
		case <-events.notify:
		case <-lost:
			if o.handleEvents(ctx, logger, req, events.drain(), &stage, &outcome) {
				return
			}
			outcome.Phase = model.InstallPhaseFailed
			outcome.Error = model.ErrConnectionLost.Error()
			logger.Errorf("Install failed: %v", model.ErrConnectionLost)
			o.publish(&model.InstallStatus{
				Request:    req,
				Phase:      model.InstallPhaseFailed,
				StageLabel: stage,
				Error:      outcome.Error,
			})
			return
		}

		if o.handleEvents(ctx, logger, req, events.drain(), &stage, &outcome) {
			return
		}
	}
}

// handleEvents applies events in order, it returns true once one is terminal.
func (o *Orchestrator) handleEvents(ctx context.Context, logger log.Logger, req model.InstallRequest, msgs []transport.Message, stage *string, outcome *model.InstallOutcome) bool {
	for _, msg := range msgs {
		if o.handleEvent(ctx, logger, req, msg, stage, outcome) {
			return true
		}
	}
	return false
}

// handleEvent applies one install event, it returns true on a terminal event.
func (o *Orchestrator) handleEvent(ctx context.Context, logger log.Logger, req model.InstallRequest, msg transport.Message, stage *string, outcome *model.InstallOutcome) bool {
	switch msg.Type {
	case msgInstallInstanceProgress:
		if s := msg.String("currentStage"); s != "" {
			*stage = stageLabel(s)
		}
		ratio, ok := ratioField(msg, "overallPercentage")
		if !ok {
			logger.Debugf("Progress event without percentage")
			return false
		}
		o.publish(&model.InstallStatus{
			Request:    req,
			Phase:      model.InstallPhaseInstalling,
			StageLabel: *stage,
			Percent:    formatPercent(ratio),
		})
		return false

	case msgInstallInstanceFileProgress:
		logger.Debugf("File progress: %s", msg.Raw)
		return false

	case msgInstallInstanceDataReply:
		var reply dataReplyJSON
		if err := msg.Decode(&reply); err != nil {
			logger.Warningf("Ignoring install reply: %v", err)
			return false
		}

		switch reply.Status {
		case statusFiles:
			logger.Debugf("Install files resolved")
			return false
		case statusError:
			outcome.Phase = model.InstallPhaseFailed
			outcome.Error = reply.errorMessage()
			logger.Errorf("Install failed: %s", outcome.Error)
			o.publish(&model.InstallStatus{
				Request:    req,
				Phase:      model.InstallPhaseFailed,
				StageLabel: *stage,
				Error:      outcome.Error,
			})
			return true
		case statusSuccess:
			outcome.Phase = model.InstallPhaseSucceeded
			inst, err := o.storeInstance(ctx, req, reply.Instance)
			if err != nil {
				outcome.Error = err.Error()
				logger.Errorf("Install succeeded but the instance could not be stored: %v", err)
			} else {
				outcome.InstanceID = inst.ID
			}
			o.publish(&model.InstallStatus{
				Request:    req,
				Phase:      model.InstallPhaseSucceeded,
				StageLabel: *stage,
				Percent:    "100",
			})
			return true
		default:
			logger.Warningf("Unknown install reply status %q", reply.Status)
			return false
		}
	}

	return false
}

// storeInstance adds the installed instance, or replaces the updated one.
func (o *Orchestrator) storeInstance(ctx context.Context, req model.InstallRequest, reported *instanceJSON) (model.Instance, error) {
	now := o.now().UTC()
	inst := model.Instance{
		ID:          req.RequestUUID,
		Name:        req.DisplayName,
		PackageID:   req.PackageID,
		VersionID:   req.VersionID,
		VersionName: req.VersionName,
		InstalledAt: now,
	}
	if req.IsUpdate() {
		inst.ID = req.UpdatingTargetID
	}
	if reported != nil {
		if reported.ID != "" {
			inst.ID = string(reported.ID)
		}
		if reported.Name != "" {
			inst.Name = reported.Name
		}
		if reported.VersionName != "" {
			inst.VersionName = reported.VersionName
		}
		inst.Path = reported.Path
	}
	if inst.Name == "" {
		inst.Name = fmt.Sprintf("package-%d", req.PackageID)
	}

	if !req.IsUpdate() {
		return inst, o.instances.CreateInstance(ctx, inst)
	}

	previous, err := o.instances.GetInstance(ctx, req.UpdatingTargetID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return model.Instance{}, err
	}
	if previous != nil {
		inst.InstalledAt = previous.InstalledAt
		if inst.Path == "" {
			inst.Path = previous.Path
		}
	}
	inst.UpdatedAt = &now

	if previous == nil {
		return inst, o.instances.CreateInstance(ctx, inst)
	}
	return inst, o.instances.ReplaceInstance(ctx, req.UpdatingTargetID, inst)
}

func (o *Orchestrator) finish(ctx context.Context, logger log.Logger, outcome model.InstallOutcome) {
	result := metrics.ResultSuccess
	switch outcome.Phase {
	case model.InstallPhaseFailed:
		result = metrics.ResultFailure
	case model.InstallPhaseRejected:
		result = metrics.ResultRejected
	}
	o.metrics.ObserveInstall(ctx, result, outcome.FinishedAt.Sub(outcome.StartedAt))

	if o.history == nil {
		return
	}
	// The drive context may be canceled already, the outcome is still recorded.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.history.RecordInstallOutcome(hctx, outcome); err != nil {
		logger.Warningf("Could not record install outcome: %v", err)
	}
}

func installPayload(req model.InstallRequest) transport.Payload {
	p := transport.Payload{
		transport.FieldType: msgInstallInstance,
		"requestUuid":       req.RequestUUID,
		"packageId":         req.PackageID,
		"versionId":         req.VersionID,
		"displayName":       req.DisplayName,
		"versionName":       req.VersionName,
	}
	if req.IsUpdate() {
		p["updatingTargetId"] = req.UpdatingTargetID
	}
	return p
}
