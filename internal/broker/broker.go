// Package broker routes messages between a controller connection and
// its paired controlled connection, and arbitrates the
// request/accept/reject handshake that binds them.
package broker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"rdrelay/internal/metrics"
	"rdrelay/internal/protocol"
	"rdrelay/internal/registry"
	"rdrelay/internal/session"
)

type pairState int

const (
	statePending pairState = iota
	stateBound
)

// pairSlot is a controlled device's single pairing slot. Absence from
// the table is the Idle state.
type pairSlot struct {
	state         pairState
	controllerID  string
	controlledID  string
	establishedAt time.Time
	timer         *time.Timer
	gen           uint64
}

// PairInfo is a read-only view of one slot for the REST API.
type PairInfo struct {
	ControllerID  string    `json:"controller_id"`
	ControlledID  string    `json:"controlled_id"`
	State         string    `json:"state"`
	EstablishedAt time.Time `json:"established_at,omitempty"`
}

// PairEvent tells a subscriber (the presentation layer, or the server's
// broadcast loop) that pairing state changed. The broker never reaches
// into transports or UI directly.
type PairEvent struct {
	ControllerID string
	ControlledID string
	Bound        bool
}

type Broker struct {
	reg      *registry.Registry
	sessions *session.Manager
	metrics  *metrics.Metrics
	log      *zap.Logger

	pendingTimeout time.Duration
	now            func() time.Time

	mu           sync.Mutex
	slots        map[string]*pairSlot // keyed by controlled connection id
	byController map[string]string    // controller conn id -> controlled conn id
	nextGen      uint64

	onPairEvent func(PairEvent)
}

func New(reg *registry.Registry, sessions *session.Manager, m *metrics.Metrics, log *zap.Logger, pendingTimeout time.Duration) *Broker {
	return &Broker{
		reg:            reg,
		sessions:       sessions,
		metrics:        m,
		log:            log,
		pendingTimeout: pendingTimeout,
		now:            time.Now,
		slots:          make(map[string]*pairSlot),
		byController:   make(map[string]string),
	}
}

// OnPairEvent registers a single subscriber for pairing changes. Called
// once at assembly time, before any connection is handled.
func (b *Broker) OnPairEvent(fn func(PairEvent)) {
	b.onPairEvent = fn
}

func (b *Broker) emit(ev PairEvent) {
	if b.onPairEvent != nil {
		b.onPairEvent(ev)
	}
}

// RequestControl handles a controller's control_request. Every request
// gets exactly one terminal control_request_result; nothing is queued.
func (b *Broker) RequestControl(controllerID string, req protocol.ControlRequest) {
	controller, ok := b.reg.Get(controllerID)
	if !ok {
		return // requester vanished mid-flight, nobody to answer
	}

	target, ok := b.reg.FindByDeviceID(req.TargetDeviceID)
	if !ok || target.Role != protocol.RoleControlled {
		b.sendResult(controllerID, false, protocol.ReasonNotFound)
		return
	}

	b.mu.Lock()
	if _, busy := b.byController[controllerID]; busy {
		b.mu.Unlock()
		b.sendResult(controllerID, false, protocol.ReasonBusy)
		return
	}
	if _, occupied := b.slots[target.ID]; occupied {
		b.mu.Unlock()
		b.sendResult(controllerID, false, protocol.ReasonBusy)
		return
	}

	b.nextGen++
	slot := &pairSlot{
		state:        statePending,
		controllerID: controllerID,
		controlledID: target.ID,
		gen:          b.nextGen,
	}
	gen := slot.gen
	slot.timer = time.AfterFunc(b.pendingTimeout, func() {
		b.expirePending(target.ID, gen)
	})
	b.slots[target.ID] = slot
	b.byController[controllerID] = target.ID
	b.mu.Unlock()

	// Forward to the controlled device, which runs its own password
	// check before answering.
	forward := req
	forward.ControllerID = controllerID
	forward.ControllerName = controller.Name
	msg, err := protocol.New(protocol.TypeControlRequest, forward)
	if err == nil {
		data, _ := protocol.Encode(msg)
		err = b.reg.Send(target.ID, data)
	}
	if err != nil {
		b.log.Warn("forwarding control request failed",
			zap.String("controller", controllerID),
			zap.String("controlled", target.ID),
			zap.Error(err))
		if b.removePending(target.ID, gen) {
			b.sendResult(controllerID, false, protocol.ReasonNotFound)
		}
	}
}

// HandleControlResponse resolves a pending request with the controlled
// device's accept or reject.
func (b *Broker) HandleControlResponse(controlledID string, resp protocol.ControlResponse) {
	b.mu.Lock()
	slot, ok := b.slots[controlledID]
	if !ok || slot.state != statePending {
		b.mu.Unlock()
		b.log.Debug("control response with no pending request", zap.String("controlled", controlledID))
		return
	}
	slot.timer.Stop()
	controllerID := slot.controllerID

	if !resp.Accepted {
		delete(b.slots, controlledID)
		delete(b.byController, controllerID)
		b.mu.Unlock()
		b.metrics.ControlRequestsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		b.sendResult(controllerID, false, protocol.ReasonRejected)
		return
	}

	slot.state = stateBound
	slot.establishedAt = b.now()
	b.mu.Unlock()

	_ = b.reg.UpdateStatus(controllerID, protocol.StatusControlling)
	_ = b.reg.UpdateStatus(controlledID, protocol.StatusControlled)
	b.metrics.ControlRequestsTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()
	b.metrics.ActivePairs.Inc()
	b.log.Info("control pair bound",
		zap.String("controller", controllerID),
		zap.String("controlled", controlledID))

	b.sendResult(controllerID, true, protocol.ReasonAccepted)
	b.emit(PairEvent{ControllerID: controllerID, ControlledID: controlledID, Bound: true})
}

// EndControl tears down the sender's bound pair and notifies the peer.
// A pending request cannot be ended this way; only the timeout or a
// control_response resolves it.
func (b *Broker) EndControl(connID, reason string) {
	b.teardown(connID, reason)
}

// HandleDisconnect is the registry cascade entry point. The departed
// side gets nothing; the survivor gets exactly one control_ended, and a
// pending request against a vanished device resolves as not_found.
func (b *Broker) HandleDisconnect(connID string) {
	b.mu.Lock()
	if controlledID, ok := b.byController[connID]; ok {
		slot := b.slots[controlledID]
		if slot != nil && slot.state == statePending {
			slot.timer.Stop()
			delete(b.slots, controlledID)
			delete(b.byController, connID)
			b.mu.Unlock()
			return
		}
	} else if slot, ok := b.slots[connID]; ok && slot.state == statePending {
		slot.timer.Stop()
		controllerID := slot.controllerID
		delete(b.slots, connID)
		delete(b.byController, controllerID)
		b.mu.Unlock()
		b.sendResult(controllerID, false, protocol.ReasonNotFound)
		return
	}
	b.mu.Unlock()

	b.teardown(connID, "disconnected")
}

// teardown unwinds a bound pair. The side named by connID initiated the
// end (or is already gone); only the other side is notified.
func (b *Broker) teardown(connID, reason string) {
	b.mu.Lock()
	var slot *pairSlot
	if controlledID, ok := b.byController[connID]; ok {
		slot = b.slots[controlledID]
	} else {
		slot = b.slots[connID]
	}
	if slot == nil || slot.state != stateBound {
		b.mu.Unlock()
		return
	}
	controllerID, controlledID := slot.controllerID, slot.controlledID
	delete(b.slots, controlledID)
	delete(b.byController, controllerID)
	b.mu.Unlock()

	b.metrics.ActivePairs.Dec()
	b.resetStatus(controllerID)
	b.resetStatus(controlledID)

	ended, err := protocol.New(protocol.TypeControlEnded, protocol.ControlEnded{Reason: reason})
	if err == nil {
		data, _ := protocol.Encode(ended)
		for _, id := range []string{controllerID, controlledID} {
			if id == connID {
				continue
			}
			_ = b.reg.Send(id, data)
		}
	}

	b.log.Info("control pair ended",
		zap.String("controller", controllerID),
		zap.String("controlled", controlledID),
		zap.String("reason", reason))
	b.emit(PairEvent{ControllerID: controllerID, ControlledID: controlledID, Bound: false})
}

// resetStatus returns a connection to authenticated or connected once
// its pair is gone.
func (b *Broker) resetStatus(connID string) {
	status := protocol.StatusConnected
	if b.sessions.Authenticated(connID) {
		status = protocol.StatusAuthenticated
	}
	_ = b.reg.UpdateStatus(connID, status)
}

func (b *Broker) expirePending(controlledID string, gen uint64) {
	b.mu.Lock()
	slot, ok := b.slots[controlledID]
	if !ok || slot.state != statePending || slot.gen != gen {
		b.mu.Unlock()
		return
	}
	controllerID := slot.controllerID
	delete(b.slots, controlledID)
	delete(b.byController, controllerID)
	b.mu.Unlock()

	b.metrics.ControlRequestsTotal.WithLabelValues(metrics.OutcomeTimeout).Inc()
	b.log.Warn("control request timed out",
		zap.String("controller", controllerID),
		zap.String("controlled", controlledID))
	b.sendResult(controllerID, false, protocol.ReasonTimeout)
}

// removePending drops a pending slot if the generation still matches.
func (b *Broker) removePending(controlledID string, gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot, ok := b.slots[controlledID]
	if !ok || slot.state != statePending || slot.gen != gen {
		return false
	}
	slot.timer.Stop()
	delete(b.slots, controlledID)
	delete(b.byController, slot.controllerID)
	return true
}

func (b *Broker) sendResult(controllerID string, success bool, reason string) {
	if !success {
		switch reason {
		case protocol.ReasonBusy:
			b.metrics.ControlRequestsTotal.WithLabelValues(metrics.OutcomeBusy).Inc()
		case protocol.ReasonNotFound:
			b.metrics.ControlRequestsTotal.WithLabelValues(metrics.OutcomeNotFound).Inc()
		}
	}
	msg, err := protocol.New(protocol.TypeControlRequestResult, protocol.ControlRequestResult{Success: success, Reason: reason})
	if err != nil {
		return
	}
	data, _ := protocol.Encode(msg)
	if err := b.reg.Send(controllerID, data); err != nil {
		b.log.Debug("control request result undeliverable",
			zap.String("controller", controllerID), zap.Error(err))
	}
}

// Pairs lists the current slots for the REST API.
func (b *Broker) Pairs() []PairInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PairInfo, 0, len(b.slots))
	for _, slot := range b.slots {
		info := PairInfo{
			ControllerID: slot.controllerID,
			ControlledID: slot.controlledID,
			State:        "pending",
		}
		if slot.state == stateBound {
			info.State = "bound"
			info.EstablishedAt = slot.establishedAt
		}
		out = append(out, info)
	}
	return out
}
