package broker

import (
	"go.uber.org/zap"

	"rdrelay/internal/protocol"
)

// The pipeline is stateless forwarding: payloads pass through opaquely,
// and a send failure (peer raced us to disconnect, or its queue is full)
// drops the message and tears the pair down rather than buffering.

// RelayFrame forwards a screen frame from a controlled device to its
// bound controller. Frames from an unbound device are dropped.
func (b *Broker) RelayFrame(fromConnID string, m *protocol.Message) {
	b.mu.Lock()
	slot, ok := b.slots[fromConnID]
	if !ok || slot.state != stateBound {
		b.mu.Unlock()
		return
	}
	target := slot.controllerID
	b.mu.Unlock()

	b.forward(fromConnID, target, m, "frame")
}

// RelayInput forwards a mouse or keyboard event from a controller to
// its bound controlled device. Input semantics are not interpreted here.
func (b *Broker) RelayInput(fromConnID string, m *protocol.Message) {
	b.mu.Lock()
	controlledID, ok := b.byController[fromConnID]
	var bound bool
	if ok {
		if slot := b.slots[controlledID]; slot != nil && slot.state == stateBound {
			bound = true
		}
	}
	b.mu.Unlock()

	if !bound {
		return
	}
	b.forward(fromConnID, controlledID, m, "input")
}

func (b *Broker) forward(fromConnID, toConnID string, m *protocol.Message, kind string) {
	data, err := protocol.Encode(m)
	if err != nil {
		b.log.Error("encoding relayed message failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	if err := b.reg.Send(toConnID, data); err != nil {
		b.log.Warn("relay target unreachable, ending pair",
			zap.String("kind", kind),
			zap.String("from", fromConnID),
			zap.String("to", toConnID),
			zap.Error(err))
		b.teardown(toConnID, "peer_unreachable")
		return
	}
	b.metrics.RelayedTotal.WithLabelValues(kind).Inc()
	b.metrics.RelayedBytes.WithLabelValues(kind).Add(float64(len(m.Payload)))
}
