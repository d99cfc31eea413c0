package handler

import (
	"go.uber.org/zap"

	"rdrelay/internal/metrics"
	"rdrelay/internal/protocol"
	"rdrelay/internal/registry"
)

// DeviceListBroadcaster pushes the current controlled-device roster to
// every controller whenever it changes: a device joins or leaves, its
// status flips, or a pair forms or breaks.
type DeviceListBroadcaster struct {
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

func (b *DeviceListBroadcaster) snapshot() ([]byte, error) {
	devices := b.Registry.ListControlledDevices()
	list := protocol.DeviceList{Devices: make([]protocol.DeviceSummary, 0, len(devices))}
	for _, d := range devices {
		list.Devices = append(list.Devices, protocol.DeviceSummary{
			DeviceID: d.DeviceID,
			Name:     d.Name,
			Status:   d.Status,
		})
	}
	msg, err := protocol.New(protocol.TypeDeviceList, list)
	if err != nil {
		return nil, err
	}
	return protocol.Encode(msg)
}

// Broadcast sends the roster to all connected controllers.
func (b *DeviceListBroadcaster) Broadcast() {
	out, err := b.snapshot()
	if err != nil {
		b.Log.Error("device list encode failed", zap.Error(err))
		return
	}
	for _, ctrl := range b.Registry.ListControllers() {
		_ = b.Registry.Send(ctrl.ID, out)
	}
	b.Metrics.DeviceListBroadcasts.Inc()
}

// SendTo sends the roster to a single connection, answering an explicit
// device_list request.
func (b *DeviceListBroadcaster) SendTo(connID string) {
	out, err := b.snapshot()
	if err != nil {
		b.Log.Error("device list encode failed", zap.Error(err))
		return
	}
	_ = b.Registry.Send(connID, out)
}
