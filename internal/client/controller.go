package client

import (
	"context"

	"go.uber.org/zap"

	"rdrelay/internal/protocol"
)

// ControllerCallbacks deliver broker traffic to the embedding program.
// Nil callbacks are skipped.
type ControllerCallbacks struct {
	OnDeviceList    func(list protocol.DeviceList)
	OnControlResult func(res protocol.ControlRequestResult)
	OnFrame         func(frame protocol.ScreenFrame)
	OnControlEnded  func(ended protocol.ControlEnded)
	OnError         func(info protocol.ErrorInfo)
}

// Controller is the operator role: it tracks the device roster,
// requests control and consumes the resulting frame stream.
type Controller struct {
	client    *Client
	callbacks ControllerCallbacks
	log       *zap.Logger
}

type ControllerOptions struct {
	Client    ConnectOptions
	Callbacks ControllerCallbacks
}

func NewController(opts ControllerOptions) *Controller {
	c := &Controller{
		callbacks: opts.Callbacks,
		log:       opts.Client.Log,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.client = New(Options{
		URL:               opts.Client.URL,
		DeviceID:          opts.Client.DeviceID,
		Name:              opts.Client.Name,
		Role:              protocol.RoleController,
		Capabilities:      opts.Client.Capabilities,
		Username:          opts.Client.Username,
		Password:          opts.Client.Password,
		HeartbeatInterval: opts.Client.HeartbeatInterval,
		Log:               opts.Client.Log,
	}, c)
	return c
}

func (c *Controller) Run(ctx context.Context) error {
	return c.client.Run(ctx)
}

// RequestControl asks the broker for control of a device. The outcome
// arrives through OnControlResult.
func (c *Controller) RequestControl(targetDeviceID, password string) error {
	return c.client.SendPayload(protocol.TypeControlRequest, protocol.ControlRequest{
		TargetDeviceID: targetDeviceID,
		Password:       password,
	})
}

func (c *Controller) EndControl(reason string) error {
	return c.client.SendPayload(protocol.TypeEndControl, protocol.EndControl{Reason: reason})
}

func (c *Controller) RequestDeviceList() error {
	return c.client.SendPayload(protocol.TypeDeviceList, nil)
}

func (c *Controller) SendMouse(ev protocol.MouseEvent) error {
	return c.client.SendPayload(protocol.TypeMouseEvent, ev)
}

func (c *Controller) SendKeyboard(ev protocol.KeyboardEvent) error {
	return c.client.SendPayload(protocol.TypeKeyboardEvent, ev)
}

func (c *Controller) OnConnected(cl *Client) {
	c.log.Info("controller connected")
}

func (c *Controller) OnDisconnected(cl *Client, err error) {}

func (c *Controller) OnMessage(cl *Client, m *protocol.Message) {
	switch m.Type {
	case protocol.TypeDeviceList:
		if c.callbacks.OnDeviceList == nil {
			return
		}
		var list protocol.DeviceList
		if err := m.DecodePayload(&list); err != nil {
			return
		}
		c.callbacks.OnDeviceList(list)

	case protocol.TypeControlRequestResult:
		if c.callbacks.OnControlResult == nil {
			return
		}
		var res protocol.ControlRequestResult
		if err := m.DecodePayload(&res); err != nil {
			return
		}
		c.callbacks.OnControlResult(res)

	case protocol.TypeScreenFrame:
		if c.callbacks.OnFrame == nil {
			return
		}
		var frame protocol.ScreenFrame
		if err := m.DecodePayload(&frame); err != nil {
			return
		}
		if err := protocol.DecompressFrame(&frame); err != nil {
			c.log.Warn("frame decompression failed", zap.Error(err))
			return
		}
		c.callbacks.OnFrame(frame)

	case protocol.TypeControlEnded:
		if c.callbacks.OnControlEnded == nil {
			return
		}
		var ended protocol.ControlEnded
		if err := m.DecodePayload(&ended); err != nil {
			return
		}
		c.callbacks.OnControlEnded(ended)

	case protocol.TypeError:
		if c.callbacks.OnError == nil {
			return
		}
		var info protocol.ErrorInfo
		if err := m.DecodePayload(&info); err != nil {
			return
		}
		c.callbacks.OnError(info)
	}
}
