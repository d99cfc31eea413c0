package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"rdrelay/internal/protocol"
	"rdrelay/internal/session"
)

// FrameSource produces screen frames while the device is controlled.
// Capture itself is an external collaborator; tests plug in synthetic
// sources.
type FrameSource interface {
	NextFrame(ctx context.Context) (*protocol.ScreenFrame, error)
}

// InputSink receives relayed input events while the device is
// controlled.
type InputSink interface {
	HandleMouse(ev protocol.MouseEvent)
	HandleKeyboard(ev protocol.KeyboardEvent)
}

// AcceptPolicy decides what happens to an incoming control request.
type AcceptPolicy struct {
	// AutoAccept grants every request without prompting.
	AutoAccept bool
	// PasswordHash, when set, grants requests carrying the matching
	// pair password and rejects the rest.
	PasswordHash string
}

func (p AcceptPolicy) decide(password string) bool {
	if p.PasswordHash != "" {
		return session.CheckPairPassword(p.PasswordHash, password)
	}
	return p.AutoAccept
}

// Agent is the controlled-device role: it answers control requests,
// streams frames while a controller is attached, and applies relayed
// input through the sink.
type Agent struct {
	client *Client
	policy AcceptPolicy
	source FrameSource
	sink   InputSink

	frameInterval time.Duration
	compression   string
	log           *zap.Logger

	mu         sync.Mutex
	controller string
	stopStream context.CancelFunc
}

type AgentOptions struct {
	Client ConnectOptions
	Policy AcceptPolicy
	Source FrameSource
	Sink   InputSink

	// FrameInterval paces the capture loop. Zero means 100ms.
	FrameInterval time.Duration
	// Compression applied to outgoing frames: "", "snappy" or "zstd".
	Compression string
}

// ConnectOptions is Options minus the role, which each role fixes.
type ConnectOptions struct {
	URL               string
	DeviceID          string
	Name              string
	Capabilities      map[string]string
	Username          string
	Password          string
	HeartbeatInterval time.Duration
	Log               *zap.Logger
}

func NewAgent(opts AgentOptions) *Agent {
	a := &Agent{
		policy:        opts.Policy,
		source:        opts.Source,
		sink:          opts.Sink,
		frameInterval: opts.FrameInterval,
		compression:   opts.Compression,
		log:           opts.Client.Log,
	}
	if a.frameInterval <= 0 {
		a.frameInterval = 100 * time.Millisecond
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	a.client = New(Options{
		URL:               opts.Client.URL,
		DeviceID:          opts.Client.DeviceID,
		Name:              opts.Client.Name,
		Role:              protocol.RoleControlled,
		Capabilities:      opts.Client.Capabilities,
		Username:          opts.Client.Username,
		Password:          opts.Client.Password,
		HeartbeatInterval: opts.Client.HeartbeatInterval,
		Log:               opts.Client.Log,
	}, a)
	return a
}

func (a *Agent) Run(ctx context.Context) error {
	return a.client.Run(ctx)
}

func (a *Agent) OnConnected(c *Client) {
	a.log.Info("agent connected")
}

func (a *Agent) OnDisconnected(c *Client, err error) {
	a.stopStreaming()
}

func (a *Agent) OnMessage(c *Client, m *protocol.Message) {
	switch m.Type {
	case protocol.TypeControlRequest:
		var req protocol.ControlRequest
		if err := m.DecodePayload(&req); err != nil {
			return
		}
		a.handleControlRequest(req)

	case protocol.TypeControlEnded:
		a.stopStreaming()

	case protocol.TypeMouseEvent:
		if a.sink == nil {
			return
		}
		var ev protocol.MouseEvent
		if err := m.DecodePayload(&ev); err != nil {
			return
		}
		a.sink.HandleMouse(ev)

	case protocol.TypeKeyboardEvent:
		if a.sink == nil {
			return
		}
		var ev protocol.KeyboardEvent
		if err := m.DecodePayload(&ev); err != nil {
			return
		}
		a.sink.HandleKeyboard(ev)
	}
}

func (a *Agent) handleControlRequest(req protocol.ControlRequest) {
	accepted := a.policy.decide(req.Password)

	a.mu.Lock()
	if a.controller != "" {
		// Already streaming to someone; the broker should not let this
		// happen, refuse regardless.
		accepted = false
	}
	a.mu.Unlock()

	_ = a.client.SendPayload(protocol.TypeControlResponse, protocol.ControlResponse{
		ControllerID: req.ControllerID,
		Accepted:     accepted,
	})
	a.log.Info("control request answered",
		zap.String("controller", req.ControllerName),
		zap.Bool("accepted", accepted))

	if accepted {
		a.startStreaming(req.ControllerID)
	}
}

func (a *Agent) startStreaming(controllerID string) {
	if a.source == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.controller = controllerID
	a.stopStream = cancel
	a.mu.Unlock()

	go a.streamLoop(ctx)
}

func (a *Agent) stopStreaming() {
	a.mu.Lock()
	cancel := a.stopStream
	a.controller = ""
	a.stopStream = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *Agent) streamLoop(ctx context.Context) {
	ticker := time.NewTicker(a.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := a.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.log.Warn("frame capture failed", zap.Error(err))
			}
			continue
		}
		if frame == nil {
			continue
		}
		if a.compression != "" {
			if err := protocol.CompressFrame(frame, a.compression); err != nil {
				a.log.Warn("frame compression failed", zap.Error(err))
			}
		}
		_ = a.client.SendPayload(protocol.TypeScreenFrame, frame)
	}
}
