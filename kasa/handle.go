package kasa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gordian-engine/beacon/light"
)

// DefaultPort is the TCP port Kasa devices listen on.
const DefaultPort = 9999

// HandleConfig is the configuration for [NewHandle].
type HandleConfig struct {
	// Host and port of the bulb.
	Addr string

	// How long the connection may sit unused before it is closed.
	// The next request reconnects.
	IdleTimeout time.Duration

	// Upper bound on a single dial attempt.
	DialTimeout time.Duration

	// Deadline for writing a request and reading its response.
	RequestTimeout time.Duration

	// NewBackOff returns the retry policy for one connection attempt.
	// If nil, an exponential backoff capped at 30 seconds of total retrying is used.
	NewBackOff func() backoff.BackOff

	// Dial opens the TCP connection.
	// If nil, a [net.Dialer] is used.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (c HandleConfig) withDefaults() HandleConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.NewBackOff == nil {
		c.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		}
	}
	if c.Dial == nil {
		var d net.Dialer
		c.Dial = d.DialContext
	}
	return c
}

// Handle is a connection to a single bulb.
// All I/O happens on a goroutine owned by the Handle;
// method calls are queued to it one at a time.
//
// Create a Handle with [NewHandle] and stop it with [*Handle.Close].
type Handle struct {
	log *slog.Logger
	cfg HandleConfig

	requests chan request

	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ light.ReadSetter        = (*Handle)(nil)
	_ light.ColorSetter       = (*Handle)(nil)
	_ light.TemperatureSetter = (*Handle)(nil)
)

type request struct {
	ctx  context.Context
	body []byte
	resp chan<- result
}

type result struct {
	raw []byte
	err error
}

// NewHandle returns a handle for the bulb at cfg.Addr.
// No connection is made until the first request.
// The handle stops when ctx is canceled or Close is called.
func NewHandle(ctx context.Context, log *slog.Logger, cfg HandleConfig) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		log: log,
		cfg: cfg.withDefaults(),

		requests: make(chan request),

		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.run(ctx)
	return h
}

// Close stops the handle's goroutine, closing any open connection,
// and waits for it to finish.
func (h *Handle) Close() {
	h.cancel()
	<-h.done
}

func (h *Handle) run(ctx context.Context) {
	defer close(h.done)

	var conn net.Conn
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for {
		var idle <-chan time.Time
		if conn != nil {
			idle = time.After(h.cfg.IdleTimeout)
		}

		select {
		case <-ctx.Done():
			h.log.Debug(
				"Stopping due to context cancellation",
				"cause", context.Cause(ctx),
			)
			return

		case <-idle:
			h.log.Debug("Disconnecting idle bulb connection", "addr", h.cfg.Addr)
			_ = conn.Close()
			conn = nil

		case req := <-h.requests:
			if conn == nil {
				c, err := h.connect(ctx, req.ctx)
				if err != nil {
					req.resp <- result{err: CommunicationError{Op: OpConnect, Err: err}}
					continue
				}
				conn = c
			}

			raw, err := h.roundTrip(conn, req.body)
			if err != nil {
				var ce CommunicationError
				if errors.As(err, &ce) && ce.dropsConnection() {
					h.log.Info(
						"Dropping bulb connection after I/O failure",
						"addr", h.cfg.Addr, "err", err,
					)
					_ = conn.Close()
					conn = nil
				}
			}
			req.resp <- result{raw: raw, err: err}
		}
	}
}

// connect dials with retries until it succeeds,
// the backoff gives up, or either context is done.
func (h *Handle) connect(rootCtx, reqCtx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithCancelCause(reqCtx)
	defer cancel(nil)
	stop := context.AfterFunc(rootCtx, func() {
		cancel(context.Cause(rootCtx))
	})
	defer stop()

	var conn net.Conn
	err := backoff.RetryNotify(
		func() error {
			dialCtx, dialCancel := context.WithTimeout(ctx, h.cfg.DialTimeout)
			defer dialCancel()

			c, err := h.cfg.Dial(dialCtx, "tcp", h.cfg.Addr)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		backoff.WithContext(h.cfg.NewBackOff(), ctx),
		func(err error, next time.Duration) {
			h.log.Warn(
				"Failed to connect to bulb; will retry",
				"addr", h.cfg.Addr, "err", err, "retry_in", next,
			)
		},
	)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, err
	}

	h.log.Debug("Connected to bulb", "addr", h.cfg.Addr)
	return conn, nil
}

func (h *Handle) roundTrip(conn net.Conn, body []byte) ([]byte, error) {
	if err := conn.SetDeadline(time.Now().Add(h.cfg.RequestTimeout)); err != nil {
		return nil, CommunicationError{Op: OpWrite, Err: err}
	}

	if err := WriteFrame(conn, body); err != nil {
		return nil, CommunicationError{Op: OpWrite, Err: err}
	}

	raw, err := ReadFrame(conn)
	if err != nil {
		return nil, CommunicationError{Op: OpRead, Err: err}
	}
	return raw, nil
}

// do queues body on the handle's goroutine and waits for the raw response.
func (h *Handle) do(ctx context.Context, body []byte) ([]byte, error) {
	resp := make(chan result, 1)

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-h.done:
		return nil, ErrHandleClosed
	case h.requests <- request{ctx: ctx, body: body, resp: resp}:
		// Okay.
	}

	// The handle always answers an accepted request before it can exit.
	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case r := <-resp:
		return r.raw, r.err
	}
}

// SysInfo returns the bulb's get_sysinfo response.
// It fails with [OpWrongDevice] if the device is not a [SupportedModel].
func (h *Handle) SysInfo(ctx context.Context) (SysInfo, error) {
	body, err := command(systemTarget, getSysInfoCmd, nil)
	if err != nil {
		return SysInfo{}, err
	}

	raw, err := h.do(ctx, body)
	if err != nil {
		return SysInfo{}, err
	}

	var info SysInfo
	if err := reply(raw, systemTarget, getSysInfoCmd, &info); err != nil {
		return SysInfo{}, err
	}

	if info.ErrCode != 0 {
		return SysInfo{}, CommunicationError{
			Op:  OpDevice,
			Err: fmt.Errorf("get_sysinfo returned err_code %d", info.ErrCode),
		}
	}

	if info.Model != SupportedModel {
		return SysInfo{}, CommunicationError{
			Op:  OpWrongDevice,
			Err: fmt.Errorf("model %q is not %q", info.Model, SupportedModel),
		}
	}

	return info, nil
}

// SetLightState transitions the bulb and returns its resulting light state.
func (h *Handle) SetLightState(ctx context.Context, args SetLightStateArgs) (LightState, error) {
	body, err := command(lightingTarget, transitionCmd, args)
	if err != nil {
		return LightState{}, err
	}

	raw, err := h.do(ctx, body)
	if err != nil {
		return LightState{}, err
	}

	var res SetLightStateResponse
	if err := reply(raw, lightingTarget, transitionCmd, &res); err != nil {
		return LightState{}, err
	}

	if res.ErrCode != 0 {
		return LightState{}, CommunicationError{
			Op:  OpDevice,
			Err: fmt.Errorf("%s returned err_code %d: %s", transitionCmd, res.ErrCode, res.ErrMsg),
		}
	}

	return res.LightState, nil
}

// State implements [light.Reader].
func (h *Handle) State(ctx context.Context) (light.State, error) {
	info, err := h.SysInfo(ctx)
	if err != nil {
		return light.Off, err
	}
	return info.LightState.State(), nil
}

// SetState implements [light.Setter].
func (h *Handle) SetState(ctx context.Context, s light.State) error {
	args := TurnOffArgs()
	if s == light.On {
		args = TurnOnArgs()
	}
	_, err := h.SetLightState(ctx, args)
	return err
}

// SetColor implements [light.ColorSetter].
func (h *Handle) SetColor(ctx context.Context, c light.HSB) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := h.SetLightState(ctx, ColorArgs(c))
	return err
}

// SetTemperature implements [light.TemperatureSetter].
func (h *Handle) SetTemperature(ctx context.Context, k light.Kelvin, brightness uint8) error {
	_, err := h.SetLightState(ctx, TemperatureArgs(k, brightness))
	return err
}
