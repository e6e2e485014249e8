// Package kasatest provides a fake Kasa bulb for tests.
package kasatest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gordian-engine/beacon/kasa"
	"github.com/stretchr/testify/require"
)

// Bulb is a fake LB130 listening on a loopback TCP port.
// It answers get_sysinfo and transition_light_state
// using the same framing and cipher as a real bulb.
type Bulb struct {
	log *slog.Logger
	ln  net.Listener

	mu   sync.Mutex
	info kasa.SysInfo

	accepted atomic.Int64
	open     atomic.Int64
	requests atomic.Int64

	dropNext atomic.Bool

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	wg sync.WaitGroup
}

// NewBulb starts a fake bulb that is initially off.
// It is stopped during [*testing.T.Cleanup].
func NewBulb(t *testing.T, log *slog.Logger) *Bulb {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &Bulb{
		log: log,
		ln:  ln,

		conns: make(map[net.Conn]struct{}),

		info: kasa.SysInfo{
			Model:      kasa.SupportedModel,
			Alias:      "Test Bulb",
			DeviceID:   "8012ABCDEF",
			MicType:    "IOT.SMARTBULB",
			MicMAC:     "50C7BF000001",
			IsColor:    1,
			IsDimmable: 1,

			LightState: kasa.LightState{
				DefaultOnState: &kasa.ColorState{
					Mode:       "normal",
					Hue:        120,
					Saturation: 50,
					Brightness: 80,
				},
			},
		},
	}

	b.wg.Add(1)
	go b.acceptLoop()

	t.Cleanup(func() {
		_ = ln.Close()

		b.connsMu.Lock()
		for c := range b.conns {
			_ = c.Close()
		}
		b.connsMu.Unlock()

		b.wg.Wait()
	})

	return b
}

// Addr is the host:port to pass as [kasa.HandleConfig.Addr].
func (b *Bulb) Addr() string {
	return b.ln.Addr().String()
}

// Accepted returns the number of connections accepted so far.
func (b *Bulb) Accepted() int {
	return int(b.accepted.Load())
}

// Open returns the number of connections not yet closed by the client.
func (b *Bulb) Open() int {
	return int(b.open.Load())
}

// Requests returns the number of requests answered or dropped so far.
func (b *Bulb) Requests() int {
	return int(b.requests.Load())
}

// SetModel changes the model reported by get_sysinfo.
func (b *Bulb) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info.Model = model
}

// LightState returns the bulb's current light state.
func (b *Bulb) LightState() kasa.LightState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info.LightState
}

// SetOn switches the bulb as if by its physical switch or another app.
func (b *Bulb) SetOn(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var v uint8
	if on {
		v = 1
	}
	b.apply(kasa.SetLightStateArgs{OnOff: &v})
}

// DropNextRequest makes the bulb close the connection
// instead of answering the next request.
func (b *Bulb) DropNextRequest() {
	b.dropNext.Store(true)
}

func (b *Bulb) acceptLoop() {
	defer b.wg.Done()

	for {
		conn, err := b.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				b.log.Info("Fake bulb failed to accept", "err", err)
			}
			return
		}

		b.accepted.Add(1)
		b.open.Add(1)

		b.connsMu.Lock()
		b.conns[conn] = struct{}{}
		b.connsMu.Unlock()

		b.wg.Add(1)
		go b.serve(conn)
	}
}

func (b *Bulb) serve(conn net.Conn) {
	defer b.wg.Done()
	defer func() {
		_ = conn.Close()

		b.connsMu.Lock()
		delete(b.conns, conn)
		b.connsMu.Unlock()

		b.open.Add(-1)
	}()

	for {
		raw, err := kasa.ReadFrame(conn)
		if err != nil {
			return
		}

		b.requests.Add(1)

		if b.dropNext.Swap(false) {
			b.log.Debug("Fake bulb dropping request")
			return
		}

		resp, err := b.handle(raw)
		if err != nil {
			b.log.Info("Fake bulb rejected request", "err", err)
			return
		}

		if err := kasa.WriteFrame(conn, resp); err != nil {
			return
		}
	}
}

func (b *Bulb) handle(raw []byte) ([]byte, error) {
	var req map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := req["system"]["get_sysinfo"]; ok {
		return json.Marshal(map[string]map[string]any{
			"system": {"get_sysinfo": b.info},
		})
	}

	const lighting = "smartlife.iot.smartbulb.lightingservice"
	if argJSON, ok := req[lighting]["transition_light_state"]; ok {
		var args kasa.SetLightStateArgs
		if err := json.Unmarshal(argJSON, &args); err != nil {
			return nil, err
		}

		b.apply(args)

		return json.Marshal(map[string]map[string]any{
			lighting: {
				"transition_light_state": kasa.SetLightStateResponse{
					LightState: b.info.LightState,
				},
			},
		})
	}

	return nil, errors.New("unknown command")
}

// apply mimics the bulb parking its color in dft_on_state while off.
// b.mu must be held.
func (b *Bulb) apply(args kasa.SetLightStateArgs) {
	ls := &b.info.LightState

	if args.OnOff != nil {
		switch {
		case *args.OnOff == 0 && ls.OnOff == 1:
			parked := ls.ColorState
			ls.DefaultOnState = &parked
			ls.ColorState = kasa.ColorState{}
		case *args.OnOff == 1 && ls.OnOff == 0:
			if ls.DefaultOnState != nil {
				ls.ColorState = *ls.DefaultOnState
			}
			ls.DefaultOnState = nil
		}
		ls.OnOff = *args.OnOff
	}

	if ls.OnOff == 0 {
		return
	}

	if args.Hue != nil {
		ls.Hue = *args.Hue
	}
	if args.Saturation != nil {
		ls.Saturation = *args.Saturation
	}
	if args.Brightness != nil {
		ls.Brightness = *args.Brightness
	}
	if args.ColorTemp != nil {
		ls.ColorTemp = *args.ColorTemp
	}
}
