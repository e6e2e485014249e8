package kasa

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"

	"github.com/gordian-engine/beacon/light"
)

// SupportedModel is the only model string accepted from get_sysinfo.
const SupportedModel = "LB130(US)"

const (
	systemTarget   = "system"
	getSysInfoCmd  = "get_sysinfo"
	lightingTarget = "smartlife.iot.smartbulb.lightingservice"
	transitionCmd  = "transition_light_state"
)

// command encodes the {"target":{"cmd":arg}} shape shared by every request.
func command(target, cmd string, arg any) ([]byte, error) {
	b, err := json.Marshal(map[string]map[string]any{
		target: {cmd: arg},
	})
	if err != nil {
		return nil, CommunicationError{Op: OpSerialize, Err: err}
	}
	return b, nil
}

// reply decodes the {"target":{"cmd":result}} shape into out.
func reply(raw []byte, target, cmd string, out any) error {
	var env map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return CommunicationError{Op: OpDeserialize, Err: err}
	}

	res, ok := env[target][cmd]
	if !ok {
		return CommunicationError{
			Op:  OpDeserialize,
			Err: fmt.Errorf("response missing %s.%s", target, cmd),
		}
	}

	if err := json.Unmarshal(res, out); err != nil {
		return CommunicationError{Op: OpDeserialize, Err: err}
	}
	return nil
}

// ColorState is the color portion of a bulb's light state.
// A nonzero ColorTemp means the bulb is in white mode
// and Hue and Saturation are not meaningful.
type ColorState struct {
	Mode       string `json:"mode,omitempty"`
	Hue        uint16 `json:"hue"`
	Saturation uint8  `json:"saturation"`
	ColorTemp  uint16 `json:"color_temp"`
	Brightness uint8  `json:"brightness"`
}

// HSB returns the color as a [light.HSB].
func (c ColorState) HSB() light.HSB {
	return light.HSB{
		Hue:        c.Hue,
		Saturation: c.Saturation,
		Brightness: c.Brightness,
	}
}

// LightState is the light_state object of get_sysinfo.
// When the bulb is off, the color fields are empty
// and DefaultOnState holds the color it will turn on to.
type LightState struct {
	OnOff uint8 `json:"on_off"`
	ColorState

	DefaultOnState *ColorState `json:"dft_on_state,omitempty"`
}

// State returns whether the bulb is on.
func (s LightState) State() light.State {
	if s.OnOff == 1 {
		return light.On
	}
	return light.Off
}

// SysInfo is the response to get_sysinfo.
type SysInfo struct {
	Model       string `json:"model"`
	Alias       string `json:"alias"`
	Description string `json:"description"`

	DeviceID   string `json:"deviceId"`
	HardwareID string `json:"hwId"`
	OEMID      string `json:"oemId"`

	HardwareVersion string `json:"hw_ver"`
	SoftwareVersion string `json:"sw_ver"`

	MicType string `json:"mic_type"`
	MicMAC  string `json:"mic_mac"`

	IsColor             uint8 `json:"is_color"`
	IsDimmable          uint8 `json:"is_dimmable"`
	IsVariableColorTemp uint8 `json:"is_variable_color_temp"`

	RSSI int `json:"rssi"`

	LightState LightState `json:"light_state"`

	PreferredState []ColorState `json:"preferred_state"`

	ErrCode int `json:"err_code"`
}

// MAC parses MicMAC, which devices report as
// twelve hex digits without separators.
func (s SysInfo) MAC() (net.HardwareAddr, error) {
	if len(s.MicMAC) != 12 {
		return nil, fmt.Errorf("mic_mac %q must be 12 hex digits", s.MicMAC)
	}
	b, err := hex.DecodeString(s.MicMAC)
	if err != nil {
		return nil, fmt.Errorf("mic_mac %q: %w", s.MicMAC, err)
	}
	return net.HardwareAddr(b), nil
}

// SetLightStateArgs is the argument to transition_light_state.
// Nil fields are left unchanged by the bulb.
type SetLightStateArgs struct {
	OnOff *uint8 `json:"on_off,omitempty"`

	Hue        *uint16 `json:"hue,omitempty"`
	Saturation *uint8  `json:"saturation,omitempty"`
	Brightness *uint8  `json:"brightness,omitempty"`

	// Zero switches the bulb from white mode back to color mode.
	ColorTemp *uint16 `json:"color_temp,omitempty"`

	// Milliseconds.
	TransitionPeriod *uint32 `json:"transition_period,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// TurnOffArgs switches the bulb off.
func TurnOffArgs() SetLightStateArgs {
	return SetLightStateArgs{OnOff: ptr[uint8](0)}
}

// TurnOnArgs switches the bulb on to its last color.
func TurnOnArgs() SetLightStateArgs {
	return SetLightStateArgs{OnOff: ptr[uint8](1)}
}

// ColorArgs switches the bulb on to the given color.
func ColorArgs(c light.HSB) SetLightStateArgs {
	return SetLightStateArgs{
		OnOff:      ptr[uint8](1),
		Hue:        ptr(c.Hue),
		Saturation: ptr(c.Saturation),
		Brightness: ptr(c.Brightness),
		ColorTemp:  ptr[uint16](0),
	}
}

// TemperatureArgs switches the bulb on to a white color temperature.
func TemperatureArgs(k light.Kelvin, brightness uint8) SetLightStateArgs {
	return SetLightStateArgs{
		OnOff:      ptr[uint8](1),
		ColorTemp:  ptr(uint16(k)),
		Brightness: ptr(brightness),
	}
}

// SetLightStateResponse is the bulb's light state after a transition.
type SetLightStateResponse struct {
	LightState

	ErrCode int    `json:"err_code"`
	ErrMsg  string `json:"err_msg,omitempty"`
}
