package melcloud

import (
	"math"
	"strings"

	"github.com/rs/zerolog"
)

// temperatureEpsilon is the smallest setpoint change worth a command.
const temperatureEpsilon = 0.1

// Patch is a requested change to the logical fields of one unit. Nil
// fields are left alone.
type Patch struct {
	Power       *bool
	Mode        *Mode
	FanSpeed    *FanSpeed
	Vane        *VanePosition
	Temperature *float64
}

func (p Patch) Empty() bool {
	return p.Power == nil && p.Mode == nil && p.FanSpeed == nil && p.Vane == nil && p.Temperature == nil
}

// PowerOnly reports whether the patch touches nothing but power.
func (p Patch) PowerOnly() bool {
	return p.Power != nil && p.Mode == nil && p.FanSpeed == nil && p.Vane == nil && p.Temperature == nil
}

// withoutNoops drops fields that already hold the requested value.
func (p Patch) withoutNoops(s *DeviceState) Patch {
	out := p
	if p.Power != nil && s.Power() == *p.Power {
		out.Power = nil
	}
	if p.Mode != nil && s.Mode() == *p.Mode {
		out.Mode = nil
	}
	if p.FanSpeed != nil {
		if cur, ok := s.FanSpeed(); ok && cur == *p.FanSpeed {
			out.FanSpeed = nil
		}
	}
	if p.Vane != nil {
		if cur, ok := s.VaneVertical(); ok && cur == *p.Vane {
			out.Vane = nil
		}
	}
	if p.Temperature != nil {
		if cur, ok := s.SetTemperature(); ok && math.Abs(cur-*p.Temperature) < temperatureEpsilon {
			out.Temperature = nil
		}
	}
	return out
}

// contradicts reports whether s disagrees with any field of the patch.
func (p Patch) contradicts(s *DeviceState) bool {
	return !p.withoutNoops(s).Empty()
}

// merge overlays newer fields onto p.
func (p Patch) merge(newer Patch) Patch {
	out := p
	if newer.Power != nil {
		out.Power = newer.Power
	}
	if newer.Mode != nil {
		out.Mode = newer.Mode
	}
	if newer.FanSpeed != nil {
		out.FanSpeed = newer.FanSpeed
	}
	if newer.Vane != nil {
		out.Vane = newer.Vane
	}
	if newer.Temperature != nil {
		out.Temperature = newer.Temperature
	}
	return out
}

// apply writes the patch into the settings list of s.
func (p Patch) apply(s *DeviceState) {
	if p.Power != nil {
		s.put(SettingPower, formatBool(*p.Power))
	}
	if p.Mode != nil {
		s.put(SettingOperationMode, string(*p.Mode))
	}
	if p.FanSpeed != nil {
		s.put(SettingFanSpeed, p.FanSpeed.String())
	}
	if p.Vane != nil {
		s.put(SettingVaneVerticalDirection, p.Vane.String())
	}
	if p.Temperature != nil {
		s.put(SettingSetTemperature, FormatTemperature(*p.Temperature))
	}
	s.Remember(s)
}

func (p Patch) MarshalZerologObject(e *zerolog.Event) {
	if p.Power != nil {
		e.Bool("power", *p.Power)
	}
	if p.Mode != nil {
		e.Str("mode", string(*p.Mode))
	}
	if p.FanSpeed != nil {
		e.Str("fan_speed", p.FanSpeed.String())
	}
	if p.Vane != nil {
		e.Str("vane", p.Vane.String())
	}
	if p.Temperature != nil {
		e.Float64("temperature", *p.Temperature)
	}
}

// buildCommand echoes the full current state of s with the patch
// overlaid, so the API never sees a partially specified unit.
func buildCommand(s *DeviceState, p Patch) Command {
	power := s.Power()
	cmd := Command{Power: &power}

	if raw, ok := s.Setting(SettingOperationMode); ok && strings.TrimSpace(raw) != "" {
		mode := raw
		if parsed := ParseMode(raw); parsed != ModeUnknown {
			mode = string(parsed)
		}
		cmd.OperationMode = &mode
	}
	if speed, ok := s.FanSpeed(); ok {
		word := speed.String()
		cmd.SetFanSpeed = &word
	}
	if raw, ok := s.Setting(SettingVaneHorizontalDirection); ok && raw != "" {
		h := raw
		cmd.VaneHorizontalDirection = &h
	}
	if vane, ok := s.VaneVertical(); ok {
		word := vane.String()
		cmd.VaneVerticalDirection = &word
	}
	if temp, ok := s.SetTemperature(); ok {
		cmd.SetTemperature = &temp
	}

	if p.Power != nil {
		v := *p.Power
		cmd.Power = &v
	}
	if p.Mode != nil {
		v := string(*p.Mode)
		cmd.OperationMode = &v
	}
	if p.FanSpeed != nil {
		v := p.FanSpeed.String()
		cmd.SetFanSpeed = &v
	}
	if p.Vane != nil {
		v := p.Vane.String()
		cmd.VaneVerticalDirection = &v
	}
	if p.Temperature != nil {
		v := *p.Temperature
		cmd.SetTemperature = &v
	}
	return cmd
}

func ptr[T any](v T) *T { return &v }
