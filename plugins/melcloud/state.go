package melcloud

import (
	"math"
	"strconv"
	"strings"
)

// Setting names used by air-to-air units.
const (
	SettingPower                   = "Power"
	SettingOperationMode           = "OperationMode"
	SettingFanSpeed                = "SetFanSpeed"
	SettingVaneHorizontalDirection = "VaneHorizontalDirection"
	SettingVaneVerticalDirection   = "VaneVerticalDirection"
	SettingSetTemperature          = "SetTemperature"
	SettingRoomTemperature         = "RoomTemperature"
	SettingActualFanSpeed          = "ActualFanSpeed"
	SettingInStandbyMode           = "InStandbyMode"
	SettingErrorCode               = "ErrorCode"
)

// Sane bounds for reported temperatures. Anything outside is a glitch.
const (
	minSaneTemperature = -40.0
	maxSaneTemperature = 60.0
)

// Connection is the link state reported alongside a unit.
type Connection struct {
	Connected   bool   `json:"connected"`
	InterfaceID string `json:"interface_id"`
	SystemID    string `json:"system_id"`
	RSSI        int    `json:"rssi"`
	InError     bool   `json:"in_error"`
}

// DeviceState is the canonical snapshot of one unit. Settings keep the wire
// representation; accessors derive logical values from it on demand.
type DeviceState struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Building     string       `json:"building"`
	Settings     []Setting    `json:"settings"`
	Capabilities Capabilities `json:"capabilities"`
	Connection   Connection   `json:"connection"`

	// KnownGood holds the last parseable value of each temperature setting.
	KnownGood map[string]float64 `json:"known_good,omitempty"`
}

// ParseSettings flattens a settings list into a map. Later duplicates win.
func ParseSettings(list []Setting) map[string]string {
	out := make(map[string]string, len(list))
	for _, s := range list {
		out[s.Name] = s.Value
	}
	return out
}

// Setting returns the last value recorded for name.
func (s *DeviceState) Setting(name string) (string, bool) {
	for i := len(s.Settings) - 1; i >= 0; i-- {
		if s.Settings[i].Name == name {
			return s.Settings[i].Value, true
		}
	}
	return "", false
}

func (s *DeviceState) Power() bool {
	v, _ := s.Setting(SettingPower)
	return parseBool(v)
}

func (s *DeviceState) Mode() Mode {
	v, _ := s.Setting(SettingOperationMode)
	return ParseMode(v)
}

func (s *DeviceState) FanSpeed() (FanSpeed, bool) {
	v, _ := s.Setting(SettingFanSpeed)
	return ParseFanSpeed(v)
}

func (s *DeviceState) VaneVertical() (VanePosition, bool) {
	v, _ := s.Setting(SettingVaneVerticalDirection)
	return ParseVanePosition(v)
}

// SetTemperature is the target setpoint, falling back to the last
// known-good value when the current one is unusable.
func (s *DeviceState) SetTemperature() (float64, bool) {
	return s.temperature(SettingSetTemperature)
}

func (s *DeviceState) RoomTemperature() (float64, bool) {
	return s.temperature(SettingRoomTemperature)
}

func (s *DeviceState) temperature(name string) (float64, bool) {
	raw, _ := s.Setting(name)
	if v, ok := ParseTemperature(raw); ok {
		return v, true
	}
	v, ok := s.KnownGood[name]
	return v, ok
}

// Remember records parseable temperatures as known-good and carries over
// the previous snapshot's values for those that are not.
func (s *DeviceState) Remember(prev *DeviceState) {
	known := make(map[string]float64, 2)
	if prev != nil {
		for k, v := range prev.KnownGood {
			known[k] = v
		}
	}
	for _, name := range []string{SettingSetTemperature, SettingRoomTemperature} {
		raw, _ := s.Setting(name)
		if v, ok := ParseTemperature(raw); ok {
			known[name] = v
		}
	}
	s.KnownGood = known
}

// Clone returns a deep copy safe to hand outside the engine.
func (s *DeviceState) Clone() *DeviceState {
	out := *s
	out.Settings = append([]Setting(nil), s.Settings...)
	if s.KnownGood != nil {
		out.KnownGood = make(map[string]float64, len(s.KnownGood))
		for k, v := range s.KnownGood {
			out.KnownGood[k] = v
		}
	}
	return &out
}

// put replaces every occurrence of name, or appends it.
func (s *DeviceState) put(name, value string) {
	found := false
	for i := range s.Settings {
		if s.Settings[i].Name == name {
			s.Settings[i].Value = value
			found = true
		}
	}
	if !found {
		s.Settings = append(s.Settings, Setting{Name: name, Value: value})
	}
}

// ParseTemperature parses a decimal string, rejecting values outside the
// sane range.
func ParseTemperature(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if v < minSaneTemperature || v > maxSaneTemperature {
		return 0, false
	}
	return v, true
}

func FormatTemperature(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseBool(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

func formatBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
