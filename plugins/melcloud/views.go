package melcloud

import "strconv"

// HeaterCoolerState is what the unit is doing right now.
type HeaterCoolerState int

const (
	StateInactive HeaterCoolerState = iota
	StateIdle
	StateHeating
	StateCooling
)

func (s HeaterCoolerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHeating:
		return "heating"
	case StateCooling:
		return "cooling"
	default:
		return "inactive"
	}
}

// TargetState is the mode the user selected.
type TargetState int

const (
	TargetAuto TargetState = iota
	TargetHeat
	TargetCool
)

// idleBand is how close the room must be to the setpoint in Auto before
// the unit is reported idle.
const idleBand = 0.5

// defaultDisplayTemperature stands in for a setpoint that never parsed.
const defaultDisplayTemperature = 20.0

// TargetStateFor maps a mode onto the three-way target selector.
func TargetStateFor(mode Mode) TargetState {
	switch mode {
	case ModeHeat:
		return TargetHeat
	case ModeCool, ModeDry:
		return TargetCool
	default:
		return TargetAuto
	}
}

func (t TargetState) Mode() Mode {
	switch t {
	case TargetHeat:
		return ModeHeat
	case TargetCool:
		return ModeCool
	default:
		return ModeAuto
	}
}

// MainProjection is the climate-control face of a unit.
type MainProjection struct {
	Active             bool
	CurrentState       HeaterCoolerState
	TargetState        TargetState
	CurrentTemperature float64
	HeatingThreshold   float64
	CoolingThreshold   float64
	RotationSpeed      int
}

// ProjectMain derives the climate-control projection of a unit.
func ProjectMain(v UnitView) MainProjection {
	s := v.State
	caps := s.Capabilities
	target := v.TargetMode()

	setpoint, ok := s.SetTemperature()
	if !ok {
		setpoint = defaultDisplayTemperature
	}
	room, ok := s.RoomTemperature()
	if !ok {
		room = setpoint
	}

	p := MainProjection{
		Active:             s.Power(),
		TargetState:        TargetStateFor(target),
		CurrentTemperature: room,
		HeatingThreshold:   caps.Range(ModeHeat).Clamp(setpoint),
		CoolingThreshold:   caps.Range(ModeCool).Clamp(setpoint),
	}
	if target == ModeAuto && v.Thresholds.Heating != nil && v.Thresholds.Cooling != nil {
		p.HeatingThreshold = caps.Range(ModeHeat).Clamp(*v.Thresholds.Heating)
		p.CoolingThreshold = caps.Range(ModeCool).Clamp(*v.Thresholds.Cooling)
	}
	if speed, ok := s.FanSpeed(); ok {
		p.RotationSpeed = min(int(speed), caps.FanSpeeds())
	}

	switch {
	case !p.Active:
		p.CurrentState = StateInactive
	case s.Mode() == ModeHeat:
		p.CurrentState = StateHeating
	case s.Mode() == ModeCool, s.Mode() == ModeDry:
		p.CurrentState = StateCooling
	case s.Mode() == ModeAuto && room < setpoint-idleBand:
		p.CurrentState = StateHeating
	case s.Mode() == ModeAuto && room > setpoint+idleBand:
		p.CurrentState = StateCooling
	default:
		p.CurrentState = StateIdle
	}
	return p
}

// FanSpeedButton is an on/off view bound to one fan speed. At most one
// button of a unit is on at a time.
type FanSpeedButton struct {
	Key   string
	Label string
	Speed FanSpeed
}

func (b FanSpeedButton) On(v UnitView) bool {
	cur, ok := v.State.FanSpeed()
	return ok && v.State.Power() && cur == b.Speed
}

// FanSpeedButtons lists the buttons a unit with the given capabilities
// gets: auto, then each discrete speed with the slowest labelled quiet
// and the fastest labelled max.
func FanSpeedButtons(caps Capabilities) []FanSpeedButton {
	n := caps.FanSpeeds()
	out := []FanSpeedButton{{Key: "auto", Label: "Auto", Speed: FanSpeedAuto}}
	for i := 1; i <= n; i++ {
		key := strconv.Itoa(i)
		switch {
		case i == 1:
			key = "quiet"
		case i == n:
			key = "max"
		}
		out = append(out, FanSpeedButton{Key: key, Label: buttonLabel(key), Speed: FanSpeed(i)})
	}
	return out
}

// VaneButton is an on/off view bound to one vane position.
type VaneButton struct {
	Key      string
	Label    string
	Position VanePosition
}

func (b VaneButton) On(v UnitView) bool {
	cur, ok := v.State.VaneVertical()
	return ok && v.State.Power() && cur == b.Position
}

func VaneButtons(Capabilities) []VaneButton {
	return []VaneButton{
		{Key: "auto", Label: "Auto", Position: VaneAuto},
		{Key: "swing", Label: "Swing", Position: VaneSwing},
	}
}

func buttonLabel(key string) string {
	if key == "" {
		return key
	}
	if key[0] >= 'a' && key[0] <= 'z' {
		return string(key[0]-'a'+'A') + key[1:]
	}
	return key
}
