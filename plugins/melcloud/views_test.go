package melcloud

import (
	"slices"
	"testing"
)

func TestProjectMainCurrentState(t *testing.T) {
	cases := []struct {
		name      string
		overrides []string
		want      HeaterCoolerState
	}{
		{"off", []string{SettingPower, "False"}, StateInactive},
		{"heat", nil, StateHeating},
		{"cool", []string{SettingOperationMode, "Cool"}, StateCooling},
		{"dry", []string{SettingOperationMode, "Dry"}, StateCooling},
		{"fan", []string{SettingOperationMode, "Fan"}, StateIdle},
		{"auto below", []string{SettingOperationMode, "Auto", SettingRoomTemperature, "18"}, StateHeating},
		{"auto near", []string{SettingOperationMode, "Auto", SettingRoomTemperature, "21.3"}, StateIdle},
		{"auto above", []string{SettingOperationMode, "Auto", SettingRoomTemperature, "23"}, StateCooling},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ProjectMain(UnitView{State: testUnit("u1", tc.overrides...)})
			if p.CurrentState != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, p.CurrentState)
			}
		})
	}
}

func TestProjectMainThresholdsOutsideAuto(t *testing.T) {
	p := ProjectMain(UnitView{State: testUnit("u1", SettingSetTemperature, "12")})
	if p.HeatingThreshold != 12 || p.CoolingThreshold != 16 {
		t.Fatalf("expected 12/16, got %v/%v", p.HeatingThreshold, p.CoolingThreshold)
	}
	if p.TargetState != TargetHeat || !p.Active {
		t.Fatalf("unexpected target/active %d/%v", p.TargetState, p.Active)
	}
}

func TestProjectMainDefaults(t *testing.T) {
	s := testUnit("u1", SettingSetTemperature, "", SettingRoomTemperature, "")
	p := ProjectMain(UnitView{State: s})
	if p.CurrentTemperature != defaultDisplayTemperature || p.HeatingThreshold != defaultDisplayTemperature {
		t.Fatalf("expected defaults, got %+v", p)
	}

	s = testUnit("u1", SettingRoomTemperature, "")
	if got := ProjectMain(UnitView{State: s}).CurrentTemperature; got != 21 {
		t.Fatalf("expected room to fall back to setpoint, got %v", got)
	}
}

func TestProjectMainRotationSpeed(t *testing.T) {
	s := testUnit("u1", SettingFanSpeed, "Four")
	s.Capabilities.NumberOfFanSpeeds = 3
	if got := ProjectMain(UnitView{State: s}).RotationSpeed; got != 3 {
		t.Fatalf("expected rotation capped at 3, got %d", got)
	}
}

func TestTargetStateMapping(t *testing.T) {
	cases := map[Mode]TargetState{
		ModeHeat: TargetHeat,
		ModeCool: TargetCool,
		ModeDry:  TargetCool,
		ModeAuto: TargetAuto,
		ModeFan:  TargetAuto,
	}
	for mode, want := range cases {
		if got := TargetStateFor(mode); got != want {
			t.Errorf("TargetStateFor(%s) = %d, want %d", mode, got, want)
		}
	}
	if TargetCool.Mode() != ModeCool || TargetAuto.Mode() != ModeAuto {
		t.Errorf("unexpected reverse mapping")
	}
}

func TestFanSpeedButtonsLayout(t *testing.T) {
	caps := testCapabilities()
	caps.NumberOfFanSpeeds = 3
	buttons := FanSpeedButtons(caps)

	var keys, labels []string
	for _, b := range buttons {
		keys = append(keys, b.Key)
		labels = append(labels, b.Label)
	}
	if !slices.Equal(keys, []string{"auto", "quiet", "2", "max"}) {
		t.Fatalf("unexpected keys %v", keys)
	}
	if !slices.Equal(labels, []string{"Auto", "Quiet", "2", "Max"}) {
		t.Fatalf("unexpected labels %v", labels)
	}
}

func TestButtonsOffWhileUnitOff(t *testing.T) {
	v := UnitView{State: testUnit("u1", SettingPower, "False")}
	for _, b := range FanSpeedButtons(testCapabilities()) {
		if b.On(v) {
			t.Fatalf("expected %s off while unit is off", b.Key)
		}
	}
	for _, b := range VaneButtons(testCapabilities()) {
		if b.On(v) {
			t.Fatalf("expected vane %s off while unit is off", b.Key)
		}
	}
}
