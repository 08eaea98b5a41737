package melcloud

import "testing"

func TestParseFanSpeedEncodings(t *testing.T) {
	cases := map[string]FanSpeed{
		"Auto":  FanSpeedAuto,
		"0":     FanSpeedAuto,
		"Three": FanSpeedThree,
		"three": FanSpeedThree,
		"3":     FanSpeedThree,
		" 5 ":   FanSpeedFive,
	}
	for raw, want := range cases {
		got, ok := ParseFanSpeed(raw)
		if !ok || got != want {
			t.Errorf("ParseFanSpeed(%q) = %v, %v; want %v", raw, got, ok, want)
		}
	}
	if _, ok := ParseFanSpeed("Turbo"); ok {
		t.Errorf("expected unknown fan speed to fail")
	}
	if FanSpeedFour.String() != "Four" {
		t.Errorf("expected word form, got %s", FanSpeedFour)
	}
}

func TestParseVanePositionEncodings(t *testing.T) {
	cases := map[string]VanePosition{
		"Auto":  VaneAuto,
		"0":     VaneAuto,
		"Two":   VaneTwo,
		"2":     VaneTwo,
		"Swing": VaneSwing,
		"7":     VaneSwing,
		"6":     VaneSwing,
	}
	for raw, want := range cases {
		got, ok := ParseVanePosition(raw)
		if !ok || got != want {
			t.Errorf("ParseVanePosition(%q) = %v, %v; want %v", raw, got, ok, want)
		}
	}
	if _, ok := ParseVanePosition("Sideways"); ok {
		t.Errorf("expected unknown vane position to fail")
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"Heat":      ModeHeat,
		"cool":      ModeCool,
		"Automatic": ModeAuto,
		"Dry":       ModeDry,
		"Fan":       ModeFan,
		"":          ModeUnknown,
		"Boost":     ModeUnknown,
	}
	for raw, want := range cases {
		if got := ParseMode(raw); got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestDuplicateSettingsLastWins(t *testing.T) {
	s := &DeviceState{Settings: []Setting{
		{Name: SettingPower, Value: "False"},
		{Name: SettingPower, Value: "True"},
	}}
	if !s.Power() {
		t.Fatalf("expected last duplicate to win")
	}
	if got := ParseSettings(s.Settings)[SettingPower]; got != "True" {
		t.Fatalf("expected flattened map to keep last value, got %q", got)
	}

	s.put(SettingPower, "False")
	if s.Power() {
		t.Fatalf("expected put to replace every duplicate")
	}
}

func TestParseTemperature(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"21.5", 21.5, true},
		{" 19 ", 19, true},
		{"-40", -40, true},
		{"-41", 0, false},
		{"61", 0, false},
		{"NaN", 0, false},
		{"warm", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseTemperature(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseTemperature(%q) = %v, %v; want %v, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestTemperatureFallsBackToKnownGood(t *testing.T) {
	first := testUnit("u1", SettingSetTemperature, "22", SettingRoomTemperature, "18")
	first.Remember(nil)

	next := testUnit("u1", SettingSetTemperature, "garbage", SettingRoomTemperature, "99")
	next.Remember(first)

	if got, ok := next.SetTemperature(); !ok || got != 22 {
		t.Fatalf("expected setpoint fallback 22, got %v ok=%v", got, ok)
	}
	if got, ok := next.RoomTemperature(); !ok || got != 18 {
		t.Fatalf("expected room fallback 18, got %v ok=%v", got, ok)
	}

	fresh := testUnit("u2", SettingSetTemperature, "garbage")
	fresh.Remember(nil)
	if _, ok := fresh.SetTemperature(); ok {
		t.Fatalf("expected no value without history")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := testUnit("u1")
	s.Remember(nil)
	c := s.Clone()
	c.put(SettingPower, "False")
	c.KnownGood[SettingSetTemperature] = 30

	if !s.Power() {
		t.Fatalf("expected original settings untouched")
	}
	if s.KnownGood[SettingSetTemperature] != 21 {
		t.Fatalf("expected original known-good untouched")
	}
}

func TestCapabilityRangesFallBack(t *testing.T) {
	var caps Capabilities
	if r := caps.Range(ModeHeat); r.Min != 10 || r.Max != 31 {
		t.Fatalf("unexpected heat fallback %+v", r)
	}
	if r := caps.Range(ModeCool); r.Min != 16 || r.Max != 31 {
		t.Fatalf("unexpected cool fallback %+v", r)
	}
	if caps.Step() != 1 {
		t.Fatalf("expected whole degree steps")
	}
	caps.NumberOfFanSpeeds = 9
	if caps.FanSpeeds() != 5 {
		t.Fatalf("expected fan speeds capped at 5")
	}
}

func TestPatchWithoutNoops(t *testing.T) {
	s := testUnit("u1")
	p := Patch{
		Power:       ptr(true),
		Mode:        ptr(ModeCool),
		FanSpeed:    ptr(FanSpeedAuto),
		Temperature: ptr(21.05),
	}
	got := p.withoutNoops(s)
	if got.Power != nil || got.FanSpeed != nil || got.Temperature != nil {
		t.Fatalf("expected matching fields dropped, got %+v", got)
	}
	if got.Mode == nil || *got.Mode != ModeCool {
		t.Fatalf("expected mode kept")
	}
	if !p.contradicts(s) {
		t.Fatalf("expected patch to contradict state")
	}
}

func TestPatchMerge(t *testing.T) {
	older := Patch{Temperature: ptr(22.0), FanSpeed: ptr(FanSpeedOne)}
	merged := older.merge(Patch{FanSpeed: ptr(FanSpeedTwo), Power: ptr(true)})
	if *merged.Temperature != 22 || *merged.FanSpeed != FanSpeedTwo || !*merged.Power {
		t.Fatalf("unexpected merge result %+v", merged)
	}
	if !(Patch{Power: ptr(false)}).PowerOnly() || merged.PowerOnly() {
		t.Fatalf("unexpected PowerOnly results")
	}
}

func TestBuildCommandNormalisesEcho(t *testing.T) {
	s := testUnit("u1",
		SettingOperationMode, "automatic",
		SettingFanSpeed, "3",
		SettingVaneVerticalDirection, "7",
		SettingVaneHorizontalDirection, "Swing",
	)
	cmd := buildCommand(s, Patch{Temperature: ptr(22.0)})

	if got := strPtrValue(cmd.OperationMode); got != "Auto" {
		t.Fatalf("expected canonical mode Auto, got %s", got)
	}
	if got := strPtrValue(cmd.SetFanSpeed); got != "Three" {
		t.Fatalf("expected fan word Three, got %s", got)
	}
	if got := strPtrValue(cmd.VaneVerticalDirection); got != "Swing" {
		t.Fatalf("expected vane Swing, got %s", got)
	}
	if got := strPtrValue(cmd.VaneHorizontalDirection); got != "Swing" {
		t.Fatalf("expected horizontal vane passed through, got %s", got)
	}
	if *cmd.SetTemperature != 22 || !*cmd.Power {
		t.Fatalf("unexpected setpoint/power %v/%v", *cmd.SetTemperature, *cmd.Power)
	}
}

func TestPatchApplyUpdatesKnownGood(t *testing.T) {
	s := testUnit("u1")
	s.Remember(nil)
	Patch{Temperature: ptr(24.5), Mode: ptr(ModeCool)}.apply(s)

	if got, _ := s.SetTemperature(); got != 24.5 {
		t.Fatalf("expected 24.5, got %v", got)
	}
	if s.KnownGood[SettingSetTemperature] != 24.5 {
		t.Fatalf("expected known-good updated")
	}
	if s.Mode() != ModeCool {
		t.Fatalf("expected mode Cool")
	}
}
