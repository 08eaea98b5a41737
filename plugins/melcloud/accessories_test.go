package melcloud

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-melcloud/internal/host"
)

func newAdapterFixture(t *testing.T, opts AdapterOptions, states ...*DeviceState) (*engineFixture, *host.Memory, *Adapter) {
	t.Helper()
	f := newEngineFixture(t)
	mem := host.NewMemory()
	adapter := NewAdapter(f.engine, mem, opts, zerolog.Nop())
	f.engine.AddObserver(adapter)
	f.cloud.setStates(states...)
	if err := f.engine.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	return f, mem, adapter
}

func TestAdapterRegistersAccessories(t *testing.T) {
	_, mem, _ := newAdapterFixture(t, AdapterOptions{FanSpeedButtons: true, VaneButtons: true}, testUnit("u1"))

	want := []string{
		"u1", "u1-fan-2", "u1-fan-3", "u1-fan-4", "u1-fan-auto", "u1-fan-max", "u1-fan-quiet",
		"u1-vane-auto", "u1-vane-swing",
	}
	if got := mem.IDs(); !slices.Equal(got, want) {
		t.Fatalf("unexpected accessories %v", got)
	}

	main, _ := mem.Accessory("u1")
	if main.Category != host.CategoryHeaterCooler || main.Info.Manufacturer != manufacturer {
		t.Fatalf("unexpected main accessory %+v", main)
	}
	if main.Info.SerialNumber != "IF-u1" {
		t.Fatalf("expected serial from interface id, got %q", main.Info.SerialNumber)
	}
	fan, _ := mem.Accessory("u1-fan-max")
	if fan.Name != "Living Room Fan Max" || fan.Info.SerialNumber != "IF-u1-fan-max" {
		t.Fatalf("unexpected fan button %+v", fan)
	}

	if v, _ := mem.Value("u1", PropActive); v != true {
		t.Fatalf("expected active, got %v", v)
	}
	if v, _ := mem.Value("u1", PropTargetState); v != int(TargetHeat) {
		t.Fatalf("expected target heat, got %v", v)
	}
	if v, _ := mem.Value("u1", PropCurrentTemperature); v != 19.5 {
		t.Fatalf("expected room 19.5, got %v", v)
	}
	if v, _ := mem.Value("u1-fan-auto", PropOn); v != true {
		t.Fatalf("expected auto fan button on, got %v", v)
	}
}

func TestAdapterWithoutButtons(t *testing.T) {
	_, mem, _ := newAdapterFixture(t, AdapterOptions{}, testUnit("u1"))
	if got := mem.IDs(); !slices.Equal(got, []string{"u1"}) {
		t.Fatalf("expected main accessory only, got %v", got)
	}
}

func TestAdapterWritesThroughEngine(t *testing.T) {
	f, mem, adapter := newAdapterFixture(t, AdapterOptions{FanSpeedButtons: true}, testUnit("u1"))
	ctx := context.Background()

	if err := mem.Set(ctx, "u1", PropHeatingThreshold, []byte("23")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := *f.lastCommand(t).SetTemperature; got != 23 {
		t.Fatalf("expected setpoint 23 sent, got %v", got)
	}
	if v, _ := mem.Value("u1", PropHeatingThreshold); v != 23.0 {
		t.Fatalf("expected host updated to 23, got %v", v)
	}
	if got := adapter.Published("u1")[PropHeatingThreshold]; got != 23.0 {
		t.Fatalf("expected published 23, got %v", got)
	}

	if err := mem.Set(ctx, "u1-fan-quiet", PropOn, []byte("true")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := mem.Value("u1-fan-quiet", PropOn); v != true {
		t.Fatalf("expected quiet on, got %v", v)
	}
	if v, _ := mem.Value("u1-fan-auto", PropOn); v != false {
		t.Fatalf("expected auto off, got %v", v)
	}
	if v, _ := mem.Value("u1", PropRotationSpeed); v != 1 {
		t.Fatalf("expected rotation 1, got %v", v)
	}
}

func TestAdapterRejectsOutOfRangeWrites(t *testing.T) {
	f, mem, _ := newAdapterFixture(t, AdapterOptions{}, testUnit("u1"))

	err := mem.Set(context.Background(), "u1", PropTargetState, []byte("5"))
	if !errors.Is(err, host.ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	err = mem.Set(context.Background(), "u1", PropCurrentTemperature, []byte("20"))
	if !errors.Is(err, host.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if got := len(f.cloud.commands()); got != 0 {
		t.Fatalf("expected no commands, got %d", got)
	}
}

func TestAdapterSkipsUnchangedUpdates(t *testing.T) {
	f, mem, _ := newAdapterFixture(t, AdapterOptions{}, testUnit("u1"))
	before := mem.Updates()

	if err := f.engine.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := mem.Updates(); got != before {
		t.Fatalf("expected no host updates for an identical snapshot, got %d", got-before)
	}
}

func TestAdapterUnregistersRemovedUnits(t *testing.T) {
	f := newEngineFixture(t)
	mem := host.NewMemory()
	f.engine.AddObserver(NewAdapter(f.engine, mem, AdapterOptions{VaneButtons: true}, zerolog.Nop()))
	ctx := context.Background()

	f.engine.Restore(ctx, []UnitView{{State: testUnit("u1")}, {State: testUnit("gone")}})
	if len(mem.IDs()) != 6 {
		t.Fatalf("expected restored accessories, got %v", mem.IDs())
	}

	f.cloud.setStates(testUnit("u1"))
	if err := f.engine.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := mem.IDs(); !slices.Equal(got, []string{"u1", "u1-vane-auto", "u1-vane-swing"}) {
		t.Fatalf("unexpected accessories after prune %v", got)
	}
}

func TestAdapterTargetStateWhileOff(t *testing.T) {
	f, mem, _ := newAdapterFixture(t, AdapterOptions{}, testUnit("u1", SettingPower, "False"))

	if err := mem.Set(context.Background(), "u1", PropTargetState, []byte("2")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(f.cloud.commands()) != 0 {
		t.Fatalf("expected queued mode, not a command")
	}
	if v, _ := mem.Value("u1", PropTargetState); v != int(TargetCool) {
		t.Fatalf("expected target cool shown, got %v", v)
	}
	if v, _ := mem.Value("u1", PropActive); v != false {
		t.Fatalf("expected still inactive, got %v", v)
	}
}
