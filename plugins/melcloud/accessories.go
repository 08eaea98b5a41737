package melcloud

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-melcloud/internal/host"
)

const manufacturer = "Mitsubishi Electric"

// Property names published for each accessory.
const (
	PropActive             = "active"
	PropCurrentState       = "current_heater_cooler_state"
	PropTargetState        = "target_heater_cooler_state"
	PropCurrentTemperature = "current_temperature"
	PropHeatingThreshold   = "heating_threshold_temperature"
	PropCoolingThreshold   = "cooling_threshold_temperature"
	PropRotationSpeed      = "rotation_speed"
	PropOn                 = "on"
)

// AdapterOptions selects the optional button accessories.
type AdapterOptions struct {
	FanSpeedButtons bool
	VaneButtons     bool
}

// Adapter publishes engine units to a host and keeps them current. It
// implements Observer.
type Adapter struct {
	engine *Engine
	host   host.Host
	opts   AdapterOptions
	log    zerolog.Logger

	mu          sync.Mutex
	accessories map[string][]*host.Accessory
	published   map[string]map[string]any
}

func NewAdapter(engine *Engine, h host.Host, opts AdapterOptions, log zerolog.Logger) *Adapter {
	return &Adapter{
		engine:      engine,
		host:        h,
		opts:        opts,
		log:         log,
		accessories: make(map[string][]*host.Accessory),
		published:   make(map[string]map[string]any),
	}
}

// Accessories returns what is currently published for a unit.
func (a *Adapter) Accessories(unitID string) []*host.Accessory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*host.Accessory(nil), a.accessories[unitID]...)
}

// Accessory finds a published accessory by ID.
func (a *Adapter) Accessory(id string) (*host.Accessory, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, list := range a.accessories {
		for _, acc := range list {
			if acc.ID == id {
				return acc, true
			}
		}
	}
	return nil, false
}

func (a *Adapter) UnitAdded(ctx context.Context, unitID string) {
	var accs []*host.Accessory
	if !a.engine.Read(unitID, func(v UnitView) { accs = a.build(v.State) }) {
		return
	}

	a.mu.Lock()
	a.accessories[unitID] = accs
	a.mu.Unlock()

	for _, acc := range accs {
		if err := a.host.Register(ctx, acc); err != nil {
			a.log.Error().Err(err).Str("accessory", acc.ID).Msg("register accessory")
		}
	}
	a.UnitChanged(ctx, unitID)
}

// UnitChanged pushes property values that differ from the last published
// ones.
func (a *Adapter) UnitChanged(ctx context.Context, unitID string) {
	a.mu.Lock()
	accs := a.accessories[unitID]
	a.mu.Unlock()

	for _, acc := range accs {
		values, err := acc.Values()
		if err != nil {
			a.log.Warn().Err(err).Str("accessory", acc.ID).Msg("read accessory values")
			continue
		}

		a.mu.Lock()
		last := a.published[acc.ID]
		diff := make(map[string]any)
		for k, v := range values {
			if prev, ok := last[k]; !ok || prev != v {
				diff[k] = v
			}
		}
		if len(diff) > 0 {
			a.published[acc.ID] = values
		}
		a.mu.Unlock()

		if len(diff) == 0 {
			continue
		}
		if err := a.host.Update(ctx, acc.ID, diff); err != nil {
			a.log.Warn().Err(err).Str("accessory", acc.ID).Msg("update accessory")
		}
	}
}

func (a *Adapter) UnitRemoved(ctx context.Context, unitID string) {
	a.mu.Lock()
	accs := a.accessories[unitID]
	delete(a.accessories, unitID)
	for _, acc := range accs {
		delete(a.published, acc.ID)
	}
	a.mu.Unlock()

	for _, acc := range accs {
		if err := a.host.Unregister(ctx, acc.ID); err != nil {
			a.log.Warn().Err(err).Str("accessory", acc.ID).Msg("unregister accessory")
		}
	}
}

// Published returns a copy of the last values pushed for an accessory.
func (a *Adapter) Published(accessoryID string) map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.published[accessoryID])
}

func (a *Adapter) build(s *DeviceState) []*host.Accessory {
	serial := s.Connection.InterfaceID
	if serial == "" {
		serial = s.ID
	}
	name := s.Name
	if name == "" {
		name = s.ID
	}
	model := "Air-to-air unit"
	if s.Building != "" {
		model = "Air-to-air unit (" + s.Building + ")"
	}

	accs := []*host.Accessory{a.mainAccessory(s, name, model, serial)}
	if a.opts.FanSpeedButtons {
		for _, b := range FanSpeedButtons(s.Capabilities) {
			accs = append(accs, a.fanButton(s.ID, b, name, model, serial))
		}
	}
	if a.opts.VaneButtons {
		for _, b := range VaneButtons(s.Capabilities) {
			accs = append(accs, a.vaneButton(s.ID, b, name, model, serial))
		}
	}
	return accs
}

// project reads the main projection of a unit.
func (a *Adapter) project(unitID string) (MainProjection, error) {
	var p MainProjection
	if !a.engine.Read(unitID, func(v UnitView) { p = ProjectMain(v) }) {
		return p, fmt.Errorf("%w: %s", host.ErrUnknownAccessory, unitID)
	}
	return p, nil
}

func projected[T any](a *Adapter, unitID string, pick func(MainProjection) T) host.GetterFunc[T] {
	return func() (T, error) {
		p, err := a.project(unitID)
		if err != nil {
			var zero T
			return zero, err
		}
		return pick(p), nil
	}
}

func (a *Adapter) mainAccessory(s *DeviceState, name, model, serial string) *host.Accessory {
	id := s.ID
	caps := s.Capabilities
	heat := caps.Range(ModeHeat)
	cool := caps.Range(ModeCool)
	step := caps.Step()

	props := []host.Property{
		host.Bool(PropActive,
			projected(a, id, func(p MainProjection) bool { return p.Active }),
			host.SetterFunc[bool](func(ctx context.Context, on bool) error {
				return a.engine.SetPower(ctx, id, on)
			})),
		host.Int(PropCurrentState,
			projected(a, id, func(p MainProjection) int { return int(p.CurrentState) }),
			nil, &host.Bounds{Min: 0, Max: 3, Step: 1}),
		host.Int(PropTargetState,
			projected(a, id, func(p MainProjection) int { return int(p.TargetState) }),
			host.SetterFunc[int](func(ctx context.Context, v int) error {
				return a.engine.SetMode(ctx, id, TargetState(v).Mode())
			}), &host.Bounds{Min: 0, Max: 2, Step: 1}),
		host.Float(PropCurrentTemperature,
			projected(a, id, func(p MainProjection) float64 { return p.CurrentTemperature }),
			nil, &host.Bounds{Min: minSaneTemperature, Max: maxSaneTemperature, Step: 0.1}),
		host.Float(PropHeatingThreshold,
			projected(a, id, func(p MainProjection) float64 { return p.HeatingThreshold }),
			host.SetterFunc[float64](func(ctx context.Context, v float64) error {
				return a.engine.SetThreshold(ctx, id, ThresholdHeating, v)
			}), &host.Bounds{Min: heat.Min, Max: heat.Max, Step: step}),
		host.Float(PropCoolingThreshold,
			projected(a, id, func(p MainProjection) float64 { return p.CoolingThreshold }),
			host.SetterFunc[float64](func(ctx context.Context, v float64) error {
				return a.engine.SetThreshold(ctx, id, ThresholdCooling, v)
			}), &host.Bounds{Min: cool.Min, Max: cool.Max, Step: step}),
	}
	if n := caps.FanSpeeds(); n > 0 {
		props = append(props, host.Int(PropRotationSpeed,
			projected(a, id, func(p MainProjection) int { return p.RotationSpeed }),
			host.SetterFunc[int](func(ctx context.Context, v int) error {
				return a.engine.SetRotationSpeed(ctx, id, v)
			}), &host.Bounds{Min: 0, Max: float64(n), Step: 1}))
	}

	return &host.Accessory{
		ID:         id,
		Name:       name,
		Category:   host.CategoryHeaterCooler,
		Info:       host.Info{Manufacturer: manufacturer, Model: model, SerialNumber: serial},
		Properties: props,
	}
}

func (a *Adapter) fanButton(unitID string, b FanSpeedButton, name, model, serial string) *host.Accessory {
	on := host.GetterFunc[bool](func() (bool, error) {
		var out bool
		if !a.engine.Read(unitID, func(v UnitView) { out = b.On(v) }) {
			return false, fmt.Errorf("%w: %s", host.ErrUnknownAccessory, unitID)
		}
		return out, nil
	})
	set := host.SetterFunc[bool](func(ctx context.Context, v bool) error {
		return a.engine.SetFanButton(ctx, unitID, b.Speed, v)
	})
	return &host.Accessory{
		ID:         unitID + "-fan-" + b.Key,
		Name:       name + " Fan " + b.Label,
		Category:   host.CategorySwitch,
		Info:       host.Info{Manufacturer: manufacturer, Model: model, SerialNumber: serial + "-fan-" + b.Key},
		Properties: []host.Property{host.Bool(PropOn, on, set)},
	}
}

func (a *Adapter) vaneButton(unitID string, b VaneButton, name, model, serial string) *host.Accessory {
	on := host.GetterFunc[bool](func() (bool, error) {
		var out bool
		if !a.engine.Read(unitID, func(v UnitView) { out = b.On(v) }) {
			return false, fmt.Errorf("%w: %s", host.ErrUnknownAccessory, unitID)
		}
		return out, nil
	})
	set := host.SetterFunc[bool](func(ctx context.Context, v bool) error {
		return a.engine.SetVaneButton(ctx, unitID, b.Position, v)
	})
	return &host.Accessory{
		ID:         unitID + "-vane-" + b.Key,
		Name:       name + " Vane " + b.Label,
		Category:   host.CategorySwitch,
		Info:       host.Info{Manufacturer: manufacturer, Model: model, SerialNumber: serial + "-vane-" + b.Key},
		Properties: []host.Property{host.Bool(PropOn, on, set)},
	}
}
