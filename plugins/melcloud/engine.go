package melcloud

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-melcloud/internal/host"
)

// UnitStatus is the reconciliation state of one unit.
type UnitStatus int

const (
	// StatusUnknown is a unit restored from cache and not yet seen in a poll.
	StatusUnknown UnitStatus = iota
	StatusSynced
	StatusVerifying
)

func (s UnitStatus) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusVerifying:
		return "verifying"
	default:
		return "unknown"
	}
}

// ThresholdKind selects one side of the Auto-mode threshold pair.
type ThresholdKind int

const (
	ThresholdHeating ThresholdKind = iota
	ThresholdCooling
)

// Thresholds is the heating/cooling pair shown while a unit runs in Auto.
// The device only stores a single setpoint, so the pair lives here.
type Thresholds struct {
	Heating *float64 `json:"heating,omitempty"`
	Cooling *float64 `json:"cooling,omitempty"`
}

func (t Thresholds) clone() Thresholds {
	out := Thresholds{}
	if t.Heating != nil {
		out.Heating = ptr(*t.Heating)
	}
	if t.Cooling != nil {
		out.Cooling = ptr(*t.Cooling)
	}
	return out
}

// seed fills undefined thresholds around the setpoint.
func (t *Thresholds) seed(s *DeviceState) {
	if t.Heating != nil && t.Cooling != nil {
		return
	}
	setpoint, ok := s.SetTemperature()
	if !ok {
		return
	}
	if t.Heating == nil {
		t.Heating = ptr(setpoint - 2)
	}
	if t.Cooling == nil {
		t.Cooling = ptr(setpoint + 2)
	}
}

// follow re-centres the pair when the setpoint was moved elsewhere while
// the unit runs in Auto.
func (t *Thresholds) follow(s *DeviceState) {
	if s.Mode() != ModeAuto || t.Heating == nil || t.Cooling == nil {
		return
	}
	setpoint, ok := s.SetTemperature()
	if !ok {
		return
	}
	mid := (*t.Heating + *t.Cooling) / 2
	if math.Abs(mid-setpoint) <= s.Capabilities.Step() {
		return
	}
	shift := setpoint - mid
	t.Heating = ptr(*t.Heating + shift)
	t.Cooling = ptr(*t.Cooling + shift)
}

// Midpoint is the Auto-mode setpoint for a threshold pair, rounded to step.
// It is undefined unless both thresholds are.
func Midpoint(heating, cooling *float64, step float64) (float64, bool) {
	if heating == nil || cooling == nil {
		return 0, false
	}
	mid := (*heating + *cooling) / 2
	if step > 0 {
		mid = math.Round(mid/step) * step
	}
	return mid, true
}

// UnitView is a read-only look at one unit. Views handed to Engine.Read
// callbacks share engine memory and must not be retained.
type UnitView struct {
	State       *DeviceState `json:"state"`
	Status      UnitStatus   `json:"status"`
	PendingMode *Mode        `json:"pending_mode,omitempty"`
	Thresholds  Thresholds   `json:"thresholds"`
	Verifying   bool         `json:"verifying"`
}

// TargetMode is the mode the user asked for: a queued mode while the unit
// is off, otherwise the reported one.
func (v UnitView) TargetMode() Mode {
	if v.PendingMode != nil {
		return *v.PendingMode
	}
	return v.State.Mode()
}

// Observer is told about unit lifecycle and state changes. Calls happen
// outside engine locks.
type Observer interface {
	UnitAdded(ctx context.Context, unitID string)
	UnitChanged(ctx context.Context, unitID string)
	UnitRemoved(ctx context.Context, unitID string)
}

// Cloud is the remote side of the engine.
type Cloud interface {
	FetchState(ctx context.Context) ([]*DeviceState, error)
	SendCommand(ctx context.Context, unitID string, cmd Command) error
}

// Timer is the part of *time.Timer the engine uses.
type Timer interface {
	Stop() bool
}

// Timings controls verification after a command.
type Timings struct {
	VerifyDelay      time.Duration
	PowerVerifyDelay time.Duration
	SuppressWindow   time.Duration
	RefreshTimeout   time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		VerifyDelay:      2 * time.Second,
		PowerVerifyDelay: 250 * time.Millisecond,
		SuppressWindow:   5 * time.Second,
		RefreshTimeout:   30 * time.Second,
	}
}

type EngineOption func(*Engine)

func WithEngineLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithTimings(t Timings) EngineOption {
	return func(e *Engine) { e.timings = t }
}

// WithAfterFunc replaces time.AfterFunc for verification timers.
func WithAfterFunc(fn func(time.Duration, func()) Timer) EngineOption {
	return func(e *Engine) { e.afterFunc = fn }
}

func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

type unit struct {
	id string

	// cmdMu serialises dispatches so a read-modify-send-patch cycle never
	// interleaves with another on the same unit.
	cmdMu sync.Mutex

	state       *DeviceState
	status      UnitStatus
	pending     *Patch
	verifyUntil time.Time
	pendingMode *Mode
	thresholds  Thresholds
	timer       Timer

	// commits counts successful commands. A verification fetch is only
	// authoritative when no command was committed while it was in flight.
	commits uint64
}

func (u *unit) viewLocked(now time.Time) UnitView {
	return UnitView{
		State:       u.state,
		Status:      u.status,
		PendingMode: u.pendingMode,
		Thresholds:  u.thresholds,
		Verifying:   u.pending != nil && now.Before(u.verifyUntil),
	}
}

// Engine owns the canonical state of every unit and reconciles user
// intent with what the cloud reports.
type Engine struct {
	cloud     Cloud
	log       zerolog.Logger
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
	timings   Timings
	metrics   *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	units      map[string]*unit
	order      []string
	observers  []Observer
	discovered bool
	closed     bool
}

func NewEngine(cloud Cloud, opts ...EngineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cloud:   cloud,
		log:     zerolog.Nop(),
		now:     time.Now,
		timings: DefaultTimings(),
		metrics: NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		units:   make(map[string]*unit),
		afterFunc: func(d time.Duration, fn func()) Timer {
			return time.AfterFunc(d, fn)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Close stops pending verification timers.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for _, u := range e.units {
		if u.timer != nil {
			u.timer.Stop()
		}
	}
	e.mu.Unlock()
	e.cancel()
}

// IDs lists known units in discovery order.
func (e *Engine) IDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.order)
}

// Read calls fn with the live view of a unit under the read lock.
func (e *Engine) Read(unitID string, fn func(UnitView)) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok := e.units[unitID]
	if !ok {
		return false
	}
	fn(u.viewLocked(e.now()))
	return true
}

// Snapshot returns a detached copy of a unit.
func (e *Engine) Snapshot(unitID string) (UnitView, bool) {
	var out UnitView
	ok := e.Read(unitID, func(v UnitView) { out = detach(v) })
	return out, ok
}

func (e *Engine) Snapshots() []UnitView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	now := e.now()
	out := make([]UnitView, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, detach(e.units[id].viewLocked(now)))
	}
	return out
}

func detach(v UnitView) UnitView {
	v.State = v.State.Clone()
	v.Thresholds = v.Thresholds.clone()
	if v.PendingMode != nil {
		v.PendingMode = ptr(*v.PendingMode)
	}
	return v
}

// Restore seeds units from a cache so they are usable before the first
// poll. Units already known are left alone.
func (e *Engine) Restore(ctx context.Context, views []UnitView) {
	var added []string
	e.mu.Lock()
	for _, v := range views {
		if v.State == nil || v.State.ID == "" {
			continue
		}
		if _, ok := e.units[v.State.ID]; ok {
			continue
		}
		state := v.State.Clone()
		u := &unit{id: state.ID, state: state, status: StatusUnknown, thresholds: v.Thresholds.clone()}
		e.units[u.id] = u
		e.order = append(e.order, u.id)
		added = append(added, u.id)
	}
	e.mu.Unlock()
	e.notify(ctx, added, nil, nil)
}

// Poll fetches every unit and applies the result. The first successful
// poll also drops units the account no longer has.
func (e *Engine) Poll(ctx context.Context) error {
	start := time.Now()
	states, err := e.cloud.FetchState(ctx)
	e.metrics.observePoll(time.Since(start), err)
	if err != nil {
		return err
	}
	e.mu.Lock()
	prune := !e.discovered
	e.discovered = true
	e.mu.Unlock()
	e.ApplyRemoteStates(ctx, states, prune)
	return nil
}

// Refresh fetches and applies without pruning.
func (e *Engine) Refresh(ctx context.Context) error {
	states, err := e.cloud.FetchState(ctx)
	if err != nil {
		return err
	}
	e.ApplyRemoteStates(ctx, states, false)
	return nil
}

// ApplyRemoteStates merges snapshots from the cloud. With prune set, units
// missing from states are removed.
func (e *Engine) ApplyRemoteStates(ctx context.Context, states []*DeviceState, prune bool) {
	e.apply(ctx, states, prune, nil)
}

// verification identifies the unit a refresh verifies and the command
// count observed before its fetch started.
type verification struct {
	unitID  string
	commits uint64
}

type applyResult int

const (
	applyDiscarded applyResult = iota
	applyAdded
	applyChanged
)

func (e *Engine) apply(ctx context.Context, states []*DeviceState, prune bool, v *verification) {
	var added, changed, removed []string

	e.mu.Lock()
	seen := make(map[string]bool, len(states))
	for _, remote := range states {
		if remote == nil || remote.ID == "" {
			continue
		}
		seen[remote.ID] = true
		switch e.applyLocked(remote.Clone(), e.verifiesLocked(v, remote.ID)) {
		case applyAdded:
			added = append(added, remote.ID)
		case applyChanged:
			changed = append(changed, remote.ID)
		}
	}
	if prune {
		for _, id := range e.order {
			if !seen[id] {
				removed = append(removed, id)
			}
		}
		for _, id := range removed {
			e.removeLocked(id)
		}
	}
	e.mu.Unlock()

	e.notify(ctx, added, changed, removed)
}

func (e *Engine) verifiesLocked(v *verification, id string) bool {
	if v == nil || v.unitID != id {
		return false
	}
	u, ok := e.units[id]
	return ok && u.commits == v.commits
}

// applyLocked installs one remote snapshot. While a command awaits
// verification, a snapshot contradicting it is stale and dropped; a
// verification fetch always wins.
func (e *Engine) applyLocked(remote *DeviceState, verified bool) applyResult {
	u, ok := e.units[remote.ID]
	if !ok {
		remote.Remember(nil)
		u = &unit{id: remote.ID, state: remote, status: StatusSynced}
		u.thresholds.seed(remote)
		e.units[u.id] = u
		e.order = append(e.order, u.id)
		e.log.Info().Str("unit", u.id).Str("name", remote.Name).Msg("discovered unit")
		return applyAdded
	}

	if u.pending != nil && !verified && e.now().Before(u.verifyUntil) && u.pending.contradicts(remote) {
		e.metrics.staleDiscarded()
		e.log.Debug().Str("unit", u.id).Msg("discarding snapshot older than pending command")
		return applyDiscarded
	}
	if u.pending != nil && verified && u.pending.contradicts(remote) {
		e.log.Warn().Str("unit", u.id).Object("expected", *u.pending).Msg("unit did not apply command")
	}

	u.pending = nil
	u.verifyUntil = time.Time{}
	u.status = StatusSynced
	remote.Remember(u.state)
	u.state = remote
	u.thresholds.seed(remote)
	u.thresholds.follow(remote)
	if u.pendingMode != nil && remote.Power() {
		u.pendingMode = nil
	}
	return applyChanged
}

func (e *Engine) removeLocked(id string) {
	u, ok := e.units[id]
	if !ok {
		return
	}
	if u.timer != nil {
		u.timer.Stop()
	}
	delete(e.units, id)
	e.order = slices.DeleteFunc(e.order, func(v string) bool { return v == id })
	e.log.Info().Str("unit", id).Msg("removed unit")
}

func (e *Engine) notify(ctx context.Context, added, changed, removed []string) {
	if len(added)+len(changed)+len(removed) == 0 {
		return
	}
	e.mu.RLock()
	observers := slices.Clone(e.observers)
	e.mu.RUnlock()
	for _, o := range observers {
		for _, id := range added {
			o.UnitAdded(ctx, id)
		}
		for _, id := range changed {
			o.UnitChanged(ctx, id)
		}
		for _, id := range removed {
			o.UnitRemoved(ctx, id)
		}
	}
}

// Dispatch applies a patch to a unit: no-op fields are skipped, mode
// changes while off are queued, and on success the local state is patched
// and a verification refresh scheduled.
func (e *Engine) Dispatch(ctx context.Context, unitID string, patch Patch) error {
	return e.update(ctx, unitID, func(*unit) (Patch, bool) { return patch, false })
}

// update runs one read-modify-dispatch cycle. prepare runs under the state
// lock, may adjust unit markers, and reports whether it did.
func (e *Engine) update(ctx context.Context, unitID string, prepare func(u *unit) (Patch, bool)) error {
	e.mu.RLock()
	u, ok := e.units[unitID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}

	u.cmdMu.Lock()
	defer u.cmdMu.Unlock()

	e.mu.Lock()
	if e.units[unitID] != u {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	patch, touched := prepare(u)
	cmd, effective, queued, send := e.planLocked(u, patch)
	e.mu.Unlock()

	if !send {
		if touched || queued {
			e.notify(ctx, nil, []string{unitID}, nil)
		}
		return nil
	}

	if err := e.cloud.SendCommand(ctx, unitID, cmd); err != nil {
		e.metrics.command("error")
		e.log.Error().Err(err).Str("unit", unitID).Object("patch", effective).Msg("command failed")
		if touched || queued {
			e.notify(ctx, nil, []string{unitID}, nil)
		}
		return fmt.Errorf("%w: %w", host.ErrCommunicationFailure, err)
	}
	e.metrics.command("sent")
	e.log.Info().Str("unit", unitID).Object("patch", effective).Msg("command sent")

	e.mu.Lock()
	if e.units[unitID] == u {
		e.commitLocked(u, effective)
	}
	e.mu.Unlock()

	e.notify(ctx, nil, []string{unitID}, nil)
	return nil
}

// planLocked turns a requested patch into the command to send.
func (e *Engine) planLocked(u *unit, patch Patch) (cmd Command, effective Patch, queued bool, send bool) {
	state := u.state
	on := state.Power()
	willBeOn := on
	if patch.Power != nil {
		willBeOn = *patch.Power
	}
	turningOn := patch.Power != nil && *patch.Power && !on

	if patch.Mode != nil && !willBeOn {
		mode := *patch.Mode
		if mode == state.Mode() {
			queued = u.pendingMode != nil
			u.pendingMode = nil
		} else {
			u.pendingMode = &mode
			queued = true
			e.metrics.command("queued")
			e.log.Info().Str("unit", u.id).Str("mode", string(mode)).Msg("unit is off, mode change queued until power on")
		}
		patch.Mode = nil
	}
	if !willBeOn && (patch.FanSpeed != nil || patch.Vane != nil) {
		e.log.Debug().Str("unit", u.id).Msg("ignoring fan and vane changes while off")
		patch.FanSpeed, patch.Vane = nil, nil
	}
	if turningOn && u.pendingMode != nil && patch.Mode == nil {
		patch.Mode = ptr(*u.pendingMode)
	}
	if patch.Temperature != nil {
		target := state.Mode()
		switch {
		case patch.Mode != nil:
			target = *patch.Mode
		case u.pendingMode != nil:
			target = *u.pendingMode
		}
		caps := state.Capabilities
		patch.Temperature = ptr(roundStep(caps.Range(target).Clamp(*patch.Temperature), caps.Step()))
	}

	effective = patch.withoutNoops(state)
	if effective.Empty() {
		if !queued {
			e.metrics.command("skipped")
		}
		return Command{}, Patch{}, queued, false
	}
	return buildCommand(state, effective), effective, queued, true
}

func (e *Engine) commitLocked(u *unit, effective Patch) {
	u.commits++
	effective.apply(u.state)
	if effective.Mode != nil || (effective.Power != nil && *effective.Power) {
		u.pendingMode = nil
	}

	now := e.now()
	if u.pending != nil && now.Before(u.verifyUntil) {
		merged := u.pending.merge(effective)
		u.pending = &merged
	} else {
		u.pending = ptr(effective)
	}
	u.verifyUntil = now.Add(e.timings.SuppressWindow)
	u.status = StatusVerifying

	delay := e.timings.VerifyDelay
	if effective.PowerOnly() {
		delay = e.timings.PowerVerifyDelay
	}
	if u.timer != nil {
		u.timer.Stop()
	}
	if e.closed {
		return
	}
	id := u.id
	u.timer = e.afterFunc(delay, func() { e.verify(id) })
}

// verify is the debounced refresh after a command. Its result for unitID
// is authoritative even inside the suppression window, unless another
// command was committed during the fetch.
func (e *Engine) verify(unitID string) {
	e.mu.RLock()
	u, ok := e.units[unitID]
	var commits uint64
	if ok {
		commits = u.commits
	}
	e.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.timings.RefreshTimeout)
	defer cancel()
	states, err := e.cloud.FetchState(ctx)
	if err != nil {
		if e.ctx.Err() == nil {
			e.log.Warn().Err(err).Str("unit", unitID).Msg("verification refresh failed")
		}
		return
	}
	e.apply(ctx, states, false, &verification{unitID: unitID, commits: commits})
}

func (e *Engine) SetPower(ctx context.Context, unitID string, on bool) error {
	return e.Dispatch(ctx, unitID, Patch{Power: ptr(on)})
}

func (e *Engine) SetMode(ctx context.Context, unitID string, mode Mode) error {
	if mode == ModeUnknown {
		return fmt.Errorf("%w: unknown mode", host.ErrInvalidValue)
	}
	return e.Dispatch(ctx, unitID, Patch{Mode: ptr(mode)})
}

func (e *Engine) SetFanSpeed(ctx context.Context, unitID string, speed FanSpeed) error {
	if speed < FanSpeedAuto || speed > FanSpeedFive {
		return fmt.Errorf("%w: fan speed %d", host.ErrInvalidValue, speed)
	}
	return e.Dispatch(ctx, unitID, Patch{FanSpeed: ptr(speed)})
}

// SetRotationSpeed maps a 0..n slider onto fan speeds; 0 selects auto.
func (e *Engine) SetRotationSpeed(ctx context.Context, unitID string, value int) error {
	return e.update(ctx, unitID, func(u *unit) (Patch, bool) {
		limit := u.state.Capabilities.FanSpeeds()
		value = min(max(value, 0), limit)
		return Patch{FanSpeed: ptr(FanSpeed(value))}, false
	})
}

func (e *Engine) SetVane(ctx context.Context, unitID string, pos VanePosition) error {
	return e.Dispatch(ctx, unitID, Patch{Vane: ptr(pos)})
}

// SetTemperature sets the setpoint, clamped to the target mode's range and
// rounded to the unit's step.
func (e *Engine) SetTemperature(ctx context.Context, unitID string, value float64) error {
	return e.Dispatch(ctx, unitID, Patch{Temperature: ptr(value)})
}

// SetThreshold updates one side of the threshold pair. In Auto the unit is
// driven to the midpoint of the pair; elsewhere the threshold matching the
// mode becomes the setpoint.
func (e *Engine) SetThreshold(ctx context.Context, unitID string, kind ThresholdKind, value float64) error {
	return e.update(ctx, unitID, func(u *unit) (Patch, bool) {
		caps := u.state.Capabilities
		step := caps.Step()
		mode := u.viewLocked(e.now()).TargetMode()

		if kind == ThresholdHeating {
			u.thresholds.Heating = ptr(caps.Range(ModeHeat).Clamp(value))
		} else {
			u.thresholds.Cooling = ptr(caps.Range(ModeCool).Clamp(value))
		}

		switch mode {
		case ModeAuto:
			mid, ok := Midpoint(u.thresholds.Heating, u.thresholds.Cooling, step)
			if !ok {
				e.log.Debug().Str("unit", u.id).Msg("threshold pair incomplete, not sending")
				return Patch{}, true
			}
			return Patch{Temperature: ptr(roundStep(caps.Range(ModeAuto).Clamp(mid), step))}, true
		case ModeHeat:
			if kind != ThresholdHeating {
				return Patch{}, true
			}
		case ModeCool, ModeDry, ModeFan:
			if kind != ThresholdCooling {
				return Patch{}, true
			}
		}
		return Patch{Temperature: ptr(roundStep(caps.Range(mode).Clamp(value), step))}, true
	})
}

// SetFanButton handles a speed button. Turning it on selects the speed and
// powers the unit; turning the active button off falls back to auto.
func (e *Engine) SetFanButton(ctx context.Context, unitID string, speed FanSpeed, on bool) error {
	return e.update(ctx, unitID, func(u *unit) (Patch, bool) {
		if on {
			return Patch{Power: ptr(true), FanSpeed: ptr(speed)}, false
		}
		cur, ok := u.state.FanSpeed()
		if !ok || cur != speed || speed == FanSpeedAuto || !u.state.Power() {
			return Patch{}, false
		}
		return Patch{FanSpeed: ptr(FanSpeedAuto)}, false
	})
}

// SetVaneButton is SetFanButton for vane positions.
func (e *Engine) SetVaneButton(ctx context.Context, unitID string, pos VanePosition, on bool) error {
	return e.update(ctx, unitID, func(u *unit) (Patch, bool) {
		if on {
			return Patch{Power: ptr(true), Vane: ptr(pos)}, false
		}
		cur, ok := u.state.VaneVertical()
		if !ok || cur != pos || pos == VaneAuto || !u.state.Power() {
			return Patch{}, false
		}
		return Patch{Vane: ptr(VaneAuto)}, false
	})
}

func roundStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Round(v/step) * step
}
