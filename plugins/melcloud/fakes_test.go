package melcloud

import (
	"context"
	"sync"
	"testing"
	"time"
)

type sentCommand struct {
	unitID string
	cmd    Command
}

type fakeCloud struct {
	mu       sync.Mutex
	states   []*DeviceState
	fetchErr error
	sendErr  error
	sent     []sentCommand
	fetches  int

	// duringFetch runs once, after the next fetch has read its states and
	// before it returns.
	duringFetch func()
}

func (c *fakeCloud) FetchState(context.Context) ([]*DeviceState, error) {
	c.mu.Lock()
	c.fetches++
	if c.fetchErr != nil {
		c.mu.Unlock()
		return nil, c.fetchErr
	}
	out := make([]*DeviceState, 0, len(c.states))
	for _, s := range c.states {
		out = append(out, s.Clone())
	}
	hook := c.duringFetch
	c.duringFetch = nil
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (c *fakeCloud) SendCommand(_ context.Context, unitID string, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentCommand{unitID: unitID, cmd: cmd})
	return nil
}

func (c *fakeCloud) setStates(states ...*DeviceState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = states
}

func (c *fakeCloud) commands() []sentCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentCommand(nil), c.sent...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type timerQueue struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (q *timerQueue) AfterFunc(d time.Duration, fn func()) Timer {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	q.timers = append(q.timers, t)
	return t
}

// active returns timers that were neither stopped nor fired.
func (q *timerQueue) active() []*fakeTimer {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*fakeTimer
	for _, t := range q.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fire runs every active timer once.
func (q *timerQueue) fire() {
	for _, t := range q.active() {
		t.stopped = true
		t.fn()
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	added   []string
	changed []string
	removed []string
}

func (o *recordingObserver) UnitAdded(_ context.Context, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.added = append(o.added, id)
}

func (o *recordingObserver) UnitChanged(_ context.Context, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed = append(o.changed, id)
}

func (o *recordingObserver) UnitRemoved(_ context.Context, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, id)
}

func testCapabilities() Capabilities {
	return Capabilities{
		HasCoolOperationMode:    true,
		HasHeatOperationMode:    true,
		HasAutoOperationMode:    true,
		HasDryOperationMode:     true,
		HasAutomaticFanSpeed:    true,
		HasSwing:                true,
		NumberOfFanSpeeds:       5,
		MinTempCoolDry:          16,
		MaxTempCoolDry:          31,
		MinTempHeat:             10,
		MaxTempHeat:             31,
		MinTempAutomatic:        16,
		MaxTempAutomatic:        31,
		HasHalfDegreeIncrements: true,
	}
}

// testUnit builds a powered-on unit heating to 21 with overrides given as
// name/value pairs.
func testUnit(id string, overrides ...string) *DeviceState {
	s := &DeviceState{
		ID:       id,
		Name:     "Living Room",
		Building: "Home",
		Settings: []Setting{
			{Name: SettingPower, Value: "True"},
			{Name: SettingOperationMode, Value: "Heat"},
			{Name: SettingFanSpeed, Value: "Auto"},
			{Name: SettingVaneHorizontalDirection, Value: "Auto"},
			{Name: SettingVaneVerticalDirection, Value: "Auto"},
			{Name: SettingSetTemperature, Value: "21"},
			{Name: SettingRoomTemperature, Value: "19.5"},
		},
		Capabilities: testCapabilities(),
		Connection:   Connection{Connected: true, InterfaceID: "IF-" + id, RSSI: -52},
	}
	for i := 0; i+1 < len(overrides); i += 2 {
		s.put(overrides[i], overrides[i+1])
	}
	return s
}

type engineFixture struct {
	engine *Engine
	cloud  *fakeCloud
	clock  *fakeClock
	timers *timerQueue
}

// newEngineFixture builds an engine over a fake cloud holding states and
// runs the discovery poll.
func newEngineFixture(t *testing.T, states ...*DeviceState) *engineFixture {
	t.Helper()
	f := &engineFixture{
		cloud:  &fakeCloud{states: states},
		clock:  newFakeClock(),
		timers: &timerQueue{},
	}
	f.engine = NewEngine(f.cloud,
		WithEngineClock(f.clock.Now),
		WithAfterFunc(f.timers.AfterFunc),
	)
	t.Cleanup(f.engine.Close)
	if len(states) > 0 {
		if err := f.engine.Poll(context.Background()); err != nil {
			t.Fatalf("initial poll: %v", err)
		}
	}
	return f
}

func (f *engineFixture) view(t *testing.T, id string) UnitView {
	t.Helper()
	v, ok := f.engine.Snapshot(id)
	if !ok {
		t.Fatalf("unit %s not found", id)
	}
	return v
}

func (f *engineFixture) lastCommand(t *testing.T) Command {
	t.Helper()
	sent := f.cloud.commands()
	if len(sent) == 0 {
		t.Fatalf("expected a command to be sent")
	}
	return sent[len(sent)-1].cmd
}

func strPtrValue(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}
