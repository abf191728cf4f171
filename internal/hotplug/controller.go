package hotplug

import (
	"fmt"
	"time"

	"github.com/revjunkie/nexus7/internal/config"
	"github.com/revjunkie/nexus7/internal/executor"
	"github.com/revjunkie/nexus7/internal/history"
	"github.com/revjunkie/nexus7/internal/load"
	"github.com/revjunkie/nexus7/internal/policy"
	"github.com/revjunkie/nexus7/internal/topology"

	"github.com/sirupsen/logrus"
)

// RateScale maps the online-core count to a multiplier for the base
// sampling interval. More cores online means less frequent sampling.
type RateScale func(online uint) uint

func LinearScale(online uint) uint { return online }

func QuadraticScale(online uint) uint { return online * online }

// ScaleFor resolves a rate_scaling config value.
func ScaleFor(name string) (RateScale, error) {
	switch name {
	case "", "linear":
		return LinearScale, nil
	case "quadratic":
		return QuadraticScale, nil
	}
	return nil, fmt.Errorf("unknown rate scaling %q", name)
}

// Sink receives one record per decision tick. Implementations must not
// block for long; they run on the controller goroutine.
type Sink interface {
	RecordTick(ts time.Time, running, average, online uint, action policy.Action, interval time.Duration)
}

// Timing groups the fixed controller delays. Zero values fall back to
// the defaults below; tests shrink them.
type Timing struct {
	BootDelay       time.Duration // first tick after startup
	BootGrace       time.Duration // paused flag cleared after startup
	PauseDuration   time.Duration // paused flag cleared after an OnlineAll
	OfflineCooldown time.Duration // delay before a decided offline runs
	ResumeDelay     time.Duration // first tick after resume
}

const (
	defaultBootDelay       = 10 * time.Second
	defaultBootGrace       = 20 * time.Second
	defaultPauseDuration   = time.Second
	defaultOfflineCooldown = time.Second
	defaultResumeDelay     = time.Second
)

func (t *Timing) applyDefaults() {
	if t.BootDelay == 0 {
		t.BootDelay = defaultBootDelay
	}
	if t.BootGrace == 0 {
		t.BootGrace = defaultBootGrace
	}
	if t.PauseDuration == 0 {
		t.PauseDuration = defaultPauseDuration
	}
	if t.OfflineCooldown == 0 {
		t.OfflineCooldown = defaultOfflineCooldown
	}
	if t.ResumeDelay == 0 {
		t.ResumeDelay = defaultResumeDelay
	}
}

type eventKind int

const (
	evBoost eventKind = iota
	evSuspend
	evResume
	evSetDisabled
	evStatus
)

type event struct {
	kind     eventKind
	disabled bool
	reply    chan Status
}

// Status is a point-in-time view of the controller, served through the
// actor so it never observes a half-applied transition.
type Status struct {
	Online         uint
	MaxPossible    uint
	Average        uint
	LastSample     uint
	Disabled       bool
	Paused         bool
	Suspended      bool
	OfflinePending bool
	Tuning         config.Tuning
}

// Options wires a Controller. Topology, Load and Tuning are required.
type Options struct {
	Topology topology.Topology
	Load     load.Source
	Tuning   *config.Store
	Scale    RateScale
	Sink     Sink
	Logger   logrus.FieldLogger
	Timing   Timing
}

// Controller is the hotplug decision engine. All mutable state (load
// history, flags, pending timers) is owned by a single goroutine; the
// tick timer and every external entry point feed the same loop, so a
// boost can never interleave with a tick and cancel-then-reschedule is
// atomic with respect to other events.
type Controller struct {
	topo   topology.Topology
	load   load.Source
	exec   *executor.Executor
	tuning *config.Store
	scale  RateScale
	sink   Sink
	logger logrus.FieldLogger
	timing Timing

	events chan event
	stop   chan struct{}
	done   chan struct{}

	// actor-owned state below; only the run goroutine touches it
	hist       *history.Buffer
	flags      policy.Flags
	suspended  bool
	lastSample uint
	lastAvg    uint

	tick    *timer
	offline *timer
	unpause *timer
}

func New(opts Options) (*Controller, error) {
	if opts.Topology == nil {
		return nil, fmt.Errorf("topology is nil")
	}
	if opts.Load == nil {
		return nil, fmt.Errorf("load source is nil")
	}
	if opts.Tuning == nil {
		return nil, fmt.Errorf("tuning store is nil")
	}
	if opts.Scale == nil {
		opts.Scale = LinearScale
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	opts.Timing.applyDefaults()

	exec, err := executor.New(opts.Topology, opts.Logger)
	if err != nil {
		return nil, err
	}

	snap := opts.Tuning.Snapshot()
	return &Controller{
		topo:    opts.Topology,
		load:    opts.Load,
		exec:    exec,
		tuning:  opts.Tuning,
		scale:   opts.Scale,
		sink:    opts.Sink,
		logger:  opts.Logger,
		timing:  opts.Timing,
		events:  make(chan event, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		hist:    history.New(snap.SamplingPeriods),
		tick:    newTimer(),
		offline: newTimer(),
		unpause: newTimer(),
	}, nil
}

// Start launches the controller. It comes up paused: the first tick
// waits out the boot delay and the paused flag clears only after the
// boot grace period, giving the system time to settle before any
// hotplug transition.
func (c *Controller) Start() {
	c.flags.Paused = true
	c.tick.schedule(c.timing.BootDelay)
	c.unpause.schedule(c.timing.BootGrace)
	c.logger.WithFields(logrus.Fields{
		"possible_cores": c.topo.MaxPossible(),
		"boot_delay":     c.timing.BootDelay,
		"boot_grace":     c.timing.BootGrace,
	}).Info("Hotplug controller started")
	go c.run()
}

// Stop tears the controller down and waits for the actor to exit.
func (c *Controller) Stop() {
	close(c.stop)
	<-c.done
}

// Boost requests an immediate forced online-one, bypassing the
// thresholds. Invoked from the input path on user interaction.
func (c *Controller) Boost() { c.send(event{kind: evBoost}) }

// Suspend forces the topology down to min_cores and halts sampling.
func (c *Controller) Suspend() { c.send(event{kind: evSuspend}) }

// Resume re-arms sampling after a suspend.
func (c *Controller) Resume() { c.send(event{kind: evResume}) }

// SetDisabled enables or disables the automatic policy. Disabling
// cancels every pending timer; enabling triggers an immediate tick.
func (c *Controller) SetDisabled(disabled bool) {
	c.send(event{kind: evSetDisabled, disabled: disabled})
}

// Status returns a consistent snapshot of the controller state.
func (c *Controller) Status() Status {
	reply := make(chan Status, 1)
	select {
	case c.events <- event{kind: evStatus, reply: reply}:
		select {
		case s := <-reply:
			return s
		case <-c.done:
		}
	case <-c.done:
	}
	return Status{Tuning: c.tuning.Snapshot()}
}

func (c *Controller) send(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			c.tick.cancel()
			c.offline.cancel()
			c.unpause.cancel()
			c.logger.Info("Hotplug controller stopped")
			return
		case <-c.tick.c():
			c.tick.fired()
			c.onTick()
		case <-c.offline.c():
			c.offline.fired()
			c.onOfflineCooldown()
		case <-c.unpause.c():
			c.unpause.fired()
			c.onUnpause()
		case ev := <-c.events:
			c.onEvent(ev)
		}
	}
}

// onTick is the periodic sampling-and-decision step.
func (c *Controller) onTick() {
	// A tick that fired just before a disable or suspend landed must
	// not re-arm the timer.
	if c.flags.Disabled || c.suspended {
		return
	}

	t := c.tuning.Snapshot()

	// A sampling_periods write takes effect here. The fresh buffer
	// starts zero-filled again, same as at boot.
	if t.SamplingPeriods != c.hist.Window() {
		c.logger.WithField("window", t.SamplingPeriods).Debug("Resizing load history")
		c.hist = history.New(t.SamplingPeriods)
	}

	running, err := c.load.CurrentRunnable()
	if err != nil {
		c.logger.WithError(err).Warn("Failed to sample run queue")
		c.tick.schedule(t.SampleInterval())
		return
	}

	// Scale by 100 up front so the average needs no fractional math.
	sample := running * 100
	avg := c.hist.Record(sample)
	c.lastSample = sample
	c.lastAvg = avg

	online := c.topo.OnlineCount()
	maxOnline := c.topo.MaxPossible()
	if t.MaxCores < maxOnline {
		maxOnline = t.MaxCores
	}

	dec := policy.Decide(policy.Input{
		Average:        avg,
		Online:         online,
		MaxOnline:      maxOnline,
		Flags:          c.flags,
		OfflinePending: c.offline.pending,
	}, t)

	c.logger.WithFields(logrus.Fields{
		"running": sample,
		"avg":     avg,
		"online":  online,
		"action":  dec.Action.String(),
	}).Debug("Decision tick")

	if dec.CancelOffline {
		c.offline.cancel()
	}

	var interval time.Duration
	if dec.Pause {
		c.flags.Paused = true
		c.unpause.schedule(c.timing.PauseDuration)
	}

	switch dec.Action {
	case policy.OnlineAll:
		c.logger.WithField("avg", avg).Info("Onlining all cores")
		c.applyAction(policy.OnlineAll, t)
		interval = t.SampleInterval()
	case policy.OnlineOne:
		c.logger.WithField("avg", avg).Info("Onlining one core")
		c.applyAction(policy.OnlineOne, t)
		interval = t.SampleInterval()
	case policy.OfflineOne:
		c.logger.WithField("avg", avg).Info("Scheduling core offline")
		c.offline.schedule(c.timing.OfflineCooldown)
		interval = c.scaledInterval(t, online)
	default:
		if c.flags.Paused && !c.flags.Disabled {
			interval = t.SampleInterval()
		} else {
			interval = c.scaledInterval(t, online)
		}
	}

	c.tick.schedule(interval)

	if c.sink != nil {
		c.sink.RecordTick(time.Now(), running, avg, c.topo.OnlineCount(), dec.Action, interval)
	}
}

// scaledInterval stretches the base period by the configured scaling
// of the online count, cutting sampling overhead once the system is
// already scaled up.
func (c *Controller) scaledInterval(t config.Tuning, online uint) time.Duration {
	factor := c.scale(online)
	if factor == 0 {
		factor = 1
	}
	return t.SampleInterval() * time.Duration(factor)
}

// applyAction runs the executor, absorbing failures: a refused
// transition is a no-op for this tick and the next tick decides from
// fresh data.
func (c *Controller) applyAction(action policy.Action, t config.Tuning) {
	if err := c.exec.Apply(action, t); err != nil {
		c.logger.WithField("action", action.String()).WithError(err).Warn("Action failed, will retry from fresh data next tick")
	}
}

// onOfflineCooldown executes the deferred offline decided a cooldown
// ago, unless the controller has been disabled or suspended since.
func (c *Controller) onOfflineCooldown() {
	if c.flags.Disabled || c.suspended {
		return
	}
	t := c.tuning.Snapshot()
	c.logger.Info("Offlining one core")
	c.applyAction(policy.OfflineOne, t)
	c.tick.schedule(t.SampleInterval())
}

func (c *Controller) onUnpause() {
	c.logger.Debug("Clearing pause flag")
	c.flags.Paused = false
}

func (c *Controller) onEvent(ev event) {
	switch ev.kind {
	case evBoost:
		c.onBoost()
	case evSuspend:
		c.onSuspend()
	case evResume:
		c.onResume()
	case evSetDisabled:
		c.onSetDisabled(ev.disabled)
	case evStatus:
		ev.reply <- Status{
			Online:         c.topo.OnlineCount(),
			MaxPossible:    c.topo.MaxPossible(),
			Average:        c.lastAvg,
			LastSample:     c.lastSample,
			Disabled:       c.flags.Disabled,
			Paused:         c.flags.Paused,
			Suspended:      c.suspended,
			OfflinePending: c.offline.pending,
			Tuning:         c.tuning.Snapshot(),
		}
	}
}

// onBoost cancels any pending offline and forces one core up,
// independent of the current average.
func (c *Controller) onBoost() {
	if c.flags.Disabled || c.suspended {
		return
	}
	t := c.tuning.Snapshot()
	c.offline.cancel()
	c.logger.Info("Input boost: onlining one core")
	c.applyAction(policy.OnlineOne, t)
	c.tick.schedule(t.SampleInterval())
}

// onSuspend cancels all pending work and forces the topology down to
// min_cores for system sleep.
func (c *Controller) onSuspend() {
	if c.suspended {
		return
	}
	c.suspended = true
	c.tick.cancel()
	c.offline.cancel()
	c.unpause.cancel()

	t := c.tuning.Snapshot()
	c.logger.WithField("min_cores", t.MinCores).Info("Suspending: offlining cores")
	// Bounded walk: each pass removes at most one core and a refusing
	// core ends the walk rather than spinning on it.
	for i := uint(0); i < c.topo.MaxPossible(); i++ {
		if c.topo.OnlineCount() <= t.MinCores {
			break
		}
		if err := c.exec.Apply(policy.OfflineOne, t); err != nil {
			c.logger.WithError(err).Warn("Failed to offline core for suspend")
			break
		}
	}
}

// onResume clears the suspend override and schedules one fresh tick
// after a short delay so the platform can settle first.
func (c *Controller) onResume() {
	if !c.suspended {
		return
	}
	c.suspended = false
	c.logger.Info("Resuming hotplug sampling")
	c.tick.schedule(c.timing.ResumeDelay)
}

func (c *Controller) onSetDisabled(disabled bool) {
	if disabled == c.flags.Disabled {
		return
	}
	if disabled {
		c.flags.Disabled = true
		c.tick.cancel()
		c.offline.cancel()
		c.unpause.cancel()
		c.logger.Info("Hotplug policy disabled")
	} else {
		c.flags.Disabled = false
		c.flags.Paused = false
		c.logger.Info("Hotplug policy enabled")
		c.tick.schedule(0)
	}
}
