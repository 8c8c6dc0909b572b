package motion

import "cartfw/core"

// pollIntervalUS is how often the scheduler polls each endstop.
const pollIntervalUS = 1000

// Endstop debounces one limit switch GPIO by simple level checking: it
// latches Triggered on a 0->1 transition (accounting for Invert) while
// homing mode is enabled, and ignores the pin entirely otherwise.
type Endstop struct {
	gpio   core.GPIODriver
	pin    core.GPIOPin
	invert bool

	homing    bool
	triggered bool
	lastLevel bool

	timer    *core.Timer
	onTrigger func()
}

// NewEndstop configures pin as a pulled-up input and returns an Endstop
// observing it.
func NewEndstop(gpio core.GPIODriver, pin core.GPIOPin, invert bool) *Endstop {
	_ = gpio.ConfigureInputPullUp(pin)
	e := &Endstop{gpio: gpio, pin: pin, invert: invert}
	e.timer = &core.Timer{Handler: e.poll}
	return e
}

// StartPolling registers the endstop's debounce poll with the scheduler.
// Call once at boot; the timer re-arms itself forever.
func (e *Endstop) StartPolling() {
	e.timer.WakeTime = core.GetTime() + core.TimerFromUS(pollIntervalUS)
	core.ScheduleTimer(e.timer)
}

func (e *Endstop) level() bool {
	v := e.gpio.ReadPin(e.pin)
	if e.invert {
		v = !v
	}
	return v
}

func (e *Endstop) poll(timer *core.Timer) uint8 {
	cur := e.level()
	if e.homing && cur && !e.lastLevel {
		e.triggered = true
		if e.onTrigger != nil {
			e.onTrigger()
		}
	}
	e.lastLevel = cur

	timer.WakeTime = core.GetTime() + core.TimerFromUS(pollIntervalUS)
	return core.SF_RESCHEDULE
}

// StartHoming arms homing mode: the next rising edge latches Triggered and
// invokes onTrigger (typically stopping the associated stepper immediately).
func (e *Endstop) StartHoming(onTrigger func()) {
	e.triggered = false
	e.lastLevel = e.level()
	e.onTrigger = onTrigger
	e.homing = true
}

// StopHoming disarms homing mode.
func (e *Endstop) StopHoming() {
	e.homing = false
	e.onTrigger = nil
}

// Triggered reports whether a rising edge has latched since StartHoming.
func (e *Endstop) Triggered() bool {
	return e.triggered
}
