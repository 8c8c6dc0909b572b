package motion

import "cartfw/core"

// pulseHoldUS is how long the step pin is held high, long enough to satisfy
// typical stepper driver hold-time requirements.
const pulseHoldUS = 2

// StepperDriver generates timed step/dir/enable pulses for one axis by
// consuming a queue of (time, direction) pairs produced by GenerateSteps.
// It is a small state machine driven by the scheduler: Idle while no steps
// are pending, Moving while a scheduler timer callback is pulsing out the
// queue.
type StepperDriver struct {
	name string
	gpio core.GPIODriver

	stepPin, dirPin, enablePin core.GPIOPin
	hasEnable                  bool
	invertDir, invertEnable    bool

	timer *core.Timer

	queue       []Step
	queueIdx    int
	active      bool
	lastDir     int8
	haveLastDir bool
	position    int64 // step count, updated as pulses are emitted
}

// NewStepperDriver wires a driver to its GPIO pins via the given HAL.
func NewStepperDriver(name string, gpio core.GPIODriver, stepPin, dirPin core.GPIOPin, invertDir bool) *StepperDriver {
	d := &StepperDriver{
		name:      name,
		gpio:      gpio,
		stepPin:   stepPin,
		dirPin:    dirPin,
		invertDir: invertDir,
		timer:     &core.Timer{},
	}
	_ = gpio.ConfigureOutput(stepPin)
	_ = gpio.ConfigureOutput(dirPin)
	return d
}

// SetEnablePin configures an optional enable pin; invert flips its polarity.
func (d *StepperDriver) SetEnablePin(pin core.GPIOPin, invert bool) {
	d.hasEnable = true
	d.enablePin = pin
	d.invertEnable = invert
	_ = d.gpio.ConfigureOutput(pin)
	d.disable()
}

func (d *StepperDriver) enable() {
	if !d.hasEnable {
		return
	}
	_ = d.gpio.SetPin(d.enablePin, !d.invertEnable)
}

func (d *StepperDriver) disable() {
	if !d.hasEnable {
		return
	}
	_ = d.gpio.SetPin(d.enablePin, d.invertEnable)
}

// Enqueue hands the driver a freshly generated run of steps and, if it is
// idle, starts servicing them immediately.
func (d *StepperDriver) Enqueue(steps []Step) {
	if len(steps) == 0 {
		return
	}
	d.queue = append(d.queue, steps...)
	if !d.active {
		d.enable()
		d.active = true
		d.armTimer(d.queue[d.queueIdx], d.stepHandler)
	}
}

// printTimeToTicks converts a planner print-time (seconds) to the
// scheduler's tick domain.
func printTimeToTicks(t float64) uint32 {
	return uint32(t * core.TimerFreq)
}

func (d *StepperDriver) armTimer(step Step, handler func(*core.Timer) uint8) {
	d.timer.WakeTime = printTimeToTicks(step.Time)
	d.timer.Handler = handler
	core.ScheduleTimer(d.timer)
}

func (d *StepperDriver) finish() uint8 {
	d.active = false
	d.queue = d.queue[:0]
	d.queueIdx = 0
	d.disable()
	return core.SF_DONE
}

// stepHandler fires the step pulse and, after a short hold, arms
// stepDownHandler to drop it again.
func (d *StepperDriver) stepHandler(timer *core.Timer) uint8 {
	step := d.queue[d.queueIdx]

	if !d.haveLastDir || step.Dir != d.lastDir {
		dirHigh := step.Dir > 0
		if d.invertDir {
			dirHigh = !dirHigh
		}
		_ = d.gpio.SetPin(d.dirPin, dirHigh)
		d.lastDir = step.Dir
		d.haveLastDir = true
	}

	_ = d.gpio.SetPin(d.stepPin, true)
	d.position += int64(step.Dir)
	core.IncTotalStepCount()

	timer.WakeTime = core.GetTime() + core.TimerFromUS(pulseHoldUS)
	timer.Handler = d.stepDownHandler
	return core.SF_RESCHEDULE
}

func (d *StepperDriver) stepDownHandler(timer *core.Timer) uint8 {
	_ = d.gpio.SetPin(d.stepPin, false)
	d.queueIdx++

	if d.queueIdx >= len(d.queue) {
		return d.finish()
	}

	timer.WakeTime = printTimeToTicks(d.queue[d.queueIdx].Time)
	timer.Handler = d.stepHandler
	return core.SF_RESCHEDULE
}

// Stop drops all pending steps immediately and cancels the driver's timer
// so a stale wake from the step in progress cannot fire against a cleared
// queue, or be silently re-inserted the next time Enqueue arms the timer.
func (d *StepperDriver) Stop() {
	core.CancelTimer(d.timer)
	d.queue = nil
	d.queueIdx = 0
	d.active = false
	d.disable()
}

// IsActive reports whether a timer callback is still servicing the queue.
func (d *StepperDriver) IsActive() bool {
	return d.active
}

// PositionSteps returns the stepper's own pulse counter, independent of the
// kinematics' floating-point commanded position.
func (d *StepperDriver) PositionSteps() int64 {
	return d.position
}
