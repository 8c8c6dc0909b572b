// Package machine owns the single process-wide aggregate of mutable state
// (configuration, motion queue, planner, kinematics, steppers, endstops,
// heaters, fan, G-code mode) and dispatches parsed commands against it.
package machine

import (
	"fmt"
	"io"
	"strings"

	"cartfw/config"
	"cartfw/core"
	"cartfw/gcode"
	"cartfw/heater"
	"cartfw/motion"
)

const (
	homingSpeedMMS    = 10.0 // app/toolhead.c HOMING_SPEED
	homingOvershootMM = 10.0
	homingRetractMM   = 5.0 // app/toolhead.c HOMING_RETRACT
	homingTimeoutS    = 30.0

	heaterTickIntervalUS = 100000 // 100ms, matches heater.pidDT
	trapqHistoryKeepS    = 1.0

	// pumpQuantumUS is how far Pump advances the tick clock on each call.
	// On real hardware a target's interrupt would drive core.GetTime()
	// directly; with no register-level target in scope, Pump is the only
	// thing that ever moves the clock forward, so it self-advances by one
	// small quantum per iteration.
	pumpQuantumUS = 50
)

// axis bundles one linear axis's kinematics, physical stepper driver, and
// (for X/Y/Z) homing endstop.
type axis struct {
	kin     *motion.StepperKinematics
	driver  *motion.StepperDriver
	endstop *motion.Endstop // nil for E
	limit   config.AxisLimits
	hasLimit bool
}

// Machine is the single owned aggregate constructed once at boot.
type Machine struct {
	cfg *config.Config

	tq      *motion.TrapQ
	planner *motion.Planner
	axes    [4]axis // X, Y, Z, E

	hotend *heater.Heater
	bed    *heater.Heater
	fan    *heater.Fan

	heaterTimer *core.Timer

	parser *gcode.Parser

	absoluteMode    bool
	extrudeRelative bool
	feedRate        float64 // mm/s
	homed           [3]bool
}

// New wires up a complete machine from cfg against the given HAL drivers.
func New(cfg *config.Config, gpio core.GPIODriver, pwm core.PWMDriver, adc core.ADCDriver) *Machine {
	tq := motion.NewTrapQ()
	planner := motion.NewPlanner(cfg.PlannerConfig(), tq, motion.Position{})

	m := &Machine{
		cfg:          cfg,
		tq:           tq,
		planner:      planner,
		parser:       gcode.NewParser(),
		absoluteMode: true,
		feedRate:     50.0,
	}

	m.axes[0] = newAxis(motion.AxisX, cfg.StepsPerMM.X, tq, gpio, cfg.Steppers.X, &cfg.Endstops.X, cfg.Limits.X)
	m.axes[1] = newAxis(motion.AxisY, cfg.StepsPerMM.Y, tq, gpio, cfg.Steppers.Y, &cfg.Endstops.Y, cfg.Limits.Y)
	m.axes[2] = newAxis(motion.AxisZ, cfg.StepsPerMM.Z, tq, gpio, cfg.Steppers.Z, &cfg.Endstops.Z, cfg.Limits.Z)
	m.axes[3] = newAxis(motion.AxisE, cfg.StepsPerMM.E, tq, gpio, cfg.Steppers.E, nil, config.AxisLimits{})

	m.hotend = heater.New("hotend", adc, cfg.Hotend.ADCPin, pwm, cfg.Hotend.PWMPin, cfg.HotendPID, 1.0)
	m.bed = heater.New("bed", adc, cfg.Bed.ADCPin, pwm, cfg.Bed.PWMPin, cfg.BedPID, 1.0)
	m.fan = heater.NewFan(pwm, cfg.PartFanPin)

	core.RegisterShutdownHook(func() {
		for i := range m.axes {
			m.axes[i].driver.Stop()
		}
		m.hotend.Disable()
		m.bed.Disable()
		m.fan.SetSpeed(0)
	})

	for i := range m.axes {
		if m.axes[i].endstop != nil {
			m.axes[i].endstop.StartPolling()
		}
	}

	m.heaterTimer = &core.Timer{
		WakeTime: core.GetTime() + core.TimerFromUS(heaterTickIntervalUS),
		Handler:  m.tickHeaters,
	}
	core.ScheduleTimer(m.heaterTimer)

	return m
}

func newAxis(ax motion.Axis, stepsPerMM float64, tq *motion.TrapQ, gpio core.GPIODriver, pins config.StepperPins, endstop *config.EndstopPins, limit config.AxisLimits) axis {
	a := axis{
		kin:    motion.NewStepperKinematics(ax, stepsPerMM, tq),
		driver: motion.NewStepperDriver(axisName(ax), gpio, pins.Step, pins.Dir, pins.InvertDir),
		limit:  limit,
		hasLimit: endstop != nil,
	}
	if pins.HasEnable {
		a.driver.SetEnablePin(pins.Enable, pins.InvertEnable)
	}
	if endstop != nil {
		a.endstop = motion.NewEndstop(gpio, endstop.Pin, endstop.Invert)
	}
	return a
}

func axisName(ax motion.Axis) string {
	switch ax {
	case motion.AxisX:
		return "x"
	case motion.AxisY:
		return "y"
	case motion.AxisZ:
		return "z"
	default:
		return "e"
	}
}

func (m *Machine) tickHeaters(timer *core.Timer) uint8 {
	m.hotend.Tick()
	m.bed.Tick()
	timer.WakeTime = core.GetTime() + core.TimerFromUS(heaterTickIntervalUS)
	return core.SF_RESCHEDULE
}

// Pump runs one iteration of the main loop body: dispatch due scheduler
// timers (steps, endstop polls, heater ticks), then retire TrapQ moves that
// have finished by the current print time.
func (m *Machine) Pump() {
	core.SetTime(core.GetTime() + core.TimerFromUS(pumpQuantumUS))
	core.ProcessTimers()
	now := float64(core.GetTime()) / float64(core.TimerFreq)
	m.tq.FinalizeUpto(now)
	if now > trapqHistoryKeepS {
		m.tq.FreeBefore(now - trapqHistoryKeepS)
	}
}

// WaitMoves flushes the lookahead planner, generates and enqueues the
// resulting step stream for every axis, then pumps the scheduler until all
// queued motion has been physically emitted (the TrapQ has no active moves
// and every stepper driver is idle), or until a fatal shutdown has latched.
// This satisfies
// toolhead_wait_moves' suspension-point contract: it never busy-waits
// without pumping.
func (m *Machine) WaitMoves() error {
	if err := m.planner.Flush(true); err != nil {
		return newError(ErrQueueFull, "")
	}
	flushTime := m.planner.PrintTime()
	for i := range m.axes {
		steps := motion.GenerateSteps(m.axes[i].kin, flushTime)
		m.axes[i].driver.Enqueue(steps)
	}
	for {
		busy := !m.planner.Idle()
		for i := range m.axes {
			busy = busy || m.axes[i].driver.IsActive()
		}
		if !busy || core.IsShutdown() {
			break
		}
		m.Pump()
	}
	return nil
}

func (m *Machine) waitAtTemp(h *heater.Heater) {
	for !h.IsAtTarget() {
		m.Pump()
	}
}

// Position returns the current commanded position.
func (m *Machine) Position() motion.Position {
	return m.planner.Position()
}

// Homed reports which of X, Y, Z have completed a homing pass.
func (m *Machine) Homed() [3]bool {
	return m.homed
}

// ProcessLine parses and dispatches one line of G-code, writing the
// response ("ok\r\n", a reported value followed by "ok\r\n", or
// "error: <kind>\r\n") to out.
func (m *Machine) ProcessLine(line string, out io.Writer) {
	line = strings.TrimRight(line, "\r\n")

	cmd, err := m.parser.ParseLine(line)
	if err != nil {
		fmt.Fprintf(out, "error: %s\r\n", ErrParseInvalid.text())
		return
	}
	if cmd.Comment {
		fmt.Fprint(out, "ok\r\n")
		return
	}

	if err := m.dispatch(cmd, out); err != nil {
		if me, ok := err.(*Error); ok {
			fmt.Fprintf(out, "error: %s\r\n", me.Kind.text())
		} else {
			fmt.Fprintf(out, "error: %s\r\n", ErrUnknownCommand.text())
		}
		return
	}
	fmt.Fprint(out, "ok\r\n")
}

func (m *Machine) dispatch(cmd *gcode.Command, out io.Writer) error {
	switch cmd.Letter {
	case 'G':
		return m.dispatchG(cmd)
	case 'M':
		return m.dispatchM(cmd, out)
	}
	return newError(ErrUnknownCommand, "")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fmtTrunc formats v as "<int>.<2-digit fraction>", truncating (not
// rounding) the fractional part to two digits, the clean M114 position
// format.
func fmtTrunc(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := int64(v)
	frac := int64((v - float64(whole)) * 100)
	return fmt.Sprintf("%s%d.%02d", sign, whole, frac)
}
