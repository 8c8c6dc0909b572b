package machine

import (
	"fmt"
	"io"

	"cartfw/core"
	"cartfw/gcode"
	"cartfw/heater"
	"cartfw/motion"
)

func (m *Machine) dispatchG(cmd *gcode.Command) error {
	switch cmd.Number {
	case 0, 1:
		return m.doMove(cmd)
	case 28:
		return m.doHome(cmd)
	case 90:
		m.absoluteMode = true
	case 91:
		m.absoluteMode = false
	case 92:
		m.doSetPosition(cmd)
	default:
		return newError(ErrUnknownCommand, "")
	}
	return nil
}

func (m *Machine) dispatchM(cmd *gcode.Command, out io.Writer) error {
	switch cmd.Number {
	case 82:
		m.extrudeRelative = false
	case 83:
		m.extrudeRelative = true
	case 104:
		m.hotend.SetTarget(cmd.Get('S', 0))
	case 109:
		m.hotend.SetTarget(cmd.Get('S', 0))
		m.waitAtTemp(m.hotend)
	case 140:
		m.bed.SetTarget(cmd.Get('S', 0))
	case 190:
		m.bed.SetTarget(cmd.Get('S', 0))
		m.waitAtTemp(m.bed)
	case 105:
		fprintTemps(out, m.hotend, m.bed)
	case 106:
		m.fan.SetSpeed(clamp01(cmd.Get('S', 255) / 255))
	case 107:
		m.fan.SetSpeed(0)
	case 114:
		fprintPosition(out, m.planner.Position())
	case 400:
		return m.WaitMoves()
	default:
		return newError(ErrUnknownCommand, "")
	}
	return nil
}

// doMove executes G0/G1: compute the target position from the command's
// parameters and the current coordinate mode, reject it if it falls
// outside any axis's configured travel, and otherwise hand it to the
// planner. The commanded position only advances on success.
func (m *Machine) doMove(cmd *gcode.Command) error {
	current := m.planner.Position()
	target := current

	if cmd.Has('F') {
		m.feedRate = cmd.Get('F', m.feedRate*60) / 60.0
	}

	if m.absoluteMode {
		if cmd.Has('X') {
			target.X = cmd.Get('X', current.X)
		}
		if cmd.Has('Y') {
			target.Y = cmd.Get('Y', current.Y)
		}
		if cmd.Has('Z') {
			target.Z = cmd.Get('Z', current.Z)
		}
	} else {
		target.X = current.X + cmd.Get('X', 0)
		target.Y = current.Y + cmd.Get('Y', 0)
		target.Z = current.Z + cmd.Get('Z', 0)
	}

	if cmd.Has('E') {
		if m.extrudeRelative {
			target.E = current.E + cmd.Get('E', 0)
		} else {
			target.E = cmd.Get('E', current.E)
		}
	}

	if err := m.checkLimits(target); err != nil {
		return err
	}

	if err := m.planner.Move(target, m.feedRate); err != nil {
		return newError(ErrQueueFull, "")
	}
	return nil
}

func (m *Machine) checkLimits(p motion.Position) error {
	lim := m.cfg.Limits
	if p.X < lim.X.Min || p.X > lim.X.Max ||
		p.Y < lim.Y.Min || p.Y > lim.Y.Max ||
		p.Z < lim.Z.Min || p.Z > lim.Z.Max {
		return newError(ErrMoveOutOfLimits, "")
	}
	return nil
}

// doSetPosition executes G92: relabels the commanded position without
// issuing any motion. The caller is expected to only issue this while the
// machine is idle, matching the original's documented usage.
func (m *Machine) doSetPosition(cmd *gcode.Command) {
	pos := m.planner.Position()
	if cmd.Has('X') {
		pos.X = cmd.Get('X', 0)
	}
	if cmd.Has('Y') {
		pos.Y = cmd.Get('Y', 0)
	}
	if cmd.Has('Z') {
		pos.Z = cmd.Get('Z', 0)
	}
	if cmd.Has('E') {
		pos.E = cmd.Get('E', 0)
	}
	m.planner.SetPosition(pos)
	for i := range m.axes {
		m.axes[i].kin.SetPosition(axisCoord(pos, i))
	}
}

// doHome executes G28: axis-letter presence (with or without a value)
// selects axes; no axes means X, Y, and Z.
func (m *Machine) doHome(cmd *gcode.Command) error {
	if err := m.WaitMoves(); err != nil {
		return err
	}

	all := !cmd.Has('X') && !cmd.Has('Y') && !cmd.Has('Z')
	letters := [3]byte{'X', 'Y', 'Z'}
	for i, letter := range letters {
		if !all && !cmd.Has(letter) {
			continue
		}
		if err := m.homeAxis(i); err != nil {
			return err
		}
	}
	return nil
}

// homeAxis drives one axis toward its minimum limit until the endstop
// trips, the seek move finishes, or homingTimeoutS elapses, whichever comes
// first; only a trip counts as success. It then zeroes the commanded
// position at the switch and retracts a short distance off it.
func (m *Machine) homeAxis(idx int) error {
	ax := &m.axes[idx]
	m.homed[idx] = false

	start := m.planner.Position()
	seekTarget := start
	setAxisCoord(&seekTarget, idx, ax.limit.Min-homingOvershootMM)

	triggered := false
	ax.endstop.StartHoming(func() {
		triggered = true
		ax.driver.Stop()
	})
	defer ax.endstop.StopHoming()

	if err := m.planner.Move(seekTarget, homingSpeedMMS); err != nil {
		return newError(ErrQueueFull, "")
	}
	if err := m.planner.Flush(true); err != nil {
		return newError(ErrQueueFull, "")
	}
	steps := motion.GenerateSteps(ax.kin, m.planner.PrintTime())
	ax.driver.Enqueue(steps)

	deadline := core.GetTime() + core.TimerFromUS(uint32(homingTimeoutS*1e6))
	for !triggered && ax.driver.IsActive() {
		m.Pump()
		if int32(core.GetTime()-deadline) >= 0 {
			ax.driver.Stop()
			m.planner.Abort()
			return newError(ErrHomingTimeout, "")
		}
	}
	if !triggered {
		m.planner.Abort()
		return newError(ErrHomingTimeout, "")
	}

	// Discard the unconsumed remainder of the overshoot seek and relabel
	// the switch position as the axis minimum.
	m.planner.Abort()
	zeroed := start
	setAxisCoord(&zeroed, idx, ax.limit.Min)
	m.planner.SetPosition(zeroed)
	ax.kin.SetPosition(ax.limit.Min)
	m.homed[idx] = true

	retractTarget := zeroed
	setAxisCoord(&retractTarget, idx, ax.limit.Min+homingRetractMM)
	if err := m.planner.Move(retractTarget, homingSpeedMMS); err == nil {
		_ = m.WaitMoves()
	}
	return nil
}

func axisCoord(p motion.Position, idx int) float64 {
	switch idx {
	case 0:
		return p.X
	case 1:
		return p.Y
	case 2:
		return p.Z
	default:
		return p.E
	}
}

func setAxisCoord(p *motion.Position, idx int, v float64) {
	switch idx {
	case 0:
		p.X = v
	case 1:
		p.Y = v
	case 2:
		p.Z = v
	default:
		p.E = v
	}
}

func fprintPosition(out io.Writer, p motion.Position) {
	fmt.Fprintf(out, "X:%s Y:%s Z:%s E:%s\r\n", fmtTrunc(p.X), fmtTrunc(p.Y), fmtTrunc(p.Z), fmtTrunc(p.E))
}

// fprintTemps writes the M105 temperature report: current/target for the
// hotend (tool 0) followed by the bed, matching the conventional serial
// front end's line shape.
func fprintTemps(out io.Writer, hotend, bed *heater.Heater) {
	fmt.Fprintf(out, "T:%s /%s B:%s /%s\r\n",
		fmtTrunc(hotend.CurrentTemp()), fmtTrunc(hotend.Target()),
		fmtTrunc(bed.CurrentTemp()), fmtTrunc(bed.Target()))
}
