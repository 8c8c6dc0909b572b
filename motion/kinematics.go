package motion

import "math"

// Axis selects which coordinate of a Position a kinematics callback reads.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisE
)

// calcPosition returns the axis's coordinate of m at moveTime, scaled to
// step units. This is the one Cartesian position callback: each axis
// differs only in which coordinate of the move it reads, matching the
// four distinct (but structurally identical) callbacks of the original.
func calcPosition(axis Axis, scale float64, m *Move, moveTime float64) float64 {
	pos := m.Coord(moveTime)
	var v float64
	switch axis {
	case AxisX:
		v = pos.X
	case AxisY:
		v = pos.Y
	case AxisZ:
		v = pos.Z
	case AxisE:
		v = pos.E
	}
	return v * scale
}

// Distance returns the Euclidean distance between two positions, treating
// the extruder coordinate as a fourth participating dimension.
func Distance(a, b Position) float64 {
	dx, dy, dz, de := b.X-a.X, b.Y-a.Y, b.Z-a.Z, b.E-a.E
	return math.Sqrt(dx*dx + dy*dy + dz*dz + de*de)
}

// UnitDirection returns the normalized direction vector from a to b and the
// distance traveled. If a == b the direction is the zero vector.
func UnitDirection(a, b Position) (dir Position, dist float64) {
	dist = Distance(a, b)
	if dist == 0 {
		return Position{}, 0
	}
	inv := 1 / dist
	return Position{
		X: (b.X - a.X) * inv,
		Y: (b.Y - a.Y) * inv,
		Z: (b.Z - a.Z) * inv,
		E: (b.E - a.E) * inv,
	}, dist
}

// StepperKinematics tracks one axis's observation of a TrapQ: which axis it
// reads, its step scale (steps per mm), the commanded step position, and
// the time up to which steps have already been generated.
type StepperKinematics struct {
	Axis          Axis
	StepsPerMM    float64
	TQ            *TrapQ
	commandedPos  float64 // step units
	stepPos       float64 // step units, tracks in-progress generation
	lastFlushTime float64
}

// NewStepperKinematics returns kinematics observing tq on the given axis.
func NewStepperKinematics(axis Axis, stepsPerMM float64, tq *TrapQ) *StepperKinematics {
	return &StepperKinematics{Axis: axis, StepsPerMM: stepsPerMM, TQ: tq}
}

// SetPosition forces the commanded and in-progress step position, used by
// G92 and by homing's zero step.
func (sk *StepperKinematics) SetPosition(posMM float64) {
	sk.commandedPos = posMM * sk.StepsPerMM
	sk.stepPos = sk.commandedPos
}

// CommandedPositionMM returns the last commanded position in millimeters.
func (sk *StepperKinematics) CommandedPositionMM() float64 {
	return sk.commandedPos / sk.StepsPerMM
}

// findMoveAt returns the active move covering printTime, or nil.
func (sk *StepperKinematics) findMoveAt(printTime float64) *Move {
	for _, m := range sk.TQ.ActiveMoves() {
		if printTime >= m.PrintTime && printTime <= m.EndTime() {
			return m
		}
	}
	return nil
}

// CalcPosition returns the stepper's position, in step units, at printTime.
func (sk *StepperKinematics) CalcPosition(printTime float64) float64 {
	m := sk.findMoveAt(printTime)
	if m == nil {
		return sk.commandedPos
	}
	return calcPosition(sk.Axis, sk.StepsPerMM, m, printTime-m.PrintTime)
}

// IsActive reports whether this kinematics' TrapQ still has pending moves.
func (sk *StepperKinematics) IsActive() bool {
	return sk.TQ != nil && sk.TQ.HasMoves()
}
