package motion

import "math"

const lookaheadSize = 16

// lookaheadMove is the mutable staging form of a move while it waits in the
// planner's ring buffer for the two-pass velocity smoothing. It leaves this
// form permanently once flushed into a TrapQ.
type lookaheadMove struct {
	startPos, endPos Position
	distance         float64
	maxCruiseV       float64
	maxStartV        float64
	maxEndV          float64
	startV           float64
	cruiseV          float64
	endV             float64
}

// PlannerConfig carries the per-machine constants the planner needs:
// acceleration and the square-corner velocity used to derive the junction
// deviation.
type PlannerConfig struct {
	MaxVelocity          float64
	MaxAccel             float64
	SquareCornerVelocity float64
}

// plannerQueueFullError is returned by Planner.Move when the lookahead ring is full
// and a drain did not free a slot.
type plannerQueueFullError struct{}

func (plannerQueueFullError) Error() string { return "planner: lookahead queue full" }

// Planner smooths velocity across a chain of requested moves (the
// lookahead pass) and emits resolved trapezoidal segments into a TrapQ.
type Planner struct {
	cfg   PlannerConfig
	tq    *TrapQ
	ring  []lookaheadMove // ring buffer, front = ring[0]
	print float64         // print-time cursor
	pos   Position        // current commanded position
}

// NewPlanner returns a planner writing into tq, starting at printTime=0 and
// startPos.
func NewPlanner(cfg PlannerConfig, tq *TrapQ, startPos Position) *Planner {
	return &Planner{cfg: cfg, tq: tq, pos: startPos}
}

// Position returns the planner's current commanded position (the end
// position of the last move accepted, whether or not it has flushed).
func (p *Planner) Position() Position {
	return p.pos
}

// PrintTime returns the planner's print-time cursor.
func (p *Planner) PrintTime() float64 {
	return p.print
}

// SetPosition forces the commanded position without enqueuing a move. Used
// by G92 and by homing's zero step. The caller must ensure the lookahead
// ring and TrapQ are empty first (no in-flight moves reference the old
// position).
func (p *Planner) SetPosition(pos Position) {
	p.pos = pos
}

// Move requests a straight-line move from the current commanded position
// to target at the given requested speed (mm/s). It stages the move into
// the lookahead ring; the move's own resolved velocities are not known
// until Flush runs the two-pass algorithm. Returns an error if the ring is
// full even after draining.
func (p *Planner) Move(target Position, requestedSpeed float64) error {
	dir, dist := UnitDirection(p.pos, target)
	if dist == 0 {
		p.pos = target
		return nil
	}

	maxCruise := requestedSpeed
	if maxCruise > p.cfg.MaxVelocity {
		maxCruise = p.cfg.MaxVelocity
	}

	if len(p.ring) >= lookaheadSize {
		if err := p.Flush(true); err != nil {
			return err
		}
		if len(p.ring) >= lookaheadSize {
			return plannerQueueFullError{}
		}
	}

	_ = dir
	p.ring = append(p.ring, lookaheadMove{
		startPos:   p.pos,
		endPos:     target,
		distance:   dist,
		maxCruiseV: maxCruise,
	})
	p.pos = target
	return nil
}

// junctionVelocity computes the maximum speed at which the direction
// change from prevDir to curDir may be taken, capped at maxV.
func junctionVelocity(prevDir, curDir Position, maxV, accel, squareCornerV float64) float64 {
	dot := prevDir.X*curDir.X + prevDir.Y*curDir.Y + prevDir.Z*curDir.Z

	if dot < -0.999 {
		return 0
	}
	if dot > 0.999 {
		return maxV
	}

	sinHalfTheta := math.Sqrt((1 - dot) * 0.5)
	deviation := squareCornerV * squareCornerV / accel
	v := math.Sqrt(accel * deviation / sinHalfTheta)
	if v > maxV {
		v = maxV
	}
	return v
}

// resolve runs the two-pass lookahead algorithm over the whole ring,
// filling in each move's start/cruise/end velocity.
func (p *Planner) resolve() {
	n := len(p.ring)
	if n == 0 {
		return
	}

	// Reverse pass: propagate max_end_v / max_start_v backward, applying
	// the junction cap between neighbors.
	p.ring[n-1].maxEndV = 0
	for i := n - 1; i > 0; i-- {
		cur := &p.ring[i]
		prev := &p.ring[i-1]

		maxStartV := math.Sqrt(cur.maxEndV*cur.maxEndV + 2*p.cfg.MaxAccel*cur.distance)
		if maxStartV > cur.maxCruiseV {
			maxStartV = cur.maxCruiseV
		}
		cur.maxStartV = maxStartV

		prevDir, _ := UnitDirection(prev.startPos, prev.endPos)
		curDir, _ := UnitDirection(cur.startPos, cur.endPos)
		jv := junctionVelocity(prevDir, curDir, maxStartV, p.cfg.MaxAccel, p.cfg.SquareCornerVelocity)
		if jv < cur.maxStartV {
			cur.maxStartV = jv
		}
		prev.maxEndV = cur.maxStartV
	}

	// Forward pass: compute achievable start/cruise/end velocities.
	prevEndV := 0.0
	for i := 0; i < n; i++ {
		m := &p.ring[i]
		m.startV = prevEndV

		cruiseV := math.Sqrt(m.startV*m.startV + 2*p.cfg.MaxAccel*m.distance)
		if cruiseV > m.maxCruiseV {
			cruiseV = m.maxCruiseV
		}
		m.cruiseV = cruiseV

		endVSq := m.cruiseV*m.cruiseV - 2*p.cfg.MaxAccel*m.distance
		endV := 0.0
		if endVSq > 0 {
			endV = math.Sqrt(endVSq)
		}
		if endV > m.maxEndV {
			endV = m.maxEndV
		}
		m.endV = endV
		prevEndV = m.endV
	}
}

// trapezoidProfile derives accel_t/cruise_t/decel_t for a move of the given
// distance and resolved velocities.
func trapezoidProfile(distance, startV, cruiseV, endV, accel float64) (accelT, cruiseT, decelT float64) {
	var accelDist, decelDist float64

	if cruiseV > startV {
		accelT = (cruiseV - startV) / accel
		accelDist = (startV + cruiseV) * 0.5 * accelT
	}
	if cruiseV > endV {
		decelT = (cruiseV - endV) / accel
		decelDist = (cruiseV + endV) * 0.5 * decelT
	}

	cruiseDist := distance - accelDist - decelDist
	if cruiseDist >= 0 {
		if cruiseV > 0 {
			cruiseT = cruiseDist / cruiseV
		}
		return accelT, cruiseT, decelT
	}

	peakVSq := 0.5*(startV*startV+endV*endV) + accel*distance
	peakV := math.Sqrt(math.Max(0, peakVSq))
	if peakV < startV {
		peakV = startV
	}
	if peakV < endV {
		peakV = endV
	}

	accelT = 0
	if peakV > startV {
		accelT = (peakV - startV) / accel
	}
	decelT = 0
	if peakV > endV {
		decelT = (peakV - endV) / accel
	}
	return accelT, 0, decelT
}

// Flush pops every staged move from the ring, resolving velocities (if
// resolveFirst) and appending the resulting trapezoidal segments to the
// TrapQ, advancing the print-time cursor by each move's duration. The
// planner is responsible for never letting TrapQ append fail by draining
// before it grows unbounded; a failed append here is propagated to the
// caller of Move on the next attempt rather than silently dropped.
func (p *Planner) Flush(resolveFirst bool) error {
	if resolveFirst {
		p.resolve()
	}
	for _, m := range p.ring {
		accelT, cruiseT, decelT := trapezoidProfile(m.distance, m.startV, m.cruiseV, m.endV, p.cfg.MaxAccel)
		dir, _ := UnitDirection(m.startPos, m.endPos)

		if err := p.tq.Append(p.print, accelT, cruiseT, decelT, m.startPos, dir, m.startV, m.cruiseV, p.cfg.MaxAccel); err != nil {
			return err
		}
		p.print += accelT + cruiseT + decelT
	}
	p.ring = p.ring[:0]
	return nil
}

// Idle reports whether the lookahead ring is empty and the TrapQ has no
// active moves.
func (p *Planner) Idle() bool {
	return len(p.ring) == 0 && !p.tq.HasMoves()
}

// Abort discards every staged and already-appended move without moving the
// commanded position cursor. Used by homing to throw away the unconsumed
// remainder of an overshoot seek once the endstop trips.
func (p *Planner) Abort() {
	p.ring = p.ring[:0]
	p.tq.Reset()
}
