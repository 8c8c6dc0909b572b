// Package motion implements the trapezoidal motion queue, the iterative
// step-time solver, Cartesian kinematics, the lookahead planner, the
// stepper pulse generator, and endstop/homing.
package motion

const maxMoves = 32

// Position is a point in machine coordinates, millimeters.
type Position struct {
	X, Y, Z, E float64
}

// Add returns the component-wise sum of p and o.
func (p Position) Add(o Position) Position {
	return Position{p.X + o.X, p.Y + o.Y, p.Z + o.Z, p.E + o.E}
}

// Scale returns p with every coordinate scaled by s.
func (p Position) Scale(s float64) Position {
	return Position{p.X * s, p.Y * s, p.Z * s, p.E * s}
}

// moveHandle addresses a move pool slot; a mismatched generation means the
// move it once pointed to has since been freed and reused.
type moveHandle struct {
	index      int
	generation uint32
}

var invalidHandle = moveHandle{index: -1}

func (h moveHandle) valid() bool { return h.index >= 0 }

// Move is one immutable trapezoidal-profile segment. Fields mirror the
// floating-point closure computed by the planner: a start time, three
// non-negative phase durations summing to the move duration, start and
// cruise velocity, half the acceleration (Distance adds it during the accel
// phase and subtracts it during decel), a start position, and a unit
// direction vector.
type Move struct {
	PrintTime float64 // start time, seconds
	AccelT    float64
	CruiseT   float64
	DecelT    float64
	StartV    float64
	CruiseV   float64
	HalfAccel float64
	StartPos  Position
	AxesR     Position // unit direction vector (or zero for a degenerate move)

	generation uint32
	used       bool
}

// Duration returns accel_t + cruise_t + decel_t.
func (m *Move) Duration() float64 {
	return m.AccelT + m.CruiseT + m.DecelT
}

// EndTime returns PrintTime + Duration().
func (m *Move) EndTime() float64 {
	return m.PrintTime + m.Duration()
}

// Distance returns the distance traveled at moveTime (seconds) since the
// move's own start, piecewise-integrating the trapezoidal velocity law.
// moveTime is clamped to [0, Duration()].
func (m *Move) Distance(moveTime float64) float64 {
	if moveTime <= 0 {
		return 0
	}
	d := m.Duration()
	if moveTime >= d {
		moveTime = d
	}

	dist := 0.0
	t := moveTime

	if t > 0 && m.AccelT > 0 {
		at := t
		if at > m.AccelT {
			at = m.AccelT
		}
		dist += m.StartV*at + m.HalfAccel*at*at
		t -= at
	}
	if t > 0 && m.CruiseT > 0 {
		ct := t
		if ct > m.CruiseT {
			ct = m.CruiseT
		}
		dist += m.CruiseV * ct
		t -= ct
	}
	if t > 0 && m.DecelT > 0 {
		dt := t
		if dt > m.DecelT {
			dt = m.DecelT
		}
		dist += m.CruiseV*dt - m.HalfAccel*dt*dt
	}
	return dist
}

// Coord returns the absolute position at moveTime seconds into the move.
func (m *Move) Coord(moveTime float64) Position {
	dist := m.Distance(moveTime)
	return m.StartPos.Add(m.AxesR.Scale(dist))
}

// TrapQ is an ordered sequence of move segments split into an active list
// (pending execution) and a history list (retained briefly so the iterative
// solver and position queries can still see recently completed moves).
// Moves are allocated from a fixed-capacity pool addressed by handle rather
// than by pointer, so a stale reference is detectable instead of dangling.
type TrapQ struct {
	pool        [maxMoves]Move
	generations [maxMoves]uint32
	active      []moveHandle // ordered by PrintTime, oldest first
	history     []moveHandle
}

// NewTrapQ returns an empty queue.
func NewTrapQ() *TrapQ {
	return &TrapQ{}
}

func (q *TrapQ) alloc() (moveHandle, *Move) {
	for i := range q.pool {
		if !q.pool[i].used {
			q.pool[i].used = true
			q.generations[i]++
			q.pool[i].generation = q.generations[i]
			return moveHandle{index: i, generation: q.generations[i]}, &q.pool[i]
		}
	}
	return invalidHandle, nil
}

func (q *TrapQ) get(h moveHandle) *Move {
	if !h.valid() || q.pool[h.index].generation != h.generation || !q.pool[h.index].used {
		return nil
	}
	return &q.pool[h.index]
}

func (q *TrapQ) free(h moveHandle) {
	if h.valid() && q.pool[h.index].used && q.pool[h.index].generation == h.generation {
		q.pool[h.index] = Move{}
	}
}

// ErrQueueFull is returned by Append when the move pool has no free slot.
type ErrQueueFull struct{}

func (ErrQueueFull) Error() string { return "trapq: move pool exhausted" }

// Append pushes a fully-specified segment at the tail of the active list.
// The caller must ensure tstart is not before the end of the current tail
// (the queue is time-monotone); Append does not itself verify this since
// the planner is the sole producer and already enforces it.
func (q *TrapQ) Append(tstart, accelT, cruiseT, decelT float64, startPos, axesR Position, startV, cruiseV, accel float64) error {
	h, m := q.alloc()
	if m == nil {
		return ErrQueueFull{}
	}
	m.PrintTime = tstart
	m.AccelT = accelT
	m.CruiseT = cruiseT
	m.DecelT = decelT
	m.StartV = startV
	m.CruiseV = cruiseV
	m.HalfAccel = accel * 0.5
	m.StartPos = startPos
	m.AxesR = axesR
	q.active = append(q.active, h)
	return nil
}

// FinalizeUpto migrates every active move whose end time is <= t into history.
func (q *TrapQ) FinalizeUpto(t float64) {
	kept := q.active[:0]
	for _, h := range q.active {
		m := q.get(h)
		if m == nil {
			continue
		}
		if m.EndTime() <= t {
			q.history = append(q.history, h)
		} else {
			kept = append(kept, h)
		}
	}
	q.active = kept
}

// FreeBefore destroys history entries whose end time is strictly before t.
func (q *TrapQ) FreeBefore(t float64) {
	kept := q.history[:0]
	for _, h := range q.history {
		m := q.get(h)
		if m == nil {
			continue
		}
		if m.EndTime() < t {
			q.free(h)
		} else {
			kept = append(kept, h)
		}
	}
	q.history = kept
}

// PositionAt finds the segment containing print-time t (active first, then
// history) and evaluates its position there. The second return is false if
// no segment covers t.
func (q *TrapQ) PositionAt(t float64) (Position, bool) {
	for _, h := range q.active {
		if m := q.get(h); m != nil && t >= m.PrintTime && t <= m.EndTime() {
			return m.Coord(t - m.PrintTime), true
		}
	}
	for _, h := range q.history {
		if m := q.get(h); m != nil && t >= m.PrintTime && t <= m.EndTime() {
			return m.Coord(t - m.PrintTime), true
		}
	}
	return Position{}, false
}

// Reset discards every active and history move and returns the pool to
// empty, without touching generation counters (so any handle still held
// elsewhere is detected as stale rather than silently aliasing a new
// move). Used by homing to abandon the remainder of an overshoot seek once
// the endstop has tripped.
func (q *TrapQ) Reset() {
	for _, h := range q.active {
		q.free(h)
	}
	for _, h := range q.history {
		q.free(h)
	}
	q.active = q.active[:0]
	q.history = q.history[:0]
}

// HasMoves reports whether the active list is non-empty.
func (q *TrapQ) HasMoves() bool {
	return len(q.active) > 0
}

// LastMove returns the most recently appended active move, or nil if empty.
func (q *TrapQ) LastMove() *Move {
	if len(q.active) == 0 {
		return nil
	}
	return q.get(q.active[len(q.active)-1])
}

// ActiveMoves returns the active moves in queue order, oldest first. The
// returned slice aliases internal pool storage and must not be retained
// across further Append/FinalizeUpto calls.
func (q *TrapQ) ActiveMoves() []*Move {
	out := make([]*Move, 0, len(q.active))
	for _, h := range q.active {
		if m := q.get(h); m != nil {
			out = append(out, m)
		}
	}
	return out
}
