package motion

import "math"

const (
	solverMaxIterations = 50
	solverTolerance     = 1e-9
	solverDeriv         = 1e-6
	solverMinDeriv      = 1e-12
)

// findStepTime solves for the time in [lowTime, highTime] (relative to m's
// own start) at which the axis position callback equals targetPos. It uses
// Newton-Raphson with a finite-difference derivative, falling back to
// bisection whenever a step would leave the bracket or the derivative is
// too small to trust.
func findStepTime(axis Axis, scale float64, m *Move, targetPos, lowTime, highTime float64) float64 {
	t := (lowTime + highTime) * 0.5

	for i := 0; i < solverMaxIterations; i++ {
		pos := calcPosition(axis, scale, m, t)
		err := pos - targetPos
		if math.Abs(err) < solverTolerance {
			return t
		}

		posDT := calcPosition(axis, scale, m, t+solverDeriv)
		derivative := (posDT - pos) / solverDeriv

		if math.Abs(derivative) < solverMinDeriv {
			if err > 0 {
				highTime = t
			} else {
				lowTime = t
			}
			t = (lowTime + highTime) * 0.5
			continue
		}

		newT := t - err/derivative
		switch {
		case newT < lowTime:
			newT = (lowTime + t) * 0.5
		case newT > highTime:
			newT = (t + highTime) * 0.5
		}
		t = newT
	}
	return t
}

// Step is a single emitted step event: an absolute print-time and the
// direction of travel (+1 or -1).
type Step struct {
	Time float64
	Dir  int8
}

// GenerateSteps walks every active move between sk's last flush time and
// flushTime, emitting one Step per integer step-position boundary crossed.
// It advances sk's internal bookkeeping so a later call resumes where this
// one left off.
func GenerateSteps(sk *StepperKinematics, flushTime float64) []Step {
	if sk.TQ == nil {
		return nil
	}

	var steps []Step
	currentTime := sk.lastFlushTime

	for _, m := range sk.TQ.ActiveMoves() {
		moveStart := m.PrintTime
		moveEnd := m.EndTime()

		if moveEnd <= currentTime {
			continue
		}
		if moveStart >= flushTime {
			break
		}

		startTime := 0.0
		if currentTime > moveStart {
			startTime = currentTime - moveStart
		}
		endTime := m.Duration()
		if flushTime < moveEnd {
			endTime = flushTime - moveStart
		}

		startPos := calcPosition(sk.Axis, sk.StepsPerMM, m, startTime)
		endPos := calcPosition(sk.Axis, sk.StepsPerMM, m, endTime)

		var dir int8 = 1
		if endPos < startPos {
			dir = -1
		}

		stepPos := sk.stepPos
		var targetStep float64
		if dir > 0 {
			targetStep = math.Floor(stepPos) + 1
		} else {
			targetStep = math.Ceil(stepPos) - 1
		}

		for {
			if dir > 0 && targetStep > endPos {
				break
			}
			if dir < 0 && targetStep < endPos {
				break
			}

			stepTime := findStepTime(sk.Axis, sk.StepsPerMM, m, targetStep, startTime, endTime)
			steps = append(steps, Step{Time: m.PrintTime + stepTime, Dir: dir})

			sk.stepPos = targetStep
			targetStep += float64(dir)
			startTime = stepTime
		}

		currentTime = moveEnd
	}

	sk.lastFlushTime = flushTime
	sk.commandedPos = sk.stepPos
	return steps
}
