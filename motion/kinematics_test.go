package motion

import (
	"math"
	"testing"
)

func TestUnitDirectionNormalizes(t *testing.T) {
	dir, dist := UnitDirection(Position{}, Position{X: 3, Y: 4})
	if math.Abs(dist-5) > 1e-9 {
		t.Errorf("distance = %v, want 5", dist)
	}
	norm := math.Sqrt(dir.X*dir.X + dir.Y*dir.Y)
	if math.Abs(norm-1) > 1e-9 {
		t.Errorf("direction vector not unit length: %v", norm)
	}
}

func TestUnitDirectionDegenerate(t *testing.T) {
	dir, dist := UnitDirection(Position{X: 1}, Position{X: 1})
	if dist != 0 {
		t.Errorf("dist = %v, want 0", dist)
	}
	if dir != (Position{}) {
		t.Errorf("degenerate direction should be the zero vector, got %+v", dir)
	}
}

func TestStepperKinematicsSetPosition(t *testing.T) {
	q := NewTrapQ()
	sk := NewStepperKinematics(AxisX, 80, q)
	sk.SetPosition(12.5)

	if got := sk.CommandedPositionMM(); math.Abs(got-12.5) > 1e-9 {
		t.Errorf("CommandedPositionMM() = %v, want 12.5", got)
	}
}

func TestCalcPositionPerAxis(t *testing.T) {
	m := &Move{
		AccelT: 0, CruiseT: 1, DecelT: 0,
		CruiseV:  1,
		StartPos: Position{X: 1, Y: 2, Z: 3, E: 4},
		AxesR:    Position{X: 1},
	}

	x := calcPosition(AxisX, 10, m, 1)
	if math.Abs(x-20) > 1e-9 {
		t.Errorf("X position = %v, want 20 (start 1 + dist 1 at scale 10)", x)
	}

	y := calcPosition(AxisY, 10, m, 1)
	if math.Abs(y-20) > 1e-9 {
		t.Errorf("Y position = %v, want 20 (no Y component of travel)", y)
	}
}
