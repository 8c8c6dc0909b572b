// Package config loads and defaults the machine's compile-time constants
// (pin assignments, steps/mm, axis limits, PID gains) from a JSON document,
// following the teacher's encoding/json configuration idiom.
package config

import (
	"encoding/json"

	"cartfw/core"
	"cartfw/heater"
	"cartfw/motion"
)

// AxisLimits bounds one linear axis's travel in millimeters.
type AxisLimits struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// StepperPins wires one stepper axis to GPIO.
type StepperPins struct {
	Step         core.GPIOPin `json:"step"`
	Dir          core.GPIOPin `json:"dir"`
	Enable       core.GPIOPin `json:"enable"`
	HasEnable    bool         `json:"has_enable"`
	InvertDir    bool         `json:"invert_dir"`
	InvertEnable bool         `json:"invert_enable"`
}

// EndstopPins wires one endstop to GPIO.
type EndstopPins struct {
	Pin    core.GPIOPin `json:"pin"`
	Invert bool         `json:"invert"`
}

// HeaterPins wires one heater's sensor and PWM output.
type HeaterPins struct {
	ADCPin core.GPIOPin `json:"adc_pin"`
	PWMPin core.PWMPin  `json:"pwm_pin"`
}

// Config is the complete set of compile-time constants for a Cartesian
// printer: pin assignments, steps/mm, axis limits, and PID gains.
type Config struct {
	StepsPerMM struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
		E float64 `json:"e"`
	} `json:"steps_per_mm"`

	Limits struct {
		X AxisLimits `json:"x"`
		Y AxisLimits `json:"y"`
		Z AxisLimits `json:"z"`
	} `json:"limits"`

	MaxVelocity          float64 `json:"max_velocity"`
	MaxAccel             float64 `json:"max_accel"`
	SquareCornerVelocity float64 `json:"square_corner_velocity"`

	Steppers struct {
		X StepperPins `json:"x"`
		Y StepperPins `json:"y"`
		Z StepperPins `json:"z"`
		E StepperPins `json:"e"`
	} `json:"steppers"`

	Endstops struct {
		X EndstopPins `json:"x"`
		Y EndstopPins `json:"y"`
		Z EndstopPins `json:"z"`
	} `json:"endstops"`

	Hotend    HeaterPins `json:"hotend"`
	Bed       HeaterPins `json:"bed"`
	PartFanPin core.PWMPin `json:"part_fan_pin"`

	HotendPID heater.PID `json:"hotend_pid"`
	BedPID    heater.PID `json:"bed_pid"`

	SerialPort string `json:"serial_port"`
	SerialBaud int    `json:"serial_baud"`
}

// PlannerConfig derives the motion package's planner configuration from cfg.
func (c *Config) PlannerConfig() motion.PlannerConfig {
	return motion.PlannerConfig{
		MaxVelocity:          c.MaxVelocity,
		MaxAccel:             c.MaxAccel,
		SquareCornerVelocity: c.SquareCornerVelocity,
	}
}

// LoadConfig parses a JSON document into a Config, filling any missing
// field with DefaultCartesianConfig's value.
func LoadConfig(data []byte) (*Config, error) {
	cfg := DefaultCartesianConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultCartesianConfig returns the reference pin map and motion/PID
// constants for a Cartesian printer: steps/mm 80/80/400/93, axis limits
// X 0..220, Y 0..220, Z 0..250, max_velocity 200mm/s, max_accel 3000mm/s²,
// PID gains hotend (22.2, 1.08, 114.0) and bed (54, 0.5, 200), serial at
// 115200 baud.
func DefaultCartesianConfig() *Config {
	cfg := &Config{}
	cfg.StepsPerMM.X = 80
	cfg.StepsPerMM.Y = 80
	cfg.StepsPerMM.Z = 400
	cfg.StepsPerMM.E = 93

	cfg.Limits.X = AxisLimits{Min: 0, Max: 220}
	cfg.Limits.Y = AxisLimits{Min: 0, Max: 220}
	cfg.Limits.Z = AxisLimits{Min: 0, Max: 250}

	cfg.MaxVelocity = 200
	cfg.MaxAccel = 3000
	cfg.SquareCornerVelocity = 5

	cfg.Steppers.X = StepperPins{Step: 0, Dir: 1, Enable: 8, HasEnable: true}
	cfg.Steppers.Y = StepperPins{Step: 2, Dir: 3, Enable: 8, HasEnable: true}
	cfg.Steppers.Z = StepperPins{Step: 4, Dir: 5, Enable: 8, HasEnable: true}
	cfg.Steppers.E = StepperPins{Step: 6, Dir: 7, Enable: 8, HasEnable: true}

	cfg.Endstops.X = EndstopPins{Pin: 20, Invert: false}
	cfg.Endstops.Y = EndstopPins{Pin: 21, Invert: false}
	cfg.Endstops.Z = EndstopPins{Pin: 22, Invert: false}

	cfg.Hotend = HeaterPins{ADCPin: 26, PWMPin: 10}
	cfg.Bed = HeaterPins{ADCPin: 27, PWMPin: 11}
	cfg.PartFanPin = 12

	cfg.HotendPID = heater.PID{Kp: 22.2, Ki: 1.08, Kd: 114.0}
	cfg.BedPID = heater.PID{Kp: 54, Ki: 0.5, Kd: 200}

	cfg.SerialPort = "/dev/ttyACM0"
	cfg.SerialBaud = 115200

	return cfg
}
