package heater

import "cartfw/core"

const (
	fanPWMCycleTicks = 40  // ~25kHz, suitable for most fan hardware
	fanSpeedMin       = 0.0
	fanSpeedMax       = 1.0
)

// Fan is a speed-only PWM output with no feedback loop, driven by M106/M107.
type Fan struct {
	pwm    core.PWMDriver
	pin    core.PWMPin
	speed  float64
	active bool
}

// NewFan configures pin for PWM output at the fan's fixed cycle time.
func NewFan(pwm core.PWMDriver, pin core.PWMPin) *Fan {
	_, _ = pwm.ConfigureHardwarePWM(pin, fanPWMCycleTicks)
	return &Fan{pwm: pwm, pin: pin}
}

// SetSpeed clamps speed to [0, 1] and drives the PWM channel. A speed of 0
// disables PWM output entirely rather than holding a 0% duty cycle.
func (f *Fan) SetSpeed(speed float64) {
	if speed < fanSpeedMin {
		speed = fanSpeedMin
	} else if speed > fanSpeedMax {
		speed = fanSpeedMax
	}
	f.speed = speed

	if speed <= 0 {
		_ = f.pwm.DisablePWM(f.pin)
		f.active = false
		return
	}

	maxVal := f.pwm.GetMaxValue()
	_ = f.pwm.SetDutyCycle(f.pin, core.PWMValue(speed*float64(maxVal)))
	f.active = true
}

// Speed returns the last commanded speed.
func (f *Fan) Speed() float64 { return f.speed }
