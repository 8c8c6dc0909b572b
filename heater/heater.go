// Package heater implements NTC thermistor readout, PID temperature
// control with integral anti-windup, and PWM dispatch with a safety
// interlock on sensor faults.
package heater

import "cartfw/core"

const (
	pidDT                = 0.1 // seconds, matches the 100ms tick
	pidIntegralMax       = 100.0
	pidTargetChangeReset = 10.0 // °C change that resets integral/prev_error
	atTargetToleranceC   = 3.0
	adcMax               = 4095
	pwmCycleTicks        = 1000 // 1kHz heater PWM frequency
)

// ntcEntry is one row of the 100K/Beta=3950 NTC lookup table: an ADC
// reading and the temperature at that reading, in tenths of a degree C.
type ntcEntry struct {
	adc  int32
	temp int32 // °C * 10
}

// ntcTable is ascending in ADC value and descending in temperature, taken
// directly from the thermistor's characterization curve.
var ntcTable = []ntcEntry{
	{23, 3000}, {31, 2900}, {41, 2800}, {54, 2700}, {71, 2600},
	{93, 2500}, {120, 2400}, {154, 2300}, {196, 2200}, {248, 2100},
	{311, 2000}, {386, 1900}, {475, 1800}, {578, 1700}, {696, 1600},
	{829, 1500}, {976, 1400}, {1136, 1300}, {1307, 1200}, {1486, 1100},
	{1670, 1000}, {1855, 900}, {2037, 800}, {2213, 700}, {2379, 600},
	{2534, 500}, {2676, 400}, {2804, 300}, {2918, 200}, {3018, 100},
	{3105, 0}, {3180, -100}, {3244, -200},
}

// TempInvalid marks an ADC reading that fell outside the legal domain.
const TempInvalid = -1000.0

// adcToTemp converts a 12-bit ADC reading to degrees C via linear
// interpolation between table entries. Out-of-table values clamp to the
// nearest endpoint's temperature; a negative or out-of-range ADC reading
// is invalid.
func adcToTemp(adc int32) float64 {
	if adc < 0 || adc > adcMax {
		return TempInvalid
	}
	if adc < ntcTable[0].adc {
		return float64(ntcTable[0].temp) / 10
	}
	last := len(ntcTable) - 1
	if adc > ntcTable[last].adc {
		return float64(ntcTable[last].temp) / 10
	}

	for i := 0; i < last; i++ {
		lo, hi := ntcTable[i], ntcTable[i+1]
		if adc >= lo.adc && adc <= hi.adc {
			ratio := float64(adc-lo.adc) / float64(hi.adc-lo.adc)
			temp := float64(lo.temp) + ratio*float64(hi.temp-lo.temp)
			return temp / 10
		}
	}
	return TempInvalid
}

// PID holds one heater's gains.
type PID struct {
	Kp, Ki, Kd float64
}

// Heater tracks one closed-loop temperature channel: its ADC input, PWM
// output, PID gains, and running controller state.
type Heater struct {
	name string
	adc  core.ADCDriver
	pwm  core.PWMDriver

	adcPin core.GPIOPin
	pwmPin core.PWMPin

	gains    PID
	maxPower float64

	currentTemp float64
	targetTemp  float64
	prevError   float64
	integral    float64
	output      float64
	pwmEnabled  bool
}

// New returns a heater reading adcPin and driving pwmPin, with the given
// PID gains and power ceiling (0..1).
func New(name string, adc core.ADCDriver, adcPin core.GPIOPin, pwm core.PWMDriver, pwmPin core.PWMPin, gains PID, maxPower float64) *Heater {
	_ = adc.ConfigureInput(adcPin, 0)
	_, _ = pwm.ConfigureHardwarePWM(pwmPin, pwmCycleTicks)
	return &Heater{name: name, adc: adc, pwm: pwm, adcPin: adcPin, pwmPin: pwmPin, gains: gains, maxPower: maxPower}
}

// SetTarget sets the target temperature, clamped to [0, 300]. A change of
// more than 10°C resets the integral accumulator and previous error. A
// target of 0 zeroes output and disables PWM immediately.
func (h *Heater) SetTarget(target float64) {
	if target < 0 {
		target = 0
	}
	if target > 300 {
		target = 300
	}

	diff := target - h.targetTemp
	if diff < 0 {
		diff = -diff
	}
	h.targetTemp = target

	if diff > pidTargetChangeReset {
		h.integral = 0
		h.prevError = 0
	}

	if target <= 0 {
		h.integral = 0
		h.prevError = 0
		h.output = 0
		_ = h.pwm.DisablePWM(h.pwmPin)
		h.pwmEnabled = false
	}
}

// Target returns the current target temperature.
func (h *Heater) Target() float64 { return h.targetTemp }

// CurrentTemp returns the last sampled temperature.
func (h *Heater) CurrentTemp() float64 { return h.currentTemp }

// IsAtTarget reports whether the heater is within tolerance of its target,
// or the target is at/below zero.
func (h *Heater) IsAtTarget() bool {
	if h.targetTemp <= 0 {
		return true
	}
	diff := h.currentTemp - h.targetTemp
	if diff < 0 {
		diff = -diff
	}
	return diff <= atTargetToleranceC
}

// pidUpdate computes one PID tick's output (0..1) with integral clamping
// and integral-unwind anti-windup, then clamps to [0, maxPower].
func (h *Heater) pidUpdate() float64 {
	err := h.targetTemp - h.currentTemp

	h.integral += err * pidDT
	if h.integral > pidIntegralMax {
		h.integral = pidIntegralMax
	} else if h.integral < -pidIntegralMax {
		h.integral = -pidIntegralMax
	}

	derivative := (err - h.prevError) / pidDT
	h.prevError = err

	output := h.gains.Kp*err + h.gains.Ki*h.integral + h.gains.Kd*derivative

	if output < 0 {
		output = 0
		if err < 0 && h.integral < 0 {
			h.integral -= err * pidDT
		}
	} else if output > h.maxPower {
		output = h.maxPower
		if err > 0 && h.integral > 0 {
			h.integral -= err * pidDT
		}
	}

	h.output = output
	return output
}

// Tick runs one 100ms control period: sample the ADC, convert to
// temperature, and either run the PID (setting PWM) or force PWM to 0 on a
// sensor fault or zero target. Returns false if the reading was invalid
// (the safety interlock fired).
func (h *Heater) Tick() bool {
	adcVal := h.adc.Read(h.adcPin)
	h.currentTemp = adcToTemp(adcVal)

	if h.currentTemp == TempInvalid {
		h.setPWM(0)
		return false
	}

	if h.targetTemp <= 0 {
		h.output = 0
		h.setPWM(0)
		return true
	}

	output := h.pidUpdate()
	h.setPWM(output)
	return true
}

func (h *Heater) setPWM(duty float64) {
	if duty <= 0 {
		_ = h.pwm.DisablePWM(h.pwmPin)
		h.pwmEnabled = false
		return
	}
	if !h.pwmEnabled {
		h.pwmEnabled = true
	}
	maxVal := h.pwm.GetMaxValue()
	_ = h.pwm.SetDutyCycle(h.pwmPin, core.PWMValue(duty*float64(maxVal)))
}

// Disable forces PWM off immediately, used by fatal shutdown.
func (h *Heater) Disable() {
	h.targetTemp = 0
	h.output = 0
	_ = h.pwm.DisablePWM(h.pwmPin)
	h.pwmEnabled = false
}
