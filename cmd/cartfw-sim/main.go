// Command cartfw-sim runs the firmware's machine loop against simulated
// GPIO/PWM/ADC hardware, reading G-code from stdin (or a real serial
// device) and writing responses to stdout. It exists so the motion,
// heater, and G-code layers can be exercised end to end without real
// stepper/thermistor hardware attached.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"cartfw/config"
	"cartfw/core"
	"cartfw/machine"
	"cartfw/serial"
)

var (
	device     = flag.String("device", "", "Serial device path (empty = read G-code from stdin)")
	baud       = flag.Int("baud", 115200, "Baud rate, ignored for USB CDC")
	configPath = flag.String("config", "", "Path to a JSON config file (empty = built-in Cartesian defaults)")
	idleTicks  = flag.Int("idle-ticks", 20, "Simulated scheduler pumps to run between each G-code line")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cartfw-sim: %v\n", err)
		os.Exit(1)
	}

	gpio := newSimGPIO()
	pwm := newSimPWM()
	adc := newSimADC(pwm)
	adc.bind(cfg.Hotend.ADCPin, cfg.Hotend.PWMPin)
	adc.bind(cfg.Bed.ADCPin, cfg.Bed.PWMPin)

	m := machine.New(cfg, gpio, pwm, adc)

	in, out, closeIn := openPort()
	defer closeIn()

	fmt.Fprintln(os.Stderr, "cartfw-sim ready")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		m.ProcessLine(line, out)
		for i := 0; i < *idleTicks; i++ {
			m.Pump()
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "cartfw-sim: read error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultCartesianConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return config.LoadConfig(data)
}

// openPort returns the line source and response sink: a real serial device
// when -device is set, otherwise stdin/stdout for interactive use.
func openPort() (io.Reader, io.Writer, func()) {
	if *device == "" {
		return os.Stdin, os.Stdout, func() {}
	}

	port, err := serial.Open(serial.DefaultConfig(*device, *baud))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cartfw-sim: %v, falling back to stdin\n", err)
		return os.Stdin, os.Stdout, func() {}
	}
	return port, port, func() { _ = port.Close() }
}

// simGPIO is an in-memory GPIO: every pin round-trips through a map, with
// no simulated electrical behavior beyond that. Endstops never trip on
// their own here (see machine's own tests for an endstop-triggering fake);
// this target is for exercising motion/G-code/heater logic interactively,
// not for testing homing.
type simGPIO struct {
	pins map[core.GPIOPin]bool
}

func newSimGPIO() *simGPIO { return &simGPIO{pins: map[core.GPIOPin]bool{}} }

func (g *simGPIO) ConfigureOutput(pin core.GPIOPin) error        { return nil }
func (g *simGPIO) ConfigureInputPullUp(pin core.GPIOPin) error   { g.pins[pin] = false; return nil }
func (g *simGPIO) ConfigureInputPullDown(pin core.GPIOPin) error { g.pins[pin] = false; return nil }
func (g *simGPIO) SetPin(pin core.GPIOPin, value bool) error {
	g.pins[pin] = value
	return nil
}
func (g *simGPIO) GetPin(pin core.GPIOPin) (bool, error) { return g.pins[pin], nil }
func (g *simGPIO) ReadPin(pin core.GPIOPin) bool         { return g.pins[pin] }

// simPWM is an in-memory PWM: duty cycles are recorded per pin so simADC
// can drive a first-order thermal model off them.
type simPWM struct {
	duty map[core.PWMPin]float64 // 0..1
}

func newSimPWM() *simPWM { return &simPWM{duty: map[core.PWMPin]float64{}} }

func (p *simPWM) ConfigureHardwarePWM(pin core.PWMPin, cycleTicks uint32) (uint32, error) {
	return cycleTicks, nil
}
func (p *simPWM) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	p.duty[pin] = float64(value) / float64(p.GetMaxValue())
	return nil
}
func (p *simPWM) GetMaxValue() uint32 { return 255 }
func (p *simPWM) DisablePWM(pin core.PWMPin) error {
	p.duty[pin] = 0
	return nil
}

// simADC models each configured pin as an independent first-order thermal
// mass heated by whatever PWM pin was wired to it (via simADC.bind), decaying
// toward ambient otherwise, and reports the corresponding NTC ADC code so
// the real heater package's lookup table drives realistic-looking control.
type simADC struct {
	pwm    *simPWM
	pwmPin map[core.GPIOPin]core.PWMPin
	temp   map[core.GPIOPin]float64
}

func newSimADC(pwm *simPWM) *simADC {
	return &simADC{pwm: pwm, pwmPin: map[core.GPIOPin]core.PWMPin{}, temp: map[core.GPIOPin]float64{}}
}

func (a *simADC) ConfigureInput(pin core.GPIOPin, sampleTime uint32) error {
	a.temp[pin] = 25 // ambient, °C
	return nil
}

func (a *simADC) Read(pin core.GPIOPin) int32 {
	const ambient = 25.0
	const heatGain = 8.0  // °C per tick at full duty
	const coolRate = 0.05 // fraction of the gap to ambient lost per tick

	duty := a.pwm.duty[a.pwmPin[pin]]
	t := a.temp[pin]
	t += duty * heatGain
	t -= (t - ambient) * coolRate
	a.temp[pin] = t

	return tempToADC(t)
}

// bind associates adcPin's simulated sensor with the PWM pin heating it.
func (a *simADC) bind(adcPin core.GPIOPin, pwmPin core.PWMPin) {
	a.pwmPin[adcPin] = pwmPin
}

// tempToADC is adcToTemp's rough inverse over the NTC table's usable range,
// good enough to drive the real heater package's interpolation believably.
func tempToADC(tempC float64) int32 {
	const minADC, maxADC = 23, 3244
	const minTemp, maxTemp = -20.0, 300.0
	if tempC > maxTemp {
		tempC = maxTemp
	}
	if tempC < minTemp {
		tempC = minTemp
	}
	ratio := (maxTemp - tempC) / (maxTemp - minTemp)
	return int32(minADC + ratio*(maxADC-minADC))
}
