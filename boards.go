package gpiokit

import (
	"time"

	"github.com/pkg/errors"

	"github.com/hubertat/gpiokit/drivers"
)

// TrafficLights is a pre-wired red/amber/green LED group.
type TrafficLights struct {
	Red   *LED
	Amber *LED
	Green *LED

	leds []*LED
}

func NewTrafficLights(driver drivers.IoDriver, redPin, amberPin, greenPin uint16) (*TrafficLights, error) {
	tl := &TrafficLights{
		Red:   &LED{Name: "red", DriverName: driver.String(), OutPin: redPin, DisableHomeKit: true},
		Amber: &LED{Name: "amber", DriverName: driver.String(), OutPin: amberPin, DisableHomeKit: true},
		Green: &LED{Name: "green", DriverName: driver.String(), OutPin: greenPin, DisableHomeKit: true},
	}
	tl.leds = []*LED{tl.Red, tl.Amber, tl.Green}

	for _, led := range tl.leds {
		err := led.Init(driver)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to init %s led", led.Name)
		}
	}

	return tl, nil
}

func (tl *TrafficLights) LightsOn() error {
	for _, led := range tl.leds {
		err := led.On()
		if err != nil {
			return err
		}
	}
	return nil
}

func (tl *TrafficLights) LightsOff() error {
	for _, led := range tl.leds {
		err := led.Off()
		if err != nil {
			return err
		}
	}
	return nil
}

// BlinkAll starts all three lights blinking with the same cadence.
func (tl *TrafficLights) BlinkAll(onTime, offTime time.Duration) error {
	for _, led := range tl.leds {
		err := led.Blink(onTime, offTime)
		if err != nil {
			return err
		}
	}
	return nil
}

func (tl *TrafficLights) Close() error {
	var err error
	for _, led := range tl.leds {
		closeErr := led.Close()
		if closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// NewPiTraffic wires TrafficLights on the fixed PiTraffic add-on pins.
func NewPiTraffic(driver drivers.IoDriver) (*TrafficLights, error) {
	return NewTrafficLights(driver, 9, 10, 11)
}

// FishDish is the Fish Dish add-on board: traffic lights, a buzzer and a
// button on fixed pins.
type FishDish struct {
	*TrafficLights
	Buzzer *Buzzer
	Button *Button
}

func NewFishDish(driver drivers.IoDriver) (*FishDish, error) {
	lights, err := NewTrafficLights(driver, 9, 22, 4)
	if err != nil {
		return nil, err
	}

	fd := &FishDish{
		TrafficLights: lights,
		Buzzer:        &Buzzer{OutputDevice: OutputDevice{Name: "buzzer", DriverName: driver.String(), OutPin: 8, DisableHomeKit: true}},
		Button:        &Button{Name: "button", DriverName: driver.String(), InPin: 7, DisableHomeKit: true},
	}

	err = fd.Buzzer.Init(driver)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init buzzer")
	}

	err = fd.Button.Init(driver)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init button")
	}

	return fd, nil
}

// On turns the lights and the buzzer on.
func (fd *FishDish) On() error {
	err := fd.LightsOn()
	if err != nil {
		return err
	}
	return fd.Buzzer.On()
}

// Off turns the lights and the buzzer off.
func (fd *FishDish) Off() error {
	err := fd.LightsOff()
	if err != nil {
		return err
	}
	return fd.Buzzer.Off()
}

// PiLiter is the 8-LED Pi-LITEr bar on fixed pins.
type PiLiter struct {
	Leds []*LED
}

func NewPiLiter(driver drivers.IoDriver) (*PiLiter, error) {
	pins := []uint16{4, 17, 27, 18, 22, 23, 24, 25}

	pl := &PiLiter{}
	for _, pin := range pins {
		led := &LED{Name: "liter", DriverName: driver.String(), OutPin: pin, DisableHomeKit: true}
		err := led.Init(driver)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to init led on pin %d", pin)
		}
		pl.Leds = append(pl.Leds, led)
	}

	return pl, nil
}

func (pl *PiLiter) On() error {
	for _, led := range pl.Leds {
		err := led.On()
		if err != nil {
			return err
		}
	}
	return nil
}

func (pl *PiLiter) Off() error {
	for _, led := range pl.Leds {
		err := led.Off()
		if err != nil {
			return err
		}
	}
	return nil
}

func (pl *PiLiter) Close() error {
	var err error
	for _, led := range pl.Leds {
		closeErr := led.Close()
		if closeErr != nil {
			err = closeErr
		}
	}
	return err
}
