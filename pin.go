package gpiokit

import (
	"github.com/hubertat/gpiokit/drivers"
	"github.com/pkg/errors"
)

// pinHandle pairs an exclusively claimed driver pin with the active-state
// polarity derived from its pull wiring. Polarity is fixed at claim time:
// pull-up inputs read active low, everything else active high.
type pinHandle struct {
	pin        drivers.IoPin
	activeHigh bool
}

func claimInputPin(driver drivers.IoDriver, pin uint16, pull drivers.Pull) (*pinHandle, error) {
	ioPin, err := driver.GetPin(pin)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to claim pin %d", pin)
	}

	err = ioPin.SetInput(pull)
	if err != nil {
		ioPin.Release()
		return nil, errors.Wrapf(err, "failed to configure pin %d as input", pin)
	}

	return &pinHandle{
		pin:        ioPin,
		activeHigh: pull != drivers.PullUp,
	}, nil
}

// Active reads the pin and applies the polarity, returning the logical
// "on" state of whatever is wired to it.
func (ph *pinHandle) Active() (bool, error) {
	state, err := ph.pin.Read()
	if err != nil {
		return false, err
	}
	if !ph.activeHigh {
		state = !state
	}
	return state, nil
}

func (ph *pinHandle) Release() error {
	return ph.pin.Release()
}
