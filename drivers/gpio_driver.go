package drivers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const gpioDriverName = "gpio"

// edgePollInterval bounds the latency between a hardware edge event and
// the watch handler firing.
const edgePollInterval = time.Millisecond

type GpIO struct {
	inputs  []GpInput
	outputs []GpOutput

	InvertInputs  bool
	InvertOutputs bool

	mu      sync.Mutex
	claimed map[uint8]*GpPin

	isReady bool
}

type GpInput struct {
	pin    uint8
	invert bool
}

type GpOutput struct {
	pin    uint8
	invert bool
}

func (gpi *GpInput) GetState() (state bool, err error) {
	if gpi.invert {
		state = rpio.Pin(gpi.pin).Read() == rpio.Low
	} else {
		state = rpio.Pin(gpi.pin).Read() == rpio.High
	}

	return
}

func (gpi *GpInput) SubscribeToPushEvent(listener EventListener) error {
	return errors.New("SubscribeToPushEvent not implemented")
}

func (gpo *GpOutput) Set(state bool) error {
	if gpo.invert {
		state = !state
	}
	if state {
		rpio.Pin(gpo.pin).High()
	} else {
		rpio.Pin(gpo.pin).Low()
	}

	return nil
}

func (gpo *GpOutput) GetState() (state bool, err error) {
	if gpo.invert {
		state = rpio.Pin(gpo.pin).Read() == rpio.Low
	} else {
		state = rpio.Pin(gpo.pin).Read() == rpio.High
	}

	return
}

// GpPin is an exclusively claimed pin with direction/pull control and edge
// watching on top of go-rpio memory mapped access.
type GpPin struct {
	pin    uint8
	driver *GpIO

	mu        sync.Mutex
	watchStop chan struct{}
	watchDone chan struct{}
}

func (gpp *GpPin) SetInput(pull Pull) error {
	pin := rpio.Pin(gpp.pin)
	pin.Input()
	switch pull {
	case PullUp:
		pin.PullUp()
	case PullDown:
		pin.PullDown()
	default:
		pin.PullOff()
	}
	return nil
}

func (gpp *GpPin) SetOutput() error {
	rpio.Pin(gpp.pin).Output()
	return nil
}

func (gpp *GpPin) Read() (bool, error) {
	return rpio.Pin(gpp.pin).Read() == rpio.High, nil
}

func (gpp *GpPin) Write(state bool) error {
	if state {
		rpio.Pin(gpp.pin).High()
	} else {
		rpio.Pin(gpp.pin).Low()
	}
	return nil
}

// WatchEdge arms hardware edge detection and polls it on a background
// goroutine, calling handler once per detected event. Only one watch per
// pin may be active.
func (gpp *GpPin) WatchEdge(edge Edge, handler func()) error {
	if handler == nil {
		return errors.Errorf("WatchEdge on pin %d: handler must not be nil", gpp.pin)
	}

	gpp.mu.Lock()
	defer gpp.mu.Unlock()

	if gpp.watchStop != nil {
		return errors.Errorf("pin %d is already watching an edge", gpp.pin)
	}

	pin := rpio.Pin(gpp.pin)
	switch edge {
	case EdgeRising:
		pin.Detect(rpio.RiseEdge)
	case EdgeFalling:
		pin.Detect(rpio.FallEdge)
	default:
		return errors.Errorf("WatchEdge on pin %d: unsupported edge %d", gpp.pin, edge)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	gpp.watchStop = stop
	gpp.watchDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(edgePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if pin.EdgeDetected() {
					handler()
				}
			}
		}
	}()

	return nil
}

func (gpp *GpPin) UnwatchEdge() error {
	gpp.mu.Lock()
	defer gpp.mu.Unlock()

	if gpp.watchStop == nil {
		return nil
	}

	close(gpp.watchStop)
	<-gpp.watchDone
	gpp.watchStop = nil
	gpp.watchDone = nil

	rpio.Pin(gpp.pin).Detect(rpio.NoEdge)
	return nil
}

func (gpp *GpPin) Release() error {
	err := gpp.UnwatchEdge()
	if err != nil {
		return errors.Wrapf(err, "failed to release pin %d", gpp.pin)
	}

	gpp.driver.mu.Lock()
	delete(gpp.driver.claimed, gpp.pin)
	gpp.driver.mu.Unlock()

	return nil
}

func (gp *GpIO) Setup(ctx context.Context, inputs []uint16, outputs []uint16) error {
	err := rpio.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to Setup gpio driver for pins: %v, %v; ", inputs, outputs)
	}
	for _, inPin := range inputs {
		if inPin > 255 {
			return errors.Errorf("inpin out of range (gpio takes uint8 pin)")
		}
		pin := rpio.Pin(inPin)
		pin.Input()
		pin.PullUp()
		gp.inputs = append(gp.inputs, GpInput{pin: uint8(inPin), invert: gp.InvertInputs})
	}

	for _, outPin := range outputs {
		if outPin > 255 {
			return errors.Errorf("outpin out of range (gpio takes uint8 pin)")
		}
		pin := rpio.Pin(outPin)
		pin.Output()
		gp.outputs = append(gp.outputs, GpOutput{pin: uint8(outPin), invert: gp.InvertOutputs})
	}

	gp.claimed = make(map[uint8]*GpPin)
	gp.isReady = true
	return nil
}

func (gp *GpIO) String() string {
	return gpioDriverName
}

func (gp *GpIO) IsReady() bool {
	return gp.isReady
}

func (gp *GpIO) Close() error {
	gp.isReady = false

	gp.mu.Lock()
	claimed := make([]*GpPin, 0, len(gp.claimed))
	for _, pin := range gp.claimed {
		claimed = append(claimed, pin)
	}
	gp.mu.Unlock()

	for _, pin := range claimed {
		pin.Release()
	}

	for _, output := range gp.outputs {
		output.Set(false)
	}
	return rpio.Close()
}

func (gp *GpIO) GetInput(id uint16) (input DigitalInput, err error) {
	if id > 255 {
		err = errors.Errorf("pin id out of range (gpio takes uint8 pin)")
		return
	}
	for _, in := range gp.inputs {
		if in.pin == uint8(id) {
			input = &in
			return
		}
	}

	err = fmt.Errorf("GpIO Input (id: %d) not found", id)
	return
}

func (gp *GpIO) GetOutput(id uint16) (output DigitalOutput, err error) {
	if id > 255 {
		err = errors.Errorf("pin id out of range (gpio takes uint8 pin)")
		return
	}
	for _, out := range gp.outputs {
		if out.pin == uint8(id) {
			output = &out
			return
		}
	}

	err = fmt.Errorf("GpIO Output (id: %d) not found", id)
	return
}

// GetPin claims id for exclusive use. Pins registered through Setup as
// plain inputs or outputs cannot be claimed.
func (gp *GpIO) GetPin(id uint16) (IoPin, error) {
	if id > 255 {
		return nil, errors.Errorf("pin id out of range (gpio takes uint8 pin)")
	}
	if !gp.isReady {
		return nil, errors.Errorf("GpIO driver is not ready")
	}

	for _, in := range gp.inputs {
		if in.pin == uint8(id) {
			return nil, errors.Errorf("pin %d is registered as a plain input", id)
		}
	}
	for _, out := range gp.outputs {
		if out.pin == uint8(id) {
			return nil, errors.Errorf("pin %d is registered as a plain output", id)
		}
	}

	gp.mu.Lock()
	defer gp.mu.Unlock()

	if _, taken := gp.claimed[uint8(id)]; taken {
		return nil, errors.Errorf("pin %d is already claimed", id)
	}

	pin := &GpPin{pin: uint8(id), driver: gp}
	gp.claimed[uint8(id)] = pin
	return pin, nil
}

func (gp *GpIO) GetAllIo() (inputs []uint16, outputs []uint16) {
	for _, input := range gp.inputs {
		inputs = append(inputs, uint16(input.pin))
	}

	for _, output := range gp.outputs {
		outputs = append(outputs, uint16(output.pin))
	}

	return
}
