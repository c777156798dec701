package drivers

import (
	"context"
)

// Pull selects the resistor wiring of an input pin. The logical active
// level of a device is derived from it: pull-up inputs are active low,
// everything else active high.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge selects which pin-level transition an edge watch reports.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
)

type IoDriver interface {
	Setup(ctx context.Context, inputs []uint16, outputs []uint16) error
	Close() error
	String() string
	IsReady() bool
	GetInput(pin uint16) (DigitalInput, error)
	GetOutput(pin uint16) (DigitalOutput, error)
	GetPin(pin uint16) (IoPin, error)
	GetAllIo() (inputs []uint16, outputs []uint16)
}

func MapAllIoDrivers() map[string]IoDriver {
	drivers := []IoDriver{
		&GpIO{},
		&MockIoDriver{},
	}

	mapped := make(map[string]IoDriver)
	for _, driver := range drivers {
		mapped[driver.String()] = driver
	}
	return mapped
}

type DigitalInput interface {
	GetState() (bool, error)
	SubscribeToPushEvent(EventListener) error
}

type DigitalOutput interface {
	GetState() (bool, error)
	Set(bool) error
}

// IoPin is the full capability a sampling device needs from one pin:
// direction and pull configuration, raw level access and edge watching.
// A pin obtained through GetPin is claimed exclusively; the driver refuses
// to hand it out again until Release is called.
type IoPin interface {
	SetInput(pull Pull) error
	SetOutput() error
	Read() (bool, error)
	Write(state bool) error
	WatchEdge(edge Edge, handler func()) error
	UnwatchEdge() error
	Release() error
}

type PushEvent int

const (
	PushEventSinglePress PushEvent = 0
	PushEventDoublePress PushEvent = 1
	PushEventLongPress   PushEvent = 2
)

type EventListener interface {
	FireEvent(PushEvent)
}
