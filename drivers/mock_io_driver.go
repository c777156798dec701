package drivers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"errors"
)

type MockOutput struct {
	mu               sync.Mutex
	state            bool
	history          []bool
	pin              uint16
	writeTo          io.Writer
	writeStateChange bool
}

func (mo *MockOutput) GetState() (bool, error) {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.state, nil
}

func (mo *MockOutput) Set(state bool) error {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	if mo.writeStateChange && state != mo.state {
		fmt.Fprintf(mo.writeTo, "[pin %d] state changed to %v\n", mo.pin, state)
	}
	mo.state = state
	mo.history = append(mo.history, state)
	return nil
}

// History returns every state written to the output, in order.
func (mo *MockOutput) History() []bool {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	history := make([]bool, len(mo.history))
	copy(history, mo.history)
	return history
}

type MockInput struct {
	mu       sync.Mutex
	state    bool
	pin      uint16
	listener EventListener
}

func (mi *MockInput) GetState() (bool, error) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return mi.state, nil
}

func (mi *MockInput) SetState(state bool) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	mi.state = state
}

func (mi *MockInput) SubscribeToPushEvent(listener EventListener) error {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	mi.listener = listener
	return nil
}

// FirePush delivers a push event to the subscribed listener, if any.
func (mi *MockInput) FirePush(event PushEvent) {
	mi.mu.Lock()
	listener := mi.listener
	mi.mu.Unlock()
	if listener != nil {
		listener.FireEvent(event)
	}
}

// MockPin simulates the IoPin capability. Tests script its behaviour:
// SetState drives the readable level, ChargeDelay/NoCharge control when a
// watched rising edge fires after the pin switches to input (mimicking a
// capacitor charging), and the Fail* fields inject errors.
type MockPin struct {
	mu       sync.Mutex
	pin      uint16
	driver   *MockIoDriver
	state    bool
	isOutput bool
	pull     Pull
	handler  func()

	ChargeDelay time.Duration
	NoCharge    bool

	FailSetInput  error
	FailSetOutput error
	FailRead      error
	FailWrite     error
}

func (mp *MockPin) SetInput(pull Pull) error {
	mp.mu.Lock()
	if mp.FailSetInput != nil {
		mp.mu.Unlock()
		return mp.FailSetInput
	}
	mp.isOutput = false
	mp.pull = pull
	handler := mp.handler
	noCharge := mp.NoCharge
	delay := mp.ChargeDelay
	mp.mu.Unlock()

	if handler != nil && !noCharge {
		if delay <= 0 {
			handler()
		} else {
			go func() {
				time.Sleep(delay)
				mp.mu.Lock()
				handler := mp.handler
				mp.mu.Unlock()
				if handler != nil {
					handler()
				}
			}()
		}
	}
	return nil
}

func (mp *MockPin) SetOutput() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.FailSetOutput != nil {
		return mp.FailSetOutput
	}
	mp.isOutput = true
	return nil
}

func (mp *MockPin) Read() (bool, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.FailRead != nil {
		return false, mp.FailRead
	}
	return mp.state, nil
}

func (mp *MockPin) Write(state bool) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.FailWrite != nil {
		return mp.FailWrite
	}
	mp.state = state
	return nil
}

func (mp *MockPin) SetState(state bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.state = state
}

func (mp *MockPin) WatchEdge(edge Edge, handler func()) error {
	if handler == nil {
		return errors.New("handler must not be nil")
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.handler != nil {
		return fmt.Errorf("mock pin %d is already watching an edge", mp.pin)
	}
	mp.handler = handler
	return nil
}

func (mp *MockPin) UnwatchEdge() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.handler = nil
	return nil
}

// Watching reports whether an edge watch is currently registered.
func (mp *MockPin) Watching() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.handler != nil
}

func (mp *MockPin) Release() error {
	if err := mp.UnwatchEdge(); err != nil {
		return err
	}
	if mp.driver != nil {
		mp.driver.mu.Lock()
		delete(mp.driver.claimed, mp.pin)
		mp.driver.mu.Unlock()
	}
	return nil
}

type MockIoDriver struct {
	mu      sync.Mutex
	inputs  []*MockInput
	outputs []*MockOutput
	claimed map[uint16]*MockPin
	pins    map[uint16]*MockPin
	ready   bool
}

func (md *MockIoDriver) Setup(ctx context.Context, inputs []uint16, outputs []uint16) error {
	for _, inPin := range inputs {
		md.inputs = append(md.inputs, &MockInput{pin: inPin})
	}
	for _, outPin := range outputs {
		md.outputs = append(md.outputs, &MockOutput{pin: outPin})
	}
	md.claimed = make(map[uint16]*MockPin)
	md.pins = make(map[uint16]*MockPin)
	md.ready = true
	return nil
}

func (md *MockIoDriver) Close() error {
	md.ready = false
	return nil
}

func (md *MockIoDriver) String() string {
	return "mock_driver"
}

func (md *MockIoDriver) IsReady() bool {
	return md.ready
}

func (md *MockIoDriver) GetInput(pin uint16) (DigitalInput, error) {
	for _, input := range md.inputs {
		if pin == input.pin {
			return input, nil
		}
	}
	return nil, fmt.Errorf("mock input %d not found", pin)
}

// GetMockInput exposes the concrete input so tests can drive its state.
func (md *MockIoDriver) GetMockInput(pin uint16) (*MockInput, error) {
	for _, input := range md.inputs {
		if pin == input.pin {
			return input, nil
		}
	}
	return nil, fmt.Errorf("mock input %d not found", pin)
}

func (md *MockIoDriver) GetOutput(pin uint16) (DigitalOutput, error) {
	for _, output := range md.outputs {
		if pin == output.pin {
			return output, nil
		}
	}
	return nil, fmt.Errorf("mock output %d not found", pin)
}

// GetMockOutput exposes the concrete output so tests can inspect history.
func (md *MockIoDriver) GetMockOutput(pin uint16) (*MockOutput, error) {
	for _, output := range md.outputs {
		if pin == output.pin {
			return output, nil
		}
	}
	return nil, fmt.Errorf("mock output %d not found", pin)
}

func (md *MockIoDriver) GetPin(pin uint16) (IoPin, error) {
	if !md.ready {
		return nil, errors.New("mock driver is not ready")
	}
	for _, input := range md.inputs {
		if pin == input.pin {
			return nil, fmt.Errorf("pin %d is registered as a plain input", pin)
		}
	}
	for _, output := range md.outputs {
		if pin == output.pin {
			return nil, fmt.Errorf("pin %d is registered as a plain output", pin)
		}
	}

	md.mu.Lock()
	defer md.mu.Unlock()

	if _, taken := md.claimed[pin]; taken {
		return nil, fmt.Errorf("pin %d is already claimed", pin)
	}

	mp, known := md.pins[pin]
	if !known {
		mp = &MockPin{pin: pin, driver: md}
		md.pins[pin] = mp
	}
	md.claimed[pin] = mp
	return mp, nil
}

// GetMockPin returns the concrete pin for scripting, claiming it if it was
// not handed out yet. The returned pin keeps its scripted behaviour across
// Release/GetPin cycles.
func (md *MockIoDriver) GetMockPin(pin uint16) (*MockPin, error) {
	if !md.ready {
		return nil, errors.New("mock driver is not ready")
	}

	md.mu.Lock()
	defer md.mu.Unlock()

	mp, known := md.pins[pin]
	if !known {
		mp = &MockPin{pin: pin, driver: md}
		md.pins[pin] = mp
	}
	return mp, nil
}

func (md *MockIoDriver) GetAllIo() (inputs []uint16, outputs []uint16) {
	for _, input := range md.inputs {
		inputs = append(inputs, input.pin)
	}
	for _, output := range md.outputs {
		outputs = append(outputs, output.pin)
	}
	return
}

func (md *MockIoDriver) MonitorStateChanges(writer io.Writer) {
	for _, out := range md.outputs {
		out.writeTo = writer
		out.writeStateChange = true
	}
}
