package gpiokit

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/gpiokit/drivers"
)

// LED drives an output pin with steady on/off levels or a background
// blink. At most one blink goroutine runs per LED: every On, Off and
// Blink call first stops and joins the previous one, so a residual toggle
// can never race an explicit write.
type LED struct {
	Name       string
	DriverName string
	OutPin     uint16

	DisableHomeKit bool

	output drivers.DigitalOutput
	driver drivers.IoDriver

	mu    sync.Mutex
	blink *loopThread

	hk *accessory.Lightbulb
}

func (led *LED) GetName() string {
	return led.Name
}

func (led *LED) GetDriverName() string {
	return led.DriverName
}

func (led *LED) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("LED_" + led.Name))
	return hash.Sum64()
}

func (led *LED) Init(driver drivers.IoDriver) error {
	if !strings.EqualFold(driver.String(), led.DriverName) {
		return fmt.Errorf("Init failed, mismatched or incorrect driver")
	}

	if !driver.IsReady() {
		return fmt.Errorf("Init failed, driver not ready")
	}

	var err error

	led.driver = driver
	led.output, err = driver.GetOutput(led.OutPin)
	if err != nil {
		return errors.Wrap(err, "Init failed on getting output")
	}

	if !led.DisableHomeKit {
		info := accessory.Info{
			Name:         led.Name,
			SerialNumber: fmt.Sprintf("led:%s:%02d", led.DriverName, led.OutPin),
		}
		led.hk = accessory.NewLightbulb(info)
		led.hk.Lightbulb.On.OnValueRemoteUpdate(led.setRemote)
	}

	return nil
}

// On stops any running blink, then drives the pin high.
func (led *LED) On() error {
	led.mu.Lock()
	defer led.mu.Unlock()
	led.stopBlink()
	return led.set(true)
}

// Off stops any running blink, then drives the pin low.
func (led *LED) Off() error {
	led.mu.Lock()
	defer led.mu.Unlock()
	led.stopBlink()
	return led.set(false)
}

// Blink replaces any running blink with a new background loop: on for
// onTime, off for offTime, until stopped. Replacement is stop-then-start,
// never concurrent.
func (led *LED) Blink(onTime, offTime time.Duration) error {
	if onTime <= 0 || offTime <= 0 {
		return errors.Wrap(ErrInvalidConfig, "blink intervals must be greater than zero")
	}

	led.mu.Lock()
	defer led.mu.Unlock()

	led.stopBlink()

	thread := newLoopThread()
	led.blink = thread
	thread.Start(func() {
		led.blinkLoop(thread, onTime, offTime)
	})

	return nil
}

func (led *LED) blinkLoop(thread *loopThread, onTime, offTime time.Duration) {
	for {
		if led.set(true) != nil {
			return
		}
		if thread.waitStop(onTime) {
			return
		}
		if led.set(false) != nil {
			return
		}
		if thread.waitStop(offTime) {
			return
		}
	}
}

// stopBlink joins the blink goroutine; callers hold led.mu.
func (led *LED) stopBlink() {
	if led.blink != nil {
		led.blink.Stop()
		led.blink = nil
	}
}

func (led *LED) set(state bool) error {
	err := led.output.Set(state)
	if err != nil {
		return errors.Wrap(err, "failed to set led output")
	}
	if led.hk != nil {
		led.hk.Lightbulb.On.SetValue(state)
	}
	return nil
}

func (led *LED) setRemote(state bool) {
	if state {
		led.On()
	} else {
		led.Off()
	}
}

// Toggle stops any running blink, then inverts the steady state.
func (led *LED) Toggle() {
	led.mu.Lock()
	defer led.mu.Unlock()
	led.stopBlink()
	state, err := led.output.GetState()
	if err != nil {
		return
	}
	led.set(!state)
}

func (led *LED) GetValue() bool {
	state, _ := led.output.GetState()
	return state
}

// CurrentValue reports the pin state as 0/1 for telemetry consumers.
func (led *LED) CurrentValue() (float64, error) {
	state, err := led.output.GetState()
	if err != nil {
		return 0, err
	}
	if state {
		return 1.0, nil
	}
	return 0.0, nil
}

// MqttSubscribeTopic is the command topic: payloads "on", "off" or
// "blink <on_ms> <off_ms>".
func (led *LED) MqttSubscribeTopic() string {
	return fmt.Sprintf("gpiokit/led/%s/set", led.Name)
}

func (led *LED) MqttHandle(pub *paho.Publish) {
	payload := strings.TrimSpace(string(pub.Payload))
	switch {
	case payload == "on":
		led.On()
	case payload == "off":
		led.Off()
	case strings.HasPrefix(payload, "blink"):
		var onMs, offMs int
		_, err := fmt.Sscanf(payload, "blink %d %d", &onMs, &offMs)
		if err != nil {
			return
		}
		led.Blink(time.Duration(onMs)*time.Millisecond, time.Duration(offMs)*time.Millisecond)
	}
}

func (led *LED) GetHk() *accessory.A {
	if led.hk == nil {
		return nil
	}
	return led.hk.A
}

func (led *LED) Sync() error {
	if led.hk == nil {
		return nil
	}
	state, err := led.output.GetState()
	if err != nil {
		return errors.Wrap(err, "Sync failed")
	}
	led.hk.Lightbulb.On.SetValue(state)
	return nil
}

// Close stops any running blink; the LED keeps its last steady state.
func (led *LED) Close() error {
	led.mu.Lock()
	defer led.mu.Unlock()
	led.stopBlink()
	return nil
}
