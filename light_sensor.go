package gpiokit

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/gpiokit/drivers"
	"github.com/hubertat/gpiokit/mqtt"
)

const defaultLightQueueLen = 5
const defaultDarknessTime = 10 * time.Millisecond

// defaultSettleTime is how long the pin is held low to drain the
// capacitor before each charge-time measurement.
const defaultSettleTime = 100 * time.Millisecond

// LightSensor infers the ambient light level from a digital pin wired to
// a photoresistor/capacitor pair. Each measurement times how long the
// capacitor takes to charge back up after being drained: the brighter the
// light, the faster the charge. Measurements that never see the charged
// edge are clamped at DarknessTime and folded into the window like any
// other sample.
type LightSensor struct {
	Name       string
	DriverName string
	InPin      uint16

	// QueueLen is the sliding window capacity; 0 takes the default of 5.
	QueueLen int
	// DarknessTime bounds a single charge measurement; 0 takes the
	// default of 10ms.
	DarknessTime time.Duration
	// Threshold is the light level above which light is reported.
	Threshold float64
	// Partial allows reads before the window has filled once.
	Partial bool

	DisableHomeKit bool

	mu     sync.RWMutex
	pin    drivers.IoPin
	driver drivers.IoDriver
	queue  *sampleQueue
	thread *loopThread
	logger *log.Logger

	settleTime time.Duration

	charged    *latch
	lightLatch *latch
	darkLatch  *latch
	lastState  bool

	whenLight func()
	whenDark  func()

	publisher mqtt.Publisher

	hkAccessory *accessory.A
	hkService   *service.LightSensor
}

func (ls *LightSensor) GetName() string {
	return ls.Name
}

func (ls *LightSensor) GetDriverName() string {
	return ls.DriverName
}

func (ls *LightSensor) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("LightSensor_" + ls.Name))
	return hash.Sum64()
}

func (ls *LightSensor) validate() error {
	if ls.QueueLen == 0 {
		ls.QueueLen = defaultLightQueueLen
	}
	if ls.DarknessTime == 0 {
		ls.DarknessTime = defaultDarknessTime
	}
	if ls.DarknessTime < 0 {
		return errors.Wrap(ErrInvalidConfig, "darkness time must be greater than zero")
	}
	if ls.Threshold < 0 {
		return errors.Wrap(ErrInvalidConfig, "threshold must be zero or more")
	}
	if ls.settleTime == 0 {
		ls.settleTime = defaultSettleTime
	}
	return nil
}

func (ls *LightSensor) initRuntime() error {
	queue, err := newSampleQueue(ls.QueueLen)
	if err != nil {
		return err
	}

	ls.queue = queue
	ls.thread = newLoopThread()
	ls.charged = newLatch()
	ls.lightLatch = newLatch()
	ls.darkLatch = newLatch()
	ls.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: fmt.Sprintf("LightSensor %s: ", ls.Name),
		Level:  log.GetLevel(),
	})
	return nil
}

// Init validates the configuration, claims the measurement pin and starts
// the background charge-timing loop. The loop runs until Close.
func (ls *LightSensor) Init(driver drivers.IoDriver) error {
	if !strings.EqualFold(driver.String(), ls.DriverName) {
		return fmt.Errorf("Init failed, mismatched or incorrect driver")
	}

	if !driver.IsReady() {
		return fmt.Errorf("Init failed, driver not ready")
	}

	err := ls.validate()
	if err != nil {
		return err
	}

	err = ls.initRuntime()
	if err != nil {
		return err
	}

	ls.driver = driver
	ls.pin, err = driver.GetPin(ls.InPin)
	if err != nil {
		return errors.Wrap(err, "Init failed on claiming pin")
	}

	if !ls.DisableHomeKit {
		info := accessory.Info{
			Name:         ls.Name,
			SerialNumber: fmt.Sprintf("light_sensor:%s:%02d", ls.DriverName, ls.InPin),
		}
		ls.hkAccessory = accessory.New(info, accessory.TypeSensor)
		ls.hkService = service.NewLightSensor()
		ls.hkAccessory.AddS(ls.hkService.S)
	}

	ls.thread.Start(ls.fillQueue)

	return nil
}

// fillQueue runs on the sampler goroutine. The charged-edge watch is
// registered when the loop starts and deregistered on every exit path,
// including measurement failures.
func (ls *LightSensor) fillQueue() {
	defer ls.queue.terminate()

	err := ls.pin.WatchEdge(drivers.EdgeRising, ls.charged.Set)
	if err != nil {
		ls.logger.Error("failed to watch charged edge", "err", err)
		return
	}
	defer func() {
		unwatchErr := ls.pin.UnwatchEdge()
		if unwatchErr != nil {
			ls.logger.Error("failed to deregister charged edge", "err", unwatchErr)
		}
	}()

	for !ls.thread.stopping() {
		sample, ok, err := ls.timeCharging()
		if err != nil {
			ls.logger.Error("charge measurement failed, stopping sampler", "err", err)
			return
		}
		if !ok {
			return
		}

		ls.queue.Push(sample)
		if ls.Partial || ls.queue.Full() {
			ls.fireEvents()
		}
	}
}

// timeCharging performs one capacitive measurement: drain the capacitor,
// hold low for the settle interval, switch to high impedance input and
// time how long the charged edge takes, clamped at DarknessTime. Returns
// the measured time in seconds; ok is false when the loop is stopping.
func (ls *LightSensor) timeCharging() (sample float64, ok bool, err error) {
	err = ls.pin.SetOutput()
	if err != nil {
		return
	}
	err = ls.pin.Write(false)
	if err != nil {
		return
	}
	if ls.thread.waitStop(ls.settleTime) {
		return
	}

	darkness := ls.darknessTime()

	ls.charged.Clear()
	start := time.Now()
	err = ls.pin.SetInput(drivers.PullNone)
	if err != nil {
		return
	}
	ls.charged.Wait(darkness)

	elapsed := time.Since(start)
	if elapsed > darkness {
		elapsed = darkness
	}
	return elapsed.Seconds(), true, nil
}

// fireEvents compares the current light state against the last recorded
// one and, on a transition, flips the wait latches, runs the registered
// callback and publishes the event. Runs on the sampler goroutine, so a
// slow callback delays subsequent sampling.
func (ls *LightSensor) fireEvents() {
	state := ls.queue.Len() > 0 && ls.levelFromMean(ls.queue.Mean()) > ls.threshold()

	ls.mu.Lock()
	lastState := ls.lastState
	ls.lastState = state
	whenLight := ls.whenLight
	whenDark := ls.whenDark
	publisher := ls.publisher
	ls.mu.Unlock()

	if !lastState && state {
		ls.darkLatch.Clear()
		ls.lightLatch.Set()
		ls.syncHk()
		if whenLight != nil {
			whenLight()
		}
		ls.publishEvent(publisher, "light")
	} else if lastState && !state {
		ls.lightLatch.Clear()
		ls.darkLatch.Set()
		ls.syncHk()
		if whenDark != nil {
			whenDark()
		}
		ls.publishEvent(publisher, "dark")
	}
}

func (ls *LightSensor) syncHk() {
	if ls.hkService == nil {
		return
	}
	level, err := ls.CurrentValue()
	if err == nil {
		ls.hkService.CurrentAmbientLightLevel.SetValue(level)
	}
}

func (ls *LightSensor) publishEvent(publisher mqtt.Publisher, event string) {
	if publisher == nil {
		return
	}
	err := publisher.Publish(ls.mqttTopic(), []byte(event))
	if err != nil {
		ls.logger.Error("failed to publish light state", "err", err)
	}
}

func (ls *LightSensor) mqttTopic() string {
	return fmt.Sprintf("gpiokit/light/%s", ls.Name)
}

// levelFromMean converts a mean charge time in seconds to a light level
// in [0, 1]: 1 is instant charge (bright), 0 is a full darkness timeout.
func (ls *LightSensor) levelFromMean(mean float64) float64 {
	return 1.0 - mean/ls.darknessTime().Seconds()
}

func (ls *LightSensor) darknessTime() time.Duration {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.DarknessTime
}

func (ls *LightSensor) threshold() float64 {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.Threshold
}

// SetDarknessTime rejects mutation once the sampling loop is running: the
// window contents would be scaled against the wrong bound. Configure it
// before Init.
func (ls *LightSensor) SetDarknessTime(darkness time.Duration) error {
	if darkness <= 0 {
		return errors.Wrap(ErrInvalidConfig, "darkness time must be greater than zero")
	}
	if ls.thread != nil {
		return errors.Wrap(ErrInvalidConfig, "darkness time cannot change while the sampler is running")
	}
	ls.mu.Lock()
	ls.DarknessTime = darkness
	ls.mu.Unlock()
	return nil
}

func (ls *LightSensor) SetThreshold(threshold float64) error {
	if threshold < 0 {
		return errors.Wrap(ErrInvalidConfig, "threshold must be zero or more")
	}
	ls.mu.Lock()
	ls.Threshold = threshold
	ls.mu.Unlock()
	return nil
}

// SetWhenLight registers a callback fired once per dark-to-light
// transition, on the sampler goroutine. nil deregisters.
func (ls *LightSensor) SetWhenLight(callback func()) {
	ls.mu.Lock()
	ls.whenLight = callback
	ls.mu.Unlock()
}

// SetWhenDark registers a callback fired once per light-to-dark
// transition, on the sampler goroutine. nil deregisters.
func (ls *LightSensor) SetWhenDark(callback func()) {
	ls.mu.Lock()
	ls.whenDark = callback
	ls.mu.Unlock()
}

// WaitForLight blocks until the sensor reports light, or timeout passes;
// timeout <= 0 waits indefinitely. Reports whether light was seen.
func (ls *LightSensor) WaitForLight(timeout time.Duration) bool {
	return ls.lightLatch.Wait(timeout)
}

// WaitForDark blocks until the sensor reports darkness, or timeout
// passes; timeout <= 0 waits indefinitely. Reports whether dark was seen.
func (ls *LightSensor) WaitForDark(timeout time.Duration) bool {
	return ls.darkLatch.Wait(timeout)
}

// Value returns the light level in [0, 1]; an empty window reads as 0.0,
// no data meaning no light. Unless the sensor was configured Partial it
// blocks until the window has filled once; a dead sampler releases it
// with ErrSamplerStopped.
func (ls *LightSensor) Value() (float64, error) {
	mean, count, err := ls.queue.Read(ls.Partial)
	if count == 0 {
		return 0.0, err
	}
	return ls.levelFromMean(mean), err
}

// CurrentValue is the non-blocking reading used by telemetry consumers.
func (ls *LightSensor) CurrentValue() (float64, error) {
	if ls.queue.Len() == 0 {
		return 0.0, nil
	}
	return ls.levelFromMean(ls.queue.Mean()), nil
}

func (ls *LightSensor) LightDetected() (bool, error) {
	value, err := ls.Value()
	if err != nil {
		return false, err
	}
	return value > ls.threshold(), nil
}

func (ls *LightSensor) SetMqtt(publisher mqtt.Publisher) {
	ls.mu.Lock()
	ls.publisher = publisher
	ls.mu.Unlock()
}

func (ls *LightSensor) GetHk() *accessory.A {
	return ls.hkAccessory
}

func (ls *LightSensor) Sync() error {
	return nil
}

// Close stops the sampling loop, which deregisters the edge watch, then
// releases the pin. The sensor is not restartable afterwards.
func (ls *LightSensor) Close() error {
	if ls.thread == nil {
		return nil
	}
	ls.thread.Stop()
	if ls.pin != nil {
		return ls.pin.Release()
	}
	return nil
}
