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

const defaultMotionQueueLen = 5
const defaultMotionSampleRate = 10.0

// MotionSensor samples a pull-down input in the background and smooths the
// raw readings over a sliding window. Value is the fraction of recent
// samples that saw motion; MotionDetected compares it against Threshold.
type MotionSensor struct {
	Name       string
	DriverName string
	InPin      uint16

	// QueueLen is the sliding window capacity; 0 takes the default of 5.
	QueueLen int
	// SampleRate is the sampling frequency in Hz; 0 takes the default of 10.
	SampleRate float64
	// Threshold is the activity fraction above which motion is reported.
	Threshold float64
	// Partial allows reads before the window has filled once.
	Partial bool

	DisableHomeKit bool

	mu     sync.RWMutex
	handle *pinHandle
	driver drivers.IoDriver
	queue  *sampleQueue
	thread *loopThread
	logger *log.Logger

	publisher mqtt.Publisher
	lastState bool

	hkAccessory *accessory.A
	hkService   *service.MotionSensor
}

func (ms *MotionSensor) GetName() string {
	return ms.Name
}

func (ms *MotionSensor) GetDriverName() string {
	return ms.DriverName
}

func (ms *MotionSensor) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("MotionSensor_" + ms.Name))
	return hash.Sum64()
}

// Init validates the configuration, claims the input pin in pull-down
// mode and starts the background sampling loop. The loop runs until Close.
func (ms *MotionSensor) Init(driver drivers.IoDriver) error {
	if !strings.EqualFold(driver.String(), ms.DriverName) {
		return fmt.Errorf("Init failed, mismatched or incorrect driver")
	}

	if !driver.IsReady() {
		return fmt.Errorf("Init failed, driver not ready")
	}

	if ms.QueueLen == 0 {
		ms.QueueLen = defaultMotionQueueLen
	}
	if ms.SampleRate == 0 {
		ms.SampleRate = defaultMotionSampleRate
	}
	if ms.SampleRate < 0 {
		return errors.Wrap(ErrInvalidConfig, "sample rate must be greater than zero")
	}
	if ms.Threshold < 0 {
		return errors.Wrap(ErrInvalidConfig, "threshold must be zero or more")
	}

	queue, err := newSampleQueue(ms.QueueLen)
	if err != nil {
		return err
	}

	ms.driver = driver
	ms.handle, err = claimInputPin(driver, ms.InPin, drivers.PullDown)
	if err != nil {
		return errors.Wrap(err, "Init failed on claiming input pin")
	}

	ms.queue = queue
	ms.thread = newLoopThread()
	ms.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: fmt.Sprintf("MotionSensor %s: ", ms.Name),
		Level:  log.GetLevel(),
	})

	if !ms.DisableHomeKit {
		info := accessory.Info{
			Name:         ms.Name,
			SerialNumber: fmt.Sprintf("motion_sensor:%s:%02d", ms.DriverName, ms.InPin),
		}
		ms.hkAccessory = accessory.New(info, accessory.TypeSensor)
		ms.hkService = service.NewMotionSensor()
		ms.hkAccessory.AddS(ms.hkService.S)
	}

	ms.thread.Start(ms.fillQueue)

	return nil
}

// fillQueue runs on the sampler goroutine: one cooperative wait of a
// sample period, then one push of the current active state. An unexpected
// read failure terminates the loop; blocked readers are released through
// the queue's terminated signal.
func (ms *MotionSensor) fillQueue() {
	defer ms.queue.terminate()

	for !ms.thread.waitStop(ms.samplePeriod()) {
		active, err := ms.handle.Active()
		if err != nil {
			ms.logger.Error("pin read failed, stopping sampler", "err", err)
			return
		}

		sample := 0.0
		if active {
			sample = 1.0
		}
		ms.queue.Push(sample)
		ms.syncState()
	}
}

// syncState pushes motion transitions out to HomeKit and MQTT. It runs on
// the sampler goroutine, right after each push.
func (ms *MotionSensor) syncState() {
	detected := ms.queue.Mean() > ms.threshold()

	ms.mu.Lock()
	changed := detected != ms.lastState
	ms.lastState = detected
	publisher := ms.publisher
	ms.mu.Unlock()

	if !changed {
		return
	}

	if ms.hkService != nil {
		ms.hkService.MotionDetected.SetValue(detected)
	}

	if publisher != nil {
		payload := "clear"
		if detected {
			payload = "detected"
		}
		err := publisher.Publish(ms.mqttTopic(), []byte(payload))
		if err != nil {
			ms.logger.Error("failed to publish motion state", "err", err)
		}
	}
}

func (ms *MotionSensor) mqttTopic() string {
	return fmt.Sprintf("gpiokit/motion/%s", ms.Name)
}

func (ms *MotionSensor) samplePeriod() time.Duration {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return time.Duration(float64(time.Second) / ms.SampleRate)
}

func (ms *MotionSensor) threshold() float64 {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.Threshold
}

// SetSampleRate adjusts the sampling frequency; the loop picks the new
// period up on its next tick.
func (ms *MotionSensor) SetSampleRate(rate float64) error {
	if rate <= 0 {
		return errors.Wrap(ErrInvalidConfig, "sample rate must be greater than zero")
	}
	ms.mu.Lock()
	ms.SampleRate = rate
	ms.mu.Unlock()
	return nil
}

func (ms *MotionSensor) SetThreshold(threshold float64) error {
	if threshold < 0 {
		return errors.Wrap(ErrInvalidConfig, "threshold must be zero or more")
	}
	ms.mu.Lock()
	ms.Threshold = threshold
	ms.mu.Unlock()
	return nil
}

// Value returns the fraction of window samples that saw motion, in [0, 1].
// Unless the sensor was configured Partial, it blocks until the window has
// filled once; a dead sampler releases it with ErrSamplerStopped.
func (ms *MotionSensor) Value() (float64, error) {
	mean, _, err := ms.queue.Read(ms.Partial)
	return mean, err
}

// CurrentValue is the non-blocking reading used by telemetry consumers.
func (ms *MotionSensor) CurrentValue() (float64, error) {
	return ms.queue.Mean(), nil
}

func (ms *MotionSensor) MotionDetected() (bool, error) {
	value, err := ms.Value()
	if err != nil {
		return false, err
	}
	return value > ms.threshold(), nil
}

func (ms *MotionSensor) SetMqtt(publisher mqtt.Publisher) {
	ms.mu.Lock()
	ms.publisher = publisher
	ms.mu.Unlock()
}

func (ms *MotionSensor) GetHk() *accessory.A {
	return ms.hkAccessory
}

func (ms *MotionSensor) Sync() error {
	return nil
}

// Close stops the sampling loop and releases the pin. The sensor is not
// restartable afterwards.
func (ms *MotionSensor) Close() error {
	if ms.thread == nil {
		return nil
	}
	ms.thread.Stop()
	if ms.handle != nil {
		return ms.handle.Release()
	}
	return nil
}
