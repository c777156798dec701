package gpiokit

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// newBenchLightSensor builds a sensor with runtime state but no pin and
// no sampler thread, so tests can drive the window and event dispatch
// deterministically.
func newBenchLightSensor(t testing.TB, queueLen int, darkness time.Duration, threshold float64) *LightSensor {
	t.Helper()

	ls := &LightSensor{
		Name:         "l",
		QueueLen:     queueLen,
		DarknessTime: darkness,
		Threshold:    threshold,
	}
	if err := ls.validate(); err != nil {
		t.Fatalf("validate returned err: %v", err)
	}
	if err := ls.initRuntime(); err != nil {
		t.Fatalf("initRuntime returned err: %v", err)
	}
	return ls
}

func TestLightSensorInitValidation(t *testing.T) {
	md := setupMockDriver(t, nil, nil)

	configCases := []struct {
		name   string
		sensor LightSensor
	}{
		{"negative queue len", LightSensor{Name: "l", DriverName: "mock_driver", InPin: 4, QueueLen: -1, DisableHomeKit: true}},
		{"negative darkness time", LightSensor{Name: "l", DriverName: "mock_driver", InPin: 4, DarknessTime: -time.Millisecond, DisableHomeKit: true}},
		{"negative threshold", LightSensor{Name: "l", DriverName: "mock_driver", InPin: 4, Threshold: -0.1, DisableHomeKit: true}},
	}

	for i := range configCases {
		tc := &configCases[i]
		t.Run(tc.name, func(t *testing.T) {
			err := tc.sensor.Init(md)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("got err %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLightSensorValueFromChargeTimes(t *testing.T) {
	darkness := 10 * time.Millisecond
	ls := newBenchLightSensor(t, 1, darkness, 0.1)

	var lightFired, darkFired int32
	ls.SetWhenLight(func() { atomic.AddInt32(&lightFired, 1) })
	ls.SetWhenDark(func() { atomic.AddInt32(&darkFired, 1) })

	// A full darkness timeout reads as no light.
	ls.queue.Push(darkness.Seconds())
	ls.fireEvents()

	value, err := ls.Value()
	if err != nil {
		t.Fatalf("Value returned err: %v", err)
	}
	assertFloat(t, value, 0.0)

	detected, _ := ls.LightDetected()
	if detected {
		t.Error("light must not be detected on a darkness timeout")
	}
	if atomic.LoadInt32(&lightFired) != 0 {
		t.Error("when_light fired without a transition to light")
	}

	// An instant charge reads as full light and fires when_light once.
	ls.queue.Push(0.0)
	ls.fireEvents()

	value, _ = ls.Value()
	assertFloat(t, value, 1.0)

	detected, _ = ls.LightDetected()
	if !detected {
		t.Error("light should be detected on an instant charge")
	}
	if got := atomic.LoadInt32(&lightFired); got != 1 {
		t.Errorf("when_light fired %d times, want 1", got)
	}

	if !ls.WaitForLight(10 * time.Millisecond) {
		t.Error("WaitForLight should return immediately once light is latched")
	}
	if ls.WaitForDark(10 * time.Millisecond) {
		t.Error("WaitForDark should time out while it is light")
	}

	t.Run("steady state does not refire", func(t *testing.T) {
		ls.queue.Push(0.0)
		ls.fireEvents()
		if got := atomic.LoadInt32(&lightFired); got != 1 {
			t.Errorf("when_light fired %d times on steady state, want 1", got)
		}
	})

	t.Run("transition back to dark", func(t *testing.T) {
		ls.queue.Push(darkness.Seconds())
		ls.fireEvents()

		if got := atomic.LoadInt32(&darkFired); got != 1 {
			t.Errorf("when_dark fired %d times, want 1", got)
		}
		if !ls.WaitForDark(10 * time.Millisecond) {
			t.Error("WaitForDark should return once dark is latched")
		}
		if ls.WaitForLight(10 * time.Millisecond) {
			t.Error("WaitForLight should time out while it is dark")
		}
	})
}

func TestLightSensorEmptyWindowValue(t *testing.T) {
	ls := newBenchLightSensor(t, 5, 10*time.Millisecond, 0.1)
	ls.Partial = true

	value, err := ls.Value()
	if err != nil {
		t.Fatalf("Value returned err: %v", err)
	}
	assertFloat(t, value, 0.0)
}

func TestLightSensorMeanOverWindow(t *testing.T) {
	darkness := 10 * time.Millisecond
	ls := newBenchLightSensor(t, 4, darkness, 0.1)
	ls.Partial = true

	// Two instant charges and two timeouts average to half light.
	for _, sample := range []float64{0, 0, darkness.Seconds(), darkness.Seconds()} {
		ls.queue.Push(sample)
	}

	value, err := ls.Value()
	if err != nil {
		t.Fatalf("Value returned err: %v", err)
	}
	assertFloat(t, value, 0.5)
}

func TestLightSensorSampling(t *testing.T) {
	md := setupMockDriver(t, nil, nil)

	ls := &LightSensor{
		Name:         "l",
		DriverName:   "mock_driver",
		InPin:        4,
		QueueLen:     1,
		DarknessTime: 10 * time.Millisecond,
		Threshold:    0.5,
		Partial:      true,

		DisableHomeKit: true,
	}
	ls.settleTime = time.Millisecond

	var lightFired int32
	ls.SetWhenLight(func() { atomic.AddInt32(&lightFired, 1) })

	err := ls.Init(md)
	if err != nil {
		t.Fatalf("Init returned err: %v", err)
	}
	defer ls.Close()

	// Instant charges: the sensor sees bright light.
	if !ls.WaitForLight(2 * time.Second) {
		t.Fatal("sensor never reported light")
	}
	if got := atomic.LoadInt32(&lightFired); got != 1 {
		t.Errorf("when_light fired %d times, want 1", got)
	}

	detected, err := ls.LightDetected()
	if err != nil {
		t.Fatalf("LightDetected returned err: %v", err)
	}
	if !detected {
		t.Error("light should be detected with instant charges")
	}
}

func TestLightSensorDeregistersEdgeOnClose(t *testing.T) {
	md := setupMockDriver(t, nil, nil)

	pin, _ := md.GetMockPin(4)

	ls := &LightSensor{
		Name:         "l",
		DriverName:   "mock_driver",
		InPin:        4,
		QueueLen:     1,
		DarknessTime: 10 * time.Millisecond,
		Partial:      true,

		DisableHomeKit: true,
	}
	ls.settleTime = time.Millisecond

	if err := ls.Init(md); err != nil {
		t.Fatalf("Init returned err: %v", err)
	}

	if err := ls.Close(); err != nil {
		t.Fatalf("Close returned err: %v", err)
	}

	if pin.Watching() {
		t.Error("edge watch still registered after Close")
	}
}

func TestLightSensorFailureReleasesReaders(t *testing.T) {
	md := setupMockDriver(t, nil, nil)

	pin, _ := md.GetMockPin(4)
	pin.FailSetOutput = errors.New("bus gone")

	ls := &LightSensor{
		Name:         "l",
		DriverName:   "mock_driver",
		InPin:        4,
		QueueLen:     3,
		DarknessTime: 10 * time.Millisecond,

		DisableHomeKit: true,
	}
	ls.settleTime = time.Millisecond

	if err := ls.Init(md); err != nil {
		t.Fatalf("Init returned err: %v", err)
	}
	defer ls.Close()

	// The first measurement fails, the loop dies; a blocking read must
	// be released with ErrSamplerStopped, and the edge watch must have
	// been deregistered on the way out.
	result := make(chan error)
	go func() {
		_, err := ls.Value()
		result <- err
	}()

	select {
	case err := <-result:
		if !errors.Is(err, ErrSamplerStopped) {
			t.Errorf("got err %v, want ErrSamplerStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocking read never released after sampler death")
	}

	if pin.Watching() {
		t.Error("edge watch still registered after sampler death")
	}
}

func TestLightSensorDarknessTimeMutation(t *testing.T) {
	ls := &LightSensor{Name: "l"}

	if !errors.Is(ls.SetDarknessTime(0), ErrInvalidConfig) {
		t.Error("SetDarknessTime(0) should fail")
	}
	if ls.SetDarknessTime(20*time.Millisecond) != nil {
		t.Error("SetDarknessTime before Init should succeed")
	}

	md := setupMockDriver(t, nil, nil)
	ls.DriverName = "mock_driver"
	ls.InPin = 4
	ls.QueueLen = 1
	ls.Partial = true
	ls.DisableHomeKit = true
	ls.settleTime = time.Millisecond

	if err := ls.Init(md); err != nil {
		t.Fatalf("Init returned err: %v", err)
	}
	defer ls.Close()

	if !errors.Is(ls.SetDarknessTime(30*time.Millisecond), ErrInvalidConfig) {
		t.Error("SetDarknessTime after the sampler started should fail")
	}
}

func TestLightSensorThresholdMutation(t *testing.T) {
	ls := newBenchLightSensor(t, 1, 10*time.Millisecond, 0.1)

	if !errors.Is(ls.SetThreshold(-1), ErrInvalidConfig) {
		t.Error("SetThreshold(-1) should fail")
	}
	if ls.SetThreshold(0.9) != nil {
		t.Error("SetThreshold(0.9) should succeed")
	}
}
