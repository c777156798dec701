package gpiokit

import (
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/gpiokit/drivers"
)

func setupLed(t testing.TB, pin uint16) (*LED, *drivers.MockOutput) {
	t.Helper()

	md := setupMockDriver(t, nil, []uint16{pin})

	led := &LED{Name: "led", DriverName: "mock_driver", OutPin: pin, DisableHomeKit: true}
	if err := led.Init(md); err != nil {
		t.Fatalf("Init returned err: %v", err)
	}

	out, err := md.GetMockOutput(pin)
	if err != nil {
		t.Fatalf("GetMockOutput returned err: %v", err)
	}
	return led, out
}

func TestLedOnOff(t *testing.T) {
	led, _ := setupLed(t, 5)

	if err := led.On(); err != nil {
		t.Fatalf("On returned err: %v", err)
	}
	if !led.GetValue() {
		t.Error("led should be on")
	}

	value, err := led.CurrentValue()
	if err != nil {
		t.Fatalf("CurrentValue returned err: %v", err)
	}
	assertFloat(t, value, 1.0)

	if err := led.Off(); err != nil {
		t.Fatalf("Off returned err: %v", err)
	}
	if led.GetValue() {
		t.Error("led should be off")
	}
}

func TestLedBlinkInvalidIntervals(t *testing.T) {
	led, _ := setupLed(t, 5)

	for _, tc := range []struct {
		name            string
		onTime, offTime time.Duration
	}{
		{"zero on time", 0, time.Millisecond},
		{"zero off time", time.Millisecond, 0},
		{"negative on time", -time.Millisecond, time.Millisecond},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := led.Blink(tc.onTime, tc.offTime)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("got err %v, want ErrInvalidConfig", err)
			}
		})
	}

	if led.blink != nil {
		t.Error("rejected blink must not leave a blink thread behind")
	}
}

func TestLedBlinkTogglesOutput(t *testing.T) {
	led, out := setupLed(t, 5)

	err := led.Blink(2*time.Millisecond, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("Blink returned err: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(out.History()) < 4 {
		if time.Now().After(deadline) {
			t.Fatal("blink never produced enough toggles")
		}
		time.Sleep(time.Millisecond)
	}

	if err := led.Off(); err != nil {
		t.Fatalf("Off returned err: %v", err)
	}

	history := out.History()
	// The loop always writes on first, so the captured prefix alternates
	// starting with true.
	for key, state := range history[:4] {
		want := key%2 == 0
		if state != want {
			t.Errorf("history[%d] = %v, want %v", key, state, want)
		}
	}
}

func TestLedOffStopsBlink(t *testing.T) {
	led, out := setupLed(t, 5)

	if err := led.Blink(2*time.Millisecond, 2*time.Millisecond); err != nil {
		t.Fatalf("Blink returned err: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := led.Off(); err != nil {
		t.Fatalf("Off returned err: %v", err)
	}

	// Off joined the blink goroutine, so no residual toggle may land after
	// it returns.
	settled := len(out.History())
	time.Sleep(20 * time.Millisecond)
	if got := len(out.History()); got != settled {
		t.Errorf("output written %d more times after Off returned", got-settled)
	}
	if led.GetValue() {
		t.Error("led should be off")
	}
}

func TestLedOnStopsBlink(t *testing.T) {
	led, out := setupLed(t, 5)

	if err := led.Blink(2*time.Millisecond, 2*time.Millisecond); err != nil {
		t.Fatalf("Blink returned err: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := led.On(); err != nil {
		t.Fatalf("On returned err: %v", err)
	}

	settled := len(out.History())
	time.Sleep(20 * time.Millisecond)
	if got := len(out.History()); got != settled {
		t.Errorf("output written %d more times after On returned", got-settled)
	}
	if !led.GetValue() {
		t.Error("led should stay on")
	}
}

func TestLedBlinkReplacesPrevious(t *testing.T) {
	led, _ := setupLed(t, 5)

	if err := led.Blink(time.Millisecond, time.Millisecond); err != nil {
		t.Fatalf("first Blink returned err: %v", err)
	}
	first := led.blink

	if err := led.Blink(2*time.Millisecond, 2*time.Millisecond); err != nil {
		t.Fatalf("second Blink returned err: %v", err)
	}

	if led.blink == first {
		t.Error("second Blink should replace the blink thread")
	}
	if !first.waitStop(0) {
		t.Error("first blink thread should be stopped")
	}

	if err := led.Close(); err != nil {
		t.Fatalf("Close returned err: %v", err)
	}
	if led.blink != nil {
		t.Error("Close should stop the blink thread")
	}
}

func TestLedMqttHandle(t *testing.T) {
	led, _ := setupLed(t, 5)

	topic := led.MqttSubscribeTopic()
	if topic != "gpiokit/led/led/set" {
		t.Errorf("unexpected topic: %s", topic)
	}

	led.MqttHandle(&paho.Publish{Topic: topic, Payload: []byte("on")})
	if !led.GetValue() {
		t.Error("payload on should turn the led on")
	}

	led.MqttHandle(&paho.Publish{Topic: topic, Payload: []byte("off")})
	if led.GetValue() {
		t.Error("payload off should turn the led off")
	}

	led.MqttHandle(&paho.Publish{Topic: topic, Payload: []byte("blink 2 2")})
	if led.blink == nil {
		t.Error("payload blink should start a blink thread")
	}
	led.Close()

	led.MqttHandle(&paho.Publish{Topic: topic, Payload: []byte("blink nonsense")})
	if led.blink != nil {
		t.Error("malformed blink payload must be ignored")
	}
}

func TestLedInitValidation(t *testing.T) {
	md := setupMockDriver(t, nil, []uint16{5})

	t.Run("mismatched driver", func(t *testing.T) {
		led := &LED{Name: "led", DriverName: "gpio", OutPin: 5, DisableHomeKit: true}
		if led.Init(md) == nil {
			t.Error("expected error for mismatched driver")
		}
	})

	t.Run("missing output", func(t *testing.T) {
		led := &LED{Name: "led", DriverName: "mock_driver", OutPin: 6, DisableHomeKit: true}
		if led.Init(md) == nil {
			t.Error("expected error for an unregistered output pin")
		}
	})
}
