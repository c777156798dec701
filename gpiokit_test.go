package gpiokit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hubertat/gpiokit/drivers"
)

const testKitConfig = `
{
	"Name": "test kit",
	"FakeDriver": {},
	"Leds": [
		{"Name": "lamp", "DriverName": "mock_driver", "OutPin": 5, "DisableHomeKit": true}
	],
	"Buttons": [
		{"Name": "switch", "DriverName": "mock_driver", "InPin": 6, "DisableHomeKit": true}
	],
	"MotionSensors": [
		{"Name": "hall", "DriverName": "mock_driver", "InPin": 12, "SampleRate": 100, "DisableHomeKit": true}
	]
}
`

func setupTestKit(t testing.TB) *Kit {
	t.Helper()

	kit := &Kit{}
	err := json.Unmarshal([]byte(testKitConfig), kit)
	if err != nil {
		t.Fatalf("failed to unmarshal config: %v", err)
	}

	err = kit.InitDrivers(context.Background())
	if err != nil {
		t.Fatalf("InitDrivers returned err: %v", err)
	}
	err = kit.InitIos()
	if err != nil {
		t.Fatalf("InitIos returned err: %v", err)
	}
	return kit
}

func TestKitFromConfig(t *testing.T) {
	kit := setupTestKit(t)
	defer kit.Close()

	inputs, outputs := kit.FakeDriver.GetAllIo()
	assertUint16Values(t, inputs, []uint16{6})
	assertUint16Values(t, outputs, []uint16{5})

	if err := kit.Leds[0].On(); err != nil {
		t.Fatalf("led On returned err: %v", err)
	}
	if !kit.Leds[0].GetValue() {
		t.Error("lamp should be on")
	}
}

func assertUint16Values(t testing.TB, got, want []uint16) {
	t.Helper()

	if len(got) != len(want) {
		t.Errorf("len(got) = %d len(want) = %d", len(got), len(want))
		return
	}
	for key, val := range got {
		if want[key] != val {
			t.Errorf("for key [%d] got: %d want: %d", key, val, want[key])
		}
	}
}

func TestKitSampledDevices(t *testing.T) {
	kit := setupTestKit(t)
	defer kit.Close()

	devices := kit.GetSampledDevices()
	if len(devices) != 2 {
		t.Fatalf("got %d sampled devices, want 2", len(devices))
	}
	// Sensors come first.
	if devices[0].GetName() != "hall" {
		t.Errorf("devices[0] = %s, want hall", devices[0].GetName())
	}
	if devices[1].GetName() != "lamp" {
		t.Errorf("devices[1] = %s, want lamp", devices[1].GetName())
	}
}

func TestKitMotionSensorRuns(t *testing.T) {
	kit := setupTestKit(t)
	defer kit.Close()

	sensor := kit.MotionSensors[0]
	if !sensor.queue.full.Wait(2 * time.Second) {
		t.Fatal("motion sensor window never filled")
	}

	value, err := sensor.Value()
	if err != nil {
		t.Fatalf("Value returned err: %v", err)
	}
	assertFloat(t, value, 0.0)
}

func TestKitUnknownDriver(t *testing.T) {
	kit := &Kit{
		FakeDriver: &drivers.MockIoDriver{},
		Leds:       []*LED{{Name: "lamp", DriverName: "gpio", OutPin: 5, DisableHomeKit: true}},
	}

	if err := kit.InitDrivers(context.Background()); err == nil {
		t.Error("expected error for a device on an unknown driver")
	}
}

func TestKitButtonTogglesLed(t *testing.T) {
	kit := setupTestKit(t)
	defer kit.Close()

	button := kit.Buttons[0]
	led := kit.Leds[0]
	button.AddToggleTarget(led)

	input, err := kit.FakeDriver.GetMockInput(6)
	if err != nil {
		t.Fatalf("GetMockInput returned err: %v", err)
	}

	input.FirePush(drivers.PushEventSinglePress)
	if !led.GetValue() {
		t.Error("single press should toggle the lamp on")
	}

	input.FirePush(drivers.PushEventSinglePress)
	if led.GetValue() {
		t.Error("second press should toggle the lamp off")
	}
}

func TestKitPrintIoStatus(t *testing.T) {
	kit := setupTestKit(t)
	defer kit.Close()

	buf := &bytes.Buffer{}
	kit.PrintIoStatus(buf)

	if !strings.Contains(buf.String(), "mock_driver") {
		t.Errorf("status output missing driver name:\n%s", buf.String())
	}
}
