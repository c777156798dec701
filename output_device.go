package gpiokit

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/brutella/hap/accessory"
	"github.com/pkg/errors"

	"github.com/hubertat/gpiokit/drivers"
)

// OutputDevice is a plain on/off output. Buzzer and Motor are tagged
// variants of it; anything needing timed toggling is an LED instead.
type OutputDevice struct {
	Name       string
	DriverName string
	OutPin     uint16

	DisableHomeKit bool

	kind string

	output drivers.DigitalOutput
	driver drivers.IoDriver

	lock sync.Mutex

	hk *accessory.Switch
}

func (od *OutputDevice) GetName() string {
	return od.Name
}

func (od *OutputDevice) GetDriverName() string {
	return od.DriverName
}

func (od *OutputDevice) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte(od.kindName() + "_" + od.Name))
	return hash.Sum64()
}

func (od *OutputDevice) kindName() string {
	if od.kind == "" {
		return "Output"
	}
	return od.kind
}

func (od *OutputDevice) Init(driver drivers.IoDriver) error {
	if !strings.EqualFold(driver.String(), od.DriverName) {
		return fmt.Errorf("Init failed, mismatched or incorrect driver")
	}

	if !driver.IsReady() {
		return fmt.Errorf("Init failed, driver not ready")
	}

	var err error

	od.driver = driver
	od.output, err = driver.GetOutput(od.OutPin)
	if err != nil {
		return errors.Wrap(err, "Init failed on getting output")
	}

	if !od.DisableHomeKit {
		info := accessory.Info{
			Name:         od.Name,
			SerialNumber: fmt.Sprintf("%s:%s:%02d", strings.ToLower(od.kindName()), od.DriverName, od.OutPin),
		}
		od.hk = accessory.NewSwitch(info)
		od.hk.Switch.On.OnValueRemoteUpdate(od.SetValue)
	}

	return nil
}

func (od *OutputDevice) On() error {
	od.lock.Lock()
	defer od.lock.Unlock()
	return od.set(true)
}

func (od *OutputDevice) Off() error {
	od.lock.Lock()
	defer od.lock.Unlock()
	return od.set(false)
}

func (od *OutputDevice) set(state bool) error {
	err := od.output.Set(state)
	if err != nil {
		return errors.Wrap(err, "failed to set output")
	}
	if od.hk != nil {
		od.hk.Switch.On.SetValue(state)
	}
	return nil
}

func (od *OutputDevice) SetValue(state bool) {
	if state {
		od.On()
	} else {
		od.Off()
	}
}

func (od *OutputDevice) Toggle() {
	od.SetValue(!od.GetValue())
}

func (od *OutputDevice) GetValue() bool {
	state, _ := od.output.GetState()
	return state
}

// CurrentValue reports the pin state as 0/1 for telemetry consumers.
func (od *OutputDevice) CurrentValue() (float64, error) {
	state, err := od.output.GetState()
	if err != nil {
		return 0, err
	}
	if state {
		return 1.0, nil
	}
	return 0.0, nil
}

func (od *OutputDevice) GetHk() *accessory.A {
	if od.hk == nil {
		return nil
	}
	return od.hk.A
}

func (od *OutputDevice) Sync() error {
	od.lock.Lock()
	defer od.lock.Unlock()

	state, err := od.output.GetState()
	if err != nil {
		return errors.Wrap(err, "Sync failed")
	}
	if od.hk != nil {
		od.hk.Switch.On.SetValue(state)
	}
	return nil
}

// Buzzer is an OutputDevice wired to a piezo element.
type Buzzer struct {
	OutputDevice
}

func (bz *Buzzer) Init(driver drivers.IoDriver) error {
	bz.kind = "Buzzer"
	return bz.OutputDevice.Init(driver)
}

// Motor is an OutputDevice wired to a motor driver stage.
type Motor struct {
	OutputDevice
}

func (mo *Motor) Init(driver drivers.IoDriver) error {
	mo.kind = "Motor"
	return mo.OutputDevice.Init(driver)
}
