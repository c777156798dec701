package gpiokit

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
	"github.com/pkg/errors"

	"github.com/hubertat/gpiokit/drivers"
)

// Button is a passthrough input: no sampling of its own, it just reads
// the driver-configured pull-up input and forwards push events.
type Button struct {
	Name       string
	DriverName string
	InPin      uint16

	DisableHomeKit bool

	toggleThis []ClickableDevice
	input      drivers.DigitalInput
	driver     drivers.IoDriver

	hk *accessory.A
	ss *service.StatelessProgrammableSwitch
}

type ClickableDevice interface {
	Toggle()
}

func (bu *Button) GetName() string {
	return bu.Name
}

func (bu *Button) GetDriverName() string {
	return bu.DriverName
}

func (bu *Button) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("Button_" + bu.Name))
	return hash.Sum64()
}

func (bu *Button) Init(driver drivers.IoDriver) error {
	if !strings.EqualFold(driver.String(), bu.DriverName) {
		return fmt.Errorf("Init failed, mismatched or incorrect driver")
	}

	if !driver.IsReady() {
		return fmt.Errorf("Init failed, driver not ready")
	}

	var err error

	bu.driver = driver
	bu.input, err = driver.GetInput(bu.InPin)
	if err != nil {
		return errors.Wrap(err, "Init failed on getting input")
	}

	// Not every driver delivers push events; buttons on such drivers fall
	// back to polled GetValue reads.
	_ = bu.input.SubscribeToPushEvent(bu)

	if !bu.DisableHomeKit {
		bu.hk = accessory.New(accessory.Info{
			Name: bu.Name,
		}, accessory.TypeProgrammableSwitch)

		bu.ss = service.NewStatelessProgrammableSwitch()
		bu.hk.AddS(bu.ss.S)
	}

	return nil
}

func (bu *Button) Sync() (err error) {
	return
}

func (bu *Button) GetHk() *accessory.A {
	return bu.hk
}

func (bu *Button) GetValue() bool {
	state, _ := bu.input.GetState()
	return state
}

func (bu *Button) AddToggleTarget(device ClickableDevice) {
	bu.toggleThis = append(bu.toggleThis, device)
}

func (bu *Button) FireEvent(event drivers.PushEvent) {
	if bu.ss != nil {
		bu.ss.ProgrammableSwitchEvent.SetValue(int(event))
	}
	if event == drivers.PushEventSinglePress {
		for _, device := range bu.toggleThis {
			device.Toggle()
		}
	}
}
