package gpiokit

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/pkg/errors"

	"github.com/hubertat/gpiokit/drivers"
	"github.com/hubertat/gpiokit/mqtt"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "gpiokit"
const homeKitBridgeAuthor = "github.com/hubertat"

// Kit is the device inventory, unmarshalled from the JSON config file.
// Sampling sensors run their own background loops once initialized; the
// remaining devices are passive and synced on the ticker.
type Kit struct {
	Name string

	Leds          []*LED
	Buttons       []*Button
	Buzzers       []*Buzzer
	Motors        []*Motor
	MotionSensors []*MotionSensor
	LightSensors  []*LightSensor

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string

	Status *StatusServer
	Influx *InfluxLogger

	Gpio       *drivers.GpIO
	FakeDriver *drivers.MockIoDriver

	ioDrivers  map[string]drivers.IoDriver
	mqttClient *mqtt.MqttClient
	ticker     *time.Ticker
	logger     *log.Logger
}

// IO is one configured device: initialized against its driver, synced on
// the kit ticker.
type IO interface {
	Init(driver drivers.IoDriver) error
	GetDriverName() string
	Sync() error
}

type HkThing interface {
	GetHk() *accessory.A
	GetUniqueId() uint64
	Sync() error
}

// SampledDevice exposes a named numeric reading without blocking on
// window fill; telemetry consumers (status server, influx logger) read
// through it.
type SampledDevice interface {
	GetName() string
	CurrentValue() (float64, error)
}

func (kit *Kit) getInPins(driverName string) (pins []uint16) {
	for _, io := range kit.Buttons {
		if strings.EqualFold(io.DriverName, driverName) {
			pins = append(pins, io.InPin)
		}
	}

	return
}

func (kit *Kit) getOutPins(driverName string) (pins []uint16) {
	for _, io := range kit.Leds {
		if strings.EqualFold(io.DriverName, driverName) {
			pins = append(pins, io.OutPin)
		}
	}
	for _, io := range kit.Buzzers {
		if strings.EqualFold(io.DriverName, driverName) {
			pins = append(pins, io.OutPin)
		}
	}
	for _, io := range kit.Motors {
		if strings.EqualFold(io.DriverName, driverName) {
			pins = append(pins, io.OutPin)
		}
	}

	return
}

func (kit *Kit) getIos() []IO {
	ios := []IO{}
	for _, led := range kit.Leds {
		ios = append(ios, led)
	}
	for _, button := range kit.Buttons {
		ios = append(ios, button)
	}
	for _, buzzer := range kit.Buzzers {
		ios = append(ios, buzzer)
	}
	for _, motor := range kit.Motors {
		ios = append(ios, motor)
	}
	for _, sensor := range kit.MotionSensors {
		ios = append(ios, sensor)
	}
	for _, sensor := range kit.LightSensors {
		ios = append(ios, sensor)
	}

	return ios
}

func (kit *Kit) getHkThings() (things []HkThing) {
	for _, th := range kit.Leds {
		things = append(things, th)
	}
	for _, th := range kit.Buttons {
		things = append(things, th)
	}
	for _, th := range kit.Buzzers {
		things = append(things, th)
	}
	for _, th := range kit.Motors {
		things = append(things, th)
	}
	for _, th := range kit.MotionSensors {
		things = append(things, th)
	}
	for _, th := range kit.LightSensors {
		things = append(things, th)
	}

	return
}

// GetSampledDevices lists every device with a numeric reading, sensors
// first.
func (kit *Kit) GetSampledDevices() (devices []SampledDevice) {
	for _, sensor := range kit.MotionSensors {
		devices = append(devices, sensor)
	}
	for _, sensor := range kit.LightSensors {
		devices = append(devices, sensor)
	}
	for _, led := range kit.Leds {
		devices = append(devices, led)
	}
	for _, buzzer := range kit.Buzzers {
		devices = append(devices, buzzer)
	}
	for _, motor := range kit.Motors {
		devices = append(devices, motor)
	}

	return
}

func (kit *Kit) InitDrivers(ctx context.Context) error {
	kit.ioDrivers = make(map[string]drivers.IoDriver)
	kit.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "Kit: ",
		Level:  log.GetLevel(),
	})

	if kit.Gpio != nil {
		kit.ioDrivers[kit.Gpio.String()] = kit.Gpio
	}

	if kit.FakeDriver != nil {
		kit.ioDrivers[kit.FakeDriver.String()] = kit.FakeDriver
	}

	for _, driver := range kit.ioDrivers {
		err := driver.Setup(ctx, kit.getInPins(driver.String()), kit.getOutPins(driver.String()))
		if err != nil {
			return errors.Wrapf(err, "failed to setup %s driver", driver)
		}
	}

	for _, io := range kit.getIos() {
		_, driverFound := kit.ioDrivers[io.GetDriverName()]
		if !driverFound {
			return errors.Errorf("driver %s not set up", io.GetDriverName())
		}
	}

	return nil
}

// InitIos initializes every configured device; sampling sensors start
// their background loops here.
func (kit *Kit) InitIos() error {
	for _, io := range kit.getIos() {
		err := io.Init(kit.ioDrivers[io.GetDriverName()])
		if err != nil {
			return errors.Wrap(err, "failed to init io")
		}
	}

	return nil
}

func (kit *Kit) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, th := range kit.getHkThings() {
		accessory := th.GetHk()
		if accessory != nil {
			if accessory.Info != nil && accessory.Info.FirmwareRevision != nil {
				accessory.Info.FirmwareRevision.SetValue(firmwareVersion)
			}
			accessory.Id = th.GetUniqueId()
			acc = append(acc, accessory)
		}
	}

	return
}

func (kit *Kit) StartTicker(interval time.Duration) {
	kit.ticker = time.NewTicker(interval)

	for range kit.ticker.C {
		for _, io := range kit.getIos() {
			err := io.Sync()
			if err != nil {
				kit.logger.Error("received error from syncing io", "err", err)
			}
		}
	}
}

// StartStatusServer brings up the HTTP status API over all sampled
// devices, if one is configured.
func (kit *Kit) StartStatusServer() error {
	if kit.Status == nil {
		return nil
	}
	return kit.Status.Start(kit.GetSampledDevices())
}

// StartInflux brings up the periodic influx value writer over all sampled
// devices, if one is configured.
func (kit *Kit) StartInflux(ctx context.Context) error {
	if kit.Influx == nil {
		return nil
	}
	return kit.Influx.Setup(ctx, kit.GetSampledDevices())
}

func (kit *Kit) Close() (err error) {
	for _, sensor := range kit.MotionSensors {
		closeErr := sensor.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close motion sensor")
		}
	}
	for _, sensor := range kit.LightSensors {
		closeErr := sensor.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close light sensor")
		}
	}
	for _, led := range kit.Leds {
		closeErr := led.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close led")
		}
	}

	if kit.Influx != nil {
		kit.Influx.Close()
	}
	if kit.Status != nil {
		kit.Status.Close()
	}

	for _, driver := range kit.ioDrivers {
		if driver != nil {
			closeErr := driver.Close()
			if closeErr != nil {
				err = errors.Wrap(err, closeErr.Error())
			}
		}
	}

	return
}

func (kit *Kit) PrintIoStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== active io drivers ===")
	for driverName, driver := range kit.ioDrivers {
		fmt.Fprintln(writer, "________")
		fmt.Fprintf(writer, "| driver: %s\n", driverName)
		inputs, outputs := driver.GetAllIo()
		fmt.Fprintf(writer, "| in pins: ")
		for _, inpin := range inputs {
			fmt.Fprintf(writer, "%d, ", inpin)
		}
		fmt.Fprintf(writer, "\n| out pins: ")
		for _, outpin := range outputs {
			fmt.Fprintf(writer, "%d, ", outpin)
		}
		fmt.Fprintln(writer)
		fmt.Fprintln(writer, "--------")
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}

func (kit *Kit) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	hkName := kit.Name
	if len(hkName) < 1 {
		hkName = homeKitBridgeName
	}
	bridge := accessory.NewBridge(accessory.Info{
		Name:         hkName,
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	var store hap.Store
	if len(kit.HkDirectory) > 1 {
		store = hap.NewFsStore(kit.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}
	hkServer, err := hap.NewServer(store, bridge.A, kit.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = kit.HkPin
	if len(kit.HkAddress) > 0 {
		hkServer.Addr = kit.HkAddress
	}

	if kit.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-c
		// Stop delivering signals.
		signal.Stop(c)
		// Cancel the context to stop the server.
		cancel()
	}()

	return hkServer.ListenAndServe(ctx)
}

// InitMqtt connects to the broker, wires the publisher into every sensor
// and subscribes the LED command handlers.
func (kit *Kit) InitMqtt() (err error) {
	if len(kit.MqttBroker) == 0 {
		err = errors.New("mqtt broker not set")
		return
	}

	mc, err := mqtt.NewMqttClient(kit.MqttBroker, kit.Name)
	if err != nil {
		err = errors.Wrap(err, "failed to create mqtt client")
		return
	}

	kit.mqttClient = mc

	mqttHandlers := []mqtt.MqttHandler{}
	for _, led := range kit.Leds {
		mqttHandlers = append(mqttHandlers, led)
	}

	err = mc.Connect(mqttHandlers)
	if err != nil {
		err = errors.Wrap(err, "failed to connect to mqtt broker")
		return
	}

	for _, sensor := range kit.MotionSensors {
		sensor.SetMqtt(mc)
	}
	for _, sensor := range kit.LightSensors {
		sensor.SetMqtt(mc)
	}

	return
}
