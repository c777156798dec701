package gpiokit

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

const defaultInfluxInterval = 10 * time.Second
const influxWriteTimeout = 5 * time.Second

// InfluxLogger periodically writes the current reading of every sampled
// device to an InfluxDB bucket.
type InfluxLogger struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	// Interval between write rounds, as a time.Duration string; empty
	// takes 10s.
	Interval string

	client   influxdb2.Client
	writeApi api.WriteAPIBlocking
	interval time.Duration
	devices  []SampledDevice
	thread   *loopThread
	logger   *log.Logger
	ready    bool
}

// Setup validates the configuration, pings the server and starts the
// background write loop over the given devices.
func (il *InfluxLogger) Setup(ctx context.Context, devices []SampledDevice) error {
	if len(il.Host) == 0 || len(il.Token) == 0 {
		return errors.Wrap(ErrInvalidConfig, "influx host and token must be set")
	}
	if len(il.Measurement) == 0 {
		il.Measurement = "gpiokit"
	}

	il.interval = defaultInfluxInterval
	if len(il.Interval) > 0 {
		interval, err := time.ParseDuration(il.Interval)
		if err != nil || interval <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "bad influx interval %q", il.Interval)
		}
		il.interval = interval
	}

	il.devices = devices
	il.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "InfluxLogger: ",
		Level:  log.GetLevel(),
	})

	il.client = influxdb2.NewClient(il.Host, il.Token)
	ok, err := il.client.Ping(ctx)
	if err != nil || !ok {
		return errors.Wrap(err, "failed to ping influx server")
	}
	il.writeApi = il.client.WriteAPIBlocking(il.Organization, il.Bucket)

	il.thread = newLoopThread()
	il.thread.Start(il.writeLoop)

	il.ready = true
	return nil
}

func (il *InfluxLogger) IsReady() bool {
	return il.ready
}

func (il *InfluxLogger) writeLoop() {
	for !il.thread.waitStop(il.interval) {
		il.writeRound()
	}
}

func (il *InfluxLogger) writeRound() {
	ctx, cancel := context.WithTimeout(context.Background(), influxWriteTimeout)
	defer cancel()

	for _, device := range il.devices {
		value, err := device.CurrentValue()
		if err != nil {
			il.logger.Error("failed to read device", "device", device.GetName(), "err", err)
			continue
		}

		point := influxdb2.NewPoint(il.Measurement,
			map[string]string{"device": device.GetName()},
			map[string]interface{}{"value": value},
			time.Now())

		err = il.writeApi.WritePoint(ctx, point)
		if err != nil {
			il.logger.Error("failed to write point", "device", device.GetName(), "err", err)
		}
	}
}

func (il *InfluxLogger) Close() error {
	if il.thread != nil {
		il.thread.Stop()
	}
	if il.client != nil {
		il.client.Close()
	}
	il.ready = false
	return nil
}
