package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/hubertat/servicemaker"

	"github.com/hubertat/gpiokit"
)

const defaultSyncInterval = "330ms"

var (
	Version string
	Build   string

	config       = flag.String("config", "config.json", "path of the configuration file")
	flagInstall  = flag.Bool("install", false, "Install service in os")
	syncInterval = flag.String("sync", defaultSyncInterval, "sync interval (time.Duration)")

	kitService = servicemaker.ServiceMaker{
		User:               "gpiokit",
		UserGroups:         []string{"gpio"},
		ServicePath:        "/etc/systemd/system/gpiokit.service",
		ServiceDescription: "gpiokit service: HomeKit enabled GPIO sensor/led controller. github.com/hubertat/gpiokit",
		ExecDir:            "/srv/gpiokit",
		ExecName:           "gpiokit",
	}
)

func main() {
	log.Printf("gpiokit %s started\n", Version)
	flag.Parse()

	if *flagInstall {
		err := kitService.InstallService()
		if err != nil {
			panic(err)
		} else {
			log.Println("service installed!")
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncDuration, err := time.ParseDuration(*syncInterval)
	if err != nil {
		panic(err)
	}

	kit := &gpiokit.Kit{}
	configFile, err := os.Open(*config)
	if err == nil {
		cBuff, err := io.ReadAll(configFile)
		if err != nil {
			log.Fatalf("failed reading config file: %v\n", err)
		}

		err = json.Unmarshal(cBuff, kit)
		if err != nil {
			log.Fatalf("failed unmarshalling json config: %v", err)
		}
	} else {
		log.Fatalf("can't find/open config file (%s), will terminate. Reason: \n%v\n", *config, err)
	}

	log.Println("will init gpiokit drivers...")
	err = kit.InitDrivers(ctx)
	defer kit.Close()
	if err != nil {
		panic(err)
	}

	log.Println("will init gpiokit IOs...")
	err = kit.InitIos()
	if err != nil {
		panic(err)
	}

	kit.PrintIoStatus(os.Stdout)

	if len(kit.MqttBroker) > 0 {
		err = kit.InitMqtt()
		if err != nil {
			log.Printf("mqtt init returned error: %v\n we will proceed...", err)
		}
	}

	err = kit.StartStatusServer()
	if err != nil {
		log.Printf("status server returned error: %v\n we will proceed...", err)
	}

	err = kit.StartInflux(ctx)
	if err != nil {
		log.Printf("influx logger returned error: %v\n we will proceed...", err)
	}

	if len(kit.HkPin) == 8 {
		log.Println("Starting with HomeKit server")

		go kit.StartTicker(syncDuration)
		log.Fatal(kit.StartHomeKit(context.Background(), Version))
	} else {
		log.Println("HomeKit not configured, disabled")
		kit.StartTicker(syncDuration)
	}
}
