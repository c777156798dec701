package gpiokit

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

const statusHttpTimeoutsMs = 3000

// StatusServer exposes device readings over a small token-guarded HTTP
// API:
//
//	GET /devices/token/:token
//	GET /device/:name/token/:token
type StatusServer struct {
	Token    string
	HttpAddr string

	devices map[string]SampledDevice
	server  *http.Server

	serverErr chan error
}

type deviceStatus struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (ss *StatusServer) Start(devices []SampledDevice) error {
	if len(ss.Token) == 0 {
		return errors.Wrap(ErrInvalidConfig, "status server token must be set")
	}
	if len(ss.HttpAddr) == 0 {
		return errors.Wrap(ErrInvalidConfig, "status server address must be set")
	}

	ss.devices = make(map[string]SampledDevice)
	for _, device := range devices {
		ss.devices[device.GetName()] = device
	}

	handler := httprouter.New()
	handler.GET("/devices/token/:token", ss.handleList)
	handler.GET("/device/:name/token/:token", ss.handleDevice)

	httpTimeout := statusHttpTimeoutsMs * time.Millisecond

	ss.server = &http.Server{
		Addr:              ss.HttpAddr,
		Handler:           handler,
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
	}

	ss.serverErr = make(chan error, 1)
	go func() {
		ss.serverErr <- ss.server.ListenAndServe()
	}()

	return nil
}

func (ss *StatusServer) checkToken(w http.ResponseWriter, p httprouter.Params) bool {
	if p.ByName("token") != ss.Token {
		http.Error(w, "bad token", http.StatusUnauthorized)
		return false
	}
	return true
}

func (ss *StatusServer) handleList(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !ss.checkToken(w, p) {
		return
	}

	statuses := []deviceStatus{}
	for _, device := range ss.devices {
		value, err := device.CurrentValue()
		if err != nil {
			continue
		}
		statuses = append(statuses, deviceStatus{Name: device.GetName(), Value: value})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statuses)
}

func (ss *StatusServer) handleDevice(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !ss.checkToken(w, p) {
		return
	}

	device, found := ss.devices[p.ByName("name")]
	if !found {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}

	value, err := device.CurrentValue()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deviceStatus{Name: device.GetName(), Value: value})
}

func (ss *StatusServer) Close() error {
	if ss.server == nil {
		return nil
	}
	return ss.server.Close()
}
