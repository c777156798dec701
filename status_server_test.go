package gpiokit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

type stubDevice struct {
	name  string
	value float64
	err   error
}

func (sd *stubDevice) GetName() string { return sd.name }

func (sd *stubDevice) CurrentValue() (float64, error) { return sd.value, sd.err }

func newStubStatusServer() *StatusServer {
	ss := &StatusServer{Token: "secret", HttpAddr: "localhost:0"}
	ss.devices = map[string]SampledDevice{
		"hall": &stubDevice{name: "hall", value: 0.5},
	}
	return ss
}

func TestStatusServerStartValidation(t *testing.T) {
	for _, tc := range []struct {
		name   string
		server StatusServer
	}{
		{"missing token", StatusServer{HttpAddr: "localhost:0"}},
		{"missing address", StatusServer{Token: "secret"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.server.Start(nil)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("got err %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestStatusServerDeviceHandler(t *testing.T) {
	ss := newStubStatusServer()

	t.Run("bad token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/device/hall/token/wrong", nil)
		ss.handleDevice(rec, req, httprouter.Params{
			{Key: "name", Value: "hall"},
			{Key: "token", Value: "wrong"},
		})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("got status %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/device/nope/token/secret", nil)
		ss.handleDevice(rec, req, httprouter.Params{
			{Key: "name", Value: "nope"},
			{Key: "token", Value: "secret"},
		})
		if rec.Code != http.StatusNotFound {
			t.Errorf("got status %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("known device", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/device/hall/token/secret", nil)
		ss.handleDevice(rec, req, httprouter.Params{
			{Key: "name", Value: "hall"},
			{Key: "token", Value: "secret"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
		}

		var status deviceStatus
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if status.Name != "hall" {
			t.Errorf("got name %s, want hall", status.Name)
		}
		assertFloat(t, status.Value, 0.5)
	})
}

func TestStatusServerListHandler(t *testing.T) {
	ss := newStubStatusServer()
	ss.devices["broken"] = &stubDevice{name: "broken", err: errors.New("dead pin")}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices/token/secret", nil)
	ss.handleList(rec, req, httprouter.Params{{Key: "token", Value: "secret"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}

	var statuses []deviceStatus
	if err := json.NewDecoder(rec.Body).Decode(&statuses); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// Devices whose reading fails are skipped, not reported as zero.
	if len(statuses) != 1 {
		t.Fatalf("got %d statuses, want 1", len(statuses))
	}
	if statuses[0].Name != "hall" {
		t.Errorf("got name %s, want hall", statuses[0].Name)
	}
}
