package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/CodedInternet/osl/comms"
	"github.com/CodedInternet/osl/onboard"
	"github.com/CodedInternet/osl/onboard/statemachine"
	"github.com/CodedInternet/osl/store"
)

type fakeDevice struct {
	mu      sync.Mutex
	events  []statemachine.Event
	estops  int
	homed   int
	homeErr error
	calErr  error
	runErr  error
	runs    []onboard.RunOptions
	running atomic.Bool
	snap    onboard.Snapshot
}

func (d *fakeDevice) Snapshot() onboard.Snapshot { return d.snap }

func (d *fakeDevice) Post(ev statemachine.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return true
}

func (d *fakeDevice) RequestEstop() {
	d.mu.Lock()
	d.estops++
	d.mu.Unlock()
}

func (d *fakeDevice) Estop() { d.RequestEstop() }

func (d *fakeDevice) Reset() error { return nil }

func (d *fakeDevice) Home(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.homed++
	return d.homeErr
}

func (d *fakeDevice) CalibrateLoadCell(ctx context.Context) error { return d.calErr }
func (d *fakeDevice) CalibrateEncoders(ctx context.Context) error { return d.calErr }

func (d *fakeDevice) Run(ctx context.Context, opts onboard.RunOptions) error {
	if !d.running.CompareAndSwap(false, true) {
		return onboard.ErrLoopRunning
	}
	defer d.running.Store(false)

	d.mu.Lock()
	d.runs = append(d.runs, opts)
	runErr := d.runErr
	d.mu.Unlock()

	if runErr != nil {
		return runErr
	}
	<-ctx.Done()
	return nil
}

func (d *fakeDevice) Running() bool { return d.running.Load() }

// setupEnv points ENV at a fresh store and fake device.
func setupEnv(t *testing.T) *fakeDevice {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	So(err, ShouldBeNil)
	Reset(func() { st.Close() })

	dev := &fakeDevice{}
	ENV.JWT_SECRET = "test-secret"
	ENV.JWT_ISSUER = "TEST"
	ENV.DEBUG = false
	ENV.Store = st
	ENV.Device = dev
	ENV.Runner = NewRunner(dev, nil)
	ENV.Conductor = comms.NewConductor(dev, nil)
	return dev
}

func createOperator(email, password string) {
	op := &store.Operator{Email: email, Name: email}
	So(op.SetPassword([]byte(password)), ShouldBeNil)
	So(ENV.Store.SaveOperator(op), ShouldBeNil)
}

func jsonRequest(method, path string, v interface{}) *http.Request {
	var body bytes.Buffer
	if v != nil {
		json.NewEncoder(&body).Encode(v)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Add("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func bearer(req *http.Request) *http.Request {
	ts, err := newJWT("operator@test.case")
	So(err, ShouldBeNil)
	req.Header.Set("Authorization", "Bearer "+ts)
	return req
}
