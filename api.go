package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/CodedInternet/osl/onboard"
	"github.com/CodedInternet/osl/onboard/statemachine"
)

type StatusPayload struct {
	Status string `json:"status"`
}

var statusOK = StatusPayload{"ok"}

type EventPayload struct {
	Name string `json:"name"`
}

func (e *EventPayload) Bind(r *http.Request) error {
	if e.Name == "" {
		return errors.New("event name is required")
	}
	return nil
}

type RunPayload struct {
	Frequency       float64 `json:"frequency"`
	LogData         bool    `json:"log_data"`
	ApplyParameters bool    `json:"apply_parameters"`
	Cycles          int     `json:"cycles"`
}

func (p *RunPayload) Bind(r *http.Request) error {
	if p.Frequency < 0 || p.Cycles < 0 {
		return errors.New("frequency and cycles must not be negative")
	}
	return nil
}

// renderDeviceError maps leg errors onto status codes.
func renderDeviceError(w http.ResponseWriter, r *http.Request, err error) {
	var startup *onboard.StartupError
	switch {
	case errors.Is(err, onboard.ErrLoopRunning):
		render.Render(w, r, ErrConflict(err))
	case errors.Is(err, onboard.ErrNoLoadCell), errors.Is(err, onboard.ErrEmergencyStop):
		render.Render(w, r, ErrConflict(err))
	case errors.As(err, &startup):
		render.Render(w, r, ErrUnavailable(err))
	default:
		render.Render(w, r, ErrRender(err))
	}
}

// Status returns the latest leg snapshot.
func Status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ENV.Device.Snapshot())
}

func Home(w http.ResponseWriter, r *http.Request) {
	if ENV.Device.Running() {
		renderDeviceError(w, r, onboard.ErrLoopRunning)
		return
	}
	if err := ENV.Device.Home(r.Context()); err != nil {
		renderDeviceError(w, r, err)
		return
	}
	render.JSON(w, r, statusOK)
}

// Calibrate runs the loadcell or encoders calibration routine.
func Calibrate(w http.ResponseWriter, r *http.Request) {
	if ENV.Device.Running() {
		renderDeviceError(w, r, onboard.ErrLoopRunning)
		return
	}

	var err error
	switch target := chi.URLParam(r, "target"); target {
	case "loadcell":
		err = ENV.Device.CalibrateLoadCell(r.Context())
	case "encoders":
		err = ENV.Device.CalibrateEncoders(r.Context())
	default:
		render.Render(w, r, ErrInvalidRequest(fmt.Errorf("unknown calibration %q", target)))
		return
	}
	if err != nil {
		renderDeviceError(w, r, err)
		return
	}
	render.JSON(w, r, statusOK)
}

// Estop requests an emergency stop. It is taken at the next cycle boundary or
// immediately when the loop is idle.
func Estop(w http.ResponseWriter, r *http.Request) {
	ENV.Device.RequestEstop()
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, statusOK)
}

func ResetJoints(w http.ResponseWriter, r *http.Request) {
	if err := ENV.Device.Reset(); err != nil {
		renderDeviceError(w, r, err)
		return
	}
	render.JSON(w, r, statusOK)
}

func PostEvent(w http.ResponseWriter, r *http.Request) {
	data := &EventPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if !ENV.Device.Post(statemachine.Event(data.Name)) {
		render.Render(w, r, ErrUnavailable(errors.New("event queue full")))
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, statusOK)
}

func StartRun(w http.ResponseWriter, r *http.Request) {
	data := &RunPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	err := ENV.Runner.Start(onboard.RunOptions{
		Frequency:       data.Frequency,
		LogData:         data.LogData,
		ApplyParameters: data.ApplyParameters,
		Cycles:          data.Cycles,
	})
	if err != nil {
		renderDeviceError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, statusOK)
}

func StopRun(w http.ResponseWriter, r *http.Request) {
	if err := ENV.Runner.Stop(); err != nil && !errors.Is(err, onboard.ErrEmergencyStop) {
		renderDeviceError(w, r, err)
		return
	}
	render.JSON(w, r, statusOK)
}
