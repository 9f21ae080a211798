package detector

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xraylab/eigerhttp/generichttp"
)

// HTTPWrapper exposes a Controller's process variables over HTTP
type HTTPWrapper struct {
	// Controller is the control state machine being wrapped
	*Controller

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new wrapper with the route table populated
func NewHTTPWrapper(c *Controller) HTTPWrapper {
	w := HTTPWrapper{Controller: c}
	rt := generichttp.RouteTable{
		// state readouts
		get("/detector-state"): generichttp.GetString(noErrS(func() string { return string(c.State()) })),
		get("/temperature"):    generichttp.GetFloat(noErrF(c.Temperature)),
		get("/time"):           generichttp.GetString(noErrS(c.Clock)),
		get("/count-time-rbv"): generichttp.GetFloat(noErrF(c.CountTimeRBV)),
		get("/frame-time-rbv"): generichttp.GetFloat(noErrF(c.FrameTimeRBV)),

		// settables, inert until configured
		get("/threshold-energy"):       generichttp.GetFloat(noErrF(c.ThresholdEnergy)),
		post("/threshold-energy"):      generichttp.SetFloat(noErrSetF(c.SetThresholdEnergy)),
		get("/photon-energy"):          generichttp.GetFloat(noErrF(c.PhotonEnergy)),
		post("/photon-energy"):         generichttp.SetFloat(noErrSetF(c.SetPhotonEnergy)),
		get("/frame-time"):             generichttp.GetFloat(noErrF(c.FrameTime)),
		post("/frame-time"):            generichttp.SetFloat(noErrSetF(c.SetFrameTime)),
		get("/count-time"):             generichttp.GetFloat(noErrF(c.CountTime)),
		post("/count-time"):            generichttp.SetFloat(noErrSetF(c.SetCountTime)),
		get("/count-rate-correction"):  generichttp.GetBool(noErrB(c.CountRateCorrection)),
		post("/count-rate-correction"): generichttp.SetBool(noErrSetB(c.SetCountRateCorrection)),
		get("/flat-field-correction"):  generichttp.GetBool(noErrB(c.FlatFieldCorrection)),
		post("/flat-field-correction"): generichttp.SetBool(noErrSetB(c.SetFlatFieldCorrection)),
		get("/pixel-mask-correction"):  generichttp.GetBool(noErrB(c.PixelMaskCorrection)),
		post("/pixel-mask-correction"): generichttp.SetBool(noErrSetB(c.SetPixelMaskCorrection)),
		get("/output-file-prefix"):     generichttp.GetString(noErrS(c.OutputFilePrefix)),
		post("/output-file-prefix"):    generichttp.SetString(noErrSetS(c.SetOutputFilePrefix)),

		// operating the detector; writes of true are edge-triggered
		// commands, paired -rbv routes read the busy flags
		post("/restart"):       command(c.Restart),
		get("/restart-rbv"):    generichttp.GetBool(noErrB(c.RestartBusy)),
		post("/initialize"):    command(c.Initialize),
		get("/initialize-rbv"): generichttp.GetBool(noErrB(c.InitializeBusy)),
		post("/configure"):     command(c.Configure),
		get("/configure-rbv"):  generichttp.GetBool(noErrB(c.ConfigureBusy)),
		post("/trigger"):       command(c.Trigger),
		get("/trigger-rbv"):    generichttp.GetBool(noErrB(c.TriggerBusy)),

		// acquisition results
		get("/latest-file"):       generichttp.GetString(noErrS(c.LatestFile)),
		get("/latest-file-main"):  generichttp.GetString(noErrS(c.LatestFileMain)),
		get("/latest-file-data"):  generichttp.GetString(noErrS(c.LatestFileData)),
		get("/seconds-remaining"): generichttp.GetInt(noErrI(c.SecondsRemaining)),
		get("/exposure-counter"):  generichttp.GetInt(noErrI(c.Sequence)),
		get("/last-hook-error"):   generichttp.GetString(noErrS(c.LastHookError)),
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func get(path string) generichttp.MethodPath {
	return generichttp.MethodPath{Method: http.MethodGet, Path: path}
}

func post(path string) generichttp.MethodPath {
	return generichttp.MethodPath{Method: http.MethodPost, Path: path}
}

// command adapts an operation entry point to the edge-triggered command
// variable convention: a body of {"bool": true} invokes the operation, a
// body of false is an accepted no-op.  A rejected operation returns 423
// when the detector is held by another operation and 409 when the state
// table forbids it; the visible trigger flag never latches either way.
func command(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := generichttp.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !b.Bool {
			w.WriteHeader(http.StatusOK)
			return
		}
		err = op()
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, ErrBusy):
			http.Error(w, err.Error(), http.StatusLocked)
		case errors.Is(err, ErrWrongState):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// adapters from the controller's infallible accessors to the fallible
// signatures the generichttp factories expect

func noErrF(f func() float64) func() (float64, error) {
	return func() (float64, error) { return f(), nil }
}

func noErrI(f func() int) func() (int, error) {
	return func() (int, error) { return f(), nil }
}

func noErrS(f func() string) func() (string, error) {
	return func() (string, error) { return f(), nil }
}

func noErrB(f func() bool) func() (bool, error) {
	return func() (bool, error) { return f(), nil }
}

func noErrSetF(f func(float64)) func(float64) error {
	return func(v float64) error { f(v); return nil }
}

func noErrSetB(f func(bool)) func(bool) error {
	return func(v bool) error { f(v); return nil }
}

func noErrSetS(f func(string)) func(string) error {
	return func(v string) error { f(v); return nil }
}
