package eiger

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeUnit is an httptest stand-in for the detector control unit.  It
// records every request and answers from a canned response map.
type fakeUnit struct {
	mu       sync.Mutex
	requests []recordedRequest

	// responses maps "METHOD path" to a canned body; missing entries
	// answer 200 with an empty body
	responses map[string]string

	// failWith maps "METHOD path" to a status code to answer with
	failWith map[string]int
}

type recordedRequest struct {
	method string
	path   string
	body   string
}

func (f *fakeUnit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{r.Method, r.URL.Path, string(body)})
	f.mu.Unlock()
	key := r.Method + " " + r.URL.Path
	if code, ok := f.failWith[key]; ok {
		http.Error(w, "nope", code)
		return
	}
	if resp, ok := f.responses[key]; ok {
		w.Write([]byte(resp))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeUnit) saw(method, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.method == method && r.path == path {
			return true
		}
	}
	return false
}

func (f *fakeUnit) bodyOf(method, path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.method == method && r.path == path {
			return r.body
		}
	}
	return ""
}

func newFakeClient(t *testing.T, f *fakeUnit) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return &Client{Addr: strings.TrimPrefix(srv.URL, "http://"), HTTP: srv.Client()}
}

func TestNImages(t *testing.T) {
	cases := []struct {
		count, frame float64
		want         int
	}{
		{1, 1, 1},
		{1, 0.1, 10},
		{0.25, 0.1, 3}, // partial frames round up
		{1, 0, 1},      // unset frame time degrades to a single image
	}
	for _, tc := range cases {
		p := Parameters{CountTime: tc.count, FrameTime: tc.frame}
		if got := p.NImages(); got != tc.want {
			t.Errorf("NImages(count=%g frame=%g): got %d, want %d", tc.count, tc.frame, got, tc.want)
		}
	}
}

func TestFilewriterNames(t *testing.T) {
	p := Parameters{OutputFilePrefix: "series_"}
	if got := p.MasterFile(7); got != "series_7_master.h5" {
		t.Errorf("master file name: got %q", got)
	}
	if got := p.DataFile(7); got != "series_7_data_000001.h5" {
		t.Errorf("data file name: got %q", got)
	}
}

func TestCommandsRouteToSubsystems(t *testing.T) {
	f := &fakeUnit{}
	c := newFakeClient(t, f)

	steps := []struct {
		call func() error
		path string
	}{
		{c.Restart, "/system/api/1.8.0/command/restart"},
		{c.Initialize, "/detector/api/1.8.0/command/initialize"},
		{c.Arm, "/detector/api/1.8.0/command/arm"},
		{c.Trigger, "/detector/api/1.8.0/command/trigger"},
		{c.Disarm, "/detector/api/1.8.0/command/disarm"},
	}
	for _, s := range steps {
		if err := s.call(); err != nil {
			t.Fatalf("command to %s: %v", s.path, err)
		}
		if !f.saw(http.MethodPost, s.path) {
			t.Errorf("no POST recorded at %s", s.path)
		}
	}
}

func TestCommandErrorIncludesBody(t *testing.T) {
	f := &fakeUnit{failWith: map[string]int{
		"POST /detector/api/1.8.0/command/arm": http.StatusBadRequest,
	}}
	c := newFakeClient(t, f)
	err := c.Arm()
	if err == nil {
		t.Fatal("arm against a refusing unit did not error")
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error does not carry the unit's message: %v", err)
	}
}

func TestConfigurePushesFullSnapshot(t *testing.T) {
	f := &fakeUnit{}
	c := newFakeClient(t, f)
	p := Parameters{
		PhotonEnergy:        12000,
		ThresholdEnergy:     6000,
		CountTime:           1,
		FrameTime:           0.1,
		CountRateCorrection: true,
		OutputFilePrefix:    "scan_",
	}
	if err := c.Configure(p); err != nil {
		t.Fatal(err)
	}

	cfg := "/detector/api/1.8.0/config/"
	puts := map[string]string{
		cfg + "photon_energy":                       `{"value":12000}`,
		cfg + "threshold_energy":                    `{"value":6000}`,
		cfg + "count_time":                          `{"value":1}`,
		cfg + "frame_time":                          `{"value":0.1}`,
		cfg + "nimages":                             `{"value":10}`,
		cfg + "count_rate_correction_applied":       `{"value":true}`,
		cfg + "flatfield_correction_applied":        `{"value":false}`,
		cfg + "pixel_mask_applied":                  `{"value":false}`,
		cfg + "compression":                         `{"value":"bslz4"}`,
		cfg + "trigger_mode":                        `{"value":"ints"}`,
		"/filewriter/api/1.8.0/config/mode":         `{"value":"enabled"}`,
		"/filewriter/api/1.8.0/config/name_pattern": `{"value":"scan_$id"}`,
		"/monitor/api/1.8.0/config/mode":            `{"value":"disabled"}`,
		"/stream/api/1.8.0/config/mode":             `{"value":"disabled"}`,
	}
	for path, want := range puts {
		if got := f.bodyOf(http.MethodPut, path); got != want {
			t.Errorf("PUT %s: got body %q, want %q", path, got, want)
		}
	}
	if !f.saw(http.MethodPost, "/filewriter/api/1.8.0/command/clear") {
		t.Error("configure did not clear the filewriter data store")
	}
}

func TestConfigureClearsBeforeEnablingFilewriter(t *testing.T) {
	f := &fakeUnit{}
	c := newFakeClient(t, f)
	if err := c.Configure(Parameters{CountTime: 1, FrameTime: 1, OutputFilePrefix: "x_"}); err != nil {
		t.Fatal(err)
	}
	clearAt, modeAt := -1, -1
	f.mu.Lock()
	for i, r := range f.requests {
		switch r.path {
		case "/filewriter/api/1.8.0/command/clear":
			clearAt = i
		case "/filewriter/api/1.8.0/config/mode":
			modeAt = i
		}
	}
	f.mu.Unlock()
	if clearAt == -1 || modeAt == -1 {
		t.Fatalf("missing filewriter traffic: clear %d mode %d", clearAt, modeAt)
	}
	// clearing disables the filewriter; the mode write must come after
	if clearAt > modeAt {
		t.Errorf("filewriter mode written at %d before clear at %d", modeAt, clearAt)
	}
}

func TestStateAndStatusReads(t *testing.T) {
	f := &fakeUnit{responses: map[string]string{
		"GET /detector/api/1.8.0/status/state":       `{"value":"idle"}`,
		"GET /detector/api/1.8.0/status/temperature": `{"value":23.5}`,
		"GET /detector/api/1.8.0/status/time":        `{"value":"2026-08-26T10:00:00Z"}`,
		"GET /detector/api/1.8.0/config/count_time":  `{"value":0.5}`,
		"GET /detector/api/1.8.0/config/frame_time":  `{"value":0.05}`,
	}}
	c := newFakeClient(t, f)

	s, err := c.State()
	if err != nil || s != "idle" {
		t.Errorf("state: got %q, %v", s, err)
	}
	temp, err := c.Temperature()
	if err != nil || temp != 23.5 {
		t.Errorf("temperature: got %g, %v", temp, err)
	}
	clock, err := c.Clock()
	if err != nil || clock != "2026-08-26T10:00:00Z" {
		t.Errorf("clock: got %q, %v", clock, err)
	}
	ct, err := c.ActualCountTime()
	if err != nil || ct != 0.5 {
		t.Errorf("actual count time: got %g, %v", ct, err)
	}
	ft, err := c.ActualFrameTime()
	if err != nil || ft != 0.05 {
		t.Errorf("actual frame time: got %g, %v", ft, err)
	}
}

func TestReadHTTPErrorIsNotRetried(t *testing.T) {
	f := &fakeUnit{failWith: map[string]int{
		"GET /detector/api/1.8.0/status/state": http.StatusInternalServerError,
	}}
	c := newFakeClient(t, f)
	if _, err := c.State(); err == nil {
		t.Fatal("state read against a failing unit did not error")
	}
	f.mu.Lock()
	n := len(f.requests)
	f.mu.Unlock()
	if n != 1 {
		t.Errorf("HTTP-level failure was retried %d times; server errors are permanent", n)
	}
}

func TestListFiles(t *testing.T) {
	f := &fakeUnit{responses: map[string]string{
		"GET /filewriter/api/1.8.0/files": `{"value":["a_1_master.h5","a_1_data_000001.h5"]}`,
	}}
	c := newFakeClient(t, f)
	names, err := c.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "a_1_master.h5" {
		t.Errorf("listed files: got %v", names)
	}
}

func TestFetchFile(t *testing.T) {
	f := &fakeUnit{responses: map[string]string{
		"GET /data/a_1_master.h5": "HDF5 bytes",
	}}
	c := newFakeClient(t, f)
	data, err := c.FetchFile("a_1_master.h5")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "HDF5 bytes" {
		t.Errorf("fetched contents: got %q", data)
	}
	if _, err := c.FetchFile("missing.h5"); err == nil {
		t.Error("fetching a missing file did not error")
	}
	if !f.saw(http.MethodGet, "/data/a_1_master.h5") {
		t.Error("fetch did not hit the raw data path")
	}
}
