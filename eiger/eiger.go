/*
Package eiger provides a client for the REST interface of Dectris Eiger
area detectors.

The instrument exposes three subsystems over HTTP: the detector itself
(configuration, status, arm/trigger/disarm), a system endpoint (restart),
and a filewriter which buffers captured images and serves them for
download.  All values travel in a {"value": ...} envelope.
*/
package eiger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// APIVersion is the SIMPLON API version the client speaks
const APIVersion = "1.8.0"

// Parameters is the configuration set pushed to the detector by a
// Configure operation.  Values may be written at any time; they are inert
// until configured.
type Parameters struct {
	// ThresholdEnergy is the discriminator threshold in eV, normally
	// half the photon energy
	ThresholdEnergy float64 `json:"thresholdEnergy"`

	// PhotonEnergy is the incident photon energy in eV
	PhotonEnergy float64 `json:"photonEnergy"`

	// FrameTime is the time per frame in seconds
	FrameTime float64 `json:"frameTime"`

	// CountTime is the total exposure time in seconds
	CountTime float64 `json:"countTime"`

	// CountRateCorrection applies the detector's count rate correction
	CountRateCorrection bool `json:"countRateCorrection"`

	// FlatFieldCorrection applies the detector's flat field correction
	FlatFieldCorrection bool `json:"flatFieldCorrection"`

	// PixelMaskCorrection applies the detector's pixel mask
	PixelMaskCorrection bool `json:"pixelMaskCorrection"`

	// OutputFilePrefix is the stem of the filewriter's output names
	OutputFilePrefix string `json:"outputFilePrefix"`
}

// NImages is the number of frames in one exposure, ceil(CountTime/FrameTime)
func (p Parameters) NImages() int {
	if p.FrameTime <= 0 {
		return 1
	}
	n := int(math.Ceil(p.CountTime / p.FrameTime))
	if n < 1 {
		n = 1
	}
	return n
}

// MasterFile is the filewriter's name for the master file of exposure seq
func (p Parameters) MasterFile(seq int) string {
	return fmt.Sprintf("%s%d_master.h5", p.OutputFilePrefix, seq)
}

// DataFile is the filewriter's name for the first data file of exposure seq
func (p Parameters) DataFile(seq int) string {
	return fmt.Sprintf("%s%d_data_000001.h5", p.OutputFilePrefix, seq)
}

type valueT struct {
	Value interface{} `json:"value"`
}

type filesT struct {
	Value []string `json:"value"`
}

// Client speaks HTTP to an Eiger detector control unit
type Client struct {
	// Addr is the host:port of the detector control unit
	Addr string

	// HTTP is the underlying client; the zero value of Client is not
	// usable, call NewClient
	HTTP *http.Client
}

// NewClient returns a client for the detector control unit at host:port
func NewClient(host string, port int) *Client {
	return &Client{
		Addr: fmt.Sprintf("%s:%d", host, port),
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) url(subsystem, kind, key string) string {
	u := url.URL{
		Scheme: "http",
		Host:   c.Addr,
		Path:   fmt.Sprintf("/%s/api/%s/%s/%s", subsystem, APIVersion, kind, key),
	}
	return u.String()
}

// command POSTs a command to a subsystem, e.g. detector command "arm"
func (c *Client) command(subsystem, name string) error {
	resp, err := c.HTTP.Post(c.url(subsystem, "command", name), "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("eiger: command %s/%s returned %s: %s", subsystem, name, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// put writes a config value to a subsystem key
func (c *Client) put(subsystem, key string, value interface{}) error {
	buf, err := json.Marshal(valueT{Value: value})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, c.url(subsystem, "config", key), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("eiger: setting %s/%s returned %s: %s", subsystem, key, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// get reads a status or config key from a subsystem.  Reads are retried
// with an exponential backoff on transport errors; the detector's embedded
// server drops connections when it is working hard, and reads are
// idempotent.  Commands and writes are never retried.
func (c *Client) get(subsystem, kind, key string, dst interface{}) error {
	op := func() error {
		resp, err := c.HTTP.Get(c.url(subsystem, kind, key))
		if err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("eiger: reading %s/%s returned %s: %s", subsystem, key, resp.Status, strings.TrimSpace(string(body))))
		}
		return json.NewDecoder(resp.Body).Decode(dst)
	}
	return retryRead(op)
}

// retryRead retries a read with an exponential backoff; the control unit
// does not like being connection thrashed
func retryRead(op backoff.Operation) error {
	return backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
}

func transient(err error) bool {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "refused") || strings.Contains(s, "reset")
}

// Restart reboots the detector control unit
func (c *Client) Restart() error {
	return c.command("system", "restart")
}

// Initialize runs the detector's initialization sequence
func (c *Client) Initialize() error {
	return c.command("detector", "initialize")
}

// Arm readies the detector for an exposure
func (c *Client) Arm() error {
	return c.command("detector", "arm")
}

// Trigger starts the exposure.  In ints trigger mode the control unit
// holds the request open for the duration of the exposure.
func (c *Client) Trigger() error {
	return c.command("detector", "trigger")
}

// Disarm ends the exposure sequence
func (c *Client) Disarm() error {
	return c.command("detector", "disarm")
}

// Configure pushes a full parameter snapshot to the detector and the
// filewriter.  The filewriter's data store is cleared; clearing disables
// writing on this hardware, so the mode is re-enabled afterward.
func (c *Client) Configure(p Parameters) error {
	type kv struct {
		key   string
		value interface{}
	}
	detcfg := []kv{
		{"photon_energy", p.PhotonEnergy},
		{"threshold_energy", p.ThresholdEnergy},
		{"count_time", p.CountTime},
		{"frame_time", p.FrameTime},
		{"nimages", p.NImages()},
		{"count_rate_correction_applied", p.CountRateCorrection},
		{"flatfield_correction_applied", p.FlatFieldCorrection},
		{"pixel_mask_applied", p.PixelMaskCorrection},
		{"compression", "bslz4"},
		{"trigger_mode", "ints"},
	}
	for _, item := range detcfg {
		if err := c.put("detector", item.key, item.value); err != nil {
			return err
		}
	}
	if err := c.command("filewriter", "clear"); err != nil {
		return err
	}
	fwcfg := []kv{
		{"mode", "enabled"},
		{"name_pattern", p.OutputFilePrefix + "$id"},
		{"compression_enabled", true},
	}
	for _, item := range fwcfg {
		if err := c.put("filewriter", item.key, item.value); err != nil {
			return err
		}
	}
	if err := c.put("monitor", "mode", "disabled"); err != nil {
		return err
	}
	return c.put("stream", "mode", "disabled")
}

// State reads the detector's reported state, e.g. "idle" or "acquire"
func (c *Client) State() (string, error) {
	v := valueT{}
	err := c.get("detector", "status", "state", &v)
	if err != nil {
		return "", err
	}
	s, ok := v.Value.(string)
	if !ok {
		return "", fmt.Errorf("eiger: state was %T, expected string", v.Value)
	}
	return s, nil
}

// Temperature reads the detector board temperature in Celsius
func (c *Client) Temperature() (float64, error) {
	return c.getFloat("detector", "status", "temperature")
}

// Clock reads the detector's timestamp
func (c *Client) Clock() (string, error) {
	v := valueT{}
	err := c.get("detector", "status", "time", &v)
	if err != nil {
		return "", err
	}
	s, ok := v.Value.(string)
	if !ok {
		return "", fmt.Errorf("eiger: time was %T, expected string", v.Value)
	}
	return s, nil
}

// ActualCountTime reads the count time the hardware is actually using
func (c *Client) ActualCountTime() (float64, error) {
	return c.getFloat("detector", "config", "count_time")
}

// ActualFrameTime reads the frame time the hardware is actually using
func (c *Client) ActualFrameTime() (float64, error) {
	return c.getFloat("detector", "config", "frame_time")
}

func (c *Client) getFloat(subsystem, kind, key string) (float64, error) {
	v := valueT{}
	err := c.get(subsystem, kind, key, &v)
	if err != nil {
		return 0, err
	}
	f, ok := v.Value.(float64)
	if !ok {
		return 0, fmt.Errorf("eiger: %s was %T, expected float", key, v.Value)
	}
	return f, nil
}

// ListFiles returns the names of the files in the filewriter's data store
func (c *Client) ListFiles() ([]string, error) {
	f := filesT{}
	op := func() error {
		resp, err := c.HTTP.Get(fmt.Sprintf("http://%s/filewriter/api/%s/files", c.Addr, APIVersion))
		if err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("eiger: listing files returned %s", resp.Status))
		}
		return json.NewDecoder(resp.Body).Decode(&f)
	}
	err := retryRead(op)
	if err != nil {
		return nil, err
	}
	return f.Value, nil
}

// FetchFile downloads one file from the filewriter's data store
func (c *Client) FetchFile(name string) ([]byte, error) {
	resp, err := c.HTTP.Get(fmt.Sprintf("http://%s/data/%s", c.Addr, name))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("eiger: fetching %s returned %s", name, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
