/*
Package detector contains the control state machine for an Eiger area
detector.

The Controller owns the authoritative detector state and sequences the
four long-running operations (Restart, Initialize, Configure, Trigger).
A write accepting an operation returns immediately; the hardware work
happens on a background worker which holds the access lock for its whole
duration, polls the instrument for completion, and reconciles the visible
state when it finishes.  Completion is observed by the caller polling the
operation's busy read-back until it flips false.
*/
package detector

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xraylab/eigerhttp/eiger"
	"github.com/xraylab/eigerhttp/imgrec"
	"github.com/xraylab/eigerhttp/locker"
)

// State describes the controller's view of the detector
type State string

// the full set of states; transitions out of the transient states are
// only ever made by the operation worker that entered them
const (
	// Unknown is the initial state before the first Restart
	Unknown State = "unknown"

	// NA is the mid-restart state; the hardware is rebooting
	NA State = "na"

	// Idle means the detector is ready for configuration or exposure
	Idle State = "idle"

	// Initializing, Configuring and Busy are the transient states of
	// their respective operations
	Initializing State = "initializing"
	Configuring  State = "configuring"
	Busy         State = "busy"

	// Error is entered on any operation failure and exited only by Restart
	Error State = "error"
)

var (
	// ErrBusy is returned when an operation write arrives while another
	// operation holds the detector
	ErrBusy = errors.New("another operation is in progress on the detector")

	// ErrWrongState is returned when the state table forbids an operation
	ErrWrongState = errors.New("operation not permitted in the current state")
)

// Client is the capability the controller uses to talk to the physical
// detector and its filewriter
type Client interface {
	Restart() error
	Initialize() error
	Configure(eiger.Parameters) error
	Arm() error
	Trigger() error
	Disarm() error
	State() (string, error)
	Temperature() (float64, error)
	Clock() (string, error)
	ActualCountTime() (float64, error)
	ActualFrameTime() (float64, error)
	ListFiles() ([]string, error)
	FetchFile(string) ([]byte, error)
}

// Timeouts bounds the controller's wait-for-hardware loops.  Poll is the
// fixed interval between probes; the rest are per-operation maximum waits.
type Timeouts struct {
	Poll           time.Duration
	Restart        time.Duration
	Initialize     time.Duration
	Configure      time.Duration
	ExposureMargin time.Duration
	Retrieval      time.Duration
}

// DefaultTimeouts returns the stock timeout set
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Poll:           250 * time.Millisecond,
		Restart:        2 * time.Minute,
		Initialize:     2 * time.Minute,
		Configure:      30 * time.Second,
		ExposureMargin: 30 * time.Second,
		Retrieval:      30 * time.Second,
	}
}

// Controller sequences operations against a single physical detector
type Controller struct {
	client Client
	rec    *imgrec.Recorder
	lock   *locker.AccessLock

	// Hook is invoked once per fully retrieved exposure.  Set it before
	// serving requests; the default is a no-op.
	Hook PostAcquisition

	// Timeouts bounds the poll loops.  Set it before serving requests.
	Timeouts Timeouts

	mu             sync.Mutex
	state          State
	seq            int
	params         eiger.Parameters
	restartBusy    bool
	initializeBusy bool
	configureBusy  bool
	triggerBusy    bool
	latest         string
	latestMain     string
	latestData     string
	lastHookErr    string
	expStart       time.Time
	expCount       float64
	exposed        bool

	temperature  *floatGauge
	clock        *stringGauge
	countTimeRBV *floatGauge
	frameTimeRBV *floatGauge
}

// New returns a controller in the unknown state with default parameters
func New(client Client, rec *imgrec.Recorder) *Controller {
	c := &Controller{
		client:   client,
		rec:      rec,
		lock:     locker.New(),
		Hook:     NoopHook{},
		Timeouts: DefaultTimeouts(),
		state:    Unknown,
		params: eiger.Parameters{
			PhotonEnergy:     8050,
			ThresholdEnergy:  4025,
			CountTime:        1,
			FrameTime:        1,
			OutputFilePrefix: "eiger_",
		},
	}
	c.temperature = newFloatGauge(client.Temperature)
	c.countTimeRBV = newFloatGauge(client.ActualCountTime)
	c.frameTimeRBV = newFloatGauge(client.ActualFrameTime)
	c.clock = newStringGauge(client.Clock)
	return c
}

// Lock exposes the access lock so the HTTP layer can bind the lockout
// routes and middleware
func (c *Controller) Lock() *locker.AccessLock {
	return c.lock
}

// State returns the controller's authoritative detector state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Sequence returns the exposure sequence counter
func (c *Controller) Sequence() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Restart reboots the detector.  It is accepted from any state; the
// sequence counter resets before any hardware contact, so it reads zero
// even if the restart subsequently fails.
func (c *Controller) Restart() error {
	c.mu.Lock()
	if c.restartBusy {
		c.mu.Unlock()
		return ErrBusy
	}
	if !c.lock.TryLock() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.restartBusy = true
	c.seq = 0
	c.state = NA
	c.mu.Unlock()
	go c.runRestart()
	return nil
}

func (c *Controller) runRestart() {
	defer c.lock.Unlock()
	log.Println("restarting detector")
	err := c.client.Restart()
	if err == nil {
		err = c.pollHardware(func(s string) bool {
			return s == "na" || s == "idle" || s == "ready"
		}, c.Timeouts.Restart)
	}
	c.finish("restart", &c.restartBusy, err)
}

// Initialize runs the detector's initialization sequence.  Accepted from
// na, idle, and error.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	if c.initializeBusy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != NA && c.state != Idle && c.state != Error {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("initialize from %s: %w", s, ErrWrongState)
	}
	if !c.lock.TryLock() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.initializeBusy = true
	c.state = Initializing
	c.mu.Unlock()
	go c.runInitialize()
	return nil
}

func (c *Controller) runInitialize() {
	defer c.lock.Unlock()
	log.Println("initializing detector")
	err := c.client.Initialize()
	if err == nil {
		err = c.pollHardware(hardwareReady, c.Timeouts.Initialize)
	}
	c.finish("initialize", &c.initializeBusy, err)
}

// Configure pushes the current parameter snapshot to the hardware and the
// filewriter.  Accepted from idle only.
func (c *Controller) Configure() error {
	c.mu.Lock()
	if c.configureBusy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != Idle {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("configure from %s: %w", s, ErrWrongState)
	}
	if !c.lock.TryLock() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.configureBusy = true
	c.state = Configuring
	p := c.params
	c.mu.Unlock()
	go c.runConfigure(p)
	return nil
}

func (c *Controller) runConfigure(p eiger.Parameters) {
	defer c.lock.Unlock()
	log.Printf("configuring detector: count %gs frame %gs energy %geV threshold %geV prefix %q",
		p.CountTime, p.FrameTime, p.PhotonEnergy, p.ThresholdEnergy, p.OutputFilePrefix)
	err := c.client.Configure(p)
	if err == nil {
		err = c.pollHardware(hardwareReady, c.Timeouts.Configure)
	}
	c.finish("configure", &c.configureBusy, err)
}

// Trigger runs one exposure: arm, expose, disarm, retrieve the resulting
// files, and invoke the post-acquisition hook.  Accepted from idle only.
// The sequence counter increments on acceptance, before any hardware call.
func (c *Controller) Trigger() error {
	c.mu.Lock()
	if c.triggerBusy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != Idle {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("trigger from %s: %w", s, ErrWrongState)
	}
	if !c.lock.TryLock() {
		c.mu.Unlock()
		return ErrBusy
	}
	c.triggerBusy = true
	c.state = Busy
	c.seq++
	seq := c.seq
	p := c.params
	c.expStart = time.Now()
	c.expCount = p.CountTime
	c.exposed = true
	c.mu.Unlock()
	go c.runTrigger(p, seq)
	return nil
}

func (c *Controller) runTrigger(p eiger.Parameters, seq int) {
	defer c.lock.Unlock()
	log.Printf("exposure %d starting, count time %g s", seq, p.CountTime)
	err := c.client.Arm()
	if err == nil {
		err = c.client.Trigger()
	}
	if err == nil {
		err = c.client.Disarm()
	}
	if err == nil {
		// the trigger call holds for the exposure in ints mode, but the
		// control unit may lag before it reports ready again
		max := time.Duration(p.CountTime*float64(time.Second)) + c.Timeouts.ExposureMargin
		err = c.pollHardware(hardwareReady, max)
	}
	if err != nil {
		c.finish("trigger", &c.triggerBusy, err)
		return
	}
	files, err := c.retrieve(p, seq)
	if err != nil {
		c.finish("trigger", &c.triggerBusy, err)
		return
	}
	if hookErr := c.Hook.Execute(files); hookErr != nil {
		// the exposure itself succeeded; hook failures do not retract it
		log.Printf("post-acquisition hook failed: %v", hookErr)
		c.mu.Lock()
		c.lastHookErr = hookErr.Error()
		c.mu.Unlock()
	}
	c.finish("trigger", &c.triggerBusy, nil)
	log.Printf("exposure %d complete, %d files retrieved", seq, len(files))
}

// retrieve polls the filewriter until the exposure's main and data files
// appear, dumping each to local disk as it shows up.  Files already
// retrieved are kept even when retrieval ultimately fails.
func (c *Controller) retrieve(p eiger.Parameters, seq int) ([]imgrec.RetrievedFile, error) {
	expected := map[string]imgrec.Kind{
		p.MasterFile(seq): imgrec.Main,
		p.DataFile(seq):   imgrec.Data,
	}
	var got []imgrec.RetrievedFile
	deadline := time.Now().Add(c.Timeouts.Retrieval)
	fetched := map[string]bool{}
	for {
		names, err := c.client.ListFiles()
		if err != nil {
			return got, err
		}
		for _, name := range names {
			kind, want := expected[name]
			if !want || fetched[name] {
				continue
			}
			data, err := c.client.FetchFile(name)
			if err != nil {
				return got, err
			}
			rf, err := c.rec.Record(p.OutputFilePrefix, seq, kind, data)
			if err != nil {
				return got, err
			}
			fetched[name] = true
			got = append(got, rf)
			c.noteRetrieved(rf)
			log.Printf("retrieved %s -> %s (crc %04X)", name, rf.Path, rf.CRC)
		}
		if len(fetched) == len(expected) {
			return orderFiles(got), nil
		}
		if time.Now().After(deadline) {
			return got, fmt.Errorf("retrieval timed out with %d of %d files", len(fetched), len(expected))
		}
		time.Sleep(c.Timeouts.Poll)
	}
}

// orderFiles puts the main file ahead of the data file for hook consumers
func orderFiles(files []imgrec.RetrievedFile) []imgrec.RetrievedFile {
	if len(files) == 2 && files[0].Kind == imgrec.Data {
		files[0], files[1] = files[1], files[0]
	}
	return files
}

func (c *Controller) noteRetrieved(rf imgrec.RetrievedFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = rf.Path
	switch rf.Kind {
	case imgrec.Main:
		c.latestMain = rf.Path
	case imgrec.Data:
		c.latestData = rf.Path
	}
}

// finish reconciles the visible state at the end of an operation worker
func (c *Controller) finish(op string, busy *bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*busy = false
	if err != nil {
		c.state = Error
		log.Printf("%s failed: %v", op, err)
		return
	}
	c.state = Idle
}

func hardwareReady(s string) bool {
	return s == "idle" || s == "ready"
}

// pollHardware probes the hardware state at the fixed poll interval until
// ready returns true or max elapses.  A hardware-reported error state and
// a timeout both fail the waiting operation.
func (c *Controller) pollHardware(ready func(string) bool, max time.Duration) error {
	deadline := time.Now().Add(max)
	for {
		s, err := c.client.State()
		if err == nil {
			if ready(s) {
				return nil
			}
			if s == "error" {
				return errors.New("hardware reported error state")
			}
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("timed out waiting for hardware: %w", err)
			}
			return fmt.Errorf("timed out waiting for hardware, last state %q", s)
		}
		time.Sleep(c.Timeouts.Poll)
	}
}

// SecondsRemaining is the countdown of the exposure in progress.  It
// returns -999 before the first exposure, matching the sentinel clients
// of the previous control system expect.
func (c *Controller) SecondsRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.exposed {
		return -999
	}
	rem := c.expCount - time.Since(c.expStart).Seconds()
	if rem < 0 {
		rem = 0
	}
	return int(rem)
}

// LatestFile is the local path of the most recently retrieved file of any kind
func (c *Controller) LatestFile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// LatestFileMain is the local path of the most recently retrieved main file
func (c *Controller) LatestFileMain() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestMain
}

// LatestFileData is the local path of the most recently retrieved data file
func (c *Controller) LatestFileData() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestData
}

// LastHookError is the message of the most recent hook failure, empty if none
func (c *Controller) LastHookError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHookErr
}

// RestartBusy is the restart operation's busy read-back
func (c *Controller) RestartBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restartBusy
}

// InitializeBusy is the initialize operation's busy read-back
func (c *Controller) InitializeBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initializeBusy
}

// ConfigureBusy is the configure operation's busy read-back
func (c *Controller) ConfigureBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configureBusy
}

// TriggerBusy is the trigger operation's busy read-back
func (c *Controller) TriggerBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggerBusy
}

// Temperature is the detector board temperature, -999 when unreadable
func (c *Controller) Temperature() float64 {
	return c.temperature.get()
}

// Clock is the detector timestamp, "unknown" when unreadable
func (c *Controller) Clock() string {
	return c.clock.get()
}

// CountTimeRBV is the hardware-reported count time, -999 when unreadable
func (c *Controller) CountTimeRBV() float64 {
	return c.countTimeRBV.get()
}

// FrameTimeRBV is the hardware-reported frame time, -999 when unreadable
func (c *Controller) FrameTimeRBV() float64 {
	return c.frameTimeRBV.get()
}
