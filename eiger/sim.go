package eiger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sim is an in-memory simulation of a detector control unit and its
// filewriter.  It lets the server run with no hardware attached
// (Mock: true in the config) and drives the package tests.
//
// The zero value is not usable, call NewSim.
type Sim struct {
	mu         sync.Mutex
	state      string
	params     Parameters
	configured bool
	armed      bool
	acq        int
	files      map[string][]byte

	// FailRestart et al inject a hardware-reported failure into the
	// corresponding call
	FailRestart    bool
	FailInitialize bool
	FailConfigure  bool
	FailArm        bool
	FailTrigger    bool

	// OmitDataFile suppresses the data file of subsequent exposures,
	// leaving only the master in the data store
	OmitDataFile bool

	// FileDelay postpones the appearance of files in the data store
	// after an exposure completes
	FileDelay time.Duration
}

// NewSim returns a simulated detector in the freshly-booted "na" state
func NewSim() *Sim {
	return &Sim{state: "na", files: map[string][]byte{}}
}

// Restart reboots the simulated control unit, clearing the data store
func (s *Sim) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRestart {
		return errors.New("sim: restart refused")
	}
	s.state = "na"
	s.armed = false
	s.acq = 0
	s.files = map[string][]byte{}
	return nil
}

// Initialize brings the simulated detector to idle
func (s *Sim) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInitialize {
		return errors.New("sim: initialize failed")
	}
	s.state = "idle"
	return nil
}

// Configure stores the parameter snapshot and clears the data store
func (s *Sim) Configure(p Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailConfigure {
		return errors.New("sim: configure rejected")
	}
	s.params = p
	s.configured = true
	s.files = map[string][]byte{}
	return nil
}

// Arm readies the next exposure and advances the filewriter id
func (s *Sim) Arm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailArm {
		return errors.New("sim: arm failed")
	}
	if s.state != "idle" {
		return fmt.Errorf("sim: cannot arm from state %s", s.state)
	}
	s.armed = true
	s.acq++
	return nil
}

// Trigger blocks for the configured count time, then deposits the
// exposure's files in the data store.  This mirrors the hardware's ints
// trigger mode, which holds the request open for the exposure duration.
func (s *Sim) Trigger() error {
	s.mu.Lock()
	if s.FailTrigger {
		s.mu.Unlock()
		return errors.New("sim: trigger failed")
	}
	if !s.armed {
		s.mu.Unlock()
		return errors.New("sim: trigger while not armed")
	}
	s.state = "acquire"
	p := s.params
	seq := s.acq
	delay := s.FileDelay
	omit := s.OmitDataFile
	s.mu.Unlock()

	time.Sleep(time.Duration(p.CountTime * float64(time.Second)))

	deposit := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.files[p.MasterFile(seq)] = []byte(fmt.Sprintf("SIMHDF5 master %d", seq))
		if !omit {
			s.files[p.DataFile(seq)] = []byte(fmt.Sprintf("SIMHDF5 data %d nimages %d", seq, p.NImages()))
		}
		s.state = "idle"
	}
	if delay > 0 {
		time.AfterFunc(delay, deposit)
		s.mu.Lock()
		s.state = "idle"
		s.mu.Unlock()
	} else {
		deposit()
	}
	return nil
}

// Disarm ends the exposure sequence
func (s *Sim) Disarm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	return nil
}

// State reports the simulated hardware state
func (s *Sim) State() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Temperature reports a fixed plausible board temperature
func (s *Sim) Temperature() (float64, error) {
	return 24.5, nil
}

// Clock reports the simulated detector timestamp
func (s *Sim) Clock() (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// ActualCountTime reports the last configured count time
func (s *Sim) ActualCountTime() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.CountTime, nil
}

// ActualFrameTime reports the last configured frame time
func (s *Sim) ActualFrameTime() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.FrameTime, nil
}

// ListFiles returns the names in the simulated data store
func (s *Sim) ListFiles() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	return names, nil
}

// FetchFile returns the contents of one simulated file
func (s *Sim) FetchFile(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("sim: no file named %s", name)
	}
	return data, nil
}
