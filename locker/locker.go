// Package locker provides the mutual exclusion primitive guarding the
// physical detector, and an HTTP middleware which allows a client to lock
// out the control surface, returning 423 (locked).
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/xraylab/eigerhttp/generichttp"
)

// Inject adds lock routes to an HTTPer which are used to manipulate the locker
func Inject(other generichttp.HTTPer, l *AccessLock) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// AccessLock guards access to a single physical instrument.  It has two
// independent faces: a non-blocking mutex taken by operation workers for
// their full duration (TryLock/Unlock/Held), and a client-driven lockout
// engaged over HTTP which bounces writes from other clients.
type AccessLock struct {
	ch      chan struct{}
	engaged atomic.Bool

	// DoNotProtect is a list of path fragments the lockout does not apply to
	DoNotProtect []string
}

// New returns a new AccessLock with DoNotProtect prepopulated with "lock"
func New() *AccessLock {
	return &AccessLock{
		ch:           make(chan struct{}, 1),
		DoNotProtect: []string{"lock"},
	}
}

// TryLock attempts to take the lock without blocking and reports whether
// it was acquired
func (l *AccessLock) TryLock() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the lock.  Unlocking a free lock is a no-op.
func (l *AccessLock) Unlock() {
	select {
	case <-l.ch:
	default:
	}
}

// Held returns true if an operation currently holds the lock
func (l *AccessLock) Held() bool {
	return len(l.ch) == 1
}

// Engage turns on the client-driven lockout
func (l *AccessLock) Engage() {
	l.engaged.Store(true)
}

// Release turns off the client-driven lockout
func (l *AccessLock) Release() {
	l.engaged.Store(false)
}

// Engaged returns true if the client-driven lockout is on
func (l *AccessLock) Engaged() bool {
	return l.engaged.Load()
}

// Check is an HTTP middleware that returns http.StatusLocked while the
// lockout is engaged, otherwise passes down the line.  GETs always pass;
// reads stay available while the instrument is locked.
func (l *AccessLock) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Engaged() && r.Method != http.MethodGet {
			protected := true
			url := r.URL.Path
			for _, str := range l.DoNotProtect {
				if strings.Contains(url, str) {
					protected = false
				}
			}
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet engages or releases the lockout based on json:bool on the request body
func (l *AccessLock) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Engage()
	} else {
		l.Release()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns the lockout state over HTTP as JSON
func (l *AccessLock) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Engaged()}
	hp.EncodeAndRespond(w, r)
}
