// Package util contains misc internal utilities.
package util

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// ValidateIPAddress returns an error if s is not a well-formed IPv4 or
// IPv6 address
func ValidateIPAddress(s string) error {
	if net.ParseIP(s) == nil {
		return fmt.Errorf("invalid IP address: %s", s)
	}
	return nil
}

// ValidatePort returns an error if p is outside the valid TCP port range
func ValidatePort(p int) error {
	if p < 0 || p > 65535 {
		return fmt.Errorf("port number must be between 0 and 65535, got %d", p)
	}
	return nil
}

// EnsureWritableDirectory creates the directory at path if it does not
// exist and returns an error if it is not a writable directory
func EnsureWritableDirectory(path string) error {
	err := os.MkdirAll(path, 0777)
	if err != nil {
		return err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !stat.IsDir() {
		return fmt.Errorf("the path %q is not a directory", path)
	}
	// os.Stat mode bits do not tell us if *we* can write under the
	// process' uid, probe with a temp file instead
	probe := filepath.Join(path, ".writable-probe")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("the directory %q is not writable: %w", path, err)
	}
	f.Close()
	return os.Remove(probe)
}
