package util_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xraylab/eigerhttp/util"
)

func TestValidateIPAddressAcceptsV4(t *testing.T) {
	err := util.ValidateIPAddress("172.17.1.2")
	if err != nil {
		t.Errorf("expected 172.17.1.2 to validate, got %v", err)
	}
}

func TestValidateIPAddressRejectsGarbage(t *testing.T) {
	inputs := []string{"", "localhost", "999.1.1.1", "172.17.1"}
	for _, s := range inputs {
		if err := util.ValidateIPAddress(s); err == nil {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestValidatePort(t *testing.T) {
	for _, p := range []int{0, 80, 65535} {
		if err := util.ValidatePort(p); err != nil {
			t.Errorf("expected port %d to validate, got %v", p, err)
		}
	}
	for _, p := range []int{-1, 65536} {
		if err := util.ValidatePort(p); err == nil {
			t.Errorf("expected port %d to be rejected", p)
		}
	}
}

func TestEnsureWritableDirectoryCreates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	err := util.EnsureWritableDirectory(dir)
	if err != nil {
		t.Fatalf("expected directory creation to succeed, got %v", err)
	}
	stat, err := os.Stat(dir)
	if err != nil || !stat.IsDir() {
		t.Errorf("expected %s to exist as a directory", dir)
	}
}

func TestEnsureWritableDirectoryRejectsFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "afile")
	if err := os.WriteFile(fn, []byte("x"), 0666); err != nil {
		t.Fatal(err)
	}
	if err := util.EnsureWritableDirectory(fn); err == nil {
		t.Error("expected a plain file to be rejected")
	}
}
