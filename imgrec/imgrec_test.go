package imgrec_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xraylab/eigerhttp/imgrec"
)

func TestFilenameIsDeterministic(t *testing.T) {
	fn := imgrec.Filename("eiger_", 3, imgrec.Data)
	if fn != "eiger_000003_data.h5" {
		t.Errorf("unexpected filename %s", fn)
	}
	fn = imgrec.Filename("scan", 42, imgrec.Main)
	if fn != "scan000042_main.h5" {
		t.Errorf("unexpected filename %s", fn)
	}
}

func TestRecordWritesFile(t *testing.T) {
	root := t.TempDir()
	r := &imgrec.Recorder{Root: root}
	data := []byte{0x89, 0x48, 0x44, 0x46}
	rf, err := r.Record("eiger_", 1, imgrec.Main, data)
	if err != nil {
		t.Fatalf("Record err=%v", err)
	}
	want := filepath.Join(root, "eiger_000001_main.h5")
	if rf.Path != want {
		t.Errorf("expected path %s got %s", want, rf.Path)
	}
	if rf.Kind != imgrec.Main {
		t.Errorf("expected kind main got %s", rf.Kind)
	}
	ondisk, err := os.ReadFile(rf.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(ondisk) != string(data) {
		t.Error("file contents do not round trip")
	}
}

func TestRecordChecksumStable(t *testing.T) {
	r := &imgrec.Recorder{Root: t.TempDir()}
	a, err := r.Record("p", 1, imgrec.Data, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Record("p", 2, imgrec.Data, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if a.CRC != b.CRC {
		t.Errorf("same bytes produced different CRCs: %04X vs %04X", a.CRC, b.CRC)
	}
	c, err := r.Record("p", 3, imgrec.Data, []byte("payload2"))
	if err != nil {
		t.Fatal(err)
	}
	if c.CRC == a.CRC {
		t.Error("different bytes produced the same CRC")
	}
}

func TestRecordCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "dump", "today")
	r := &imgrec.Recorder{Root: root}
	_, err := r.Record("p", 1, imgrec.Main, []byte("x"))
	if err != nil {
		t.Fatalf("expected root creation, got %v", err)
	}
}
