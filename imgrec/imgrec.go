// Package imgrec contains an image recorder used to write files retrieved
// from the detector's filewriter to local disk with deterministic names.
package imgrec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/snksoft/crc"
)

var crcTable = crc.NewTable(crc.XMODEM)

// Kind labels the role of a retrieved file within an exposure
type Kind string

const (
	// Main is the master file holding metadata for an exposure
	Main Kind = "main"

	// Data is the file holding the image frames for an exposure
	Data Kind = "data"
)

// RetrievedFile describes one file written to local disk by the recorder
type RetrievedFile struct {
	// Path is the absolute local path the file was written to
	Path string `json:"path"`

	// Kind is main or data
	Kind Kind `json:"kind"`

	// CRC is the CCITT checksum of the file contents, logged for
	// after-the-fact integrity checks of the transfer
	CRC uint16 `json:"crc"`
}

// Filename returns the deterministic local name for a retrieval,
// e.g. ("eiger_", 3, Data) => "eiger_000003_data.h5"
func Filename(prefix string, seq int, kind Kind) string {
	return fmt.Sprintf("%s%06d_%s.h5", prefix, seq, kind)
}

// Recorder writes retrieved image files under a root folder.  It is not
// thread safe; the detector controller serializes retrievals.
type Recorder struct {
	// Root is the local folder files are dumped under
	Root string
}

// Record writes data to disk under the deterministic name for
// (prefix, seq, kind) and returns the resulting file record
func (r *Recorder) Record(prefix string, seq int, kind Kind, data []byte) (RetrievedFile, error) {
	err := os.MkdirAll(r.Root, 0777)
	if err != nil {
		return RetrievedFile{}, err
	}
	fn := filepath.Join(r.Root, Filename(prefix, seq, kind))
	err = os.WriteFile(fn, data, 0666)
	if err != nil {
		return RetrievedFile{}, err
	}
	return RetrievedFile{Path: fn, Kind: kind, CRC: checksum(data)}, nil
}

// checksum computes the two-byte CRC value in a concurrent safe way and one line
func checksum(buf []byte) uint16 {
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, buf)
	return crcTable.CRC16(crcUint)
}
