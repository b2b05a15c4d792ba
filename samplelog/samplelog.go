// Package samplelog stores speed measurements in an append-only CSV log.
//
// The log always starts with a header line; each subsequent line holds
// one sample with its values formatted to two decimal places, so the
// file can be consumed directly by spreadsheet tools.
package samplelog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	errgo "gopkg.in/errgo.v1"
)

// Header is the first line of every sample log.
const Header = "timestamp_iso,download_mbps,upload_mbps,ping_ms"

// Sample holds one speed measurement.
type Sample struct {
	// Time holds the time that the measurement was started.
	Time time.Time
	// DownloadMbps and UploadMbps hold the measured throughput
	// in megabits per second.
	DownloadMbps float64
	UploadMbps   float64
	// PingMs holds the measured latency in milliseconds.
	PingMs float64
}

// Init ensures that the log file at path exists and starts with the
// header line. It creates parent directories as needed. It's
// idempotent: a log that already holds data is left untouched.
func Init(path string) error {
	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return errgo.Notef(err, "cannot stat sample log %q", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return errgo.Notef(err, "cannot create sample log directory")
	}
	if err := writeRecord(path, Header+"\n"); err != nil {
		return errgo.Notef(err, "cannot write header")
	}
	return nil
}

// Append appends a single sample record to the log file at path and
// syncs it to stable storage before returning. The file is never
// truncated. The sample time is rendered as an RFC 3339 UTC instant
// and the three values with exactly two decimal places.
func Append(path string, s Sample) error {
	record := fmt.Sprintf("%s,%.2f,%.2f,%.2f\n",
		s.Time.UTC().Format(time.RFC3339),
		s.DownloadMbps,
		s.UploadMbps,
		s.PingMs,
	)
	return writeRecord(path, record)
}

// writeRecord appends record to the file at path and syncs it to
// stable storage, closing the file exactly once.
func writeRecord(path, record string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return errgo.Notef(err, "cannot open sample log %q", path)
	}
	_, err = io.WriteString(f, record)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errgo.Notef(err, "cannot write to sample log %q", path)
	}
	return nil
}

// NewAppender returns an Appender that appends samples to the log file
// at path, initializing the file first (see Init).
func NewAppender(path string) (*Appender, error) {
	if err := Init(path); err != nil {
		return nil, errgo.Mask(err)
	}
	return &Appender{path: path}, nil
}

// Appender appends samples to a single log file.
type Appender struct {
	path string
}

// Path returns the path of the underlying log file.
func (a *Appender) Path() string {
	return a.path
}

// Append appends the given sample to the log (see the Append function).
func (a *Appender) Append(s Sample) error {
	return Append(a.path, s)
}
