package samplelog

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	errgo "gopkg.in/errgo.v1"
)

// SampleReader represents a source of speed measurement samples.
type SampleReader interface {
	// ReadSample returns the next sample in the stream.
	// It returns io.EOF at the end of the available samples.
	ReadSample() (Sample, error)
}

// NewReader returns a SampleReader that reads samples from r in the
// format written by Append. A leading header line is skipped.
func NewReader(r io.Reader) SampleReader {
	return &fileSampleReader{
		scanner: bufio.NewScanner(r),
	}
}

// ReadSampleFile reads all the samples from the log file at path.
func ReadSampleFile(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	defer f.Close()
	var samples []Sample
	for r := NewReader(f); ; {
		s, err := r.ReadSample()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return nil, errgo.Notef(err, "cannot read sample from %q", path)
		}
		samples = append(samples, s)
	}
}

type fileSampleReader struct {
	scanner   *bufio.Scanner
	doneFirst bool
}

func (r *fileSampleReader) ReadSample() (Sample, error) {
	for {
		if !r.scanner.Scan() {
			if r.scanner.Err() == nil {
				return Sample{}, io.EOF
			}
			return Sample{}, r.scanner.Err()
		}
		line := r.scanner.Text()
		if !r.doneFirst {
			r.doneFirst = true
			if line == Header {
				continue
			}
		}
		return parseSampleLine(line)
	}
}

func parseSampleLine(line string) (Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return Sample{}, errgo.Newf("invalid sample line found: %q", line)
	}
	t, err := time.Parse(time.RFC3339, fields[0])
	if err != nil {
		return Sample{}, errgo.Newf("invalid timestamp in sample line %q", fields[0])
	}
	vals := make([]float64, 3)
	for i, field := range fields[1:] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return Sample{}, errgo.Newf("invalid value in sample line %q", field)
		}
		vals[i] = v
	}
	return Sample{
		Time:         t,
		DownloadMbps: vals[0],
		UploadMbps:   vals[1],
		PingMs:       vals[2],
	}, nil
}
