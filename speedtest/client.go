// Package speedtest measures the speed of an internet link by
// transferring data to and from a probe server.
package speedtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	errgo "gopkg.in/errgo.v1"
)

// Result holds the outcome of one speed measurement. The throughput
// values are normalized to megabits per second and the latency to
// milliseconds.
type Result struct {
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
}

// Provider is implemented by anything that can run one full speed
// measurement. A failed measurement returns an *Error.
type Provider interface {
	Measure(ctx context.Context) (Result, error)
}

// Error describes a failed measurement.
type Error struct {
	// Stage names the part of the measurement that failed
	// (ping, download or upload).
	Stage string
	// Cause holds the underlying error.
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("speed test %s failed: %v", e.Stage, e.Cause)
}

// Client measures against a probe server that implements the
// /probe/ping, /probe/download and /probe/upload endpoints
// (see the speedtesttest package for a reference implementation).
type Client struct {
	// Addr holds the host:port address of the probe server.
	Addr string
	// DownloadBytes and UploadBytes hold the transfer sizes used to
	// time each direction. If zero, defaults are used.
	DownloadBytes int64
	UploadBytes   int64
	// PingCount holds the number of round trips used for the latency
	// probe; the smallest round trip wins. If zero, a default is used.
	PingCount int
}

const (
	defaultDownloadBytes = 8 * 1024 * 1024
	defaultUploadBytes   = 2 * 1024 * 1024
	defaultPingCount     = 5
)

// Measure implements Provider by running a latency probe followed by
// a timed download and a timed upload.
func (c *Client) Measure(ctx context.Context) (Result, error) {
	ping, err := c.ping(ctx)
	if err != nil {
		return Result{}, &Error{Stage: "ping", Cause: err}
	}
	download, err := c.download(ctx)
	if err != nil {
		return Result{}, &Error{Stage: "download", Cause: err}
	}
	upload, err := c.upload(ctx)
	if err != nil {
		return Result{}, &Error{Stage: "upload", Cause: err}
	}
	return Result{
		DownloadMbps: download,
		UploadMbps:   upload,
		PingMs:       ping,
	}, nil
}

func (c *Client) ping(ctx context.Context) (float64, error) {
	count := c.PingCount
	if count == 0 {
		count = defaultPingCount
	}
	best := time.Duration(-1)
	for i := 0; i < count; i++ {
		t0 := time.Now()
		resp, err := c.do(ctx, "GET", "/probe/ping", nil)
		if err != nil {
			return 0, errgo.Mask(err, errgo.Any)
		}
		_, err = io.Copy(ioutil.Discard, resp.Body)
		resp.Body.Close()
		if err != nil {
			return 0, errgo.Notef(err, "cannot read ping response")
		}
		if d := time.Since(t0); best < 0 || d < best {
			best = d
		}
	}
	return float64(best) / float64(time.Millisecond), nil
}

func (c *Client) download(ctx context.Context) (float64, error) {
	size := c.DownloadBytes
	if size == 0 {
		size = defaultDownloadBytes
	}
	t0 := time.Now()
	resp, err := c.do(ctx, "GET", fmt.Sprintf("/probe/download?bytes=%d", size), nil)
	if err != nil {
		return 0, errgo.Mask(err, errgo.Any)
	}
	defer resp.Body.Close()
	n, err := io.Copy(ioutil.Discard, resp.Body)
	if err != nil {
		return 0, errgo.Notef(err, "cannot read download body")
	}
	if n != size {
		return 0, errgo.Newf("short download; got %d bytes, want %d", n, size)
	}
	return mbps(n, time.Since(t0)), nil
}

func (c *Client) upload(ctx context.Context) (float64, error) {
	size := c.UploadBytes
	if size == 0 {
		size = defaultUploadBytes
	}
	t0 := time.Now()
	resp, err := c.do(ctx, "POST", "/probe/upload", bytes.NewReader(make([]byte, size)))
	if err != nil {
		return 0, errgo.Mask(err, errgo.Any)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(ioutil.Discard, resp.Body); err != nil {
		return 0, errgo.Notef(err, "cannot read upload response")
	}
	return mbps(size, time.Since(t0)), nil
}

// do issues a request to the probe server, failing on any
// non-OK response status. The caller is responsible for closing
// the response body on success.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, "http://"+c.Addr+path, body)
	if err != nil {
		return nil, errgo.Mask(err)
	}
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errgo.Mask(err, errgo.Any)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errgo.Newf("error status from probe server: %v", resp.Status)
	}
	return resp, nil
}

// mbps converts a byte count transferred over the given duration
// to megabits per second.
func mbps(n int64, d time.Duration) float64 {
	if d <= 0 {
		d = time.Nanosecond
	}
	return float64(n) * 8 / 1e6 / d.Seconds()
}
