package probeworker

import (
	"bytes"
	"context"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	errgo "gopkg.in/errgo.v1"

	"github.com/netpulse/netpulse/samplelog"
	"github.com/netpulse/netpulse/speedtest"
)

var epoch = time.Unix(946814400, 0).UTC() // 2000-01-02 12:00:00Z

type providerFunc func(ctx context.Context) (speedtest.Result, error)

func (f providerFunc) Measure(ctx context.Context) (speedtest.Result, error) {
	return f(ctx)
}

type storeFunc func(samplelog.Sample) error

func (f storeFunc) Append(s samplelog.Sample) error {
	return f(s)
}

type measureResult struct {
	result speedtest.Result
	err    error
}

// scriptedProvider returns a provider that asks the test for the
// outcome of each measurement.
func scriptedProvider() (speedtest.Provider, chan chan<- measureResult) {
	reqs := make(chan chan<- measureResult)
	p := providerFunc(func(ctx context.Context) (speedtest.Result, error) {
		rc := make(chan measureResult)
		reqs <- rc
		r := <-rc
		return r.result, r.err
	})
	return p, reqs
}

func TestWorkerScenario(t *testing.T) {
	c := qt.New(t)
	var logBuf bytes.Buffer
	log.SetOutput(&logBuf)
	defer log.SetOutput(os.Stderr)

	path := filepath.Join(c.Mkdir(), "metrics.csv")
	store, err := samplelog.NewAppender(path)
	c.Assert(err, qt.IsNil)
	provider, reqs := scriptedProvider()
	var status bytes.Buffer
	w, err := New(Params{
		Store:    store,
		Provider: provider,
		Interval: 10 * time.Millisecond,
		Now: func() time.Time {
			return epoch
		},
		Status: &status,
	})
	c.Assert(err, qt.IsNil)

	ok := measureResult{
		result: speedtest.Result{DownloadMbps: 50.12, UploadMbps: 9.87, PingMs: 14.3},
	}
	fail := measureResult{
		err: &speedtest.Error{Stage: "download", Cause: errgo.New("connection reset")},
	}
	waitMeasureReq(c, reqs) <- ok
	waitMeasureReq(c, reqs) <- fail
	// Close while the third measurement is in flight so that no
	// fourth cycle starts once it completes.
	rc := waitMeasureReq(c, reqs)
	closed := closeAsync(w)
	time.Sleep(20 * time.Millisecond)
	rc <- ok
	waitClosed(c, closed)
	select {
	case <-reqs:
		c.Fatalf("unexpected measurement request after close")
	case <-time.After(20 * time.Millisecond):
	}

	// The failed cycle must leave no record: two data rows, one per
	// successful measurement, in order.
	data, err := ioutil.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, samplelog.Header+"\n"+
		"2000-01-02T12:00:00Z,50.12,9.87,14.30\n"+
		"2000-01-02T12:00:00Z,50.12,9.87,14.30\n")

	c.Assert(status.String(), qt.Equals, strings.Repeat(
		"[2000-01-02T12:00:00Z] Download: 50.12 Mbps | Upload: 9.87 Mbps | Ping: 14.30 ms\n", 2))

	// Exactly one diagnostic line for the one failed measurement.
	c.Assert(strings.Count(logBuf.String(), "speed test failed"), qt.Equals, 1)
	c.Assert(logBuf.String(), qt.Matches, `.*speed test failed: speed test download failed: connection reset\n`)
}

func TestWorkerStoreFailureIsIsolated(t *testing.T) {
	c := qt.New(t)
	var logBuf bytes.Buffer
	log.SetOutput(&logBuf)
	defer log.SetOutput(os.Stderr)

	var stored []samplelog.Sample
	storeErr := errgo.New("disk full")
	store := storeFunc(func(s samplelog.Sample) error {
		if storeErr != nil {
			err := storeErr
			storeErr = nil
			return err
		}
		stored = append(stored, s)
		return nil
	})
	provider, reqs := scriptedProvider()
	w, err := New(Params{
		Store:    store,
		Provider: provider,
		Interval: 10 * time.Millisecond,
		Now: func() time.Time {
			return epoch
		},
	})
	c.Assert(err, qt.IsNil)

	ok := measureResult{
		result: speedtest.Result{DownloadMbps: 50.12, UploadMbps: 9.87, PingMs: 14.3},
	}
	// The first append fails; the next cycle must still run and store.
	waitMeasureReq(c, reqs) <- ok
	rc := waitMeasureReq(c, reqs)
	closed := closeAsync(w)
	time.Sleep(20 * time.Millisecond)
	rc <- ok
	waitClosed(c, closed)

	c.Assert(stored, qt.DeepEquals, []samplelog.Sample{{
		Time:         epoch,
		DownloadMbps: 50.12,
		UploadMbps:   9.87,
		PingMs:       14.3,
	}})
	c.Assert(strings.Count(logBuf.String(), "cannot store sample"), qt.Equals, 1)
}

func TestWorkerCloseDuringMeasurementPersistsSample(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.Mkdir(), "metrics.csv")
	store, err := samplelog.NewAppender(path)
	c.Assert(err, qt.IsNil)
	provider, reqs := scriptedProvider()
	w, err := New(Params{
		Store:    store,
		Provider: provider,
		Interval: time.Hour,
		Now: func() time.Time {
			return epoch
		},
	})
	c.Assert(err, qt.IsNil)

	// Close while the first measurement is still in flight; the
	// measurement must be allowed to finish and its sample kept.
	rc := waitMeasureReq(c, reqs)
	closed := closeAsync(w)
	select {
	case <-closed:
		c.Fatalf("worker closed without waiting for the measurement to finish")
	case <-time.After(20 * time.Millisecond):
	}
	rc <- measureResult{
		result: speedtest.Result{DownloadMbps: 50.12, UploadMbps: 9.87, PingMs: 14.3},
	}
	waitClosed(c, closed)

	data, err := ioutil.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, samplelog.Header+"\n"+
		"2000-01-02T12:00:00Z,50.12,9.87,14.30\n")
}

func TestWorkerCloseDuringWait(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.Mkdir(), "metrics.csv")
	store, err := samplelog.NewAppender(path)
	c.Assert(err, qt.IsNil)
	provider, reqs := scriptedProvider()
	w, err := New(Params{
		Store:    store,
		Provider: provider,
		Interval: time.Hour,
	})
	c.Assert(err, qt.IsNil)
	waitMeasureReq(c, reqs) <- measureResult{
		result: speedtest.Result{DownloadMbps: 50.12, UploadMbps: 9.87, PingMs: 14.3},
	}
	// The worker is now in (or entering) its hour-long wait; closing
	// must not take anywhere near that long.
	t0 := time.Now()
	w.Close()
	c.Assert(time.Since(t0) < time.Second, qt.Equals, true)
}

func TestWorkerCloseIsIdempotent(t *testing.T) {
	c := qt.New(t)
	provider, reqs := scriptedProvider()
	w, err := New(Params{
		Store: storeFunc(func(s samplelog.Sample) error {
			return nil
		}),
		Provider: provider,
		Interval: time.Hour,
	})
	c.Assert(err, qt.IsNil)
	waitMeasureReq(c, reqs) <- measureResult{
		result: speedtest.Result{DownloadMbps: 50.12, UploadMbps: 9.87, PingMs: 14.3},
	}
	w.Close()
	w.Close()
}

func TestNewValidatesParams(t *testing.T) {
	c := qt.New(t)
	provider, _ := scriptedProvider()

	w, err := New(Params{Provider: provider})
	c.Assert(err, qt.ErrorMatches, "no sample store set")
	c.Assert(w, qt.IsNil)

	w, err = New(Params{Store: storeFunc(func(s samplelog.Sample) error {
		return nil
	})})
	c.Assert(err, qt.ErrorMatches, "no measurement provider set")
	c.Assert(w, qt.IsNil)
}

func waitMeasureReq(c *qt.C, reqs chan chan<- measureResult) chan<- measureResult {
	select {
	case rc := <-reqs:
		return rc
	case <-time.After(time.Second):
		c.Fatalf("timed out waiting for measurement request")
	}
	panic("unreachable")
}

// closeAsync closes w in the background, returning a channel that is
// closed when Close returns.
func closeAsync(w *Worker) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		w.Close()
		close(closed)
	}()
	return closed
}

func waitClosed(c *qt.C, closed <-chan struct{}) {
	select {
	case <-closed:
	case <-time.After(time.Second):
		c.Fatalf("timed out waiting for worker to close")
	}
}
