// Package probeworker provides a worker that measures internet link
// speed at a fixed cadence and appends the results to a sample log.
//
// The worker runs until it's closed. A failed measurement (or a failed
// append) abandons the current cycle only: the error is logged and the
// next cycle runs on schedule.
package probeworker

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/netpulse/netpulse/samplelog"
	"github.com/netpulse/netpulse/speedtest"
)

// Storer is implemented by the sample log that receives one
// sample per successful measurement cycle.
type Storer interface {
	Append(samplelog.Sample) error
}

type Params struct {
	// Store receives one sample per successful cycle.
	Store Storer
	// Provider performs the speed measurements.
	Provider speedtest.Provider
	// Interval holds the time between measurement cycles.
	// If it's zero, DefaultInterval will be used.
	Interval time.Duration
	// Now is used to query the current time. If it's nil, time.Now will be used.
	Now func() time.Time
	// Status, if non-nil, receives one human-readable line per
	// successful cycle.
	Status io.Writer
}

const DefaultInterval = 5 * time.Minute

// New returns a new Worker that measures the link speed every
// Params.Interval and appends a sample to the store for each
// successful measurement. The first measurement starts immediately.
func New(p Params) (*Worker, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("no sample store set")
	}
	if p.Provider == nil {
		return nil, fmt.Errorf("no measurement provider set")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Interval == 0 {
		p.Interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		p:     p,
		ctx:   ctx,
		close: cancel,
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

type Worker struct {
	p     Params
	ctx   context.Context
	close func()
	wg    sync.WaitGroup
}

// Close stops the worker and waits for the current cycle to finish.
// A measurement that's already underway isn't aborted, but a pending
// wait between cycles ends immediately. Close is idempotent.
func (w *Worker) Close() {
	w.close()
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		if w.ctx.Err() != nil {
			return
		}
		w.cycle()
		select {
		case <-time.After(w.p.Interval):
		case <-w.ctx.Done():
			return
		}
	}
}

// cycle runs a single measurement. The sample timestamp is taken
// before the measurement starts, so it records when the sample was
// attempted rather than when it was persisted.
func (w *Worker) cycle() {
	start := w.p.Now()
	// The measurement is not given the worker context: a stop request
	// lets the cycle underway finish and persist its sample, and
	// cancellation takes effect at the loop and wait boundaries.
	result, err := w.p.Provider.Measure(context.Background())
	if err != nil {
		log.Printf("speed test failed: %v", err)
		return
	}
	sample := samplelog.Sample{
		Time:         start,
		DownloadMbps: result.DownloadMbps,
		UploadMbps:   result.UploadMbps,
		PingMs:       result.PingMs,
	}
	if err := w.p.Store.Append(sample); err != nil {
		log.Printf("cannot store sample: %v", err)
		return
	}
	if w.p.Status != nil {
		fmt.Fprintf(w.p.Status, "[%s] Download: %.2f Mbps | Upload: %.2f Mbps | Ping: %.2f ms\n",
			start.UTC().Format(time.RFC3339),
			result.DownloadMbps,
			result.UploadMbps,
			result.PingMs,
		)
	}
}
