package checker

import (
	"context"
	"sync"

	"github.com/khanhnv2901/lineaudit/internal/domain/device"
)

// GateFunc is consulted before each device starts. A non-nil error ends the
// phase; devices already in flight are allowed to finish.
type GateFunc func(ctx context.Context) error

// DeviceFunc processes one device. It must not panic past the runner and it
// records its outcome itself.
type DeviceFunc func(ctx context.Context, index int, dev device.Device)

// Runner walks a phase over a device list with bounded concurrency.
// With Concurrency <= 1 devices are processed strictly one after another and
// the gate for device N+1 is consulted only after device N has returned.
type Runner struct {
	Concurrency int
}

// Run calls gate then fn for every device in order. It returns the first gate
// error, after waiting for in-flight devices.
func (r *Runner) Run(ctx context.Context, devices []device.Device, gate GateFunc, fn DeviceFunc) error {
	concurrency := r.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var gateErr error

	for i, dev := range devices {
		// Acquire the slot before the gate so a pause never waits behind
		// a device that has not started yet.
		sem <- struct{}{}

		if gate != nil {
			if err := gate(ctx); err != nil {
				<-sem
				gateErr = err
				break
			}
		}

		wg.Add(1)
		go func(i int, d device.Device) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, i, d)
		}(i, dev)
	}

	wg.Wait()
	return gateErr
}
