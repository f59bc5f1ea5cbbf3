// Package scheduler drives sensor execution.
//
// Polling sensors (Interval() > 0) are polled from one coordinating loop.
// Each due poll runs on its own worker goroutine; the next due time is
// always now + interval, however long the poll takes. A sensor whose
// previous poll is still running skips the cycle entirely, so there is
// never more than one poll in flight per sensor.
//
// Background sensors run on long-lived workers and push readings through
// a callback. The scheduler owns only their start and stop.
//
// The last readings of every polling sensor are cached so that a refresh
// can republish them without touching the hardware.
package scheduler
