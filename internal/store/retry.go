package store

import (
	"strings"
	"time"

	"github.com/banshee-data/sketchlift/internal/timeutil"
)

const (
	maxBusyRetries  = 5
	baseBusyBackoff = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is sqlite's lock contention error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn up to maxBusyRetries times while it fails with
// SQLITE_BUSY, doubling the pause between attempts.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	var err error
	delay := baseBusyBackoff
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = fn()
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyRetries-1 {
			clock.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
