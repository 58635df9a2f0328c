package common

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Retry runs fn up to attempts times, sleeping backoff between failures.
// fn always runs at least once. It stops early when ctx is done or stop
// reports the error as permanent.
func Retry(ctx context.Context, name string, attempts int, backoff time.Duration, stop func(error) bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if stop != nil && stop(err) {
			return err
		}

		logger.WithFields(logger.Fields{
			"op":      name,
			"attempt": i,
			"of":      attempts,
		}).Warnf("attempt failed: %v", err)

		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
