package realtime

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff yields base, 2*base, 4*base, ... and stops after maxAttempts delays.
func newBackOff(base time.Duration, maxAttempts int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = time.Duration(math.MaxInt64)
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithMaxRetries(exp, uint64(maxAttempts))
}
