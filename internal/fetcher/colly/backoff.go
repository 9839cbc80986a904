package collyfetcher

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// maxBackoffExponent keeps base*2^attempt inside time.Duration.
const maxBackoffExponent = 30

// Backoff returns the wait before retry attempt n (n >= 1):
// base * 2^n plus the supplied jitter.
func Backoff(base time.Duration, attempt int, jitter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffExponent {
		attempt = maxBackoffExponent
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(math.MaxInt64-jitter) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay) + jitter
}

// Sleeper pauses between requests. Implementations must return early with
// an error when ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// RandomSource returns a uniformly distributed duration in [0, limit).
type RandomSource func(limit time.Duration) time.Duration

func cryptoRandom(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// pacingDelay picks a delay uniformly from [minDelay, maxDelay].
func pacingDelay(minDelay, maxDelay time.Duration, random RandomSource) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + random(maxDelay-minDelay+1)
}
