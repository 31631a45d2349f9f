// Package quota throttles client byte rates on the produce and fetch paths.
package quota

import (
	"context"

	"golang.org/x/time/rate"
)

// Authority admits request payload bytes. Record blocks until the bytes fit
// the configured rate or the context is done.
type Authority interface {
	Record(ctx context.Context, bytes int) error
}

// unlimited admits everything.
type unlimited struct{}

func (unlimited) Record(context.Context, int) error { return nil }

func Unlimited() Authority { return unlimited{} }

// ByteRate is a token-bucket Authority: bytesPerSecond sustained, burst
// bytes of headroom.
type ByteRate struct {
	limiter *rate.Limiter
}

func NewByteRate(bytesPerSecond float64, burst int) *ByteRate {
	return &ByteRate{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

func (b *ByteRate) Record(ctx context.Context, bytes int) error {
	if bytes <= 0 {
		return nil
	}
	// Oversized single requests would never fit the burst; charge the burst
	// and let them through throttled rather than failing them.
	if bytes > b.limiter.Burst() {
		bytes = b.limiter.Burst()
	}
	return b.limiter.WaitN(ctx, bytes)
}
