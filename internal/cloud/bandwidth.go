package cloud

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/time/rate"
)

// burstMultiplier controls the token bucket burst size relative to the
// per-second rate.
const burstMultiplier = 2

// BandwidthLimiter throttles blob transfers. One limiter may be shared by
// several Storage clients so their aggregate throughput stays within the
// configured limit. A nil *BandwidthLimiter means unlimited.
type BandwidthLimiter struct {
	limiter *rate.Limiter
}

// NewBandwidthLimiter creates a limiter allowing bytesPerSec. Returns nil
// (unlimited) when bytesPerSec is zero or negative.
func NewBandwidthLimiter(bytesPerSec int64, logger *slog.Logger) *BandwidthLimiter {
	if bytesPerSec <= 0 {
		return nil
	}

	if logger == nil {
		logger = slog.Default()
	}

	burst := int(bytesPerSec) * burstMultiplier

	logger.Info("bandwidth limiter created",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &BandwidthLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// wait blocks until n bytes may pass. Nil-safe.
func (bl *BandwidthLimiter) wait(ctx context.Context, n int) error {
	if bl == nil || n <= 0 {
		return nil
	}

	// WaitN rejects requests larger than the burst, so take burst-sized bites.
	burst := bl.limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := bl.limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}

// ProgressFunc receives the bytes transferred so far and the expected
// total, or -1 when the total is unknown.
type ProgressFunc func(done, total int64)

// meteredReader counts bytes into a traffic counter, reports progress and
// applies the bandwidth limit after each read.
type meteredReader struct {
	ctx      context.Context
	r        io.Reader
	count    func(int64)
	limiter  *BandwidthLimiter
	progress ProgressFunc
	total    int64
	done     int64
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.count(int64(n))
		m.done += int64(n)

		if m.progress != nil {
			m.progress(m.done, m.total)
		}

		if waitErr := m.limiter.wait(m.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}
