package onedrive

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the token bucket relative to the per-second rate so a
// short stall can be made up on the next write.
const burstMultiplier = 2

// newLimiter returns a limiter for bytesPerSec, or nil for unlimited.
func newLimiter(bytesPerSec int64, logger *slog.Logger) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}

	burst := int(bytesPerSec) * burstMultiplier

	logger.Debug("download bandwidth limited",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// limitWriter wraps w so each write waits for the limiter. A nil limiter
// returns w unchanged.
func limitWriter(ctx context.Context, limiter *rate.Limiter, w io.Writer) io.Writer {
	if limiter == nil {
		return w
	}

	return &limitedWriter{ctx: ctx, w: w, limiter: limiter}
}

type limitedWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n, err := lw.w.Write(p)
	if n > 0 {
		if waitErr := waitN(lw.ctx, lw.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// waitN takes n tokens in burst-sized chunks. rate.Limiter.WaitN rejects
// requests larger than the burst.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
