package ingest

import (
	"context"
	"log/slog"
	"time"

	"attune/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.FeatureFrame, frame model.FeatureFrame, logger *slog.Logger) bool {
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("frame channel full, dropping frame", "session_id", frame.SessionID, "timestamp", frame.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
