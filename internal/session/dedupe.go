package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"attune/internal/model"
)

type dedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func newDedupeCache() *dedupeCache {
	return &dedupeCache{items: make(map[string]time.Time)}
}

func (d *dedupeCache) seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now, ttl)
	}
	return false
}

func (d *dedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

func hashFrame(f model.FeatureFrame) string {
	parts := []string{
		f.SessionID,
		f.Timestamp.UTC().Format(time.RFC3339Nano),
		modalityKey(f),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

func modalityKey(f model.FeatureFrame) string {
	var b strings.Builder
	if f.Pose != nil {
		b.WriteString("p:")
		b.WriteString(strconv.FormatFloat(f.Pose.MovementIntensity, 'f', 6, 64))
	}
	if f.Facial != nil {
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(f.Facial.ExpressionIntensity, 'f', 6, 64))
	}
	if f.Vocal != nil {
		b.WriteString("v:")
		b.WriteString(strconv.FormatFloat(f.Vocal.Volume, 'f', 6, 64))
	}
	return b.String()
}
