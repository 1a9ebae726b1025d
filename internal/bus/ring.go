package bus

import "time"

// recentBuffer keeps the last N envelopes published to one channel, expiring
// as a whole a fixed duration after the most recent write. It mirrors the
// broker-side LPUSH/LTRIM/EXPIRE tracking the bus replaces: capacity bounds
// the list at all times, eviction is oldest-first, and expiry is independent
// of any subscriber.
type recentBuffer struct {
	capacity  int
	ttl       time.Duration
	entries   []Envelope
	expiresAt time.Time
}

func newRecentBuffer(capacity int, ttl time.Duration) *recentBuffer {
	return &recentBuffer{
		capacity: capacity,
		ttl:      ttl,
		entries:  make([]Envelope, 0, capacity),
	}
}

// add appends env in publish order, evicting the oldest entry once the
// buffer is full, and refreshes the expiry from now.
func (r *recentBuffer) add(env Envelope, now time.Time) {
	if len(r.entries) == r.capacity {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:r.capacity-1]
	}
	r.entries = append(r.entries, env)
	if r.ttl > 0 {
		r.expiresAt = now.Add(r.ttl)
	}
}

// snapshot returns up to limit entries, newest first. An expired buffer is
// cleared and yields nothing.
func (r *recentBuffer) snapshot(limit int, now time.Time) []Envelope {
	if r.ttl > 0 && now.After(r.expiresAt) {
		r.entries = r.entries[:0]
		return nil
	}
	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	out := make([]Envelope, limit)
	for i := 0; i < limit; i++ {
		out[i] = r.entries[len(r.entries)-1-i]
	}
	return out
}

func (r *recentBuffer) len() int {
	return len(r.entries)
}
