package feed

import "github.com/selimacar/trendbot/internal/domain"

// tradeRing is a fixed-capacity ring buffer of public trades. Appending
// beyond capacity evicts the oldest entry. Not safe for concurrent use;
// callers hold the snapshot lock.
type tradeRing struct {
	buf   []domain.PublicTrade
	start int
	count int
}

func newTradeRing(capacity int) *tradeRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &tradeRing{buf: make([]domain.PublicTrade, capacity)}
}

func (r *tradeRing) push(t domain.PublicTrade) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = t
		r.count++
		return
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % len(r.buf)
}

// slice returns the buffered trades oldest-first as a fresh slice.
func (r *tradeRing) slice() []domain.PublicTrade {
	out := make([]domain.PublicTrade, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *tradeRing) len() int { return r.count }
