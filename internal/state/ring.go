package state

// DefaultHistory is the per-channel message history capacity.
const DefaultHistory = 200

// MessageRing is a fixed-capacity FIFO over the most recent messages of
// one channel. Pushing onto a full ring evicts the oldest entry.
type MessageRing struct {
	buf   []Message
	start int
	n     int
}

// NewMessageRing creates a ring holding at most capacity messages.
func NewMessageRing(capacity int) *MessageRing {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &MessageRing{buf: make([]Message, capacity)}
}

// Push appends m, evicting the oldest message if the ring is full.
func (r *MessageRing) Push(m Message) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = m
		r.n++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of stored messages.
func (r *MessageRing) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *MessageRing) Cap() int { return len(r.buf) }

// Has reports whether a message with the given dedup key is stored.
func (r *MessageRing) Has(key string) bool {
	for i := 0; i < r.n; i++ {
		if r.buf[(r.start+i)%len(r.buf)].Key == key {
			return true
		}
	}
	return false
}

// Messages returns the stored messages in arrival order.
func (r *MessageRing) Messages() []Message {
	out := make([]Message, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
