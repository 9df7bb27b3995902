package sfu

import (
	"time"

	"github.com/gammazero/deque"
)

// RetransmissionOptions bound the per-receiver packet history.
type RetransmissionOptions struct {
	// Capacity is the maximum number of packets retained.
	Capacity int `json:"capacity,omitempty"`

	// MaxAge is how long a packet stays resolvable. Entries older than
	// this at lookup time are a miss.
	MaxAge time.Duration `json:"maxAgeMs,omitempty"`
}

const (
	defaultRetransmissionCapacity = 512
	defaultRetransmissionMaxAge   = 2 * time.Second
)

type historyEntry struct {
	packet   *RtpPacket
	storedAt time.Time
}

// RetransmissionBuffer is a bounded history of past RTP packets indexed by
// sequence number, used to resolve NACK requests. It stores owned clones;
// Get returns a non-owning reference that stays valid until the next
// Append.
type RetransmissionBuffer struct {
	capacity int
	maxAge   time.Duration
	entries  map[uint16]historyEntry
	order    deque.Deque[uint16]
	now      func() time.Time

	headSeq uint16
	started bool
}

func NewRetransmissionBuffer(options RetransmissionOptions) *RetransmissionBuffer {
	if options.Capacity <= 0 {
		options.Capacity = defaultRetransmissionCapacity
	}
	if options.MaxAge <= 0 {
		options.MaxAge = defaultRetransmissionMaxAge
	}

	return &RetransmissionBuffer{
		capacity: options.Capacity,
		maxAge:   options.MaxAge,
		entries:  make(map[uint16]historyEntry),
		now:      time.Now,
	}
}

// Append clones packet into owned storage under its sequence number,
// replacing any previous packet with the same one, and evicts entries past
// the capacity or age bounds.
func (b *RetransmissionBuffer) Append(packet *RtpPacket) {
	seq := packet.SequenceNumber()

	buffer := make([]byte, packet.Length())
	stored, err := packet.Clone(buffer)
	if err != nil {
		// Cannot happen: the buffer is sized to the packet.
		panic(err)
	}

	if _, dup := b.entries[seq]; !dup {
		b.order.PushBack(seq)
	}
	b.entries[seq] = historyEntry{packet: stored, storedAt: b.now()}

	if !b.started || seqNumBefore(b.headSeq, seq) {
		b.headSeq = seq
		b.started = true
	}

	for b.order.Len() > b.capacity {
		evicted := b.order.PopFront()
		delete(b.entries, evicted)
	}
	b.evictExpired()
}

// Get returns the stored packet for seq, or nil when the history never saw
// it, dropped it, or it aged out.
func (b *RetransmissionBuffer) Get(seq uint16) *RtpPacket {
	entry, ok := b.entries[seq]
	if !ok {
		return nil
	}
	if b.now().Sub(entry.storedAt) > b.maxAge {
		return nil
	}
	return entry.packet
}

// Latest returns the newest sequence number seen, in serial-number order.
func (b *RetransmissionBuffer) Latest() (uint16, bool) {
	return b.headSeq, b.started
}

// Len returns the number of retained packets.
func (b *RetransmissionBuffer) Len() int {
	return len(b.entries)
}

// Clear drops the whole history.
func (b *RetransmissionBuffer) Clear() {
	b.entries = make(map[uint16]historyEntry)
	b.order.Clear()
	b.started = false
}

func (b *RetransmissionBuffer) evictExpired() {
	now := b.now()

	for b.order.Len() > 0 {
		seq := b.order.Front()
		entry, ok := b.entries[seq]
		if ok && now.Sub(entry.storedAt) <= b.maxAge {
			break
		}
		b.order.PopFront()
		delete(b.entries, seq)
	}
}
