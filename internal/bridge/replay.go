package bridge

import "fmt"

// DefaultReplayFrames bounds the replay buffer when no limit is configured.
const DefaultReplayFrames = 1024

// Frame is an encoded outbound envelope with its sequence number.
type Frame struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps sent non-volatile frames until the client acknowledges
// them, so they can be retransmitted on a resumed connection.
type ReplayBuffer struct {
	frames []Frame
	limit  int
	// acked is the highest sequence number the client has acknowledged.
	acked int64
	// last is the highest sequence number sent, volatile frames included.
	last int64
}

// NewReplayBuffer creates a buffer holding at most limit frames.
func NewReplayBuffer(limit int) *ReplayBuffer {
	if limit <= 0 {
		limit = DefaultReplayFrames
	}
	return &ReplayBuffer{limit: limit}
}

// Sent records that seq was sent. Only frames with data are kept.
func (b *ReplayBuffer) Sent(seq int64, data []byte) {
	if seq > b.last {
		b.last = seq
	}
	if data == nil {
		return
	}
	b.frames = append(b.frames, Frame{Seq: seq, Data: data})
	if len(b.frames) > b.limit {
		// The oldest frame can no longer be replayed; moving acked past it
		// makes a resume that needs it fail.
		b.acked = b.frames[0].Seq
		b.frames = b.frames[1:]
	}
}

// Prune drops every frame up to and including theirSeq. It fails when theirSeq
// acknowledges frames that were never sent or were already dropped.
func (b *ReplayBuffer) Prune(theirSeq int64) error {
	if theirSeq < b.acked || theirSeq > b.last {
		return fmt.Errorf("sequence number %d outside [%d, %d]", theirSeq, b.acked, b.last)
	}
	i := 0
	for i < len(b.frames) && b.frames[i].Seq <= theirSeq {
		i++
	}
	b.frames = b.frames[i:]
	b.acked = theirSeq
	return nil
}

// Pending returns the frames not yet acknowledged, oldest first.
func (b *ReplayBuffer) Pending() []Frame {
	out := make([]Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

// Reset clears the buffer and restarts numbering at seq.
func (b *ReplayBuffer) Reset(seq int64) {
	b.frames = nil
	b.acked = seq
	b.last = seq
}

// Len returns the number of frames held.
func (b *ReplayBuffer) Len() int {
	return len(b.frames)
}

// Size returns the total encoded size of the frames held.
func (b *ReplayBuffer) Size() int {
	n := 0
	for _, f := range b.frames {
		n += len(f.Data)
	}
	return n
}
