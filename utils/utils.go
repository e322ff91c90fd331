package utils

// Timestamp turns a stream of timestamps that may restart, such as a file
// published in a loop, into one that keeps increasing. Jumps back of up to
// 100ms are treated as interleaving jitter between audio and video.
type Timestamp struct {
	baseTimestamp uint32
	lastTimestamp uint32
}

func (t *Timestamp) RecTimeStamp(timestamp uint32) uint32 {
	if t.lastTimestamp > timestamp+100 {
		t.baseTimestamp += t.lastTimestamp
		t.lastTimestamp = timestamp
	}
	if t.lastTimestamp < timestamp {
		t.lastTimestamp = timestamp
	}
	return t.baseTimestamp + timestamp
}
