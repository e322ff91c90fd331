package cache

import (
	"github.com/zijiren233/livecache/av"
)

// SpecialCache keeps the single latest packet of one kind: metadata or a
// codec sequence header.
type SpecialCache struct {
	p          *av.Packet
	isComplete bool
}

func NewSpecialCache() *SpecialCache {
	return &SpecialCache{}
}

// Write replaces the stored packet. An empty payload clears the slot.
func (s *SpecialCache) Write(p av.Packet) {
	s.isComplete = len(p.Data) != 0
	s.p = &p
}

// Get returns the stored packet, or false if nothing has been stored.
func (s *SpecialCache) Get() (*av.Packet, bool) {
	if !s.isComplete {
		return nil, false
	}
	return s.p, true
}
