package cache

import (
	"sync/atomic"

	"github.com/zijiren233/gencontainer/dllist"
	"github.com/zijiren233/livecache/av"
)

const (
	defaultGopNum int = 1
	maxGOPCap     int = 1024
)

// Gop is a run of packets that starts at a video key frame, or at the first
// packet of an audio-only stream. A Gop returned by GopCache is sealed and
// never modified again.
type Gop struct {
	packets  []av.Packet
	keyStart bool
}

func newGop(p av.Packet, isKeyFrame bool, capHint int) *Gop {
	g := &Gop{
		packets:  make([]av.Packet, 0, capHint),
		keyStart: isKeyFrame,
	}
	g.packets = append(g.packets, p)
	return g
}

func (g *Gop) seal() {
	g.packets = g.packets[:len(g.packets):len(g.packets)]
}

func (g *Gop) Len() int {
	return len(g.packets)
}

// Packets returns a copy of the packets in the gop. Payload bytes are shared
// and must not be modified.
func (g *Gop) Packets() []av.Packet {
	ps := make([]av.Packet, len(g.packets))
	copy(ps, g.packets)
	return ps
}

// StartsWithKeyFrame reports whether the first packet is a video key frame.
func (g *Gop) StartsWithKeyFrame() bool {
	return g.keyStart
}

func (g *Gop) Timestamp() uint32 {
	if len(g.packets) == 0 {
		return 0
	}
	return g.packets[0].TimeStamp
}

func (g *Gop) Duration() uint32 {
	if len(g.packets) == 0 {
		return 0
	}
	return g.packets[len(g.packets)-1].TimeStamp - g.packets[0].TimeStamp
}

func (g *Gop) Send(w av.Writer) error {
	for i := range g.packets {
		p := g.packets[i]
		if err := w.Write(&p); err != nil {
			return err
		}
	}
	return nil
}

type GopStats struct {
	KeyFrames  uint64 `json:"keyFrames"`
	Committed  uint64 `json:"committed"`
	Evicted    uint64 `json:"evicted"`
	Discarded  uint64 `json:"discarded"`
	Dropped    uint64 `json:"dropped"`
	OpenFrames int    `json:"openFrames"`
}

// GopCache keeps the open gop and up to num committed gops, oldest first.
// It is not safe for concurrent use: all writes come from the publisher and
// readers go through the snapshots published by Cache.
type GopCache struct {
	num       int
	maxFrames int

	open *Gop
	gops *dllist.Dllist[*Gop]

	setted   bool
	hasVideo atomic.Bool

	keyFrames  atomic.Uint64
	committed  atomic.Uint64
	evicted    atomic.Uint64
	discarded  atomic.Uint64
	dropped    atomic.Uint64
	openFrames atomic.Int64
}

type GopCacheConf func(*GopCache)

// WithMaxGopFrames bounds the number of packets kept in one gop.
func WithMaxGopFrames(n int) GopCacheConf {
	return func(g *GopCache) {
		if n > 0 {
			g.maxFrames = n
		}
	}
}

func NewGopCache(num int, conf ...GopCacheConf) *GopCache {
	if num < 1 {
		num = defaultGopNum
	}
	g := &GopCache{
		num:       num,
		maxFrames: maxGOPCap,
		gops:      dllist.New[*Gop](),
	}
	for _, c := range conf {
		c(g)
	}
	return g
}

// WriteFrame records p. A key frame seals the open gop and starts a new one;
// any other packet is appended to the open gop, opening one if needed.
// It reports whether the set of committed gops changed.
func (g *GopCache) WriteFrame(p av.Packet, isKeyFrame bool) (changed bool) {
	g.setted = true
	defer func() {
		if g.open != nil {
			g.openFrames.Store(int64(len(g.open.packets)))
		} else {
			g.openFrames.Store(0)
		}
	}()

	if p.IsVideo && !g.hasVideo.Load() {
		g.hasVideo.Store(true)
		// audio-only history can not lead a stream that carries video
		if g.purge() {
			changed = true
		}
	}

	if isKeyFrame {
		g.keyFrames.Add(1)
		if g.open != nil {
			if g.commit(g.open) {
				changed = true
			}
		}
		g.open = newGop(p, true, g.capHint())
		return changed
	}

	if g.open == nil {
		g.open = newGop(p, false, g.capHint())
		return changed
	}

	if len(g.open.packets) >= g.maxFrames {
		if g.hasVideo.Load() {
			g.dropped.Add(1)
			return changed
		}
		if g.commit(g.open) {
			changed = true
		}
		g.open = newGop(p, false, g.capHint())
		return changed
	}

	g.open.packets = append(g.open.packets, p)
	return changed
}

func (g *GopCache) capHint() int {
	if g.open != nil && len(g.open.packets) < g.maxFrames {
		return len(g.open.packets)
	}
	return 16
}

// commit moves gop into the committed list. A gop that does not start with a
// key frame is discarded once the stream carries video.
func (g *GopCache) commit(gop *Gop) bool {
	if !gop.keyStart && g.hasVideo.Load() {
		g.discarded.Add(uint64(len(gop.packets)))
		return false
	}
	gop.seal()
	if g.gops.Len() == g.num {
		g.gops.Remove(g.gops.Front())
		g.evicted.Add(1)
	}
	g.gops.PushBack(gop)
	g.committed.Add(1)
	return true
}

func (g *GopCache) purge() bool {
	n := g.gops.Len()
	for e := g.gops.Front(); e != nil; e = g.gops.Front() {
		g.gops.Remove(e)
		g.evicted.Add(1)
	}
	return n != 0
}

// Setted reports whether any packet has ever been recorded.
func (g *GopCache) Setted() bool {
	return g.setted
}

// Gops returns the committed gops, oldest first. The open gop is not
// included.
func (g *GopCache) Gops() []*Gop {
	gops := make([]*Gop, 0, g.gops.Len())
	for e := g.gops.Front(); e != nil; e = e.Next() {
		gops = append(gops, e.Value)
	}
	return gops
}

func (g *GopCache) HasVideo() bool {
	return g.hasVideo.Load()
}

func (g *GopCache) Committed() uint64 {
	return g.committed.Load()
}

// Stats is safe to call from any goroutine.
func (g *GopCache) Stats() GopStats {
	return GopStats{
		KeyFrames:  g.keyFrames.Load(),
		Committed:  g.committed.Load(),
		Evicted:    g.evicted.Load(),
		Discarded:  g.discarded.Load(),
		Dropped:    g.dropped.Load(),
		OpenFrames: int(g.openFrames.Load()),
	}
}
