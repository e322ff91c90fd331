package cache

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/zijiren233/livecache/av"
	"github.com/zijiren233/livecache/container/flv"
)

// Cache holds what a late joining player needs before it can be attached
// to a live stream: the latest metadata, the latest audio and video
// sequence headers, and the most recent complete gops.
//
// One Cache belongs to one publish session. Saves must come from a single
// publisher goroutine; reads may happen from any goroutine and never block
// the publisher. Saved payloads are owned by the cache and must not be
// modified by the caller afterwards.
type Cache struct {
	parser av.HeaderParser

	mu       sync.Mutex
	gop      *GopCache
	metadata *SpecialCache
	audioSeq *SpecialCache
	videoSeq *SpecialCache

	state atomic.Pointer[state]
}

// state is an immutable view published after every change a reader can
// observe.
type state struct {
	metadata *av.Packet
	audioSeq *av.Packet
	videoSeq *av.Packet
	gops     []*Gop
	setted   bool
}

type CacheConf func(*Cache)

func WithParser(p av.HeaderParser) CacheConf {
	return func(c *Cache) {
		c.parser = p
	}
}

func WithGopCacheConf(conf ...GopCacheConf) CacheConf {
	return func(c *Cache) {
		for _, gc := range conf {
			gc(c.gop)
		}
	}
}

// NewCache returns an empty cache retaining gopNum complete gops. A gopNum
// below 1 keeps one gop.
func NewCache(gopNum int, conf ...CacheConf) *Cache {
	c := &Cache{
		parser:   flv.Parser{},
		gop:      NewGopCache(gopNum),
		metadata: NewSpecialCache(),
		audioSeq: NewSpecialCache(),
		videoSeq: NewSpecialCache(),
	}
	for _, cc := range conf {
		cc(c)
	}
	c.state.Store(&state{})
	return c
}

func DefaultCache() *Cache {
	return NewCache(defaultGopNum)
}

// Write routes p to the matching save method.
func (c *Cache) Write(p *av.Packet) error {
	switch {
	case p.IsMetadata:
		c.SaveMetadata(p.Data, p.TimeStamp)
		return nil
	case p.IsAudio:
		return c.SaveAudioSeq(p.Data, p.TimeStamp)
	case p.IsVideo:
		return c.SaveVideoSeq(p.Data, p.TimeStamp)
	default:
		return ErrUnknownPacket
	}
}

func (c *Cache) SaveMetadata(data []byte, timestamp uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata.Write(*av.NewMetadataPacket(data, timestamp))
	c.publish()
}

func (c *Cache) GetMetadata() (*av.Packet, bool) {
	return clonePacket(c.state.Load().metadata)
}

// SaveAudioSeq records an audio unit in the gop history and, when it is an
// AAC sequence header, keeps it as the current audio sequence header.
func (c *Cache) SaveAudioSeq(data []byte, timestamp uint32) error {
	h, err := c.parser.ParseAudioHeader(data)
	if err != nil {
		return &ParseError{Media: "audio", Err: err}
	}
	p := av.NewAudioPacket(data, timestamp)

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.writeFrame(*p, false)
	if h.SoundFormat() == av.SOUND_AAC &&
		h.AACPacketType() == av.AAC_SEQHDR {
		c.audioSeq.Write(*p)
		changed = true
	}
	if changed {
		c.publish()
	}
	return nil
}

func (c *Cache) GetAudioSeq() (*av.Packet, bool) {
	return clonePacket(c.state.Load().audioSeq)
}

// SaveVideoSeq records a video unit in the gop history, using its key frame
// flag as the gop boundary, and keeps it as the current video sequence
// header when it is one.
func (c *Cache) SaveVideoSeq(data []byte, timestamp uint32) error {
	h, err := c.parser.ParseVideoHeader(data)
	if err != nil {
		return &ParseError{Media: "video", Err: err}
	}
	p := av.NewVideoPacket(data, timestamp)
	isKeyFrame := h.IsKeyFrame()

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.writeFrame(*p, isKeyFrame)
	if isKeyFrame && h.IsSeq() {
		c.videoSeq.Write(*p)
		changed = true
	}
	if changed {
		c.publish()
	}
	return nil
}

func (c *Cache) GetVideoSeq() (*av.Packet, bool) {
	return clonePacket(c.state.Load().videoSeq)
}

func (c *Cache) writeFrame(p av.Packet, isKeyFrame bool) bool {
	first := !c.gop.Setted()
	return c.gop.WriteFrame(p, isKeyFrame) || first
}

// GetGopsData returns the committed gops, oldest first, or false if no audio
// or video has been saved yet. The gop still being filled is not included.
func (c *Cache) GetGopsData() ([]*Gop, bool) {
	s := c.state.Load()
	if !s.setted {
		return nil, false
	}
	gops := make([]*Gop, len(s.gops))
	copy(gops, s.gops)
	return gops, true
}

// Setted reports whether any audio or video has been saved.
func (c *Cache) Setted() bool {
	return c.state.Load().setted
}

func (c *Cache) HasVideo() bool {
	return c.gop.HasVideo()
}

// Committed returns how many gops have been committed so far, including
// evicted ones.
func (c *Cache) Committed() uint64 {
	return c.gop.Committed()
}

func (c *Cache) Stats() GopStats {
	return c.gop.Stats()
}

// publish must be called with mu held.
func (c *Cache) publish() {
	s := &state{
		gops:   c.gop.Gops(),
		setted: c.gop.Setted(),
	}
	s.metadata, _ = c.metadata.Get()
	s.audioSeq, _ = c.audioSeq.Get()
	s.videoSeq, _ = c.videoSeq.Get()
	c.state.Store(s)
}

// Snapshot returns everything a joining player needs, captured at one
// instant.
func (c *Cache) Snapshot() *Snapshot {
	s := c.state.Load()
	snap := &Snapshot{Setted: s.setted}
	snap.Metadata, _ = clonePacket(s.metadata)
	snap.AudioSeq, _ = clonePacket(s.audioSeq)
	snap.VideoSeq, _ = clonePacket(s.videoSeq)
	if s.setted {
		snap.Gops = make([]*Gop, len(s.gops))
		copy(snap.Gops, s.gops)
	}
	return snap
}

// Send replays the current snapshot to w.
func (c *Cache) Send(w av.Writer) error {
	return c.Snapshot().Send(w)
}

func clonePacket(p *av.Packet) (*av.Packet, bool) {
	if p == nil {
		return nil, false
	}
	return p.Clone(), true
}

// Snapshot is a point in time copy of a Cache.
type Snapshot struct {
	Metadata *av.Packet
	AudioSeq *av.Packet
	VideoSeq *av.Packet
	Gops     []*Gop
	Setted   bool
}

// Send writes the snapshot to w in replay order: metadata, audio sequence
// header, video sequence header, then every gop oldest first. Decoders need
// the configuration before any frame.
func (s *Snapshot) Send(w av.Writer) error {
	for _, p := range []*av.Packet{s.Metadata, s.AudioSeq, s.VideoSeq} {
		if p == nil {
			continue
		}
		if err := w.Write(p.Clone()); err != nil {
			return err
		}
	}
	for _, g := range s.Gops {
		if err := g.Send(w); err != nil {
			return err
		}
	}
	return nil
}

// Join replays the snapshot to w and then p, the live packet the player
// starts at. p is skipped when the snapshot already carries it as a
// sequence header.
func (s *Snapshot) Join(w av.Writer, p *av.Packet) error {
	if err := s.Send(w); err != nil {
		return err
	}
	if s.holds(p) {
		return nil
	}
	return w.Write(p)
}

func (s *Snapshot) holds(p *av.Packet) bool {
	for _, sp := range []*av.Packet{s.AudioSeq, s.VideoSeq} {
		if sp != nil &&
			sp.IsAudio == p.IsAudio &&
			sp.IsVideo == p.IsVideo &&
			sp.TimeStamp == p.TimeStamp &&
			bytes.Equal(sp.Data, p.Data) {
			return true
		}
	}
	return false
}
