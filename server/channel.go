package server

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zijiren233/gencontainer/rwmap"
	"github.com/zijiren233/livecache/av"
	"github.com/zijiren233/livecache/cache"
	"github.com/zijiren233/livecache/metrics"
	"go.uber.org/zap"
)

// Channel fans one publisher out to many players. Every publish session
// gets a fresh cache; a player added mid-stream is first sent a cache
// snapshot and then the live packets.
type Channel struct {
	name          string
	inPublication bool
	players       rwmap.RWMap[av.WriteCloser, *packWriter]

	mu     sync.RWMutex
	closed bool

	gopNum    int
	cacheConf []cache.CacheConf
	logger    *zap.Logger
	metrics   metrics.Collector

	cache atomic.Pointer[cache.Cache]
}

type ChannelConf func(*Channel)

func WithChannelGopNum(n int) ChannelConf {
	return func(c *Channel) {
		c.gopNum = n
	}
}

func WithChannelCacheConf(conf ...cache.CacheConf) ChannelConf {
	return func(c *Channel) {
		c.cacheConf = append(c.cacheConf, conf...)
	}
}

func WithChannelLogger(l *zap.Logger) ChannelConf {
	return func(c *Channel) {
		c.logger = l
	}
}

func WithChannelMetrics(m metrics.Collector) ChannelConf {
	return func(c *Channel) {
		c.metrics = m
	}
}

func NewChannel(name string, conf ...ChannelConf) *Channel {
	ch := &Channel{
		name:    name,
		gopNum:  1,
		logger:  zap.NewNop(),
		metrics: metrics.Nop(),
	}
	for _, c := range conf {
		c(ch)
	}
	ch.logger = ch.logger.With(zap.String("channel", name))
	return ch
}

func (c *Channel) Name() string {
	return c.name
}

var (
	ErrPusherAlreadyInPublication = errors.New("pusher already in publication")
	ErrPusherNotInPublication     = errors.New("pusher not in publication")
	ErrPlayerAlreadyExists        = errors.New("player already exists")
)

const (
	playerWaiting int32 = iota
	playerJoined
	playerRemoved
)

// packWriter is shared by the publisher goroutine and the goroutines that
// add or delete players, so its state is atomic.
type packWriter struct {
	state atomic.Int32
	w     av.WriteCloser
}

func newPackWriterCloser(w av.WriteCloser) *packWriter {
	return &packWriter{
		w: w,
	}
}

func (p *packWriter) GetWriter() av.WriteCloser {
	return p.w
}

// Init marks the player as joined. It fails once the player was removed.
func (p *packWriter) Init() bool {
	return p.state.CompareAndSwap(playerWaiting, playerJoined)
}

// remove reports whether the player had joined before it was removed.
func (p *packWriter) remove() bool {
	return p.state.Swap(playerRemoved) == playerJoined
}

var (
	ErrPusherIsNil = errors.New("pusher is nil")
	ErrClosed      = errors.New("channel closed")
)

// PushStart reads packets from pusher until it fails or the channel is
// closed. Players waiting to join are attached at the next video key frame,
// or at once when the stream carries no video, so they never start in the
// middle of a gop.
func (c *Channel) PushStart(pusher av.Reader) error {
	if pusher == nil {
		return ErrPusherIsNil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if c.inPublication {
		c.mu.Unlock()
		return ErrPusherAlreadyInPublication
	}
	c.inPublication = true
	pc := cache.NewCache(c.gopNum, c.cacheConf...)
	c.cache.Store(pc)
	c.mu.Unlock()

	c.logger.Info("publish start", zap.Int("gopNum", c.gopNum))
	c.metrics.PublishStarted(c.name)

	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.kickAllPlayers()
		c.inPublication = false
		c.metrics.PublishEnded(c.name)
		c.logger.Info("publish end", zap.Any("gop", pc.Stats()))
	}()

	for {
		if c.Closed() {
			return nil
		}
		p, err := pusher.Read()
		if err != nil {
			return err
		}
		if c.Closed() {
			return nil
		}

		c.metrics.PacketReceived(c.name, packetKind(p), len(p.Data))

		keyFrames := pc.Stats().KeyFrames
		if err := pc.Write(p); err != nil {
			var pe *cache.ParseError
			if errors.As(err, &pe) {
				c.metrics.ParseError(c.name, pe.Media)
			}
			c.logger.Debug("cache write", zap.Uint32("timestamp", p.TimeStamp), zap.Error(err))
		}
		boundary := !p.IsMetadata &&
			(!pc.HasVideo() || pc.Stats().KeyFrames != keyFrames)

		c.players.Range(func(w av.WriteCloser, player *packWriter) bool {
			switch player.state.Load() {
			case playerWaiting:
				if !boundary {
					return true
				}
				snap := pc.Snapshot()
				if err = snap.Join(player.GetWriter(), p); err != nil {
					c.removePlayer(w, player)
					return true
				}
				if player.Init() {
					c.metrics.PlayerJoined(c.name, replayLen(snap))
				}
			case playerJoined:
				if err = player.GetWriter().Write(p); err != nil {
					c.removePlayer(w, player)
				}
			}
			return true
		})
	}
}

func (c *Channel) removePlayer(w av.WriteCloser, player *packWriter) {
	if _, loaded := c.players.LoadAndDelete(w); !loaded {
		return
	}
	player.GetWriter().Close()
	if player.remove() {
		c.metrics.PlayerLeft(c.name)
	}
}

func replayLen(s *cache.Snapshot) (n int) {
	for _, p := range []*av.Packet{s.Metadata, s.AudioSeq, s.VideoSeq} {
		if p != nil {
			n++
		}
	}
	for _, g := range s.Gops {
		n += g.Len()
	}
	return n
}

func packetKind(p *av.Packet) string {
	switch {
	case p.IsMetadata:
		return "metadata"
	case p.IsVideo:
		return "video"
	default:
		return "audio"
	}
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true

	c.kickAllPlayers()
	return nil
}

func (c *Channel) kickAllPlayers() {
	c.players.Range(func(w av.WriteCloser, player *packWriter) bool {
		c.removePlayer(w, player)
		return true
	})
}

func (c *Channel) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Channel) InPublication() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inPublication
}

func (c *Channel) AddPlayer(w av.WriteCloser) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.inPublication {
		return ErrPusherNotInPublication
	}
	_, loaded := c.players.LoadOrStore(w, newPackWriterCloser(w))
	if loaded {
		return ErrPlayerAlreadyExists
	}
	return nil
}

func (c *Channel) DelPlayer(w av.WriteCloser) bool {
	pw, loaded := c.players.Load(w)
	if !loaded {
		return false
	}
	c.removePlayer(w, pw)
	return true
}

type ChannelStats struct {
	Name          string         `json:"name"`
	InPublication bool           `json:"inPublication"`
	Players       int            `json:"players"`
	Gop           cache.GopStats `json:"gop"`
	CachedGops    int            `json:"cachedGops"`
	HasMetadata   bool           `json:"hasMetadata"`
	HasAudioSeq   bool           `json:"hasAudioSeq"`
	HasVideoSeq   bool           `json:"hasVideoSeq"`
}

func (c *Channel) Stats() ChannelStats {
	s := ChannelStats{
		Name:          c.name,
		InPublication: c.InPublication(),
	}
	c.players.Range(func(av.WriteCloser, *packWriter) bool {
		s.Players++
		return true
	})
	if pc := c.cache.Load(); pc != nil {
		snap := pc.Snapshot()
		s.Gop = pc.Stats()
		s.CachedGops = len(snap.Gops)
		s.HasMetadata = snap.Metadata != nil
		s.HasAudioSeq = snap.AudioSeq != nil
		s.HasVideoSeq = snap.VideoSeq != nil
	}
	return s
}
