package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/zijiren233/gencontainer/rwmap"
	"github.com/zijiren233/livecache/cache"
	"github.com/zijiren233/livecache/container/flv"
	"github.com/zijiren233/livecache/metrics"
	"go.uber.org/zap"
)

type Server struct {
	apps                   rwmap.RWMap[string, *App]
	connBufferSize         int
	parseChannelFunc       parseChannelFunc
	autoCreateAppOrChannel bool
	gopNum                 int
	maxGopFrames           int
	playerQueueSize        int
	handshakeTimeout       time.Duration

	logger  *zap.Logger
	metrics metrics.Collector
	ids     *snowflake.Node
}

type parseChannelFunc func(ReqAppName, ReqChannelName string, IsPublisher bool) (TrueAppName string, TrueChannel string, err error)

func DefaultServer() *Server {
	return &Server{
		connBufferSize:   4096,
		gopNum:           1,
		playerQueueSize:  1024,
		handshakeTimeout: 10 * time.Second,
		logger:           zap.NewNop(),
		metrics:          metrics.Nop(),
	}
}

type ServerConf func(*Server)

func WithParseChannelFunc(f parseChannelFunc) ServerConf {
	return func(s *Server) {
		s.parseChannelFunc = f
	}
}

func WithConnBufferSize(bufferSize int) ServerConf {
	return func(s *Server) {
		s.connBufferSize = bufferSize
	}
}

func WithAutoCreateAppOrChannel(auto bool) ServerConf {
	return func(s *Server) {
		s.autoCreateAppOrChannel = auto
	}
}

// WithGopNum sets how many complete gops each channel cache keeps.
func WithGopNum(n int) ServerConf {
	return func(s *Server) {
		s.gopNum = n
	}
}

func WithMaxGopFrames(n int) ServerConf {
	return func(s *Server) {
		s.maxGopFrames = n
	}
}

func WithPlayerQueueSize(n int) ServerConf {
	return func(s *Server) {
		s.playerQueueSize = n
	}
}

func WithLogger(l *zap.Logger) ServerConf {
	return func(s *Server) {
		s.logger = l
	}
}

func WithMetrics(m metrics.Collector) ServerConf {
	return func(s *Server) {
		s.metrics = m
	}
}

func NewServer(c ...ServerConf) *Server {
	s := DefaultServer()
	for _, conf := range c {
		conf(s)
	}
	// node 0 never fails: the id is within range
	s.ids, _ = snowflake.NewNode(0)
	return s
}

func (s *Server) SetParseChannelFunc(f parseChannelFunc) {
	s.parseChannelFunc = f
}

// NewSessionID returns a unique id used to tag publish and play sessions
// in logs.
func (s *Server) NewSessionID() string {
	return s.ids.Generate().String()
}

var (
	ErrAppAlreadyExists = errors.New("app already exists")
)

func (s *Server) channelConf() []ChannelConf {
	conf := []ChannelConf{
		WithChannelGopNum(s.gopNum),
		WithChannelLogger(s.logger),
		WithChannelMetrics(s.metrics),
	}
	if s.maxGopFrames > 0 {
		conf = append(conf, WithChannelCacheConf(
			cache.WithGopCacheConf(cache.WithMaxGopFrames(s.maxGopFrames)),
		))
	}
	return conf
}

func (s *Server) NewApp(appName string) (*App, error) {
	a := NewApp(appName, s.channelConf()...)
	_, loaded := s.apps.LoadOrStore(appName, a)
	if loaded {
		return nil, ErrAppAlreadyExists
	}
	return a, nil
}

func (s *Server) GetOrNewApp(appName string) *App {
	if a, ok := s.apps.Load(appName); ok {
		return a
	}
	a, _ := s.apps.LoadOrStore(appName, NewApp(appName, s.channelConf()...))
	return a
}

var ErrAppNotFount = errors.New("app not found")

func (s *Server) GetApp(appName string) (*App, error) {
	a, ok := s.apps.Load(appName)
	if !ok {
		return nil, ErrAppNotFount
	}
	return a, nil
}

func (s *Server) Apps() []*App {
	var as []*App
	s.apps.Range(func(_ string, a *App) bool {
		as = append(as, a)
		return true
	})
	return as
}

func (s *Server) DelApp(appName string) error {
	a, loaded := s.apps.LoadAndDelete(appName)
	if !loaded {
		return ErrAppNotFount
	}
	return a.Close()
}

func (s *Server) GetChannelWithApp(appName, channelName string) (*Channel, error) {
	a, err := s.GetApp(appName)
	if err != nil {
		return nil, err
	}
	return a.GetChannel(channelName)
}

func (s *Server) GetOrNewChannelWithApp(appName, channelName string) (*Channel, error) {
	return s.GetOrNewApp(appName).GetOrNewChannel(channelName)
}

// resolveChannel maps a requested app/channel to a channel, creating it when
// auto creation is enabled and the caller is a publisher.
func (s *Server) resolveChannel(app, name string, isPublisher bool) (*Channel, error) {
	if s.parseChannelFunc != nil {
		var err error
		app, name, err = s.parseChannelFunc(app, name, isPublisher)
		if err != nil {
			return nil, err
		}
	}
	if s.autoCreateAppOrChannel && isPublisher {
		return s.GetOrNewChannelWithApp(app, name)
	}
	return s.GetChannelWithApp(app, name)
}

// Publish feeds an FLV stream from r into app/name until r ends.
func (s *Server) Publish(app, name string, r io.Reader, remote string) error {
	channel, err := s.resolveChannel(app, name, true)
	if err != nil {
		return err
	}
	log := s.logger.With(
		zap.String("session", s.NewSessionID()),
		zap.String("channel", channel.Name()),
		zap.String("remote", remote),
	)
	log.Info("publisher connected")
	err = channel.PushStart(flv.NewReader(r, flv.WithReaderBuffer(s.connBufferSize)))
	if err != nil && !errors.Is(err, io.EOF) {
		log.Warn("publisher disconnected", zap.Error(err))
		return err
	}
	log.Info("publisher disconnected")
	return nil
}

var ErrBadPreamble = errors.New("bad publish preamble")

const maxPreambleLen = 512

// Serve accepts raw TCP publishers. A publisher first sends one line
// "app/channel\n" and then an FLV stream.
func (s *Server) Serve(l net.Listener) error {
	for {
		netconn, err := l.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept", zap.Error(err))
				continue
			}
			return err
		}
		go s.handleConn(netconn)
	}
}

func (s *Server) handleConn(conn net.Conn) (err error) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	r := bufio.NewReaderSize(conn, s.connBufferSize)
	if s.handshakeTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	}
	app, name, err := readPreamble(r)
	if err != nil {
		s.logger.Debug("publish preamble", zap.String("remote", remote), zap.Error(err))
		return err
	}
	conn.SetReadDeadline(time.Time{})

	return s.Publish(app, name, r, remote)
}

func readPreamble(r *bufio.Reader) (app, name string, err error) {
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", "", err
		}
		if b == '\n' {
			break
		}
		if len(line) >= maxPreambleLen {
			return "", "", ErrBadPreamble
		}
		line = append(line, b)
	}
	app, name, ok := strings.Cut(strings.Trim(strings.TrimSpace(string(line)), "/"), "/")
	if !ok || app == "" || name == "" || strings.Contains(name, "/") {
		return "", "", ErrBadPreamble
	}
	return app, name, nil
}

func (s *Server) Close() error {
	s.apps.Range(func(name string, a *App) bool {
		s.apps.Delete(name)
		a.Close()
		return true
	})
	return nil
}
