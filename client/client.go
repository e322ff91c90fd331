package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/zijiren233/gencontainer/dllist"
	"github.com/zijiren233/livecache/av"
	"github.com/zijiren233/livecache/cache"
	"github.com/zijiren233/livecache/container/flv"
	"github.com/zijiren233/livecache/utils"
)

// Client publishes an FLV stream over raw TCP or plays one over HTTP-FLV.
// A playing client keeps its own cache so players added to it late start at
// a key frame like players of the server.
type Client struct {
	method     string
	gopNum     int
	realtime   bool
	httpClient *http.Client

	conn io.Closer

	pulling, inPublication bool

	mu         sync.Mutex
	playerList *dllist.Dllist[*packWriter]
	cache      *cache.Cache

	pusher *flv.Writer
	puller *flv.Reader

	ts    utils.Timestamp
	start time.Time
}

type ClientConf func(*Client)

func WithGopNum(n int) ClientConf {
	return func(c *Client) {
		c.gopNum = n
	}
}

// WithRealtime paces PushStart by packet timestamps instead of sending as
// fast as the connection allows.
func WithRealtime(realtime bool) ClientConf {
	return func(c *Client) {
		c.realtime = realtime
	}
}

func WithHTTPClient(hc *http.Client) ClientConf {
	return func(c *Client) {
		c.httpClient = hc
	}
}

var (
	ErrAlreadyDialed        = errors.New("already dialed")
	ErrNotDialed            = errors.New("not dialed")
	ErrMethodNotSupport     = errors.New("method not support")
	ErrBadURL               = errors.New("url must be scheme://host/app/channel")
	ErrAlreadyInPublication = errors.New("already in publication")
)

func NewClient(method string, conf ...ClientConf) (*Client, error) {
	if method != av.PUBLISH && method != av.PLAY {
		return nil, ErrMethodNotSupport
	}
	c := &Client{
		method:     method,
		gopNum:     1,
		httpClient: http.DefaultClient,
	}
	for _, cc := range conf {
		cc(c)
	}
	if method == av.PLAY {
		c.cache = cache.NewCache(c.gopNum)
		c.playerList = dllist.New[*packWriter]()
	}
	return c, nil
}

// Dial connects to the server. Publishers use tcp://host:port/app/channel,
// players use http://host:port/app/channel.flv.
func (c *Client) Dial(ctx context.Context, rawURL string) error {
	if c.conn != nil {
		return ErrAlreadyDialed
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return pkgerrors.Wrap(err, "parse url")
	}
	app, channel, ok := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if !ok || app == "" || channel == "" || u.Host == "" {
		return ErrBadURL
	}

	switch c.method {
	case av.PUBLISH:
		if u.Scheme != "tcp" {
			return ErrBadURL
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return pkgerrors.Wrap(err, "dial")
		}
		channel = strings.TrimSuffix(channel, ".flv")
		if _, err := fmt.Fprintf(conn, "%s/%s\n", app, channel); err != nil {
			conn.Close()
			return pkgerrors.Wrap(err, "send preamble")
		}
		c.conn = conn
		c.pusher = flv.NewWriter(conn)
	case av.PLAY:
		if u.Scheme != "http" && u.Scheme != "https" {
			return ErrBadURL
		}
		if !strings.HasSuffix(u.Path, ".flv") {
			u.Path += ".flv"
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return pkgerrors.Wrap(err, "new request")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return pkgerrors.Wrap(err, "play")
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return pkgerrors.Errorf("play: unexpected status %s", resp.Status)
		}
		c.conn = resp.Body
		c.puller = flv.NewReader(resp.Body)
	}
	return nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return ErrNotDialed
	}
	return c.conn.Close()
}

type packWriter struct {
	init bool
	w    av.WriteCloser
}

func newPackWriterCloser(w av.WriteCloser) *packWriter {
	return &packWriter{
		w: w,
	}
}

func (p *packWriter) GetWriter() av.WriteCloser {
	return p.w
}

func (p *packWriter) Init() {
	p.init = true
}

func (p *packWriter) Inited() bool {
	return p.init
}

// PullStart reads the played stream until it ends or ctx is done, fanning
// packets out to the players. Players are closed when PullStart returns.
func (c *Client) PullStart(ctx context.Context) error {
	if c.method != av.PLAY {
		return ErrMethodNotSupport
	}
	if c.puller == nil {
		return ErrNotDialed
	}

	c.mu.Lock()
	if c.pulling {
		c.mu.Unlock()
		return ErrAlreadyDialed
	}
	c.pulling = true
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.pulling = false
		for e := c.playerList.Front(); e != nil; e = c.playerList.Front() {
			c.playerList.Remove(e)
			e.Value.GetWriter().Close()
		}
	}()

	for {
		p, err := c.puller.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		keyFrames := c.cache.Stats().KeyFrames
		c.cache.Write(p)
		boundary := !p.IsMetadata &&
			(!c.cache.HasVideo() || c.cache.Stats().KeyFrames != keyFrames)

		c.mu.Lock()
		for e := c.playerList.Front(); e != nil; {
			next := e.Next()
			player := e.Value
			if !player.Inited() {
				if boundary {
					if err = c.cache.Snapshot().Join(player.GetWriter(), p); err != nil {
						c.playerList.Remove(e)
						player.GetWriter().Close()
					} else {
						player.Init()
					}
				}
			} else if err = player.GetWriter().Write(p); err != nil {
				c.playerList.Remove(e)
				player.GetWriter().Close()
			}
			e = next
		}
		c.mu.Unlock()
	}
}

func (c *Client) AddPlayer(player av.WriteCloser) error {
	if c.method != av.PLAY {
		return ErrMethodNotSupport
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerList.PushBack(newPackWriterCloser(player))
	return nil
}

func (c *Client) DelPlayer(player av.WriteCloser) (bool, error) {
	if c.method != av.PLAY {
		return false, ErrMethodNotSupport
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.playerList.Front(); e != nil; e = e.Next() {
		if e.Value.GetWriter() == player {
			c.playerList.Remove(e)
			return true, nil
		}
	}
	return false, nil
}

// PushStart sends packets from src until it ends or ctx is done. Timestamps
// keep increasing across calls, so a source can be pushed again to loop it.
func (c *Client) PushStart(ctx context.Context, src av.Reader) error {
	if c.method != av.PUBLISH {
		return ErrMethodNotSupport
	}
	if c.pusher == nil {
		return ErrNotDialed
	}
	if c.inPublication {
		return ErrAlreadyInPublication
	}

	c.inPublication = true
	defer func() { c.inPublication = false }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p, err := src.Read()
		if err != nil {
			return err
		}
		p = p.Clone()
		p.TimeStamp = c.ts.RecTimeStamp(p.TimeStamp)
		if c.realtime {
			if err := c.pace(ctx, p.TimeStamp); err != nil {
				return err
			}
		}
		if err := c.pusher.Write(p); err != nil {
			return err
		}
	}
}

func (c *Client) pace(ctx context.Context, timestamp uint32) error {
	if c.start.IsZero() {
		c.start = time.Now().Add(-time.Duration(timestamp) * time.Millisecond)
	}
	wait := time.Until(c.start.Add(time.Duration(timestamp) * time.Millisecond))
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
