package server

import (
	"errors"
	"sync"

	"github.com/zijiren233/gencontainer/rwmap"
)

type App struct {
	appName     string
	channels    rwmap.RWMap[string, *Channel]
	channelConf []ChannelConf

	mu     sync.RWMutex
	closed bool
}

func NewApp(appName string, conf ...ChannelConf) *App {
	return &App{
		appName:     appName,
		channelConf: conf,
	}
}

func (a *App) Name() string {
	return a.appName
}

var (
	ErrChannelNotFound      = errors.New("channel not found")
	ErrChannelAlreadyExists = errors.New("channel already exists")
	ErrAppClosed            = errors.New("app closed")
)

func (a *App) NewChannel(channelName string) (*Channel, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrAppClosed
	}
	c, loaded := a.channels.LoadOrStore(channelName, a.newChannel(channelName))
	if loaded {
		return nil, ErrChannelAlreadyExists
	}
	return c, nil
}

func (a *App) GetOrNewChannel(channelName string) (*Channel, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrAppClosed
	}
	if c, ok := a.channels.Load(channelName); ok {
		return c, nil
	}
	c, _ := a.channels.LoadOrStore(channelName, a.newChannel(channelName))
	return c, nil
}

func (a *App) newChannel(channelName string) *Channel {
	return NewChannel(a.appName+"/"+channelName, a.channelConf...)
}

func (a *App) GetChannel(channelName string) (*Channel, error) {
	if c, ok := a.channels.Load(channelName); ok {
		return c, nil
	}
	return nil, ErrChannelNotFound
}

func (a *App) Channels() []*Channel {
	var cs []*Channel
	a.channels.Range(func(_ string, c *Channel) bool {
		cs = append(cs, c)
		return true
	})
	return cs
}

func (a *App) DelChannel(channelName string) error {
	c, loaded := a.channels.LoadAndDelete(channelName)
	if !loaded {
		return ErrChannelNotFound
	}
	return c.Close()
}

func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.channels.Range(func(name string, c *Channel) bool {
		a.channels.Delete(name)
		c.Close()
		return true
	})
	return nil
}
