package server

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zijiren233/livecache/protocol/httpflv"
	"github.com/zijiren233/livecache/utils"
	"go.uber.org/zap"
)

type HTTPConf struct {
	MetricsPath    string
	MetricsHandler http.Handler
}

// HTTPHandler serves HTTP-FLV play and publish on /{app}/{channel}.flv and
// channel stats on /api/channels.
func (s *Server) HTTPHandler(conf HTTPConf) http.Handler {
	e := gin.New()
	e.Use(gin.Recovery())
	utils.Cors(e)

	if conf.MetricsHandler != nil {
		e.GET(conf.MetricsPath, gin.WrapH(conf.MetricsHandler))
	}
	e.GET("/api/channels", s.handleChannels)
	e.GET("/api/channels/:app/:channel", s.handleChannel)
	e.GET("/:app/:channel", s.handlePlay)
	e.POST("/:app/:channel", s.handlePublish)
	return e
}

func splitFlvChannel(c *gin.Context) (app, channel string, ok bool) {
	app = c.Param("app")
	channel = c.Param("channel")
	if path.Ext(channel) != ".flv" {
		return "", "", false
	}
	return app, strings.TrimSuffix(channel, ".flv"), true
}

func (s *Server) handlePlay(c *gin.Context) {
	app, name, ok := splitFlvChannel(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	channel, err := s.resolveChannel(app, name, false)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "video/x-flv")
	c.Header("Cache-Control", "no-cache")
	w := httpflv.NewHttpFLVWriter(c.Writer, httpflv.WithQueueSize(s.playerQueueSize))
	if err := channel.AddPlayer(w); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrPusherNotInPublication) {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}
	defer func() {
		channel.DelPlayer(w)
		if n := w.Dropped(); n > 0 {
			s.metrics.PacketsDropped(channel.Name(), int(n))
		}
	}()

	log := s.logger.With(
		zap.String("session", s.NewSessionID()),
		zap.String("channel", channel.Name()),
		zap.String("remote", c.ClientIP()),
	)
	log.Info("player connected")
	c.Status(http.StatusOK)
	if err := w.SendPacket(c.Request.Context()); err != nil {
		log.Info("player disconnected", zap.Error(err))
		return
	}
	log.Info("player disconnected")
}

func (s *Server) handlePublish(c *gin.Context) {
	app, name, ok := splitFlvChannel(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	err := s.Publish(app, name, c.Request.Body, c.ClientIP())
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, ErrAppNotFount), errors.Is(err, ErrChannelNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrPusherAlreadyInPublication):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleChannels(c *gin.Context) {
	stats := []ChannelStats{}
	for _, a := range s.Apps() {
		for _, ch := range a.Channels() {
			stats = append(stats, ch.Stats())
		}
	}
	c.JSON(http.StatusOK, gin.H{"channels": stats})
}

func (s *Server) handleChannel(c *gin.Context) {
	channel, err := s.GetChannelWithApp(c.Param("app"), c.Param("channel"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, channel.Stats())
}
