package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/soheilhy/cmux"
	"github.com/spf13/cobra"
	"github.com/zijiren233/livecache/cmd/flags"
	"github.com/zijiren233/livecache/config"
	"github.com/zijiren233/livecache/metrics"
	"github.com/zijiren233/livecache/server"
	"github.com/zijiren233/livecache/utils/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start livecache server",
	Long:  `Start livecache server`,
	RunE:  Server,
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	fs := cmd.Flags()
	if fs.Changed("listen") {
		conf.Listen = flags.Listen
	}
	if fs.Changed("port") {
		conf.Port = flags.Port
	}
	if fs.Changed("auto-create") {
		conf.AutoCreate = flags.AutoCreate
	}
	if fs.Changed("gop-num") {
		conf.Cache.GopNum = flags.GopNum
	}
	if flags.Dev {
		conf.Log.Development = true
	}
	return conf, conf.Validate()
}

func newLogger(conf *config.Config) *zap.Logger {
	level := logger.ParseLevel(conf.Log.Level)
	if flags.Debug {
		level = zapcore.DebugLevel
	}
	opts := []logger.LoggerConf{
		logger.WithLevel(level),
		logger.WithDevelopment(conf.Log.Development),
	}
	if conf.Log.File != "" {
		opts = append(opts, logger.WithFile(conf.Log.File, conf.Log.MaxSize, conf.Log.MaxBackups, conf.Log.MaxAge))
	}
	return logger.New(opts...)
}

func Server(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(conf)
	defer log.Sync()

	if conf.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var (
		collector metrics.Collector = metrics.Nop()
		httpConf  server.HTTPConf
	)
	if conf.Metrics.Enabled {
		pc := metrics.NewPrometheusCollector()
		collector = pc
		httpConf.MetricsPath = conf.Metrics.Path
		httpConf.MetricsHandler = pc.HTTPHandler()
	}

	s := server.NewServer(
		server.WithAutoCreateAppOrChannel(conf.AutoCreate),
		server.WithGopNum(conf.Cache.GopNum),
		server.WithMaxGopFrames(conf.Cache.MaxGopFrames),
		server.WithPlayerQueueSize(conf.Player.QueueSize),
		server.WithLogger(log),
		server.WithMetrics(collector),
	)
	defer s.Close()

	host := fmt.Sprintf("%s:%d", conf.Listen, conf.Port)
	listener, err := net.Listen("tcp", host)
	if err != nil {
		return err
	}
	log.Info("listening",
		zap.String("tcp", fmt.Sprintf("tcp://%s (app/channel preamble)", host)),
		zap.String("http", fmt.Sprintf("http://%s/{app}/{channel}.flv", host)),
	)

	muxer := cmux.New(listener)
	httpl := muxer.Match(cmux.HTTP1Fast())
	tcpl := muxer.Match(cmux.Any())
	hs := &http.Server{Handler: s.HTTPHandler(httpConf)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreClosed(hs.Serve(httpl))
	})
	g.Go(func() error {
		return ignoreClosed(s.Serve(tcpl))
	})
	g.Go(func() error {
		return ignoreClosed(muxer.Serve())
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		hs.Close()
		listener.Close()
		return nil
	})
	return g.Wait()
}

func ignoreClosed(err error) error {
	if err == nil ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, cmux.ErrListenerClosed) {
		return nil
	}
	return err
}

func init() {
	RootCmd.AddCommand(ServerCmd)
	ServerCmd.Flags().StringVarP(&flags.ConfigPath, "config", "c", "", "yaml config file")
	ServerCmd.Flags().StringVarP(&flags.Listen, "listen", "l", "127.0.0.1", "address to listen on")
	ServerCmd.Flags().Uint16VarP(&flags.Port, "port", "p", 1935, "port to listen on")
	ServerCmd.Flags().BoolVar(&flags.AutoCreate, "auto-create", false, "create apps and channels on first publish")
	ServerCmd.Flags().IntVar(&flags.GopNum, "gop-num", 1, "complete gops cached per channel")
}
