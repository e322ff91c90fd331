package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen string `yaml:"listen"`
	Port   uint16 `yaml:"port"`

	// AutoCreate creates apps and channels on first publish.
	AutoCreate bool `yaml:"auto_create"`

	Cache struct {
		GopNum       int `yaml:"gop_num"`
		MaxGopFrames int `yaml:"max_gop_frames"`
	} `yaml:"cache"`

	Player struct {
		QueueSize int `yaml:"queue_size"`
	} `yaml:"player"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
		File        string `yaml:"file"`
		MaxSize     int    `yaml:"max_size"`
		MaxBackups  int    `yaml:"max_backups"`
		MaxAge      int    `yaml:"max_age"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

func Default() *Config {
	c := new(Config)
	setDefaults(c)
	return c
}

// Load reads a yaml config file. An empty path returns the defaults. Values
// from the environment override the file.
func Load(path string) (*Config, error) {
	c := new(Config)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}

	if err := applyEnvironmentOverrides(c); err != nil {
		return nil, err
	}
	setDefaults(c)
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return c, nil
}

func applyEnvironmentOverrides(c *Config) error {
	if v := os.Getenv("LIVECACHE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("LIVECACHE_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return errors.Wrap(err, "LIVECACHE_PORT")
		}
		c.Port = uint16(port)
	}
	if v := os.Getenv("LIVECACHE_GOP_NUM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "LIVECACHE_GOP_NUM")
		}
		c.Cache.GopNum = n
	}
	if v := os.Getenv("LIVECACHE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

func setDefaults(c *Config) {
	if c.Listen == "" {
		c.Listen = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 1935
	}
	if c.Cache.GopNum == 0 {
		c.Cache.GopNum = 1
	}
	if c.Cache.MaxGopFrames == 0 {
		c.Cache.MaxGopFrames = 1024
	}
	if c.Player.QueueSize == 0 {
		c.Player.QueueSize = 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

var (
	ErrGopNum       = errors.New("cache.gop_num must be at least 1")
	ErrMaxGopFrames = errors.New("cache.max_gop_frames must be positive")
	ErrQueueSize    = errors.New("player.queue_size must be positive")
)

func (c *Config) Validate() error {
	if c.Cache.GopNum < 1 {
		return ErrGopNum
	}
	if c.Cache.MaxGopFrames < 1 {
		return ErrMaxGopFrames
	}
	if c.Player.QueueSize < 1 {
		return ErrQueueSize
	}
	return nil
}
