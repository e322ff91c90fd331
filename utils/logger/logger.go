package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Option struct {
	Level       zapcore.Level
	Development bool
	// File enables rotated file output in addition to the console.
	File       string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
}

type LoggerConf func(*Option)

func WithLevel(level zapcore.Level) LoggerConf {
	return func(o *Option) {
		o.Level = level
	}
}

func WithDevelopment(dev bool) LoggerConf {
	return func(o *Option) {
		o.Development = dev
	}
}

func WithFile(file string, maxSize, maxBackups, maxAge int) LoggerConf {
	return func(o *Option) {
		o.File = file
		o.MaxSize = maxSize
		o.MaxBackups = maxBackups
		o.MaxAge = maxAge
	}
}

func (o *Option) fixup() {
	if o.MaxSize == 0 {
		o.MaxSize = 500
	}
	if o.MaxBackups == 0 {
		o.MaxBackups = 5
	}
	if o.MaxAge == 0 {
		o.MaxAge = 5
	}
}

// New builds a zap logger writing to stderr, plus a lumberjack rotated file
// when a file is configured. Development mode uses the colored console
// encoder, production mode JSON.
func New(conf ...LoggerConf) *zap.Logger {
	o := &Option{Level: zapcore.InfoLevel}
	for _, c := range conf {
		c(o)
	}
	o.fixup()

	var encoderConfig zapcore.EncoderConfig
	if o.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	encoderConfig.EncodeTime = timeEncoder

	var consoleEncoder zapcore.Encoder
	if o.Development {
		consoleEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	}
	level := zap.NewAtomicLevelAt(o.Level)
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}
	if o.File != "" {
		fileEncoderConfig := zap.NewProductionEncoderConfig()
		fileEncoderConfig.EncodeTime = timeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   o.File,
				MaxSize:    o.MaxSize,
				MaxBackups: o.MaxBackups,
				MaxAge:     o.MaxAge,
				LocalTime:  true,
			}),
			level,
		))
	}

	opts := []zap.Option{zap.AddCaller()}
	if o.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...)
}

// ParseLevel maps a level name to a zap level, falling back to info.
func ParseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05"))
}
