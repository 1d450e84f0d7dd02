package log

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	rootLogger Logger
	mutex      = &sync.Mutex{}
)

// Logger is the sugared logging surface shared by every component.
type Logger interface {
	Named(name string) Logger
	With(args ...any) Logger

	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)

	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)
	Fatalf(template string, args ...any)

	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
	Fatalw(msg string, keysAndValues ...any)

	Sync() error
}

type logger struct {
	*zap.SugaredLogger
}

func (l *logger) Named(name string) Logger {
	return &logger{l.SugaredLogger.Named(name)}
}

func (l *logger) With(args ...any) Logger {
	return &logger{l.SugaredLogger.With(args...)}
}

// Global returns the root logger, set up with DefaultOptions if Setup was never called.
func Global() Logger {
	mutex.Lock()
	if rootLogger == nil {
		rootLogger = build(DefaultOptions(), os.Stdout, os.Stderr)
	}
	l := rootLogger
	mutex.Unlock()
	return l
}

// Named is shorthand for Global().Named(name).
func Named(name string) Logger {
	return Global().Named(name)
}

// Nop returns a logger that discards everything, handy in tests.
func Nop() Logger {
	return &logger{zap.NewNop().Sugar()}
}

func Setup(options *Options) {
	mutex.Lock()
	defer mutex.Unlock()
	if rootLogger != nil {
		rootLogger.Warn("can't re setup root logger")
		return
	}
	rootLogger = build(options, os.Stdout, os.Stderr)
}

// New builds a standalone logger writing to the given writers instead of stdout/stderr.
func New(options *Options, info io.Writer, err io.Writer) Logger {
	return build(options, info, err)
}

func build(options *Options, info io.Writer, err io.Writer) Logger {
	var (
		cores         []zapcore.Core
		opts          []zap.Option
		encoderConfig = zap.NewProductionEncoderConfig()
	)

	if options.callerEncoder != nil {
		opts = append(opts, zap.AddCaller())
		encoderConfig.EncodeCaller = zapcore.CallerEncoder(options.callerEncoder)
	}

	encoderConfig.EncodeLevel = zapcore.LevelEncoder(options.levelEncoder)
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(options.timeLayout)
	encoderConfig.ConsoleSeparator = " "
	cores = []zapcore.Core{zapcore.NewCore(
		options.outPutEncoder(encoderConfig),
		zapcore.AddSync(info),
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= zapcore.Level(options.level) && lvl < zapcore.WarnLevel
		}),
	), zapcore.NewCore(
		options.outPutEncoder(encoderConfig),
		zapcore.AddSync(err),
		zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= zapcore.Level(options.level) && lvl >= zapcore.WarnLevel
		}),
	)}

	if options.stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.WarnLevel))
	}
	zapSugarLogger := zap.New(zapcore.NewTee(cores...), opts...).Sugar()
	if options.name != "" {
		zapSugarLogger = zapSugarLogger.Named(options.name)
	}
	return &logger{zapSugarLogger}
}
