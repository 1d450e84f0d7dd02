package log

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

type Level int8

const (
	DebugLevel = Level(zapcore.DebugLevel)
	InfoLevel  = Level(zapcore.InfoLevel)
	WarnLevel  = Level(zapcore.WarnLevel)
	ErrorLevel = Level(zapcore.ErrorLevel)
	FatalLevel = Level(zapcore.FatalLevel)
	PanicLevel = Level(zapcore.PanicLevel)
)

// ParseLevel accepts the usual level names, case-insensitive.
func ParseLevel(text string) (Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(text))); err != nil {
		return InfoLevel, errors.WithMessagef(err, "unknown log level %q", text)
	}
	return Level(l), nil
}

type OutputEncoder func(config zapcore.EncoderConfig) zapcore.Encoder

type LevelEncoder func(zapcore.Level, zapcore.PrimitiveArrayEncoder)

type CallerEncoder func(zapcore.EntryCaller, zapcore.PrimitiveArrayEncoder)

var (
	JsonOutputEncoder    OutputEncoder = zapcore.NewJSONEncoder
	ConsoleOutputEncoder OutputEncoder = zapcore.NewConsoleEncoder

	CapitalLevelEncoder LevelEncoder = zapcore.CapitalLevelEncoder
	BracketLevelEncoder LevelEncoder = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + level.CapitalString() + "]")
	}

	ShortCallerEncoder CallerEncoder = zapcore.ShortCallerEncoder
	FullCallerEncoder  CallerEncoder = zapcore.FullCallerEncoder
)

// ParseOutputEncoder maps "json" and "console" to encoders.
func ParseOutputEncoder(text string) (OutputEncoder, error) {
	switch strings.ToLower(text) {
	case "", "json":
		return JsonOutputEncoder, nil
	case "console":
		return ConsoleOutputEncoder, nil
	default:
		return nil, errors.Errorf("unknown log encoder %q", text)
	}
}

type Options struct {
	//AddOutput mode,the optional value is JsonOutputEncoder ConsoleOutputEncoder
	outPutEncoder OutputEncoder
	//Log level,the optional value is DebugLevel InfoLevel WarnLevel ErrorLevel FatalLevel PanicLevel
	level Level
	//Report callerEncoder
	callerEncoder CallerEncoder
	//Report levelEncoder
	levelEncoder LevelEncoder
	//Report Warn level stack trace
	stacktrace bool
	//time layout
	timeLayout string
	//init the named
	name string
}

func (o *Options) WithStacktrace(stacktrace bool) *Options {
	o.stacktrace = stacktrace
	return o
}

func (o *Options) WithTimeLayout(timeLayout string) *Options {
	o.timeLayout = timeLayout
	return o
}

func (o *Options) WithOutputEncoder(outputEncoder OutputEncoder) *Options {
	o.outPutEncoder = outputEncoder
	return o
}

func (o *Options) WithLevel(level Level) *Options {
	o.level = level
	return o
}

func (o *Options) WithCallerEncoder(callerEncoder CallerEncoder) *Options {
	o.callerEncoder = callerEncoder
	return o
}

func (o *Options) WithLevelEncoder(encoder LevelEncoder) *Options {
	o.levelEncoder = encoder
	return o
}

func (o *Options) WithNamed(name string) *Options {
	o.name = name
	return o
}

func DefaultOptions() *Options {
	return &Options{level: InfoLevel,
		timeLayout:    "02/Jan/2006:15:04:05 -0700",
		levelEncoder:  BracketLevelEncoder,
		outPutEncoder: JsonOutputEncoder, callerEncoder: nil}
}
