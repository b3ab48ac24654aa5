package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var LOG_LEVELS = map[string]zapcore.Level{
	"debug":  zapcore.DebugLevel,
	"info":   zapcore.InfoLevel,
	"warn":   zapcore.WarnLevel,
	"error":  zapcore.ErrorLevel,
	"dpanic": zapcore.DPanicLevel,
	"panic":  zapcore.PanicLevel,
	"fatal":  zapcore.FatalLevel,
}

// BuildLogger は、指定されたログレベルと出力先で zap.Logger を構築します。
// ll には LOG_LEVELS のキー、o には "stdout" やファイルパスを指定します。
func BuildLogger(ll string, o string) (*zap.Logger, error) {
	level, ok := LOG_LEVELS[ll]
	if !ok {
		return nil, fmt.Errorf("unknown log level: %s", ll)
	}
	logLevel := zap.NewAtomicLevel()
	logLevel.SetLevel(level)
	zapConfig := zap.Config{
		Level:    logLevel,
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "Time",
			LevelKey:       "Level",
			NameKey:        "Name",
			CallerKey:      "Caller",
			MessageKey:     "Msg",
			StacktraceKey:  "St",
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{o},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapConfig.Build()
}

// MustBuild は BuildLogger のエラーを panic に変換します。プロセス起動時専用です。
func MustBuild(ll string, o string) *zap.Logger {
	l, err := BuildLogger(ll, o)
	if err != nil {
		panic(err)
	}
	return l
}
