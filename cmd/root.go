package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfgFile string
	env     string
	rootCmd = &cobra.Command{
		Use:   "robobridge",
		Short: "Simulated robot telemetry bridge and its clients",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment overlay, merges config.<env>.yaml")
}

// parseLevel maps a config level name to a zap level. Unknown names are info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func slogLevel(l zapcore.Level) slog.Level {
	switch l {
	case zapcore.DebugLevel:
		return slog.LevelDebug
	case zapcore.WarnLevel:
		return slog.LevelWarn
	case zapcore.ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewAsyncLogger writes JSON to a rotated file and errors to the console,
// both through buffered syncers. The returned func flushes them.
func NewAsyncLogger(file, level string) (*slog.Logger, func()) {
	lvl := parseLevel(level)

	fileWriter := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	consoleWriter := zapcore.AddSync(os.Stdout)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	fileEncoderConfig := encoderConfig
	fileEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	fileEncoder := zapcore.NewJSONEncoder(fileEncoderConfig)
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	bufferedFileWriter := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(fileWriter),
		Size:          256 * 1024, // 256KB buffer
		FlushInterval: 5 * time.Second,
	}

	bufferedConsoleWriter := &zapcore.BufferedWriteSyncer{
		WS:            consoleWriter,
		Size:          64 * 1024, // 64KB buffer
		FlushInterval: 1 * time.Second,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, bufferedFileWriter, lvl),
		zapcore.NewCore(consoleEncoder, bufferedConsoleWriter, zapcore.ErrorLevel),
	)

	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	handler := slogzap.Option{
		Level:  slogLevel(lvl),
		Logger: zapLogger,
	}.NewZapHandler()

	return slog.New(handler), func() {
		_ = zapLogger.Sync()
		_ = bufferedFileWriter.Stop()
		_ = bufferedConsoleWriter.Stop()
		_ = fileWriter.Close()
	}
}
