package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ILogger interface {
	Debug(module, message string, details map[string]interface{})
	Info(module, message string, details map[string]interface{})
	Warn(module, message string, details map[string]interface{})
	Error(module, message string, details map[string]interface{})
	Sync() error
}

// Options configures New. The file always receives JSON lines at Info and above.
type Options struct {
	FilePath string
	// Production switches the console copy to JSON
	Production bool
	// Console receives a copy of every entry at ConsoleLevel; nil disables it
	Console      zapcore.WriteSyncer
	ConsoleLevel zapcore.Level
}

type ZapLogger struct {
	logger   *zap.Logger
	filePath string
}

var _ ILogger = (*ZapLogger)(nil)

// New builds the tee of a rotated JSON file core and an optional console core
func New(opts Options) *ZapLogger {
	jsonEncoder := newJSONEncoder()

	cores := []zapcore.Core{
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(newRotator(opts.FilePath)), zap.InfoLevel),
	}
	if opts.Console != nil {
		consoleEncoder := jsonEncoder
		if !opts.Production {
			consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		}
		cores = append(cores, zapcore.NewCore(consoleEncoder, opts.Console, opts.ConsoleLevel))
	}

	// Skip 1 to point to caller of wrapper
	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	return &ZapLogger{
		logger:   l,
		filePath: opts.FilePath,
	}
}

// NewZapLogger is the server logger: rotated JSON file plus everything on stdout
func NewZapLogger(logFilePath string, isProd bool) *ZapLogger {
	return New(Options{
		FilePath:     logFilePath,
		Production:   isProd,
		Console:      zapcore.Lock(os.Stdout),
		ConsoleLevel: zap.DebugLevel,
	})
}

// NewIsolatedLogger creates a logger that ONLY writes to the file, not console.
// The progress audit trail uses it so status chatter stays out of the main log.
func NewIsolatedLogger(logFilePath string) *ZapLogger {
	return New(Options{FilePath: logFilePath})
}

// NewNopLogger discards everything
func NewNopLogger() *ZapLogger {
	return &ZapLogger{logger: zap.NewNop()}
}

func newRotator(logFilePath string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    10,   // Megabytes
		MaxBackups: 5,    // Files
		MaxAge:     30,   // Days
		Compress:   true, // gzip
	}
}

func newJSONEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func fields(module string, details map[string]interface{}) []zap.Field {
	if details == nil {
		details = map[string]interface{}{}
	}
	return []zap.Field{zap.String("module", module), zap.Any("details", details)}
}

func (l *ZapLogger) Debug(module, message string, details map[string]interface{}) {
	l.logger.Debug(message, fields(module, details)...)
}

func (l *ZapLogger) Info(module, message string, details map[string]interface{}) {
	l.logger.Info(message, fields(module, details)...)
}

func (l *ZapLogger) Warn(module, message string, details map[string]interface{}) {
	l.logger.Warn(message, fields(module, details)...)
}

// Error lifts details["error"] to a top-level field so log search can find it
func (l *ZapLogger) Error(module, message string, details map[string]interface{}) {
	f := fields(module, details)
	if err, ok := details["error"]; ok {
		f = append(f, zap.Any("error_ref", err))
	}
	l.logger.Error(message, f...)
}

func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// Path returns the file the logger writes to, empty for the nop logger
func (l *ZapLogger) Path() string {
	return l.filePath
}
