// Package log はローテーション可能なログファイルと slog の橋渡しを提供します。
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger is a rotatable log file that can back a slog handler
type Logger struct {
	logFile  *os.File
	logMutex sync.Mutex
}

var (
	logger *Logger
)

func GetLogger() *Logger {
	return logger
}

func SetLogger(l *Logger) {
	if logger != nil {
		logger.Close()
	}
	logger = l
}

// NewLogger creates a new logger that writes to the specified file
func NewLogger(filename string) (*Logger, error) {
	// Open log file with append mode
	logFile, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ログファイルを開けませんでした: %w", err)
	}

	return &Logger{
		logFile: logFile,
	}, nil
}

func (l *Logger) Close() {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile != nil {
		_ = l.logFile.Close()
		l.logFile = nil
	}
}

// Write implements io.Writer. ローテーション中の書き込みと競合しないようロックを取る。
func (l *Logger) Write(p []byte) (int, error) {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return len(p), nil
	}
	return l.logFile.Write(p)
}

var _ io.Writer = (*Logger)(nil)

// Handler はこのログファイルへ書き込む slog ハンドラを作ります。
// debug が true のとき Debug レベルまで出力します。
func (l *Logger) Handler(debug bool) slog.Handler {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.NewTextHandler(l, &slog.HandlerOptions{Level: level})
}

// Rotate closes and reopens the log file
func (l *Logger) Rotate() error {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return nil // No log file to rotate
	}

	currentLogPath := l.logFile.Name()

	// Close existing log file
	_ = l.logFile.Close()

	// Reopen log file
	logFile, err := os.OpenFile(currentLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		l.logFile = nil
		return fmt.Errorf("ログファイルを再オープンできませんでした: %w", err)
	}

	l.logFile = logFile
	return nil
}
