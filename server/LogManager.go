package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"avdecc-list/avdecc/log"
)

type LogManager struct{}

// NewLogManager はログファイルを開き、slog のデフォルトロガーを差し替えます。
// transport が非nilのとき、Warn以上のログはWebSocketクライアントにも配信されます。
func NewLogManager(logFilename string, debug bool, transport WebSocketTransport) (*LogManager, error) {
	// ロガーのセットアップ
	logger, err := log.NewLogger(logFilename)
	if err != nil {
		return nil, err
	}
	log.SetLogger(logger)

	var handler slog.Handler = logger.Handler(debug)
	if transport != nil {
		handler = NewBroadcastHandler(handler, transport, slog.LevelWarn)
	}
	slog.SetDefault(slog.New(handler))

	// ログローテーション用のシグナルハンドリング (SIGHUP)
	rotateSignalCh := make(chan os.Signal, 1)
	signal.Notify(rotateSignalCh, syscall.SIGHUP)
	go func() {
		for {
			<-rotateSignalCh
			fmt.Fprintln(os.Stderr, "SIGHUPを受信しました。ログファイルをローテーションします...")
			slog.Info("SIGHUPを受信しました。ログファイルをローテーションします...")
			if err := log.GetLogger().Rotate(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "ログローテーションエラー: %v\n", err)
			}
		}
	}()

	return &LogManager{}, nil
}

func (lm *LogManager) Close() error {
	// ログファイルを閉じる
	log.SetLogger(nil)
	return nil
}
