package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"avdecc-list/avdecc"
	"avdecc-list/avdecc/entitymodel"
	"avdecc-list/avdecc/handler"
	"avdecc-list/config"
	"avdecc-list/server"
)

// IEEE 1722.1 資料
// https://standards.ieee.org/ieee/1722.1/6051/

// buildEntityModel は設定からローカルエンティティのAEMモデルを組み立てる
func buildEntityModel(cfg *config.Config) (*entitymodel.Store, error) {
	entityID, err := config.ParseEntityID(cfg.Entity.EntityID)
	if err != nil {
		return nil, fmt.Errorf("entity_id のパースエラー: %w", err)
	}
	if entityID == 0 {
		// 未設定なら起動ごとにランダムなIDを使う（下位16ビットはunique_id空間として空ける）
		entityID = rand.Uint64() &^ 0xffff
	}
	entityModelID, err := config.ParseEntityID(cfg.Entity.EntityModelID)
	if err != nil {
		return nil, fmt.Errorf("entity_model_id のパースエラー: %w", err)
	}

	entity := avdecc.EntityDescriptor{
		EntityID:             avdecc.EntityID(entityID),
		EntityModelID:        avdecc.EntityModelID(entityModelID),
		EntityCapabilities:   avdecc.EntityCapabilityAEMSupported | avdecc.EntityCapabilityGPTPSupported,
		TalkerStreamSources:  1,
		TalkerCapabilities:   avdecc.TalkerCapabilityImplemented | avdecc.TalkerCapabilityAudioSource,
		ListenerStreamSinks:  1,
		ListenerCapabilities: avdecc.ListenerCapabilityImplemented | avdecc.ListenerCapabilityAudioSink,
		EntityName:           avdecc.MakeObjectName(cfg.Entity.EntityName),
		FirmwareVersion:      avdecc.MakeObjectName("1.0"),
	}

	configuration := &entitymodel.Configuration{
		Descriptor: avdecc.ConfigurationDescriptor{
			ObjectName: avdecc.MakeObjectName("Default"),
			DescriptorCounts: []avdecc.DescriptorCount{
				{Type: avdecc.DescriptorStreamInput, Count: 1},
				{Type: avdecc.DescriptorStreamOutput, Count: 1},
				{Type: avdecc.DescriptorAVBInterface, Count: 1},
				{Type: avdecc.DescriptorClockSource, Count: 1},
			},
		},
		StreamInputs: []*entitymodel.StreamState{{
			Descriptor: avdecc.StreamDescriptor{
				DescriptorType: avdecc.DescriptorStreamInput,
				ObjectName:     avdecc.MakeObjectName("Stream Input 0"),
				StreamFlags:    avdecc.StreamFlagClassA,
			},
		}},
		StreamOutputs: []*entitymodel.StreamState{{
			Descriptor: avdecc.StreamDescriptor{
				DescriptorType: avdecc.DescriptorStreamOutput,
				ObjectName:     avdecc.MakeObjectName("Stream Output 0"),
				StreamFlags:    avdecc.StreamFlagClassA,
			},
		}},
		AVBInterfaces: []avdecc.AVBInterfaceDescriptor{{
			ObjectName:    avdecc.MakeObjectName("AVB Interface 0"),
			ClockIdentity: entityID,
		}},
		ClockSources: []avdecc.ClockSourceDescriptor{{
			ObjectName: avdecc.MakeObjectName("Clock Source 0"),
		}},
	}

	return entitymodel.NewStore(entity, configuration), nil
}

// coordinatorConfig は設定ファイルのタイミング値をプロトコル設定に変換する
func coordinatorConfig(cfg *config.Config) (handler.CoordinatorConfig, error) {
	result := handler.DefaultCoordinatorConfig()
	result.Advertise = cfg.Protocol.Advertise

	if cfg.Protocol.ValidTime != "" {
		d, err := time.ParseDuration(cfg.Protocol.ValidTime)
		if err != nil {
			return result, fmt.Errorf("valid_time のパースエラー: %w", err)
		}
		result.Discovery.ValidTime = d
	}
	if cfg.Protocol.CommandTimeout != "" {
		d, err := time.ParseDuration(cfg.Protocol.CommandTimeout)
		if err != nil {
			return result, fmt.Errorf("command_timeout のパースエラー: %w", err)
		}
		result.Command.Timeout = d
	}
	if cfg.Protocol.MaxRetries > 0 {
		result.Command.MaxRetries = cfg.Protocol.MaxRetries
	}
	if cfg.Protocol.TickInterval != "" {
		d, err := time.ParseDuration(cfg.Protocol.TickInterval)
		if err != nil {
			return result, fmt.Errorf("tick_interval のパースエラー: %w", err)
		}
		result.TickInterval = d
	}
	return result, nil
}

// writePIDFile はデーモンモード用にPIDファイルを書き出す
func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

func main() {
	// コマンドライン引数の解析
	args := config.ParseCommandLineArgs()

	// 設定ファイルの読み込みとコマンドライン引数の適用
	cfg, err := config.LoadConfig(args.ConfigFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "設定ファイルの読み込みエラー: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyCommandLineArgs(args)

	// ルートコンテキストの作成
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリングの設定 (SIGINT, SIGTERM)
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		fmt.Println("\nシグナルを受信しました。終了します...")
		cancel()
	}()

	// PIDファイルの書き出し
	if cfg.Daemon.Enabled && cfg.Daemon.PIDFile != "" {
		if err := writePIDFile(cfg.Daemon.PIDFile); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "PIDファイルの書き込みエラー: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = os.Remove(cfg.Daemon.PIDFile) }()
	}

	// ローカルエンティティモデルの構築
	store, err := buildEntityModel(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "エンティティモデルの構築エラー: %v\n", err)
		os.Exit(1)
	}

	coordCfg, err := coordinatorConfig(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "プロトコル設定エラー: %v\n", err)
		os.Exit(1)
	}

	// AVDECCサーバー（UDPソケット + プロトコルコーディネーター）の作成
	avdeccServer, err := server.NewServer(ctx, store, server.ServerOptions{
		Port:        cfg.Network.Port,
		MulticastIP: net.ParseIP(cfg.Network.MulticastIP),
		Coordinator: coordCfg,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "AVDECCサーバーの作成エラー: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := avdeccServer.Close(); err != nil {
			fmt.Printf("AVDECCサーバーのクローズ中にエラーが発生しました: %v\n", err)
		}
	}()

	// WebSocketサーバーの作成（有効な場合）
	var wsServer *server.WebSocketServer
	if cfg.WebSocket.Enabled {
		wsServer, err = server.NewWebSocketServer(ctx, fmt.Sprintf("%s:%d", cfg.WebSocket.Host, cfg.WebSocket.Port), avdeccServer.Coordinator())
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "WebSocketサーバーの作成エラー: %v\n", err)
			os.Exit(1)
		}
		avdeccServer.OnEntityEvent = wsServer.OnEntityEvent
		avdeccServer.OnConnectionEvent = wsServer.OnConnectionEvent
	}

	// ロガーのセットアップ（WebSocketが有効ならWarn以上をクライアントへも配信する）
	var logTransport server.WebSocketTransport
	if wsServer != nil {
		logTransport = wsServer.Transport()
	}
	logManager, err := server.NewLogManager(cfg.Log.Filename, cfg.Debug, logTransport)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ログ設定エラー: %v\n", err)
		os.Exit(1)
	}
	defer logManager.Close()

	// 広告・受信・周期処理の開始
	if err := avdeccServer.Start(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "AVDECCサーバーの起動エラー: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("AVDECCエンティティを起動しました: %v (port %d)\n", store.EntityID(), cfg.Network.Port)

	if wsServer == nil {
		// WebSocketなしの場合はシグナルを待つだけ
		<-ctx.Done()
		return
	}

	// サーバーの起動
	fmt.Printf("WebSocketサーバーを起動しています: %s:%d\n", cfg.WebSocket.Host, cfg.WebSocket.Port)
	options := server.StartOptions{}
	if cfg.TLS.Enabled {
		options.CertFile = cfg.TLS.CertFile
		options.KeyFile = cfg.TLS.KeyFile
	}
	go func() {
		<-ctx.Done()
		_ = wsServer.Stop()
	}()
	if err := wsServer.Start(options); err != nil && err != http.ErrServerClosed {
		fmt.Printf("サーバーエラー: %v\n", err)
	}
}
