package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// indexOf は文字列内の特定の文字の位置を返す
func indexOf(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

const (
	// DefaultConfigFile はデフォルトの設定ファイル名
	DefaultConfigFile = "config.toml"
)

// Config はアプリケーション全体の設定を表す
type Config struct {
	Debug bool `toml:"debug"`
	Log   struct {
		Filename string `toml:"filename"`
	} `toml:"log"`

	// Entity はローカルエンティティの識別子設定
	Entity struct {
		EntityID      string `toml:"entity_id"`       // 16進文字列（例: "0x001b92fffe000001"）
		EntityModelID string `toml:"entity_model_id"` // 16進文字列
		EntityName    string `toml:"entity_name"`
	} `toml:"entity"`

	// Network はAVDECC over UDPのソケット設定
	Network struct {
		Port        int    `toml:"port"`
		MulticastIP string `toml:"multicast_ip"`
	} `toml:"network"`

	// Protocol は制御プレーンのタイミング設定
	Protocol struct {
		Advertise      bool   `toml:"advertise"`
		ValidTime      string `toml:"valid_time"`      // e.g., "20s"
		CommandTimeout string `toml:"command_timeout"` // e.g., "1s"
		MaxRetries     int    `toml:"max_retries"`
		TickInterval   string `toml:"tick_interval"` // e.g., "100ms"
	} `toml:"protocol"`

	WebSocket struct {
		Enabled bool   `toml:"enabled"`
		Host    string `toml:"host"`
		Port    int    `toml:"port"`
	} `toml:"websocket"`
	TLS struct {
		Enabled  bool   `toml:"enabled"`
		CertFile string `toml:"cert_file"`
		KeyFile  string `toml:"key_file"`
	} `toml:"tls"`

	// Daemon mode settings
	Daemon struct {
		Enabled bool   `toml:"enabled"`
		PIDFile string `toml:"pid_file"`
	} `toml:"daemon"`
}

// NewConfig はデフォルト設定を持つConfigを作成する
func NewConfig() *Config {
	cfg := &Config{
		Debug: false,
	}
	cfg.Log.Filename = "avdecc-list.log"
	cfg.Entity.EntityName = "avdecc-list"
	cfg.Network.Port = 17221
	cfg.Network.MulticastIP = "224.0.23.240"
	cfg.Protocol.Advertise = true
	cfg.Protocol.ValidTime = "20s"
	cfg.Protocol.CommandTimeout = "1s"
	cfg.Protocol.MaxRetries = 3
	cfg.Protocol.TickInterval = "100ms"
	cfg.WebSocket.Host = "localhost"
	cfg.WebSocket.Port = 8080
	cfg.Daemon.Enabled = false
	cfg.Daemon.PIDFile = ""
	return cfg
}

// LoadConfig は設定を読み込む
// 以下の優先順位でロードする:
// 1. 指定されたパスの設定ファイル（指定がある場合）
// 2. カレントディレクトリのデフォルト設定ファイル（存在する場合）
// 3. デフォルト設定
func LoadConfig(configPath string) (*Config, error) {
	config := NewConfig()

	// 設定ファイルパスの解決
	filePath := configPath
	if filePath == "" {
		// 指定がなければデフォルトファイルを探す
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			filePath = DefaultConfigFile
		} else {
			// デフォルトファイルもなければ、デフォルト設定をそのまま返す
			return config, nil
		}
	}

	// 設定ファイルが指定または存在する場合は読み込む
	if _, err := toml.DecodeFile(filePath, config); err != nil {
		return nil, err
	}

	return config, nil
}

// ParseEntityID は設定ファイルの16進文字列エンティティIDを数値に変換する。
// 未設定（空文字列）のときは0を返す。
func ParseEntityID(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	if len(s) > 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("エンティティIDの形式が不正です: %q: %w", s, err)
	}
	return id, nil
}

// ApplyCommandLineArgs はコマンドライン引数で指定された値を設定に適用する
func (c *Config) ApplyCommandLineArgs(args CommandLineArgs) {
	// コマンドライン引数で指定された値で上書き
	if args.DebugSpecified {
		c.Debug = args.Debug
	}
	if args.LogFilenameSpecified {
		c.Log.Filename = args.LogFilename
	}
	if args.EntityIDSpecified {
		c.Entity.EntityID = args.EntityID
	}
	if args.PortSpecified {
		c.Network.Port = args.Port
	}
	if args.MulticastIPSpecified {
		c.Network.MulticastIP = args.MulticastIP
	}
	if args.AdvertiseSpecified {
		c.Protocol.Advertise = args.Advertise
	}
	// websocket
	if args.WebSocketEnabledSpecified {
		c.WebSocket.Enabled = args.WebSocketEnabled
	}
	if args.WebSocketHostSpecified {
		c.WebSocket.Host = args.WebSocketHost
	}
	if args.WebSocketPortSpecified {
		c.WebSocket.Port = args.WebSocketPort
	}
	// websocket TLS
	if args.WebSocketTLSEnabledSpecified {
		c.TLS.Enabled = args.WebSocketTLSEnabled
	}
	if args.WebSocketTLSCertFileSpecified {
		c.TLS.CertFile = args.WebSocketTLSCertFile
	}
	if args.WebSocketTLSKeyFileSpecified {
		c.TLS.KeyFile = args.WebSocketTLSKeyFile
	}
	// Daemon mode flags
	if args.DaemonEnabledSpecified {
		c.Daemon.Enabled = args.DaemonEnabled
	}
	if args.PIDFileSpecified {
		c.Daemon.PIDFile = args.PIDFile
	}
}

// CommandLineArgs はコマンドライン引数からの値を保持する
type CommandLineArgs struct {
	// 設定ファイル (メタ設定)
	ConfigFile      string
	ConfigSpecified bool

	// 一般設定
	Debug          bool
	DebugSpecified bool

	// ログ設定
	LogFilename          string
	LogFilenameSpecified bool

	// エンティティ設定
	EntityID          string
	EntityIDSpecified bool

	// ネットワーク設定
	Port                 int
	PortSpecified        bool
	MulticastIP          string
	MulticastIPSpecified bool

	// プロトコル設定
	Advertise          bool
	AdvertiseSpecified bool

	// WebSocketサーバー設定
	WebSocketEnabled          bool
	WebSocketEnabledSpecified bool
	WebSocketHost             string
	WebSocketHostSpecified    bool
	WebSocketPort             int
	WebSocketPortSpecified    bool

	// WebSocket TLS設定
	WebSocketTLSEnabled           bool
	WebSocketTLSEnabledSpecified  bool
	WebSocketTLSCertFile          string
	WebSocketTLSCertFileSpecified bool
	WebSocketTLSKeyFile           string
	WebSocketTLSKeyFileSpecified  bool

	// Daemon mode flags
	DaemonEnabled          bool
	DaemonEnabledSpecified bool
	PIDFile                string
	PIDFileSpecified       bool
}

// ParseCommandLineArgs はコマンドライン引数をパースする
func ParseCommandLineArgs() CommandLineArgs {
	var args CommandLineArgs

	// フラグの定義
	configFileFlag := flag.String("config", "", "TOML設定ファイルのパスを指定する")

	debugFlag := flag.Bool("debug", false, "デバッグモードを有効にする")
	logFilenameFlag := flag.String("log", "avdecc-list.log", "ログファイル名を指定する")

	entityIDFlag := flag.String("entity-id", "", "ローカルエンティティIDを16進数で指定する")
	portFlag := flag.Int("port", 17221, "AVDECC over UDPのポート番号を指定する")
	multicastIPFlag := flag.String("multicast-ip", "224.0.23.240", "マルチキャストグループのIPアドレスを指定する")
	advertiseFlag := flag.Bool("advertise", true, "起動時にエンティティ広告を開始する")

	websocketFlag := flag.Bool("websocket", false, "WebSocketサーバーモードを有効にする")
	wsHostFlag := flag.String("ws-host", "localhost", "WebSocketサーバーのホスト名を指定する")
	wsPortFlag := flag.Int("ws-port", 8080, "WebSocketサーバーのポートを指定する")

	wsTLSFlag := flag.Bool("ws-tls", false, "WebSocketサーバーでTLSを有効にする")
	wsCertFileFlag := flag.String("ws-cert-file", "", "TLS証明書ファイルのパスを指定する")
	wsKeyFileFlag := flag.String("ws-key-file", "", "TLS秘密鍵ファイルのパスを指定する")

	daemonFlag := flag.Bool("daemon", false, "デーモンモードを有効にする")
	pidFileFlag := flag.String("pidfile", "", "PIDファイルのパスを指定する")

	// コマンドライン引数を解析
	flag.Parse()

	// コマンドライン引数を直接解析して、フラグが指定されたかどうかを確認
	argsMap := make(map[string]bool)
	for i := 1; i < len(os.Args); i++ {
		arg := os.Args[i]
		if len(arg) > 0 && arg[0] == '-' {
			// フラグ名を抽出 (-flag または --flag の形式)
			flagName := arg
			if len(flagName) > 1 && flagName[1] == '-' {
				flagName = flagName[2:] // --flag の場合
			} else {
				flagName = flagName[1:] // -flag の場合
			}

			// = が含まれている場合は分割
			if idx := indexOf(flagName, '='); idx >= 0 {
				flagName = flagName[:idx]
			}

			argsMap[flagName] = true

			// 次の引数が値の場合はスキップ
			if i+1 < len(os.Args) && len(os.Args[i+1]) > 0 && os.Args[i+1][0] != '-' {
				i++
			}
		}
	}

	// 値と指定有無の設定
	args.ConfigFile = *configFileFlag
	args.ConfigSpecified = argsMap["config"]

	args.Debug = *debugFlag
	args.DebugSpecified = argsMap["debug"]

	args.LogFilename = *logFilenameFlag
	args.LogFilenameSpecified = argsMap["log"]

	args.EntityID = *entityIDFlag
	args.EntityIDSpecified = argsMap["entity-id"]

	args.Port = *portFlag
	args.PortSpecified = argsMap["port"]

	args.MulticastIP = *multicastIPFlag
	args.MulticastIPSpecified = argsMap["multicast-ip"]

	args.Advertise = *advertiseFlag
	args.AdvertiseSpecified = argsMap["advertise"]

	args.WebSocketEnabled = *websocketFlag
	args.WebSocketEnabledSpecified = argsMap["websocket"]

	args.WebSocketHost = *wsHostFlag
	args.WebSocketHostSpecified = argsMap["ws-host"]

	args.WebSocketPort = *wsPortFlag
	args.WebSocketPortSpecified = argsMap["ws-port"]

	args.WebSocketTLSEnabled = *wsTLSFlag
	args.WebSocketTLSEnabledSpecified = argsMap["ws-tls"]

	args.WebSocketTLSCertFile = *wsCertFileFlag
	args.WebSocketTLSCertFileSpecified = argsMap["ws-cert-file"]

	args.WebSocketTLSKeyFile = *wsKeyFileFlag
	args.WebSocketTLSKeyFileSpecified = argsMap["ws-key-file"]

	args.DaemonEnabled = *daemonFlag
	args.DaemonEnabledSpecified = argsMap["daemon"]
	args.PIDFile = *pidFileFlag
	args.PIDFileSpecified = argsMap["pidfile"]

	return args
}
