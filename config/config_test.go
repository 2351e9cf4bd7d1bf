package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Debug {
		t.Error("Debug should default to false")
	}
	if cfg.Network.Port != 17221 {
		t.Errorf("Network.Port = %d, want 17221", cfg.Network.Port)
	}
	if cfg.Network.MulticastIP != "224.0.23.240" {
		t.Errorf("Network.MulticastIP = %q", cfg.Network.MulticastIP)
	}
	if !cfg.Protocol.Advertise {
		t.Error("Protocol.Advertise should default to true")
	}
	if cfg.Protocol.ValidTime != "20s" {
		t.Errorf("Protocol.ValidTime = %q", cfg.Protocol.ValidTime)
	}
	if cfg.Protocol.MaxRetries != 3 {
		t.Errorf("Protocol.MaxRetries = %d", cfg.Protocol.MaxRetries)
	}
	if cfg.WebSocket.Port != 8080 {
		t.Errorf("WebSocket.Port = %d", cfg.WebSocket.Port)
	}
	if cfg.Entity.EntityName != "avdecc-list" {
		t.Errorf("Entity.EntityName = %q", cfg.Entity.EntityName)
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	content := `
debug = true

[entity]
entity_id = "0x001b92fffe000001"
entity_name = "Test Entity"

[network]
port = 27221

[protocol]
advertise = false
valid_time = "10s"
max_retries = 5

[websocket]
enabled = true
port = 9090
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !cfg.Debug {
		t.Error("Debug not loaded")
	}
	if cfg.Entity.EntityID != "0x001b92fffe000001" {
		t.Errorf("Entity.EntityID = %q", cfg.Entity.EntityID)
	}
	if cfg.Entity.EntityName != "Test Entity" {
		t.Errorf("Entity.EntityName = %q", cfg.Entity.EntityName)
	}
	if cfg.Network.Port != 27221 {
		t.Errorf("Network.Port = %d", cfg.Network.Port)
	}
	if cfg.Protocol.Advertise {
		t.Error("Protocol.Advertise not overridden")
	}
	if cfg.Protocol.ValidTime != "10s" {
		t.Errorf("Protocol.ValidTime = %q", cfg.Protocol.ValidTime)
	}
	if cfg.Protocol.MaxRetries != 5 {
		t.Errorf("Protocol.MaxRetries = %d", cfg.Protocol.MaxRetries)
	}
	if !cfg.WebSocket.Enabled || cfg.WebSocket.Port != 9090 {
		t.Errorf("WebSocket = %+v", cfg.WebSocket)
	}

	// ファイルで触れていない項目はデフォルトのまま
	if cfg.Network.MulticastIP != "224.0.23.240" {
		t.Errorf("Network.MulticastIP = %q", cfg.Network.MulticastIP)
	}
	if cfg.Protocol.CommandTimeout != "1s" {
		t.Errorf("Protocol.CommandTimeout = %q", cfg.Protocol.CommandTimeout)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.toml")); err == nil {
		t.Error("LoadConfig() expected error for missing file")
	}
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("debug = "), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() expected error for invalid TOML")
	}
}

func TestParseEntityID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint64
		wantErr bool
	}{
		{"empty means unset", "", 0, false},
		{"with 0x prefix", "0x001b92fffe000001", 0x001b92fffe000001, false},
		{"uppercase prefix", "0X1B", 0x1b, false},
		{"bare hex", "1b92", 0x1b92, false},
		{"invalid", "xyz", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntityID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEntityID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEntityID(%q) = %#x, want %#x", tt.input, got, tt.want)
			}
		})
	}
}

func TestApplyCommandLineArgs(t *testing.T) {
	cfg := NewConfig()
	cfg.Network.Port = 27221 // 設定ファイル由来の値を想定

	args := CommandLineArgs{
		Debug:                     true,
		DebugSpecified:            true,
		EntityID:                  "0x1b",
		EntityIDSpecified:         true,
		WebSocketEnabled:          true,
		WebSocketEnabledSpecified: true,
		// Portは未指定（Specified=false）なので上書きされない
		Port: 99999,
	}
	cfg.ApplyCommandLineArgs(args)

	if !cfg.Debug {
		t.Error("Debug not applied")
	}
	if cfg.Entity.EntityID != "0x1b" {
		t.Errorf("Entity.EntityID = %q", cfg.Entity.EntityID)
	}
	if !cfg.WebSocket.Enabled {
		t.Error("WebSocket.Enabled not applied")
	}
	if cfg.Network.Port != 27221 {
		t.Errorf("unspecified port overwrote config: %d", cfg.Network.Port)
	}
}
