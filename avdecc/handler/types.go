package handler

import (
	"fmt"
	"net"
	"time"

	"avdecc-list/avdecc"
)

type EntityID = avdecc.EntityID
type EntityModelID = avdecc.EntityModelID
type UniqueID = avdecc.UniqueID
type SequenceID = avdecc.SequenceID
type StreamID = avdecc.StreamID
type MACAddress = avdecc.MACAddress
type ACMPStatus = avdecc.ACMPStatus
type AEMStatus = avdecc.AEMStatus

// Transport はフレーム送受信を担う外部コラボレーターを表すインターフェース。
// コアはソケットを直接扱いません。dest が nil のときはマルチキャスト送信です。
// Send はブロックせず、送達保証もしません（fire-and-forget）。
type Transport interface {
	Send(data []byte, dest net.IP) error
	LocalAddr() net.IP
	IsReady() bool
}

// ClockSource はgPTP由来のグランドマスター情報を広告に透過的に載せるための
// プロバイダを表します。値は解釈せずそのまま使います。
type ClockSource interface {
	GrandmasterID() uint64
	DomainNumber() byte
}

// CommandConfig はコマンドの再送・タイムアウト設定を表します。
// 各エンジンに構築時に渡し、呼び出し箇所ごとの定数は持ちません。
type CommandConfig struct {
	Timeout    time.Duration // 応答待ちタイムアウト
	MaxRetries int           // 最大再送回数
}

// DefaultCommandConfig はデフォルトのコマンド設定を返す
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		Timeout:    time.Second,
		MaxRetries: 3,
	}
}

// CommandResult はコマンドの終端結果の種類を表します。
type CommandResult int

const (
	ResultResponse  CommandResult = iota // 対応する応答を受信した
	ResultTimeout                        // 最大再送回数に達した
	ResultCancelled                      // エンジン停止により取り消された
)

func (r CommandResult) String() string {
	switch r {
	case ResultResponse:
		return "response"
	case ResultTimeout:
		return "timeout"
	case ResultCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("(%d)", int(r))
	}
}

// ErrCommandTimeout は最大再送回数に達したことを示すエラー
type ErrCommandTimeout struct {
	Target     EntityID
	MaxRetries int
}

func (e ErrCommandTimeout) Error() string {
	return fmt.Sprintf("maximum retries reached (%d) for entity %v", e.MaxRetries, e.Target)
}

// DiscoveredEntity はADP広告で発見したリモートエンティティを表します。
type DiscoveredEntity struct {
	EntityID               EntityID
	EntityModelID          EntityModelID
	EntityCapabilities     uint32
	TalkerStreamSources    uint16
	TalkerCapabilities     uint16
	ListenerStreamSinks    uint16
	ListenerCapabilities   uint16
	ControllerCapabilities uint32
	AvailableIndex         uint32
	GPTPGrandmasterID      uint64
	GPTPDomainNumber       byte
	Addr                   net.IP    // 広告の送信元アドレス
	LastSeen               time.Time // 最後に広告を受信した時刻
	Expiry                 time.Time // この時刻までに再広告がなければ離脱扱い
}

func (e DiscoveredEntity) String() string {
	return fmt.Sprintf("%v (model %v, addr %v)", e.EntityID, e.EntityModelID, e.Addr)
}

// EntityEventType はエンティティ通知の種類を表します。
type EntityEventType int

const (
	EntityDiscovered EntityEventType = iota // 新規に発見
	EntityUpdated                           // 既知エンティティの広告更新
	EntityDeparted                          // 離脱（明示的または期限切れ）
	EntityRestarted                         // available_index後退による再初期化検出
)

func (t EntityEventType) String() string {
	switch t {
	case EntityDiscovered:
		return "discovered"
	case EntityUpdated:
		return "updated"
	case EntityDeparted:
		return "departed"
	case EntityRestarted:
		return "restarted"
	default:
		return fmt.Sprintf("(%d)", int(t))
	}
}

// EntityNotification はエンティティの発見・更新・離脱を上位層へ通知します。
type EntityNotification struct {
	Type   EntityEventType
	Entity DiscoveredEntity
}

// ConnectionInfo は確立したストリームコネクションを表します。
type ConnectionInfo struct {
	StreamID         StreamID
	TalkerEntityID   EntityID
	TalkerUniqueID   UniqueID
	ListenerEntityID EntityID
	ListenerUniqueID UniqueID
	StreamDestMAC    MACAddress
	Flags            uint16
	StreamVLANID     uint16
}

func (c ConnectionInfo) String() string {
	return fmt.Sprintf("%v[%d] -> %v[%d]", c.TalkerEntityID, c.TalkerUniqueID, c.ListenerEntityID, c.ListenerUniqueID)
}

// ConnectionEventType はコネクション通知の種類を表します。
type ConnectionEventType int

const (
	ConnectionEstablished ConnectionEventType = iota
	ConnectionReleased
)

func (t ConnectionEventType) String() string {
	switch t {
	case ConnectionEstablished:
		return "established"
	case ConnectionReleased:
		return "released"
	default:
		return fmt.Sprintf("(%d)", int(t))
	}
}

// ConnectionNotification はコネクションの確立・解放を上位層へ通知します。
type ConnectionNotification struct {
	Type       ConnectionEventType
	Connection ConnectionInfo
	Status     ACMPStatus
}
