package avdecc

import (
	"fmt"
)

// EntityID はエンティティの64ビットグローバル一意識別子を表します。
type EntityID uint64

// EntityIDUnknown は未指定・不明なエンティティIDを表す
const EntityIDUnknown EntityID = 0

func (e EntityID) String() string {
	return fmt.Sprintf("0x%016X", uint64(e))
}

// EntityModelID はエンティティモデル（ディスクリプタスキーマ）の識別子を表します。
type EntityModelID uint64

func (e EntityModelID) String() string {
	return fmt.Sprintf("0x%016X", uint64(e))
}

// UniqueID はストリーム入出力のユニークID（talker/listener unique ID）を表します。
type UniqueID uint16

// SequenceID はコマンド・応答の対応付けに使うシーケンスIDを表します。
type SequenceID uint16

// StreamID はストリームの64ビット識別子を表します。
type StreamID uint64

func (s StreamID) String() string {
	return fmt.Sprintf("0x%016X", uint64(s))
}

// MACAddress は6バイトのMACアドレスを表します。
type MACAddress [6]byte

func (m MACAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero は未設定のアドレスかどうかを返す
func (m MACAddress) IsZero() bool {
	return m == MACAddress{}
}

func DecodeMACAddress(data []byte) MACAddress {
	var m MACAddress
	copy(m[:], data)
	return m
}

func (m MACAddress) Encode() []byte {
	buf := make([]byte, 6)
	copy(buf, m[:])
	return buf
}
