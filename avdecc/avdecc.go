package avdecc

import (
	"fmt"
)

// IEEE 1722.1 (AVDECC) 資料
// https://standards.ieee.org/ieee/1722.1/6951/
//  ADP: ディスカバリプロトコル (subtype 0xFA)
//  AECP: エニュメレーション・コントロールプロトコル (subtype 0xFB)
//  ACMP: コネクション管理プロトコル (subtype 0xFC)

type SubtypeType byte

const (
	SubtypeADP  SubtypeType = 0xFA // AVDECC Discovery Protocol
	SubtypeAECP SubtypeType = 0xFB // AVDECC Enumeration and Control Protocol
	SubtypeACMP SubtypeType = 0xFC // AVDECC Connection Management Protocol

	AVDECCPort = 17221 // AVDECC over UDP のポート番号

	// MaxPDUSize はPDU全体の上限（トランスポートMTU由来）
	MaxPDUSize = 1500
)

func (s SubtypeType) String() string {
	switch s {
	case SubtypeADP:
		return "ADP"
	case SubtypeAECP:
		return "AECP"
	case SubtypeACMP:
		return "ACMP"
	default:
		return fmt.Sprintf("(%02X)", byte(s))
	}
}

// controlHeader はAVTP制御ヘッダ共通部（12バイト）を表します。
// subtype(1) + sv/version/message_type(1) + status:5/control_data_length:11(2) + id(8)
type controlHeader struct {
	Subtype           SubtypeType
	StreamValid       bool // sv ビット（制御PDUでは常に0）
	Version           byte // 3ビット
	MessageType       byte // 4ビット
	Status            byte // 5ビット（ADPではvalid_time）
	ControlDataLength uint16
	ID                uint64 // entity_id / stream_id / target_entity_id
}

const controlHeaderSize = 12

func decodeControlHeader(data []byte) (controlHeader, error) {
	if len(data) < controlHeaderSize {
		return controlHeader{}, fmt.Errorf("制御ヘッダが短すぎます: %d バイト", len(data))
	}
	return controlHeader{
		Subtype:           SubtypeType(data[0]),
		StreamValid:       data[1]&0x80 != 0,
		Version:           (data[1] >> 4) & 0x07,
		MessageType:       data[1] & 0x0f,
		Status:            data[2] >> 3,
		ControlDataLength: uint16(data[2]&0x07)<<8 | uint16(data[3]),
		ID:                decodeUint64(data[4:12]),
	}, nil
}

func (h controlHeader) encode() []byte {
	buf := make([]byte, controlHeaderSize)
	buf[0] = byte(h.Subtype)
	buf[1] = h.Version<<4 | h.MessageType&0x0f
	if h.StreamValid {
		buf[1] |= 0x80
	}
	buf[2] = h.Status<<3 | byte(h.ControlDataLength>>8)&0x07
	buf[3] = byte(h.ControlDataLength)
	encodeUint64(buf[4:12], h.ID)
	return buf
}

// PeekSubtype はルーティングのためにPDU種別だけを取り出します。
func PeekSubtype(data []byte) (SubtypeType, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("空のパケットです")
	}
	return SubtypeType(data[0]), nil
}

func decodeUint16(data []byte) uint16 {
	return uint16(data[0])<<8 | uint16(data[1])
}

func encodeUint16(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}

func decodeUint32(data []byte) uint32 {
	return uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
}

func encodeUint32(buf []byte, v uint32) {
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
}

func decodeUint64(data []byte) uint64 {
	return uint64(decodeUint32(data[0:4]))<<32 | uint64(decodeUint32(data[4:8]))
}

func encodeUint64(buf []byte, v uint64) {
	encodeUint32(buf[0:4], uint32(v>>32))
	encodeUint32(buf[4:8], uint32(v))
}
