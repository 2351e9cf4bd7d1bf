package avdecc

import (
	"fmt"
	"strings"
)

// ACMPMessageType はACMPのメッセージ種別を表します。
type ACMPMessageType byte

const (
	ACMPConnectTXCommand        ACMPMessageType = 0x00 // CONNECT_TX_COMMAND
	ACMPConnectTXResponse       ACMPMessageType = 0x01 // CONNECT_TX_RESPONSE
	ACMPDisconnectTXCommand     ACMPMessageType = 0x02 // DISCONNECT_TX_COMMAND
	ACMPDisconnectTXResponse    ACMPMessageType = 0x03 // DISCONNECT_TX_RESPONSE
	ACMPGetTXStateCommand       ACMPMessageType = 0x04 // GET_TX_STATE_COMMAND
	ACMPGetTXStateResponse      ACMPMessageType = 0x05 // GET_TX_STATE_RESPONSE
	ACMPConnectRXCommand        ACMPMessageType = 0x06 // CONNECT_RX_COMMAND
	ACMPConnectRXResponse       ACMPMessageType = 0x07 // CONNECT_RX_RESPONSE
	ACMPDisconnectRXCommand     ACMPMessageType = 0x08 // DISCONNECT_RX_COMMAND
	ACMPDisconnectRXResponse    ACMPMessageType = 0x09 // DISCONNECT_RX_RESPONSE
	ACMPGetRXStateCommand       ACMPMessageType = 0x0a // GET_RX_STATE_COMMAND
	ACMPGetRXStateResponse      ACMPMessageType = 0x0b // GET_RX_STATE_RESPONSE
	ACMPGetTXConnectionCommand  ACMPMessageType = 0x0c // GET_TX_CONNECTION_COMMAND
	ACMPGetTXConnectionResponse ACMPMessageType = 0x0d // GET_TX_CONNECTION_RESPONSE
)

func (t ACMPMessageType) String() string {
	switch t {
	case ACMPConnectTXCommand:
		return "CONNECT_TX_COMMAND"
	case ACMPConnectTXResponse:
		return "CONNECT_TX_RESPONSE"
	case ACMPDisconnectTXCommand:
		return "DISCONNECT_TX_COMMAND"
	case ACMPDisconnectTXResponse:
		return "DISCONNECT_TX_RESPONSE"
	case ACMPGetTXStateCommand:
		return "GET_TX_STATE_COMMAND"
	case ACMPGetTXStateResponse:
		return "GET_TX_STATE_RESPONSE"
	case ACMPConnectRXCommand:
		return "CONNECT_RX_COMMAND"
	case ACMPConnectRXResponse:
		return "CONNECT_RX_RESPONSE"
	case ACMPDisconnectRXCommand:
		return "DISCONNECT_RX_COMMAND"
	case ACMPDisconnectRXResponse:
		return "DISCONNECT_RX_RESPONSE"
	case ACMPGetRXStateCommand:
		return "GET_RX_STATE_COMMAND"
	case ACMPGetRXStateResponse:
		return "GET_RX_STATE_RESPONSE"
	case ACMPGetTXConnectionCommand:
		return "GET_TX_CONNECTION_COMMAND"
	case ACMPGetTXConnectionResponse:
		return "GET_TX_CONNECTION_RESPONSE"
	default:
		return fmt.Sprintf("(%X)", byte(t))
	}
}

// IsCommand はコマンド（偶数）かどうかを返す
func (t ACMPMessageType) IsCommand() bool {
	return byte(t)%2 == 0
}

// ResponseType は対応する応答メッセージ種別を返します。
func (t ACMPMessageType) ResponseType() ACMPMessageType {
	if t.IsCommand() {
		return t + 1
	}
	return t
}

// ACMPStatus はACMPの結果コード（閉じた列挙）を表します。
type ACMPStatus byte

const (
	ACMPStatusSuccess                 ACMPStatus = 0  // SUCCESS
	ACMPStatusListenerUnknownID       ACMPStatus = 1  // LISTENER_UNKNOWN_ID
	ACMPStatusTalkerUnknownID         ACMPStatus = 2  // TALKER_UNKNOWN_ID
	ACMPStatusTalkerDestMACFail       ACMPStatus = 3  // TALKER_DEST_MAC_FAIL
	ACMPStatusTalkerNoStreamIndex     ACMPStatus = 4  // TALKER_NO_STREAM_INDEX
	ACMPStatusTalkerNoBandwidth       ACMPStatus = 5  // TALKER_NO_BANDWIDTH
	ACMPStatusTalkerExclusive         ACMPStatus = 6  // TALKER_EXCLUSIVE
	ACMPStatusListenerTalkerTimeout   ACMPStatus = 7  // LISTENER_TALKER_TIMEOUT
	ACMPStatusListenerExclusive       ACMPStatus = 8  // LISTENER_EXCLUSIVE
	ACMPStatusStateUnavailable        ACMPStatus = 9  // STATE_UNAVAILABLE
	ACMPStatusNotConnected            ACMPStatus = 10 // NOT_CONNECTED
	ACMPStatusNoSuchConnection        ACMPStatus = 11 // NO_SUCH_CONNECTION
	ACMPStatusCouldNotSendMessage     ACMPStatus = 12 // COULD_NOT_SEND_MESSAGE
	ACMPStatusTalkerMisbehaving       ACMPStatus = 13 // TALKER_MISBEHAVING
	ACMPStatusListenerMisbehaving     ACMPStatus = 14 // LISTENER_MISBEHAVING
	ACMPStatusControllerNotAuthorized ACMPStatus = 16 // CONTROLLER_NOT_AUTHORIZED
	ACMPStatusIncompatibleRequest     ACMPStatus = 17 // INCOMPATIBLE_REQUEST
	ACMPStatusNotSupported            ACMPStatus = 31 // NOT_SUPPORTED
)

func (s ACMPStatus) String() string {
	switch s {
	case ACMPStatusSuccess:
		return "SUCCESS"
	case ACMPStatusListenerUnknownID:
		return "LISTENER_UNKNOWN_ID"
	case ACMPStatusTalkerUnknownID:
		return "TALKER_UNKNOWN_ID"
	case ACMPStatusTalkerDestMACFail:
		return "TALKER_DEST_MAC_FAIL"
	case ACMPStatusTalkerNoStreamIndex:
		return "TALKER_NO_STREAM_INDEX"
	case ACMPStatusTalkerNoBandwidth:
		return "TALKER_NO_BANDWIDTH"
	case ACMPStatusTalkerExclusive:
		return "TALKER_EXCLUSIVE"
	case ACMPStatusListenerTalkerTimeout:
		return "LISTENER_TALKER_TIMEOUT"
	case ACMPStatusListenerExclusive:
		return "LISTENER_EXCLUSIVE"
	case ACMPStatusStateUnavailable:
		return "STATE_UNAVAILABLE"
	case ACMPStatusNotConnected:
		return "NOT_CONNECTED"
	case ACMPStatusNoSuchConnection:
		return "NO_SUCH_CONNECTION"
	case ACMPStatusCouldNotSendMessage:
		return "COULD_NOT_SEND_MESSAGE"
	case ACMPStatusTalkerMisbehaving:
		return "TALKER_MISBEHAVING"
	case ACMPStatusListenerMisbehaving:
		return "LISTENER_MISBEHAVING"
	case ACMPStatusControllerNotAuthorized:
		return "CONTROLLER_NOT_AUTHORIZED"
	case ACMPStatusIncompatibleRequest:
		return "INCOMPATIBLE_REQUEST"
	case ACMPStatusNotSupported:
		return "NOT_SUPPORTED"
	default:
		return fmt.Sprintf("(%X)", byte(s))
	}
}

// コネクションフラグ（flags）のビット定義
const (
	ACMPFlagClassB            uint16 = 0x0001
	ACMPFlagFastConnect       uint16 = 0x0002
	ACMPFlagSavedState        uint16 = 0x0004
	ACMPFlagStreamingWait     uint16 = 0x0008
	ACMPFlagSupportsEncrypted uint16 = 0x0010
	ACMPFlagEncryptedPDU      uint16 = 0x0020
	ACMPFlagTalkerFailed      uint16 = 0x0040
)

// ACMPDU はACMPのPDU全体を表します。
type ACMPDU struct {
	MessageType        ACMPMessageType
	Status             ACMPStatus
	StreamID           StreamID
	ControllerEntityID EntityID
	TalkerEntityID     EntityID
	ListenerEntityID   EntityID
	TalkerUniqueID     UniqueID
	ListenerUniqueID   UniqueID
	StreamDestMAC      MACAddress
	ConnectionCount    uint16
	SequenceID         SequenceID
	Flags              uint16
	StreamVLANID       uint16
	Reserved           uint16
}

const (
	acmpControlDataLength = 44
	acmpPDUSize           = controlHeaderSize + acmpControlDataLength // 56バイト
)

// DecodeACMPDU は受信したバイト列からACMP PDUをデコードします。
func DecodeACMPDU(data []byte) (*ACMPDU, error) {
	if len(data) < acmpPDUSize {
		return nil, fmt.Errorf("ACMP PDUが短すぎます: %d バイト", len(data))
	}
	h, err := decodeControlHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Subtype != SubtypeACMP {
		return nil, fmt.Errorf("ACMPではないsubtypeです: %v", h.Subtype)
	}
	return &ACMPDU{
		MessageType:        ACMPMessageType(h.MessageType),
		Status:             ACMPStatus(h.Status),
		StreamID:           StreamID(h.ID),
		ControllerEntityID: EntityID(decodeUint64(data[12:20])),
		TalkerEntityID:     EntityID(decodeUint64(data[20:28])),
		ListenerEntityID:   EntityID(decodeUint64(data[28:36])),
		TalkerUniqueID:     UniqueID(decodeUint16(data[36:38])),
		ListenerUniqueID:   UniqueID(decodeUint16(data[38:40])),
		StreamDestMAC:      DecodeMACAddress(data[40:46]),
		ConnectionCount:    decodeUint16(data[46:48]),
		SequenceID:         SequenceID(decodeUint16(data[48:50])),
		Flags:              decodeUint16(data[50:52]),
		StreamVLANID:       decodeUint16(data[52:54]),
		Reserved:           decodeUint16(data[54:56]),
	}, nil
}

func (p *ACMPDU) Encode() []byte {
	h := controlHeader{
		Subtype:           SubtypeACMP,
		MessageType:       byte(p.MessageType),
		Status:            byte(p.Status),
		ControlDataLength: acmpControlDataLength,
		ID:                uint64(p.StreamID),
	}
	buf := make([]byte, acmpPDUSize)
	copy(buf, h.encode())
	encodeUint64(buf[12:20], uint64(p.ControllerEntityID))
	encodeUint64(buf[20:28], uint64(p.TalkerEntityID))
	encodeUint64(buf[28:36], uint64(p.ListenerEntityID))
	encodeUint16(buf[36:38], uint16(p.TalkerUniqueID))
	encodeUint16(buf[38:40], uint16(p.ListenerUniqueID))
	copy(buf[40:46], p.StreamDestMAC[:])
	encodeUint16(buf[46:48], p.ConnectionCount)
	encodeUint16(buf[48:50], uint16(p.SequenceID))
	encodeUint16(buf[50:52], p.Flags)
	encodeUint16(buf[52:54], p.StreamVLANID)
	encodeUint16(buf[54:56], p.Reserved)
	return buf
}

// Response はこのコマンドに対する応答PDUを作ります（フィールドはコピーし、種別とステータスのみ差し替え）。
func (p *ACMPDU) Response(status ACMPStatus) *ACMPDU {
	resp := *p
	resp.MessageType = p.MessageType.ResponseType()
	resp.Status = status
	return &resp
}

func (p *ACMPDU) String() string {
	parts := []string{
		fmt.Sprintf("Type:%v", p.MessageType),
		fmt.Sprintf("Status:%v", p.Status),
		fmt.Sprintf("Seq:%d", p.SequenceID),
		fmt.Sprintf("Talker:%v[%d]", p.TalkerEntityID, p.TalkerUniqueID),
		fmt.Sprintf("Listener:%v[%d]", p.ListenerEntityID, p.ListenerUniqueID),
	}
	return strings.Join(parts, ", ")
}
