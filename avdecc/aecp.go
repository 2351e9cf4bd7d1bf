package avdecc

import (
	"fmt"
	"strings"
)

// AECPMessageType はAECPのメッセージ種別を表します。
type AECPMessageType byte

const (
	AECPAEMCommand            AECPMessageType = 0x00 // AEM_COMMAND
	AECPAEMResponse           AECPMessageType = 0x01 // AEM_RESPONSE
	AECPAddressAccessCommand  AECPMessageType = 0x02 // ADDRESS_ACCESS_COMMAND
	AECPAddressAccessResponse AECPMessageType = 0x03 // ADDRESS_ACCESS_RESPONSE
	AECPAVCCommand            AECPMessageType = 0x04 // AVC_COMMAND
	AECPAVCResponse           AECPMessageType = 0x05 // AVC_RESPONSE
	AECPVendorUniqueCommand   AECPMessageType = 0x06 // VENDOR_UNIQUE_COMMAND
	AECPVendorUniqueResponse  AECPMessageType = 0x07 // VENDOR_UNIQUE_RESPONSE
)

func (t AECPMessageType) String() string {
	switch t {
	case AECPAEMCommand:
		return "AEM_COMMAND"
	case AECPAEMResponse:
		return "AEM_RESPONSE"
	case AECPAddressAccessCommand:
		return "ADDRESS_ACCESS_COMMAND"
	case AECPAddressAccessResponse:
		return "ADDRESS_ACCESS_RESPONSE"
	case AECPAVCCommand:
		return "AVC_COMMAND"
	case AECPAVCResponse:
		return "AVC_RESPONSE"
	case AECPVendorUniqueCommand:
		return "VENDOR_UNIQUE_COMMAND"
	case AECPVendorUniqueResponse:
		return "VENDOR_UNIQUE_RESPONSE"
	default:
		return fmt.Sprintf("(%X)", byte(t))
	}
}

// IsCommand はコマンド（偶数）かどうかを返す
func (t AECPMessageType) IsCommand() bool {
	return byte(t)%2 == 0
}

// AEMStatus はAEMコマンドの結果コード（閉じた列挙）を表します。
type AEMStatus byte

const (
	AEMStatusSuccess                AEMStatus = 0  // SUCCESS
	AEMStatusNotImplemented         AEMStatus = 1  // NOT_IMPLEMENTED
	AEMStatusNoSuchDescriptor       AEMStatus = 2  // NO_SUCH_DESCRIPTOR
	AEMStatusEntityLocked           AEMStatus = 3  // ENTITY_LOCKED
	AEMStatusEntityAcquired         AEMStatus = 4  // ENTITY_ACQUIRED
	AEMStatusNotAuthenticated       AEMStatus = 5  // NOT_AUTHENTICATED
	AEMStatusAuthenticationDisabled AEMStatus = 6  // AUTHENTICATION_DISABLED
	AEMStatusBadArguments           AEMStatus = 7  // BAD_ARGUMENTS
	AEMStatusNoResources            AEMStatus = 8  // NO_RESOURCES
	AEMStatusInProgress             AEMStatus = 9  // IN_PROGRESS
	AEMStatusEntityMisbehaving      AEMStatus = 10 // ENTITY_MISBEHAVING
	AEMStatusNotSupported           AEMStatus = 11 // NOT_SUPPORTED
	AEMStatusStreamIsRunning        AEMStatus = 12 // STREAM_IS_RUNNING
)

func (s AEMStatus) String() string {
	switch s {
	case AEMStatusSuccess:
		return "SUCCESS"
	case AEMStatusNotImplemented:
		return "NOT_IMPLEMENTED"
	case AEMStatusNoSuchDescriptor:
		return "NO_SUCH_DESCRIPTOR"
	case AEMStatusEntityLocked:
		return "ENTITY_LOCKED"
	case AEMStatusEntityAcquired:
		return "ENTITY_ACQUIRED"
	case AEMStatusNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case AEMStatusAuthenticationDisabled:
		return "AUTHENTICATION_DISABLED"
	case AEMStatusBadArguments:
		return "BAD_ARGUMENTS"
	case AEMStatusNoResources:
		return "NO_RESOURCES"
	case AEMStatusInProgress:
		return "IN_PROGRESS"
	case AEMStatusEntityMisbehaving:
		return "ENTITY_MISBEHAVING"
	case AEMStatusNotSupported:
		return "NOT_SUPPORTED"
	case AEMStatusStreamIsRunning:
		return "STREAM_IS_RUNNING"
	default:
		return fmt.Sprintf("(%X)", byte(s))
	}
}

// AEMCommandType はAEMのコマンド種別（15ビット）を表します。
type AEMCommandType uint16

const (
	AEMAcquireEntity           AEMCommandType = 0x0000 // ACQUIRE_ENTITY
	AEMLockEntity              AEMCommandType = 0x0001 // LOCK_ENTITY
	AEMEntityAvailable         AEMCommandType = 0x0002 // ENTITY_AVAILABLE
	AEMControllerAvailable     AEMCommandType = 0x0003 // CONTROLLER_AVAILABLE
	AEMReadDescriptor          AEMCommandType = 0x0004 // READ_DESCRIPTOR
	AEMWriteDescriptor         AEMCommandType = 0x0005 // WRITE_DESCRIPTOR
	AEMSetConfiguration        AEMCommandType = 0x0006 // SET_CONFIGURATION
	AEMGetConfiguration        AEMCommandType = 0x0007 // GET_CONFIGURATION
	AEMSetStreamFormat         AEMCommandType = 0x0008 // SET_STREAM_FORMAT
	AEMGetStreamFormat         AEMCommandType = 0x0009 // GET_STREAM_FORMAT
	AEMSetStreamInfo           AEMCommandType = 0x000e // SET_STREAM_INFO
	AEMGetStreamInfo           AEMCommandType = 0x000f // GET_STREAM_INFO
	AEMSetName                 AEMCommandType = 0x0010 // SET_NAME
	AEMGetName                 AEMCommandType = 0x0011 // GET_NAME
	AEMSetSamplingRate         AEMCommandType = 0x0014 // SET_SAMPLING_RATE
	AEMGetSamplingRate         AEMCommandType = 0x0015 // GET_SAMPLING_RATE
	AEMSetClockSource          AEMCommandType = 0x0016 // SET_CLOCK_SOURCE
	AEMGetClockSource          AEMCommandType = 0x0017 // GET_CLOCK_SOURCE
	AEMStartStreaming          AEMCommandType = 0x0022 // START_STREAMING
	AEMStopStreaming           AEMCommandType = 0x0023 // STOP_STREAMING
	AEMRegisterUnsolicited     AEMCommandType = 0x0024 // REGISTER_UNSOLICITED_NOTIFICATION
	AEMDeregisterUnsolicited   AEMCommandType = 0x0025 // DEREGISTER_UNSOLICITED_NOTIFICATION
	AEMIdentifyNotification    AEMCommandType = 0x0026 // IDENTIFY_NOTIFICATION
	AEMGetAVBInfo              AEMCommandType = 0x0027 // GET_AVB_INFO
	AEMGetCounters             AEMCommandType = 0x0029 // GET_COUNTERS
	AEMGetAudioMap             AEMCommandType = 0x002b // GET_AUDIO_MAP
)

func (t AEMCommandType) String() string {
	switch t {
	case AEMAcquireEntity:
		return "ACQUIRE_ENTITY"
	case AEMLockEntity:
		return "LOCK_ENTITY"
	case AEMEntityAvailable:
		return "ENTITY_AVAILABLE"
	case AEMControllerAvailable:
		return "CONTROLLER_AVAILABLE"
	case AEMReadDescriptor:
		return "READ_DESCRIPTOR"
	case AEMWriteDescriptor:
		return "WRITE_DESCRIPTOR"
	case AEMSetConfiguration:
		return "SET_CONFIGURATION"
	case AEMGetConfiguration:
		return "GET_CONFIGURATION"
	case AEMSetStreamFormat:
		return "SET_STREAM_FORMAT"
	case AEMGetStreamFormat:
		return "GET_STREAM_FORMAT"
	case AEMSetStreamInfo:
		return "SET_STREAM_INFO"
	case AEMGetStreamInfo:
		return "GET_STREAM_INFO"
	case AEMSetName:
		return "SET_NAME"
	case AEMGetName:
		return "GET_NAME"
	case AEMStartStreaming:
		return "START_STREAMING"
	case AEMStopStreaming:
		return "STOP_STREAMING"
	case AEMSetSamplingRate:
		return "SET_SAMPLING_RATE"
	case AEMGetSamplingRate:
		return "GET_SAMPLING_RATE"
	case AEMSetClockSource:
		return "SET_CLOCK_SOURCE"
	case AEMGetClockSource:
		return "GET_CLOCK_SOURCE"
	case AEMRegisterUnsolicited:
		return "REGISTER_UNSOLICITED_NOTIFICATION"
	case AEMDeregisterUnsolicited:
		return "DEREGISTER_UNSOLICITED_NOTIFICATION"
	case AEMIdentifyNotification:
		return "IDENTIFY_NOTIFICATION"
	case AEMGetAVBInfo:
		return "GET_AVB_INFO"
	case AEMGetCounters:
		return "GET_COUNTERS"
	case AEMGetAudioMap:
		return "GET_AUDIO_MAP"
	default:
		return fmt.Sprintf("(%04X)", uint16(t))
	}
}

// AECPDU はAECPのPDU（AEM形式）を表します。
// AEM以外のメッセージ種別のときは CommandType を持たず、Payload に
// sequence_id 以降のバイト列をそのまま保持して再エンコード時に復元します。
type AECPDU struct {
	MessageType        AECPMessageType
	Status             AEMStatus
	TargetEntityID     EntityID
	ControllerEntityID EntityID
	SequenceID         SequenceID
	Unsolicited        bool           // uビット（AEMのみ）
	CommandType        AEMCommandType // AEMのみ
	Payload            []byte         // コマンド固有ペイロード
}

const (
	aecpCommonSize = controlHeaderSize + 8 + 2 // target(ヘッダ内) + controller + sequence_id = 22バイト
	aecpAEMMinSize = aecpCommonSize + 2        // + u/command_type = 24バイト
)

// IsAEM はAEM形式のPDUかどうかを返す
func (p *AECPDU) IsAEM() bool {
	return p.MessageType == AECPAEMCommand || p.MessageType == AECPAEMResponse
}

// DecodeAECPDU は受信したバイト列からAECP PDUをデコードします。
// control_data_length がバッファ実長を超える場合は不正として拒否します。
func DecodeAECPDU(data []byte) (*AECPDU, error) {
	if len(data) < aecpCommonSize {
		return nil, fmt.Errorf("AECP PDUが短すぎます: %d バイト", len(data))
	}
	h, err := decodeControlHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Subtype != SubtypeAECP {
		return nil, fmt.Errorf("AECPではないsubtypeです: %v", h.Subtype)
	}
	total := controlHeaderSize + int(h.ControlDataLength)
	if total > MaxPDUSize {
		return nil, fmt.Errorf("control_data_lengthが大きすぎます: %d", h.ControlDataLength)
	}
	if total > len(data) {
		return nil, fmt.Errorf("control_data_lengthがバッファ長を超えています: %d > %d", total, len(data))
	}
	pdu := &AECPDU{
		MessageType:        AECPMessageType(h.MessageType),
		Status:             AEMStatus(h.Status),
		TargetEntityID:     EntityID(h.ID),
		ControllerEntityID: EntityID(decodeUint64(data[12:20])),
		SequenceID:         SequenceID(decodeUint16(data[20:22])),
	}
	if pdu.IsAEM() {
		if total < aecpAEMMinSize {
			return nil, fmt.Errorf("AEM PDUが短すぎます: %d バイト", total)
		}
		ct := decodeUint16(data[22:24])
		pdu.Unsolicited = ct&0x8000 != 0
		pdu.CommandType = AEMCommandType(ct & 0x7fff)
		if total > aecpAEMMinSize {
			pdu.Payload = append([]byte(nil), data[aecpAEMMinSize:total]...)
		}
	} else if total > aecpCommonSize {
		pdu.Payload = append([]byte(nil), data[aecpCommonSize:total]...)
	}
	return pdu, nil
}

func (p *AECPDU) Encode() []byte {
	size := aecpCommonSize + len(p.Payload)
	if p.IsAEM() {
		size += 2
	}
	h := controlHeader{
		Subtype:           SubtypeAECP,
		MessageType:       byte(p.MessageType),
		Status:            byte(p.Status),
		ControlDataLength: uint16(size - controlHeaderSize),
		ID:                uint64(p.TargetEntityID),
	}
	buf := make([]byte, size)
	copy(buf, h.encode())
	encodeUint64(buf[12:20], uint64(p.ControllerEntityID))
	encodeUint16(buf[20:22], uint16(p.SequenceID))
	if p.IsAEM() {
		ct := uint16(p.CommandType) & 0x7fff
		if p.Unsolicited {
			ct |= 0x8000
		}
		encodeUint16(buf[22:24], ct)
		copy(buf[aecpAEMMinSize:], p.Payload)
	} else {
		copy(buf[aecpCommonSize:], p.Payload)
	}
	return buf
}

// Response はこのコマンドに対する応答PDUを作ります。ペイロードは呼び出し側が差し替えます。
func (p *AECPDU) Response(status AEMStatus, payload []byte) *AECPDU {
	return &AECPDU{
		MessageType:        p.MessageType + 1,
		Status:             status,
		TargetEntityID:     p.TargetEntityID,
		ControllerEntityID: p.ControllerEntityID,
		SequenceID:         p.SequenceID,
		CommandType:        p.CommandType,
		Payload:            payload,
	}
}

func (p *AECPDU) String() string {
	parts := []string{
		fmt.Sprintf("Type:%v", p.MessageType),
		fmt.Sprintf("Status:%v", p.Status),
		fmt.Sprintf("Seq:%d", p.SequenceID),
		fmt.Sprintf("Target:%v", p.TargetEntityID),
	}
	if p.IsAEM() {
		parts = append(parts, fmt.Sprintf("Command:%v", p.CommandType))
	}
	return strings.Join(parts, ", ")
}
