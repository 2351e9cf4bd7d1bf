package avdecc

import (
	"fmt"
	"strings"
)

// ADPMessageType はADPのメッセージ種別を表します。
type ADPMessageType byte

const (
	ADPEntityAvailable ADPMessageType = 0x00 // ENTITY_AVAILABLE エンティティ存在通知
	ADPEntityDeparting ADPMessageType = 0x01 // ENTITY_DEPARTING エンティティ離脱通知
	ADPEntityDiscover  ADPMessageType = 0x02 // ENTITY_DISCOVER エンティティ探索要求
)

func (t ADPMessageType) String() string {
	switch t {
	case ADPEntityAvailable:
		return "ENTITY_AVAILABLE"
	case ADPEntityDeparting:
		return "ENTITY_DEPARTING"
	case ADPEntityDiscover:
		return "ENTITY_DISCOVER"
	default:
		return fmt.Sprintf("(%X)", byte(t))
	}
}

// エンティティケーパビリティ（entity_capabilities）のビット定義
const (
	EntityCapabilityEFUMode                uint32 = 0x00000001
	EntityCapabilityAddressAccessSupported uint32 = 0x00000002
	EntityCapabilityGPTPSupported          uint32 = 0x00000004
	EntityCapabilityAEMSupported           uint32 = 0x00000008
	EntityCapabilityLegacyAVC              uint32 = 0x00000010
	EntityCapabilityAssociationIDSupported uint32 = 0x00000020
	EntityCapabilityAssociationIDValid     uint32 = 0x00000040
	EntityCapabilityVendorUniqueSupported  uint32 = 0x00000080
	EntityCapabilityClassASupported        uint32 = 0x00000100
	EntityCapabilityClassBSupported        uint32 = 0x00000200
	EntityCapabilityGPTPGrandmasterSupport uint32 = 0x00000400
)

// トーカーケーパビリティ（talker_capabilities）のビット定義
const (
	TalkerCapabilityImplemented uint16 = 0x0001
	TalkerCapabilityMediaClock  uint16 = 0x2000
	TalkerCapabilityAudioSource uint16 = 0x4000
	TalkerCapabilityVideoSource uint16 = 0x8000
)

// リスナーケーパビリティ（listener_capabilities）のビット定義
const (
	ListenerCapabilityImplemented uint16 = 0x0001
	ListenerCapabilityMediaClock  uint16 = 0x2000
	ListenerCapabilityAudioSink   uint16 = 0x4000
	ListenerCapabilityVideoSink   uint16 = 0x8000
)

// コントローラーケーパビリティ（controller_capabilities）のビット定義
const (
	ControllerCapabilityImplemented uint32 = 0x00000001
)

// ADPDU はADPのPDU全体を表します。
// ValidTime は2秒単位の5ビット値（ヘッダのstatusフィールドに載る）。
type ADPDU struct {
	MessageType            ADPMessageType
	ValidTime              byte
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
	Reserved0              [3]byte
	IdentifyControlIndex   uint16
	InterfaceIndex         uint16
	AssociationID          uint64
	Reserved1              uint32
}

const (
	adpControlDataLength = 56
	adpPDUSize           = controlHeaderSize + adpControlDataLength // 68バイト
)

// DecodeADPDU は受信したバイト列からADP PDUをデコードします。
// 予約フィールドも保持し、再エンコードでバイト列が一致するようにします。
func DecodeADPDU(data []byte) (*ADPDU, error) {
	if len(data) < adpPDUSize {
		return nil, fmt.Errorf("ADP PDUが短すぎます: %d バイト", len(data))
	}
	h, err := decodeControlHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Subtype != SubtypeADP {
		return nil, fmt.Errorf("ADPではないsubtypeです: %v", h.Subtype)
	}
	pdu := &ADPDU{
		MessageType:            ADPMessageType(h.MessageType),
		ValidTime:              h.Status,
		EntityID:               EntityID(h.ID),
		EntityModelID:          EntityModelID(decodeUint64(data[12:20])),
		EntityCapabilities:     decodeUint32(data[20:24]),
		TalkerStreamSources:    decodeUint16(data[24:26]),
		TalkerCapabilities:     decodeUint16(data[26:28]),
		ListenerStreamSinks:    decodeUint16(data[28:30]),
		ListenerCapabilities:   decodeUint16(data[30:32]),
		ControllerCapabilities: decodeUint32(data[32:36]),
		AvailableIndex:         decodeUint32(data[36:40]),
		GPTPGrandmasterID:      decodeUint64(data[40:48]),
		GPTPDomainNumber:       data[48],
		IdentifyControlIndex:   decodeUint16(data[52:54]),
		InterfaceIndex:         decodeUint16(data[54:56]),
		AssociationID:          decodeUint64(data[56:64]),
		Reserved1:              decodeUint32(data[64:68]),
	}
	copy(pdu.Reserved0[:], data[49:52])
	return pdu, nil
}

func (p *ADPDU) Encode() []byte {
	h := controlHeader{
		Subtype:           SubtypeADP,
		MessageType:       byte(p.MessageType),
		Status:            p.ValidTime,
		ControlDataLength: adpControlDataLength,
		ID:                uint64(p.EntityID),
	}
	buf := make([]byte, adpPDUSize)
	copy(buf, h.encode())
	encodeUint64(buf[12:20], uint64(p.EntityModelID))
	encodeUint32(buf[20:24], p.EntityCapabilities)
	encodeUint16(buf[24:26], p.TalkerStreamSources)
	encodeUint16(buf[26:28], p.TalkerCapabilities)
	encodeUint16(buf[28:30], p.ListenerStreamSinks)
	encodeUint16(buf[30:32], p.ListenerCapabilities)
	encodeUint32(buf[32:36], p.ControllerCapabilities)
	encodeUint32(buf[36:40], p.AvailableIndex)
	encodeUint64(buf[40:48], p.GPTPGrandmasterID)
	buf[48] = p.GPTPDomainNumber
	copy(buf[49:52], p.Reserved0[:])
	encodeUint16(buf[52:54], p.IdentifyControlIndex)
	encodeUint16(buf[54:56], p.InterfaceIndex)
	encodeUint64(buf[56:64], p.AssociationID)
	encodeUint32(buf[64:68], p.Reserved1)
	return buf
}

func (p *ADPDU) String() string {
	parts := []string{
		fmt.Sprintf("Type:%v", p.MessageType),
		fmt.Sprintf("EntityID:%v", p.EntityID),
		fmt.Sprintf("ModelID:%v", p.EntityModelID),
		fmt.Sprintf("ValidTime:%ds", int(p.ValidTime)*2),
		fmt.Sprintf("AvailableIndex:%d", p.AvailableIndex),
	}
	return strings.Join(parts, ", ")
}
