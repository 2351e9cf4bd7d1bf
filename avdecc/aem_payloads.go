package avdecc

import (
	"fmt"
)

// AEMコマンドのコマンド固有ペイロードのコーデック。
// AECPDU.Payload との相互変換を行います。

// ACQUIRE_ENTITY フラグ
const (
	AcquireFlagPersistent uint32 = 0x00000001
	AcquireFlagRelease    uint32 = 0x80000000
)

// LOCK_ENTITY フラグ
const (
	LockFlagUnlock uint32 = 0x00000001
)

// AcquireEntityPayload は ACQUIRE_ENTITY のコマンド・応答共通ペイロードを表します。
type AcquireEntityPayload struct {
	Flags           uint32
	OwnerEntityID   EntityID
	DescriptorType  DescriptorType
	DescriptorIndex uint16
}

func DecodeAcquireEntityPayload(data []byte) (*AcquireEntityPayload, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("ACQUIRE_ENTITYペイロードが短すぎます: %d バイト", len(data))
	}
	return &AcquireEntityPayload{
		Flags:           decodeUint32(data[0:4]),
		OwnerEntityID:   EntityID(decodeUint64(data[4:12])),
		DescriptorType:  DescriptorType(decodeUint16(data[12:14])),
		DescriptorIndex: decodeUint16(data[14:16]),
	}, nil
}

func (p *AcquireEntityPayload) Encode() []byte {
	buf := make([]byte, 16)
	encodeUint32(buf[0:4], p.Flags)
	encodeUint64(buf[4:12], uint64(p.OwnerEntityID))
	encodeUint16(buf[12:14], uint16(p.DescriptorType))
	encodeUint16(buf[14:16], p.DescriptorIndex)
	return buf
}

// LockEntityPayload は LOCK_ENTITY のコマンド・応答共通ペイロードを表します。
type LockEntityPayload struct {
	Flags           uint32
	LockedEntityID  EntityID
	DescriptorType  DescriptorType
	DescriptorIndex uint16
}

func DecodeLockEntityPayload(data []byte) (*LockEntityPayload, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("LOCK_ENTITYペイロードが短すぎます: %d バイト", len(data))
	}
	return &LockEntityPayload{
		Flags:           decodeUint32(data[0:4]),
		LockedEntityID:  EntityID(decodeUint64(data[4:12])),
		DescriptorType:  DescriptorType(decodeUint16(data[12:14])),
		DescriptorIndex: decodeUint16(data[14:16]),
	}, nil
}

func (p *LockEntityPayload) Encode() []byte {
	buf := make([]byte, 16)
	encodeUint32(buf[0:4], p.Flags)
	encodeUint64(buf[4:12], uint64(p.LockedEntityID))
	encodeUint16(buf[12:14], uint16(p.DescriptorType))
	encodeUint16(buf[14:16], p.DescriptorIndex)
	return buf
}

// ReadDescriptorCommand は READ_DESCRIPTOR コマンドのペイロードを表します。
type ReadDescriptorCommand struct {
	ConfigurationIndex uint16
	Reserved           uint16
	DescriptorType     DescriptorType
	DescriptorIndex    uint16
}

func DecodeReadDescriptorCommand(data []byte) (*ReadDescriptorCommand, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("READ_DESCRIPTORペイロードが短すぎます: %d バイト", len(data))
	}
	return &ReadDescriptorCommand{
		ConfigurationIndex: decodeUint16(data[0:2]),
		Reserved:           decodeUint16(data[2:4]),
		DescriptorType:     DescriptorType(decodeUint16(data[4:6])),
		DescriptorIndex:    decodeUint16(data[6:8]),
	}, nil
}

func (p *ReadDescriptorCommand) Encode() []byte {
	buf := make([]byte, 8)
	encodeUint16(buf[0:2], p.ConfigurationIndex)
	encodeUint16(buf[2:4], p.Reserved)
	encodeUint16(buf[4:6], uint16(p.DescriptorType))
	encodeUint16(buf[6:8], p.DescriptorIndex)
	return buf
}

// ReadDescriptorResponse は READ_DESCRIPTOR 応答のペイロードを表します。
// DescriptorData にはディスクリプタ本体のエンコード済みバイト列が入ります。
type ReadDescriptorResponse struct {
	ConfigurationIndex uint16
	Reserved           uint16
	DescriptorData     []byte
}

func DecodeReadDescriptorResponse(data []byte) (*ReadDescriptorResponse, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("READ_DESCRIPTOR応答ペイロードが短すぎます: %d バイト", len(data))
	}
	return &ReadDescriptorResponse{
		ConfigurationIndex: decodeUint16(data[0:2]),
		Reserved:           decodeUint16(data[2:4]),
		DescriptorData:     append([]byte(nil), data[4:]...),
	}, nil
}

func (p *ReadDescriptorResponse) Encode() []byte {
	buf := make([]byte, 4+len(p.DescriptorData))
	encodeUint16(buf[0:2], p.ConfigurationIndex)
	encodeUint16(buf[2:4], p.Reserved)
	copy(buf[4:], p.DescriptorData)
	return buf
}

// ConfigurationPayload は SET_CONFIGURATION コマンドと GET/SET_CONFIGURATION 応答のペイロードを表します。
type ConfigurationPayload struct {
	Reserved           uint16
	ConfigurationIndex uint16
}

func DecodeConfigurationPayload(data []byte) (*ConfigurationPayload, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("CONFIGURATIONペイロードが短すぎます: %d バイト", len(data))
	}
	return &ConfigurationPayload{
		Reserved:           decodeUint16(data[0:2]),
		ConfigurationIndex: decodeUint16(data[2:4]),
	}, nil
}

func (p *ConfigurationPayload) Encode() []byte {
	buf := make([]byte, 4)
	encodeUint16(buf[0:2], p.Reserved)
	encodeUint16(buf[2:4], p.ConfigurationIndex)
	return buf
}

// DescriptorRef は descriptor_type + descriptor_index のみのペイロードを表します。
// GET_STREAM_FORMAT / START_STREAMING / STOP_STREAMING / GET_AVB_INFO などで使います。
type DescriptorRef struct {
	DescriptorType  DescriptorType
	DescriptorIndex uint16
}

func DecodeDescriptorRef(data []byte) (*DescriptorRef, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("ディスクリプタ参照ペイロードが短すぎます: %d バイト", len(data))
	}
	return &DescriptorRef{
		DescriptorType:  DescriptorType(decodeUint16(data[0:2])),
		DescriptorIndex: decodeUint16(data[2:4]),
	}, nil
}

func (p *DescriptorRef) Encode() []byte {
	buf := make([]byte, 4)
	encodeUint16(buf[0:2], uint16(p.DescriptorType))
	encodeUint16(buf[2:4], p.DescriptorIndex)
	return buf
}

// StreamFormatPayload は SET_STREAM_FORMAT コマンドと GET/SET_STREAM_FORMAT 応答のペイロードを表します。
type StreamFormatPayload struct {
	DescriptorType  DescriptorType
	DescriptorIndex uint16
	StreamFormat    uint64
}

func DecodeStreamFormatPayload(data []byte) (*StreamFormatPayload, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("STREAM_FORMATペイロードが短すぎます: %d バイト", len(data))
	}
	return &StreamFormatPayload{
		DescriptorType:  DescriptorType(decodeUint16(data[0:2])),
		DescriptorIndex: decodeUint16(data[2:4]),
		StreamFormat:    decodeUint64(data[4:12]),
	}, nil
}

func (p *StreamFormatPayload) Encode() []byte {
	buf := make([]byte, 12)
	encodeUint16(buf[0:2], uint16(p.DescriptorType))
	encodeUint16(buf[2:4], p.DescriptorIndex)
	encodeUint64(buf[4:12], p.StreamFormat)
	return buf
}

// ストリーム情報フラグ（stream_info flags）のビット定義
const (
	StreamInfoFlagClassB           uint32 = 0x00000001
	StreamInfoFlagFastConnect      uint32 = 0x00000002
	StreamInfoFlagSavedState       uint32 = 0x00000004
	StreamInfoFlagStreamingWait    uint32 = 0x00000008
	StreamInfoFlagEncryptedPDU     uint32 = 0x00000010
	StreamInfoFlagTalkerFailed     uint32 = 0x00000020
	StreamInfoFlagStreamVLANValid  uint32 = 0x02000000
	StreamInfoFlagConnected        uint32 = 0x04000000
	StreamInfoFlagMSRPFailureValid uint32 = 0x08000000
	StreamInfoFlagDestMACValid     uint32 = 0x10000000
	StreamInfoFlagMSRPAccLatValid  uint32 = 0x20000000
	StreamInfoFlagStreamIDValid    uint32 = 0x40000000
	StreamInfoFlagFormatValid      uint32 = 0x80000000
)

// StreamInfoPayload は SET_STREAM_INFO コマンドと GET/SET_STREAM_INFO 応答のペイロードを表します。
type StreamInfoPayload struct {
	DescriptorType         DescriptorType
	DescriptorIndex        uint16
	Flags                  uint32
	StreamFormat           uint64
	StreamID               StreamID
	MSRPAccumulatedLatency uint32
	StreamDestMAC          MACAddress
	MSRPFailureCode        byte
	Reserved               byte
	MSRPFailureBridgeID    uint64
	StreamVLANID           uint16
	Reserved2              uint16
}

const streamInfoPayloadSize = 48

func DecodeStreamInfoPayload(data []byte) (*StreamInfoPayload, error) {
	if len(data) < streamInfoPayloadSize {
		return nil, fmt.Errorf("STREAM_INFOペイロードが短すぎます: %d バイト", len(data))
	}
	return &StreamInfoPayload{
		DescriptorType:         DescriptorType(decodeUint16(data[0:2])),
		DescriptorIndex:        decodeUint16(data[2:4]),
		Flags:                  decodeUint32(data[4:8]),
		StreamFormat:           decodeUint64(data[8:16]),
		StreamID:               StreamID(decodeUint64(data[16:24])),
		MSRPAccumulatedLatency: decodeUint32(data[24:28]),
		StreamDestMAC:          DecodeMACAddress(data[28:34]),
		MSRPFailureCode:        data[34],
		Reserved:               data[35],
		MSRPFailureBridgeID:    decodeUint64(data[36:44]),
		StreamVLANID:           decodeUint16(data[44:46]),
		Reserved2:              decodeUint16(data[46:48]),
	}, nil
}

func (p *StreamInfoPayload) Encode() []byte {
	buf := make([]byte, streamInfoPayloadSize)
	encodeUint16(buf[0:2], uint16(p.DescriptorType))
	encodeUint16(buf[2:4], p.DescriptorIndex)
	encodeUint32(buf[4:8], p.Flags)
	encodeUint64(buf[8:16], p.StreamFormat)
	encodeUint64(buf[16:24], uint64(p.StreamID))
	encodeUint32(buf[24:28], p.MSRPAccumulatedLatency)
	copy(buf[28:34], p.StreamDestMAC[:])
	buf[34] = p.MSRPFailureCode
	buf[35] = p.Reserved
	encodeUint64(buf[36:44], p.MSRPFailureBridgeID)
	encodeUint16(buf[44:46], p.StreamVLANID)
	encodeUint16(buf[46:48], p.Reserved2)
	return buf
}

// MSRPMapping はGET_AVB_INFO応答内のトラフィッククラスとVLANの対応を表します。
type MSRPMapping struct {
	TrafficClass byte
	Priority     byte
	VLANID       uint16
}

// AVBInfoPayload は GET_AVB_INFO 応答のペイロードを表します。
type AVBInfoPayload struct {
	GPTPGrandmasterID uint64
	PropagationDelay  uint32
	GPTPDomainNumber  byte
	Flags             byte
	MSRPMappings      []MSRPMapping
}

// GET_AVB_INFO応答フラグ
const (
	AVBInfoFlagASCapable    byte = 0x01
	AVBInfoFlagGPTPEnabled  byte = 0x02
	AVBInfoFlagSRPEnabled   byte = 0x04
)

func DecodeAVBInfoPayload(data []byte) (*AVBInfoPayload, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("GET_AVB_INFO応答ペイロードが短すぎます: %d バイト", len(data))
	}
	count := int(decodeUint16(data[14:16]))
	if 16+count*4 > len(data) {
		return nil, fmt.Errorf("MSRPマッピング数が不正です: %d", count)
	}
	p := &AVBInfoPayload{
		GPTPGrandmasterID: decodeUint64(data[0:8]),
		PropagationDelay:  decodeUint32(data[8:12]),
		GPTPDomainNumber:  data[12],
		Flags:             data[13],
		MSRPMappings:      make([]MSRPMapping, 0, count),
	}
	pos := 16
	for i := 0; i < count; i++ {
		p.MSRPMappings = append(p.MSRPMappings, MSRPMapping{
			TrafficClass: data[pos],
			Priority:     data[pos+1],
			VLANID:       decodeUint16(data[pos+2 : pos+4]),
		})
		pos += 4
	}
	return p, nil
}

func (p *AVBInfoPayload) Encode() []byte {
	buf := make([]byte, 16+len(p.MSRPMappings)*4)
	encodeUint64(buf[0:8], p.GPTPGrandmasterID)
	encodeUint32(buf[8:12], p.PropagationDelay)
	buf[12] = p.GPTPDomainNumber
	buf[13] = p.Flags
	encodeUint16(buf[14:16], uint16(len(p.MSRPMappings)))
	pos := 16
	for _, m := range p.MSRPMappings {
		buf[pos] = m.TrafficClass
		buf[pos+1] = m.Priority
		encodeUint16(buf[pos+2:pos+4], m.VLANID)
		pos += 4
	}
	return buf
}

// GetAudioMapCommand は GET_AUDIO_MAP コマンドのペイロードを表します。
type GetAudioMapCommand struct {
	DescriptorType  DescriptorType
	DescriptorIndex uint16
	MapIndex        uint16
	Reserved        uint16
}

func DecodeGetAudioMapCommand(data []byte) (*GetAudioMapCommand, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("GET_AUDIO_MAPペイロードが短すぎます: %d バイト", len(data))
	}
	return &GetAudioMapCommand{
		DescriptorType:  DescriptorType(decodeUint16(data[0:2])),
		DescriptorIndex: decodeUint16(data[2:4]),
		MapIndex:        decodeUint16(data[4:6]),
		Reserved:        decodeUint16(data[6:8]),
	}, nil
}

func (p *GetAudioMapCommand) Encode() []byte {
	buf := make([]byte, 8)
	encodeUint16(buf[0:2], uint16(p.DescriptorType))
	encodeUint16(buf[2:4], p.DescriptorIndex)
	encodeUint16(buf[4:6], p.MapIndex)
	encodeUint16(buf[6:8], p.Reserved)
	return buf
}

// AudioMapping はストリームチャンネルとクラスタチャンネルの対応を表します。
type AudioMapping struct {
	StreamIndex    uint16
	StreamChannel  uint16
	ClusterOffset  uint16
	ClusterChannel uint16
}

// GetAudioMapResponse は GET_AUDIO_MAP 応答のペイロードを表します。
type GetAudioMapResponse struct {
	DescriptorType  DescriptorType
	DescriptorIndex uint16
	MapIndex        uint16
	NumberOfMaps    uint16
	Reserved        uint16
	Mappings        []AudioMapping
}

func DecodeGetAudioMapResponse(data []byte) (*GetAudioMapResponse, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("GET_AUDIO_MAP応答ペイロードが短すぎます: %d バイト", len(data))
	}
	count := int(decodeUint16(data[8:10]))
	if 12+count*8 > len(data) {
		return nil, fmt.Errorf("オーディオマッピング数が不正です: %d", count)
	}
	p := &GetAudioMapResponse{
		DescriptorType:  DescriptorType(decodeUint16(data[0:2])),
		DescriptorIndex: decodeUint16(data[2:4]),
		MapIndex:        decodeUint16(data[4:6]),
		NumberOfMaps:    decodeUint16(data[6:8]),
		Reserved:        decodeUint16(data[10:12]),
		Mappings:        make([]AudioMapping, 0, count),
	}
	pos := 12
	for i := 0; i < count; i++ {
		p.Mappings = append(p.Mappings, AudioMapping{
			StreamIndex:    decodeUint16(data[pos : pos+2]),
			StreamChannel:  decodeUint16(data[pos+2 : pos+4]),
			ClusterOffset:  decodeUint16(data[pos+4 : pos+6]),
			ClusterChannel: decodeUint16(data[pos+6 : pos+8]),
		})
		pos += 8
	}
	return p, nil
}

func (p *GetAudioMapResponse) Encode() []byte {
	buf := make([]byte, 12+len(p.Mappings)*8)
	encodeUint16(buf[0:2], uint16(p.DescriptorType))
	encodeUint16(buf[2:4], p.DescriptorIndex)
	encodeUint16(buf[4:6], p.MapIndex)
	encodeUint16(buf[6:8], p.NumberOfMaps)
	encodeUint16(buf[8:10], uint16(len(p.Mappings)))
	encodeUint16(buf[10:12], p.Reserved)
	pos := 12
	for _, m := range p.Mappings {
		encodeUint16(buf[pos:pos+2], m.StreamIndex)
		encodeUint16(buf[pos+2:pos+4], m.StreamChannel)
		encodeUint16(buf[pos+4:pos+6], m.ClusterOffset)
		encodeUint16(buf[pos+6:pos+8], m.ClusterChannel)
		pos += 8
	}
	return buf
}
