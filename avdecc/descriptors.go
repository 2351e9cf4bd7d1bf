package avdecc

import (
	"bytes"
	"fmt"
)

// DescriptorType はAEMディスクリプタの種別を表します。
type DescriptorType uint16

const (
	DescriptorEntity        DescriptorType = 0x0000 // ENTITY
	DescriptorConfiguration DescriptorType = 0x0001 // CONFIGURATION
	DescriptorAudioUnit     DescriptorType = 0x0002 // AUDIO_UNIT
	DescriptorStreamInput   DescriptorType = 0x0005 // STREAM_INPUT
	DescriptorStreamOutput  DescriptorType = 0x0006 // STREAM_OUTPUT
	DescriptorAVBInterface  DescriptorType = 0x0009 // AVB_INTERFACE
	DescriptorClockSource   DescriptorType = 0x000a // CLOCK_SOURCE
	DescriptorLocale        DescriptorType = 0x000b // LOCALE
	DescriptorStrings       DescriptorType = 0x000c // STRINGS
	DescriptorClockDomain   DescriptorType = 0x0024 // CLOCK_DOMAIN
	DescriptorInvalid       DescriptorType = 0xffff
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorEntity:
		return "ENTITY"
	case DescriptorConfiguration:
		return "CONFIGURATION"
	case DescriptorAudioUnit:
		return "AUDIO_UNIT"
	case DescriptorStreamInput:
		return "STREAM_INPUT"
	case DescriptorStreamOutput:
		return "STREAM_OUTPUT"
	case DescriptorAVBInterface:
		return "AVB_INTERFACE"
	case DescriptorClockSource:
		return "CLOCK_SOURCE"
	case DescriptorLocale:
		return "LOCALE"
	case DescriptorStrings:
		return "STRINGS"
	case DescriptorClockDomain:
		return "CLOCK_DOMAIN"
	default:
		return fmt.Sprintf("(%04X)", uint16(t))
	}
}

// ObjectName はAEMの64バイト固定長名前フィールド（UTF-8、NUL埋め）を表します。
type ObjectName [64]byte

func MakeObjectName(s string) ObjectName {
	var n ObjectName
	copy(n[:], s)
	return n
}

func (n ObjectName) String() string {
	if i := bytes.IndexByte(n[:], 0); i >= 0 {
		return string(n[:i])
	}
	return string(n[:])
}

// EntityDescriptor はENTITYディスクリプタ（インデックス0の単一レコード）を表します。
type EntityDescriptor struct {
	EntityID               EntityID
	EntityModelID          EntityModelID
	EntityCapabilities     uint32
	TalkerStreamSources    uint16
	TalkerCapabilities     uint16
	ListenerStreamSinks    uint16
	ListenerCapabilities   uint16
	ControllerCapabilities uint32
	AvailableIndex         uint32
	AssociationID          uint64
	EntityName             ObjectName
	VendorNameString       uint16
	ModelNameString        uint16
	FirmwareVersion        ObjectName
	GroupName              ObjectName
	SerialNumber           ObjectName
	ConfigurationsCount    uint16
	CurrentConfiguration   uint16
}

const entityDescriptorSize = 312

func DecodeEntityDescriptor(data []byte) (*EntityDescriptor, error) {
	if len(data) < entityDescriptorSize {
		return nil, fmt.Errorf("ENTITYディスクリプタが短すぎます: %d バイト", len(data))
	}
	if DescriptorType(decodeUint16(data[0:2])) != DescriptorEntity {
		return nil, fmt.Errorf("ENTITYディスクリプタではありません: %v", DescriptorType(decodeUint16(data[0:2])))
	}
	d := &EntityDescriptor{
		EntityID:               EntityID(decodeUint64(data[4:12])),
		EntityModelID:          EntityModelID(decodeUint64(data[12:20])),
		EntityCapabilities:     decodeUint32(data[20:24]),
		TalkerStreamSources:    decodeUint16(data[24:26]),
		TalkerCapabilities:     decodeUint16(data[26:28]),
		ListenerStreamSinks:    decodeUint16(data[28:30]),
		ListenerCapabilities:   decodeUint16(data[30:32]),
		ControllerCapabilities: decodeUint32(data[32:36]),
		AvailableIndex:         decodeUint32(data[36:40]),
		AssociationID:          decodeUint64(data[40:48]),
		VendorNameString:       decodeUint16(data[112:114]),
		ModelNameString:        decodeUint16(data[114:116]),
		ConfigurationsCount:    decodeUint16(data[308:310]),
		CurrentConfiguration:   decodeUint16(data[310:312]),
	}
	copy(d.EntityName[:], data[48:112])
	copy(d.FirmwareVersion[:], data[116:180])
	copy(d.GroupName[:], data[180:244])
	copy(d.SerialNumber[:], data[244:308])
	return d, nil
}

func (d *EntityDescriptor) Encode() []byte {
	buf := make([]byte, entityDescriptorSize)
	encodeUint16(buf[0:2], uint16(DescriptorEntity))
	encodeUint16(buf[2:4], 0) // descriptor_index は常に0
	encodeUint64(buf[4:12], uint64(d.EntityID))
	encodeUint64(buf[12:20], uint64(d.EntityModelID))
	encodeUint32(buf[20:24], d.EntityCapabilities)
	encodeUint16(buf[24:26], d.TalkerStreamSources)
	encodeUint16(buf[26:28], d.TalkerCapabilities)
	encodeUint16(buf[28:30], d.ListenerStreamSinks)
	encodeUint16(buf[30:32], d.ListenerCapabilities)
	encodeUint32(buf[32:36], d.ControllerCapabilities)
	encodeUint32(buf[36:40], d.AvailableIndex)
	encodeUint64(buf[40:48], d.AssociationID)
	copy(buf[48:112], d.EntityName[:])
	encodeUint16(buf[112:114], d.VendorNameString)
	encodeUint16(buf[114:116], d.ModelNameString)
	copy(buf[116:180], d.FirmwareVersion[:])
	copy(buf[180:244], d.GroupName[:])
	copy(buf[244:308], d.SerialNumber[:])
	encodeUint16(buf[308:310], d.ConfigurationsCount)
	encodeUint16(buf[310:312], d.CurrentConfiguration)
	return buf
}

// DescriptorCount はCONFIGURATIONディスクリプタ内の種別ごとの個数を表します。
type DescriptorCount struct {
	Type  DescriptorType
	Count uint16
}

// ConfigurationDescriptor はCONFIGURATIONディスクリプタを表します。
type ConfigurationDescriptor struct {
	DescriptorIndex      uint16
	ObjectName           ObjectName
	LocalizedDescription uint16
	DescriptorCounts     []DescriptorCount
}

const configurationDescriptorBase = 74

func DecodeConfigurationDescriptor(data []byte) (*ConfigurationDescriptor, error) {
	if len(data) < configurationDescriptorBase {
		return nil, fmt.Errorf("CONFIGURATIONディスクリプタが短すぎます: %d バイト", len(data))
	}
	count := int(decodeUint16(data[70:72]))
	offset := int(decodeUint16(data[72:74]))
	if offset+count*4 > len(data) {
		return nil, fmt.Errorf("descriptor_countsの長さが不正です")
	}
	d := &ConfigurationDescriptor{
		DescriptorIndex:      decodeUint16(data[2:4]),
		LocalizedDescription: decodeUint16(data[68:70]),
		DescriptorCounts:     make([]DescriptorCount, 0, count),
	}
	copy(d.ObjectName[:], data[4:68])
	pos := offset
	for i := 0; i < count; i++ {
		d.DescriptorCounts = append(d.DescriptorCounts, DescriptorCount{
			Type:  DescriptorType(decodeUint16(data[pos : pos+2])),
			Count: decodeUint16(data[pos+2 : pos+4]),
		})
		pos += 4
	}
	return d, nil
}

func (d *ConfigurationDescriptor) Encode() []byte {
	buf := make([]byte, configurationDescriptorBase+len(d.DescriptorCounts)*4)
	encodeUint16(buf[0:2], uint16(DescriptorConfiguration))
	encodeUint16(buf[2:4], d.DescriptorIndex)
	copy(buf[4:68], d.ObjectName[:])
	encodeUint16(buf[68:70], d.LocalizedDescription)
	encodeUint16(buf[70:72], uint16(len(d.DescriptorCounts)))
	encodeUint16(buf[72:74], configurationDescriptorBase)
	pos := configurationDescriptorBase
	for _, c := range d.DescriptorCounts {
		encodeUint16(buf[pos:pos+2], uint16(c.Type))
		encodeUint16(buf[pos+2:pos+4], c.Count)
		pos += 4
	}
	return buf
}

// ストリームフラグ（stream_flags）のビット定義
const (
	StreamFlagClockSyncSource   uint16 = 0x0001
	StreamFlagClassA            uint16 = 0x0002
	StreamFlagClassB            uint16 = 0x0004
	StreamFlagSupportsEncrypted uint16 = 0x0008
)

// StreamDescriptor はSTREAM_INPUT / STREAM_OUTPUTディスクリプタを表します。
// DescriptorType フィールドで入出力を区別します。
type StreamDescriptor struct {
	DescriptorType         DescriptorType // DescriptorStreamInput または DescriptorStreamOutput
	DescriptorIndex        uint16
	ObjectName             ObjectName
	LocalizedDescription   uint16
	ClockDomainIndex       uint16
	StreamFlags            uint16
	CurrentFormat          uint64
	BackupTalkerEntityID0  EntityID
	BackupTalkerUniqueID0  uint16
	BackupTalkerEntityID1  EntityID
	BackupTalkerUniqueID1  uint16
	BackupTalkerEntityID2  EntityID
	BackupTalkerUniqueID2  uint16
	BackedupTalkerEntityID EntityID
	BackedupTalkerUniqueID uint16
	AVBInterfaceIndex      uint16
	BufferLength           uint32
	Formats                []uint64
}

const streamDescriptorBase = 132

func DecodeStreamDescriptor(data []byte) (*StreamDescriptor, error) {
	if len(data) < streamDescriptorBase {
		return nil, fmt.Errorf("STREAMディスクリプタが短すぎます: %d バイト", len(data))
	}
	dt := DescriptorType(decodeUint16(data[0:2]))
	if dt != DescriptorStreamInput && dt != DescriptorStreamOutput {
		return nil, fmt.Errorf("STREAMディスクリプタではありません: %v", dt)
	}
	offset := int(decodeUint16(data[82:84]))
	count := int(decodeUint16(data[84:86]))
	if offset+count*8 > len(data) {
		return nil, fmt.Errorf("formatsの長さが不正です")
	}
	d := &StreamDescriptor{
		DescriptorType:         dt,
		DescriptorIndex:        decodeUint16(data[2:4]),
		LocalizedDescription:   decodeUint16(data[68:70]),
		ClockDomainIndex:       decodeUint16(data[70:72]),
		StreamFlags:            decodeUint16(data[72:74]),
		CurrentFormat:          decodeUint64(data[74:82]),
		BackupTalkerEntityID0:  EntityID(decodeUint64(data[86:94])),
		BackupTalkerUniqueID0:  decodeUint16(data[94:96]),
		BackupTalkerEntityID1:  EntityID(decodeUint64(data[96:104])),
		BackupTalkerUniqueID1:  decodeUint16(data[104:106]),
		BackupTalkerEntityID2:  EntityID(decodeUint64(data[106:114])),
		BackupTalkerUniqueID2:  decodeUint16(data[114:116]),
		BackedupTalkerEntityID: EntityID(decodeUint64(data[116:124])),
		BackedupTalkerUniqueID: decodeUint16(data[124:126]),
		AVBInterfaceIndex:      decodeUint16(data[126:128]),
		BufferLength:           decodeUint32(data[128:132]),
		Formats:                make([]uint64, 0, count),
	}
	copy(d.ObjectName[:], data[4:68])
	pos := offset
	for i := 0; i < count; i++ {
		d.Formats = append(d.Formats, decodeUint64(data[pos:pos+8]))
		pos += 8
	}
	return d, nil
}

func (d *StreamDescriptor) Encode() []byte {
	buf := make([]byte, streamDescriptorBase+len(d.Formats)*8)
	encodeUint16(buf[0:2], uint16(d.DescriptorType))
	encodeUint16(buf[2:4], d.DescriptorIndex)
	copy(buf[4:68], d.ObjectName[:])
	encodeUint16(buf[68:70], d.LocalizedDescription)
	encodeUint16(buf[70:72], d.ClockDomainIndex)
	encodeUint16(buf[72:74], d.StreamFlags)
	encodeUint64(buf[74:82], d.CurrentFormat)
	encodeUint16(buf[82:84], streamDescriptorBase)
	encodeUint16(buf[84:86], uint16(len(d.Formats)))
	encodeUint64(buf[86:94], uint64(d.BackupTalkerEntityID0))
	encodeUint16(buf[94:96], d.BackupTalkerUniqueID0)
	encodeUint64(buf[96:104], uint64(d.BackupTalkerEntityID1))
	encodeUint16(buf[104:106], d.BackupTalkerUniqueID1)
	encodeUint64(buf[106:114], uint64(d.BackupTalkerEntityID2))
	encodeUint16(buf[114:116], d.BackupTalkerUniqueID2)
	encodeUint64(buf[116:124], uint64(d.BackedupTalkerEntityID))
	encodeUint16(buf[124:126], d.BackedupTalkerUniqueID)
	encodeUint16(buf[126:128], d.AVBInterfaceIndex)
	encodeUint32(buf[128:132], d.BufferLength)
	pos := streamDescriptorBase
	for _, f := range d.Formats {
		encodeUint64(buf[pos:pos+8], f)
		pos += 8
	}
	return buf
}

// AVBInterfaceDescriptor はAVB_INTERFACEディスクリプタを表します。
type AVBInterfaceDescriptor struct {
	DescriptorIndex         uint16
	ObjectName              ObjectName
	LocalizedDescription    uint16
	MACAddress              MACAddress
	InterfaceFlags          uint16
	ClockIdentity           uint64
	Priority1               byte
	ClockClass              byte
	OffsetScaledLogVariance uint16
	ClockAccuracy           byte
	Priority2               byte
	DomainNumber            byte
	LogSyncInterval         byte
	LogAnnounceInterval     byte
	LogPDelayInterval       byte
	PortNumber              uint16
}

const avbInterfaceDescriptorSize = 98

func DecodeAVBInterfaceDescriptor(data []byte) (*AVBInterfaceDescriptor, error) {
	if len(data) < avbInterfaceDescriptorSize {
		return nil, fmt.Errorf("AVB_INTERFACEディスクリプタが短すぎます: %d バイト", len(data))
	}
	if DescriptorType(decodeUint16(data[0:2])) != DescriptorAVBInterface {
		return nil, fmt.Errorf("AVB_INTERFACEディスクリプタではありません")
	}
	d := &AVBInterfaceDescriptor{
		DescriptorIndex:         decodeUint16(data[2:4]),
		LocalizedDescription:    decodeUint16(data[68:70]),
		MACAddress:              DecodeMACAddress(data[70:76]),
		InterfaceFlags:          decodeUint16(data[76:78]),
		ClockIdentity:           decodeUint64(data[78:86]),
		Priority1:               data[86],
		ClockClass:              data[87],
		OffsetScaledLogVariance: decodeUint16(data[88:90]),
		ClockAccuracy:           data[90],
		Priority2:               data[91],
		DomainNumber:            data[92],
		LogSyncInterval:         data[93],
		LogAnnounceInterval:     data[94],
		LogPDelayInterval:       data[95],
		PortNumber:              decodeUint16(data[96:98]),
	}
	copy(d.ObjectName[:], data[4:68])
	return d, nil
}

func (d *AVBInterfaceDescriptor) Encode() []byte {
	buf := make([]byte, avbInterfaceDescriptorSize)
	encodeUint16(buf[0:2], uint16(DescriptorAVBInterface))
	encodeUint16(buf[2:4], d.DescriptorIndex)
	copy(buf[4:68], d.ObjectName[:])
	encodeUint16(buf[68:70], d.LocalizedDescription)
	copy(buf[70:76], d.MACAddress[:])
	encodeUint16(buf[76:78], d.InterfaceFlags)
	encodeUint64(buf[78:86], d.ClockIdentity)
	buf[86] = d.Priority1
	buf[87] = d.ClockClass
	encodeUint16(buf[88:90], d.OffsetScaledLogVariance)
	buf[90] = d.ClockAccuracy
	buf[91] = d.Priority2
	buf[92] = d.DomainNumber
	buf[93] = d.LogSyncInterval
	buf[94] = d.LogAnnounceInterval
	buf[95] = d.LogPDelayInterval
	encodeUint16(buf[96:98], d.PortNumber)
	return buf
}

// クロックソース種別（clock_source_type）
const (
	ClockSourceTypeInternal    uint16 = 0x0000
	ClockSourceTypeExternal    uint16 = 0x0001
	ClockSourceTypeInputStream uint16 = 0x0002
)

// ClockSourceDescriptor はCLOCK_SOURCEディスクリプタを表します。
type ClockSourceDescriptor struct {
	DescriptorIndex          uint16
	ObjectName               ObjectName
	LocalizedDescription     uint16
	ClockSourceFlags         uint16
	ClockSourceType          uint16
	ClockSourceIdentifier    uint64
	ClockSourceLocationType  DescriptorType
	ClockSourceLocationIndex uint16
}

const clockSourceDescriptorSize = 86

func DecodeClockSourceDescriptor(data []byte) (*ClockSourceDescriptor, error) {
	if len(data) < clockSourceDescriptorSize {
		return nil, fmt.Errorf("CLOCK_SOURCEディスクリプタが短すぎます: %d バイト", len(data))
	}
	if DescriptorType(decodeUint16(data[0:2])) != DescriptorClockSource {
		return nil, fmt.Errorf("CLOCK_SOURCEディスクリプタではありません")
	}
	d := &ClockSourceDescriptor{
		DescriptorIndex:          decodeUint16(data[2:4]),
		LocalizedDescription:     decodeUint16(data[68:70]),
		ClockSourceFlags:         decodeUint16(data[70:72]),
		ClockSourceType:          decodeUint16(data[72:74]),
		ClockSourceIdentifier:    decodeUint64(data[74:82]),
		ClockSourceLocationType:  DescriptorType(decodeUint16(data[82:84])),
		ClockSourceLocationIndex: decodeUint16(data[84:86]),
	}
	copy(d.ObjectName[:], data[4:68])
	return d, nil
}

func (d *ClockSourceDescriptor) Encode() []byte {
	buf := make([]byte, clockSourceDescriptorSize)
	encodeUint16(buf[0:2], uint16(DescriptorClockSource))
	encodeUint16(buf[2:4], d.DescriptorIndex)
	copy(buf[4:68], d.ObjectName[:])
	encodeUint16(buf[68:70], d.LocalizedDescription)
	encodeUint16(buf[70:72], d.ClockSourceFlags)
	encodeUint16(buf[72:74], d.ClockSourceType)
	encodeUint64(buf[74:82], d.ClockSourceIdentifier)
	encodeUint16(buf[82:84], uint16(d.ClockSourceLocationType))
	encodeUint16(buf[84:86], d.ClockSourceLocationIndex)
	return buf
}
