package avdecc

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMakeObjectName(t *testing.T) {
	n := MakeObjectName("avdecc-list")
	if n.String() != "avdecc-list" {
		t.Errorf("String() = %q", n.String())
	}

	// 64バイトを超える名前は切り詰める
	long := MakeObjectName(string(bytes.Repeat([]byte("a"), 100)))
	if len(long.String()) != 64 {
		t.Errorf("truncated length = %d, want 64", len(long.String()))
	}
}

func TestEntityDescriptor_EncodeDecode(t *testing.T) {
	d := &EntityDescriptor{
		EntityID:             EntityID(0x001b92fffe000001),
		EntityModelID:        EntityModelID(0x001b92fffe000002),
		EntityCapabilities:   EntityCapabilityAEMSupported,
		TalkerStreamSources:  1,
		TalkerCapabilities:   TalkerCapabilityImplemented,
		ListenerStreamSinks:  2,
		ListenerCapabilities: ListenerCapabilityImplemented,
		AvailableIndex:       7,
		EntityName:           MakeObjectName("Test Entity"),
		FirmwareVersion:      MakeObjectName("1.0"),
		GroupName:            MakeObjectName("Lab"),
		SerialNumber:         MakeObjectName("SN-0001"),
		ConfigurationsCount:  1,
		CurrentConfiguration: 0,
	}

	data := d.Encode()
	if len(data) != 312 {
		t.Fatalf("ENTITY descriptor length = %d, want 312", len(data))
	}
	// entity_name はオフセット48から64バイト
	if !bytes.Equal(data[48:59], []byte("Test Entity")) {
		t.Errorf("entity_name not at offset 48: % x", data[48:59])
	}

	decoded, err := DecodeEntityDescriptor(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(d, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEntityDescriptor_WrongType(t *testing.T) {
	d := &ConfigurationDescriptor{ObjectName: MakeObjectName("cfg")}
	data := d.Encode()
	data = append(data, make([]byte, 312-len(data))...)
	if _, err := DecodeEntityDescriptor(data); err == nil {
		t.Errorf("expected error for non-ENTITY descriptor")
	}
}

func TestConfigurationDescriptor_EncodeDecode(t *testing.T) {
	d := &ConfigurationDescriptor{
		DescriptorIndex: 0,
		ObjectName:      MakeObjectName("Default"),
		DescriptorCounts: []DescriptorCount{
			{Type: DescriptorStreamInput, Count: 2},
			{Type: DescriptorStreamOutput, Count: 1},
			{Type: DescriptorAVBInterface, Count: 1},
		},
	}

	data := d.Encode()
	// object_name はオフセット4から
	if !bytes.Equal(data[4:11], []byte("Default")) {
		t.Errorf("object_name not at offset 4")
	}

	decoded, err := DecodeConfigurationDescriptor(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(d, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamDescriptor_EncodeDecode(t *testing.T) {
	d := &StreamDescriptor{
		DescriptorType:  DescriptorStreamInput,
		DescriptorIndex: 1,
		ObjectName:      MakeObjectName("Stream Input 1"),
		StreamFlags:     StreamFlagClassA,
		CurrentFormat:   0x00a0020240000800,
		BufferLength:    8,
		Formats:         []uint64{0x00a0020240000800, 0x00a0020140000800},
	}

	data := d.Encode()
	if len(data) != 132+2*8 {
		t.Fatalf("STREAM descriptor length = %d", len(data))
	}

	decoded, err := DecodeStreamDescriptor(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(d, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAVBInterfaceDescriptor_EncodeDecode(t *testing.T) {
	d := &AVBInterfaceDescriptor{
		DescriptorIndex: 0,
		ObjectName:      MakeObjectName("AVB Interface 0"),
		MACAddress:      MACAddress{0x00, 0x1b, 0x92, 0x00, 0x00, 0x01},
		ClockIdentity:   0x001b92fffe000003,
		Priority1:       248,
		ClockClass:      248,
		DomainNumber:    1,
	}

	data := d.Encode()
	if len(data) != 98 {
		t.Fatalf("AVB_INTERFACE descriptor length = %d, want 98", len(data))
	}

	decoded, err := DecodeAVBInterfaceDescriptor(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(d, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestClockSourceDescriptor_EncodeDecode(t *testing.T) {
	d := &ClockSourceDescriptor{
		DescriptorIndex:          0,
		ObjectName:               MakeObjectName("Clock Source 0"),
		ClockSourceType:          ClockSourceTypeInternal,
		ClockSourceIdentifier:    0x001b92fffe000003,
		ClockSourceLocationType:  DescriptorClockDomain,
		ClockSourceLocationIndex: 0,
	}

	decoded, err := DecodeClockSourceDescriptor(d.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(d, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
