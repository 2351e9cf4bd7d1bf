package avdecc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAECPDU_EncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		pdu  *AECPDU
	}{
		{
			name: "AEM command with payload",
			pdu: &AECPDU{
				MessageType:        AECPAEMCommand,
				TargetEntityID:     EntityID(0x001b92fffe0000a0),
				ControllerEntityID: EntityID(0x001b92fffe0000c0),
				SequenceID:         7,
				CommandType:        AEMReadDescriptor,
				Payload:            []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00},
			},
		},
		{
			name: "AEM response without payload",
			pdu: &AECPDU{
				MessageType:        AECPAEMResponse,
				Status:             AEMStatusNoSuchDescriptor,
				TargetEntityID:     EntityID(1),
				ControllerEntityID: EntityID(2),
				SequenceID:         0xffff,
				CommandType:        AEMAcquireEntity,
			},
		},
		{
			name: "unsolicited response sets the u bit",
			pdu: &AECPDU{
				MessageType:        AECPAEMResponse,
				TargetEntityID:     EntityID(1),
				ControllerEntityID: EntityID(2),
				SequenceID:         3,
				Unsolicited:        true,
				CommandType:        AEMWriteDescriptor,
				Payload:            []byte{0x01, 0x02},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.pdu.Encode()
			decoded, err := DecodeAECPDU(data)
			if err != nil {
				t.Fatalf("DecodeAECPDU failed: %v", err)
			}
			if diff := cmp.Diff(tt.pdu, decoded); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
			if !bytes.Equal(data, decoded.Encode()) {
				t.Errorf("re-encoded bytes differ from original")
			}
		})
	}
}

func TestAECPDU_UnsolicitedBit(t *testing.T) {
	pdu := &AECPDU{
		MessageType:    AECPAEMResponse,
		TargetEntityID: EntityID(1),
		Unsolicited:    true,
		CommandType:    AEMWriteDescriptor,
	}
	data := pdu.Encode()
	// u ビットは command_type フィールドの最上位ビット
	if data[22]&0x80 == 0 {
		t.Errorf("u bit not set in encoded command_type")
	}
	ct := uint16(data[22]&0x7f)<<8 | uint16(data[23])
	if AEMCommandType(ct) != AEMWriteDescriptor {
		t.Errorf("command_type = 0x%04x, want WRITE_DESCRIPTOR", ct)
	}
}

func TestDecodeAECPDU_ControlDataLength(t *testing.T) {
	pdu := &AECPDU{
		MessageType:    AECPAEMCommand,
		TargetEntityID: EntityID(1),
		CommandType:    AEMEntityAvailable,
		Payload:        []byte{1, 2, 3, 4},
	}
	data := pdu.Encode()

	// control_data_length がバッファ実長を超える場合は拒否する
	data[3] += 4
	if _, err := DecodeAECPDU(data); err == nil {
		t.Errorf("expected error for oversized control_data_length")
	}
}

func TestDecodeAECPDU_Truncated(t *testing.T) {
	data := (&AECPDU{MessageType: AECPAEMCommand, CommandType: AEMEntityAvailable}).Encode()
	for l := 0; l < len(data); l++ {
		if _, err := DecodeAECPDU(data[:l]); err == nil {
			t.Errorf("expected error for truncated PDU of length %d", l)
		}
	}
}

func TestAECPDU_Response(t *testing.T) {
	cmd := &AECPDU{
		MessageType:        AECPAEMCommand,
		TargetEntityID:     EntityID(1),
		ControllerEntityID: EntityID(2),
		SequenceID:         42,
		CommandType:        AEMLockEntity,
		Payload:            []byte{0, 0, 0, 1},
	}

	resp := cmd.Response(AEMStatusEntityLocked, []byte{9, 9})
	if resp.MessageType != AECPAEMResponse {
		t.Errorf("response type = %v", resp.MessageType)
	}
	if resp.Status != AEMStatusEntityLocked {
		t.Errorf("status = %v", resp.Status)
	}
	if resp.SequenceID != cmd.SequenceID || resp.CommandType != cmd.CommandType {
		t.Errorf("response does not echo command identity: %+v", resp)
	}
	if !bytes.Equal(resp.Payload, []byte{9, 9}) {
		t.Errorf("payload not replaced")
	}
}

func TestAEMCommandType_String(t *testing.T) {
	// 宣言済みのコマンド種別はすべて規格名で表示される（16進フォールバックにならない）
	declared := []AEMCommandType{
		AEMAcquireEntity, AEMLockEntity, AEMEntityAvailable, AEMControllerAvailable,
		AEMReadDescriptor, AEMWriteDescriptor, AEMSetConfiguration, AEMGetConfiguration,
		AEMSetStreamFormat, AEMGetStreamFormat, AEMSetStreamInfo, AEMGetStreamInfo,
		AEMSetName, AEMGetName, AEMSetSamplingRate, AEMGetSamplingRate,
		AEMSetClockSource, AEMGetClockSource, AEMStartStreaming, AEMStopStreaming,
		AEMRegisterUnsolicited, AEMDeregisterUnsolicited, AEMIdentifyNotification,
		AEMGetAVBInfo, AEMGetCounters, AEMGetAudioMap,
	}
	for _, ct := range declared {
		if s := ct.String(); strings.HasPrefix(s, "(") {
			t.Errorf("command type 0x%04x has no name: %s", uint16(ct), s)
		}
	}

	if s := AEMCommandType(0x7ff).String(); s != "(07FF)" {
		t.Errorf("unknown command type = %s", s)
	}
}
