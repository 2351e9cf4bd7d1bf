package avdecc

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestACMPDU_EncodeDecode(t *testing.T) {
	pdu := &ACMPDU{
		MessageType:        ACMPConnectRXCommand,
		Status:             ACMPStatusSuccess,
		StreamID:           StreamID(0x001b92fffe000010),
		ControllerEntityID: EntityID(0x001b92fffe0000c0),
		TalkerEntityID:     EntityID(0x001b92fffe0000a0),
		ListenerEntityID:   EntityID(0x001b92fffe0000b0),
		TalkerUniqueID:     1,
		ListenerUniqueID:   2,
		StreamDestMAC:      MACAddress{0x91, 0xe0, 0xf0, 0x00, 0x01, 0x02},
		ConnectionCount:    1,
		SequenceID:         0x1234,
		Flags:              ACMPFlagClassB | ACMPFlagStreamingWait,
		StreamVLANID:       2,
		Reserved:           0xbeef,
	}

	data := pdu.Encode()
	if len(data) != 56 {
		t.Fatalf("ACMP PDU length = %d, want 56", len(data))
	}

	decoded, err := DecodeACMPDU(data)
	if err != nil {
		t.Fatalf("DecodeACMPDU failed: %v", err)
	}
	if diff := cmp.Diff(pdu, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if !bytes.Equal(data, decoded.Encode()) {
		t.Errorf("re-encoded bytes differ from original")
	}
}

func TestDecodeACMPDU_Truncated(t *testing.T) {
	data := (&ACMPDU{MessageType: ACMPConnectRXCommand}).Encode()
	for l := 0; l < len(data); l++ {
		if _, err := DecodeACMPDU(data[:l]); err == nil {
			t.Errorf("expected error for truncated PDU of length %d", l)
		}
	}
}

func TestACMPMessageType_ResponseType(t *testing.T) {
	tests := []struct {
		cmd  ACMPMessageType
		resp ACMPMessageType
	}{
		{ACMPConnectTXCommand, ACMPConnectTXResponse},
		{ACMPDisconnectRXCommand, ACMPDisconnectRXResponse},
		{ACMPGetTXConnectionCommand, ACMPGetTXConnectionResponse},
		{ACMPConnectRXResponse, ACMPConnectRXResponse}, // 応答はそのまま
	}
	for _, tt := range tests {
		if got := tt.cmd.ResponseType(); got != tt.resp {
			t.Errorf("ResponseType(%v) = %v, want %v", tt.cmd, got, tt.resp)
		}
	}
}

func TestACMPDU_Response(t *testing.T) {
	cmd := &ACMPDU{
		MessageType:        ACMPConnectRXCommand,
		StreamID:           StreamID(10),
		ControllerEntityID: EntityID(1),
		TalkerEntityID:     EntityID(2),
		ListenerEntityID:   EntityID(3),
		TalkerUniqueID:     4,
		ListenerUniqueID:   5,
		SequenceID:         99,
		Flags:              ACMPFlagFastConnect,
	}

	resp := cmd.Response(ACMPStatusListenerExclusive)
	if resp.MessageType != ACMPConnectRXResponse {
		t.Errorf("response type = %v, want CONNECT_RX_RESPONSE", resp.MessageType)
	}
	if resp.Status != ACMPStatusListenerExclusive {
		t.Errorf("status = %v", resp.Status)
	}
	// 応答はコマンドの識別フィールドをそのまま引き継ぐ
	if resp.SequenceID != cmd.SequenceID || resp.ControllerEntityID != cmd.ControllerEntityID ||
		resp.TalkerEntityID != cmd.TalkerEntityID || resp.ListenerEntityID != cmd.ListenerEntityID {
		t.Errorf("response does not echo command fields: %+v", resp)
	}
}
