package protocol

import (
	"errors"
	"net"
	"testing"
	"time"

	"avdecc-list/avdecc"
	"avdecc-list/avdecc/handler"
)

func TestFormatEntityID(t *testing.T) {
	if got := FormatEntityID(avdecc.EntityID(0x001b92fffe000001)); got != "0x001b92fffe000001" {
		t.Errorf("FormatEntityID() = %v", got)
	}
	if got := FormatEntityID(avdecc.EntityID(0)); got != "0x0000000000000000" {
		t.Errorf("FormatEntityID(0) = %v", got)
	}
}

func TestParseEntityIDString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    avdecc.EntityID
		wantErr bool
	}{
		{"with 0x prefix", "0x001b92fffe000001", avdecc.EntityID(0x001b92fffe000001), false},
		{"without prefix", "001b92fffe000001", avdecc.EntityID(0x001b92fffe000001), false},
		{"uppercase prefix", "0X1B", avdecc.EntityID(0x1b), false},
		{"empty", "", 0, true},
		{"prefix only", "0x", 0, true},
		{"not hex", "0xzzzz", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntityIDString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEntityIDString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEntityID) {
				t.Errorf("error not wrapping ErrInvalidEntityID: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseEntityIDString(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEntityToProtocol(t *testing.T) {
	lastSeen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entity := handler.DiscoveredEntity{
		EntityID:             avdecc.EntityID(0x001b92fffe000001),
		EntityModelID:        avdecc.EntityModelID(0x001b92fffe000002),
		EntityCapabilities:   0x00008508,
		TalkerStreamSources:  2,
		TalkerCapabilities:   0x4801,
		ListenerStreamSinks:  1,
		ListenerCapabilities: 0x4801,
		GPTPGrandmasterID:    0x001b92fffe000003,
		GPTPDomainNumber:     1,
		Addr:                 net.ParseIP("192.168.1.10"),
		LastSeen:             lastSeen,
	}

	got := EntityToProtocol(entity)
	want := Entity{
		EntityID:             "0x001b92fffe000001",
		EntityModelID:        "0x001b92fffe000002",
		Addr:                 "192.168.1.10",
		EntityCapabilities:   0x00008508,
		TalkerStreamSources:  2,
		TalkerCapabilities:   0x4801,
		ListenerStreamSinks:  1,
		ListenerCapabilities: 0x4801,
		GPTPGrandmasterID:    "0x001b92fffe000003",
		GPTPDomainNumber:     1,
		LastSeen:             lastSeen,
	}
	if got != want {
		t.Errorf("EntityToProtocol() = %+v, want %+v", got, want)
	}
}

func TestEntityToProtocol_NilAddr(t *testing.T) {
	got := EntityToProtocol(handler.DiscoveredEntity{EntityID: avdecc.EntityID(1)})
	if got.Addr != "" {
		t.Errorf("Addr = %q, want empty", got.Addr)
	}
}

func TestConnectionToProtocol(t *testing.T) {
	conn := handler.ConnectionInfo{
		StreamID:         avdecc.StreamID(0x001b92fffe000004),
		TalkerEntityID:   avdecc.EntityID(0x001b92fffe000001),
		TalkerUniqueID:   0,
		ListenerEntityID: avdecc.EntityID(0x001b92fffe000002),
		ListenerUniqueID: 1,
		StreamDestMAC:    avdecc.MACAddress{0x91, 0xe0, 0xf0, 0x00, 0x12, 0x34},
		StreamVLANID:     2,
	}

	got := ConnectionToProtocol(conn)
	want := Connection{
		StreamID:         "0x001b92fffe000004",
		TalkerEntityID:   "0x001b92fffe000001",
		TalkerUniqueID:   0,
		ListenerEntityID: "0x001b92fffe000002",
		ListenerUniqueID: 1,
		StreamDestMAC:    "91:e0:f0:00:12:34",
		StreamVLANID:     2,
	}
	if got != want {
		t.Errorf("ConnectionToProtocol() = %+v, want %+v", got, want)
	}
}
