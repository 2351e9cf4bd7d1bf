package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"avdecc-list/avdecc"
	"avdecc-list/avdecc/handler"
)

// ErrInvalidEntityID は16進エンティティIDのパースエラー
var ErrInvalidEntityID = errors.New("invalid entity id")

// FormatEntityID はエンティティIDをクライアント向けの16進表現にする
func FormatEntityID(id avdecc.EntityID) string {
	return fmt.Sprintf("0x%016x", uint64(id))
}

// ParseEntityIDString はクライアントから受け取った16進表現をエンティティIDに変換する
func ParseEntityIDString(s string) (avdecc.EntityID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, ErrInvalidEntityID
	}
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEntityID, s)
	}
	return avdecc.EntityID(id), nil
}

// EntityToProtocol は発見済みエンティティをWebSocketプロトコルのEntityに変換する
func EntityToProtocol(e handler.DiscoveredEntity) Entity {
	addr := ""
	if e.Addr != nil {
		addr = e.Addr.String()
	}
	return Entity{
		EntityID:             FormatEntityID(e.EntityID),
		EntityModelID:        fmt.Sprintf("0x%016x", uint64(e.EntityModelID)),
		Addr:                 addr,
		EntityCapabilities:   e.EntityCapabilities,
		TalkerStreamSources:  e.TalkerStreamSources,
		TalkerCapabilities:   e.TalkerCapabilities,
		ListenerStreamSinks:  e.ListenerStreamSinks,
		ListenerCapabilities: e.ListenerCapabilities,
		GPTPGrandmasterID:    fmt.Sprintf("0x%016x", e.GPTPGrandmasterID),
		GPTPDomainNumber:     e.GPTPDomainNumber,
		LastSeen:             e.LastSeen,
	}
}

// ConnectionToProtocol はコネクション情報をWebSocketプロトコルのConnectionに変換する
func ConnectionToProtocol(c handler.ConnectionInfo) Connection {
	return Connection{
		StreamID:         fmt.Sprintf("0x%016x", uint64(c.StreamID)),
		TalkerEntityID:   FormatEntityID(c.TalkerEntityID),
		TalkerUniqueID:   uint16(c.TalkerUniqueID),
		ListenerEntityID: FormatEntityID(c.ListenerEntityID),
		ListenerUniqueID: uint16(c.ListenerUniqueID),
		StreamDestMAC:    c.StreamDestMAC.String(),
		StreamVLANID:     c.StreamVLANID,
	}
}
