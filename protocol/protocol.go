package protocol

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of message being sent between client and server
type MessageType string

const (
	// Server -> Client message types
	MessageTypeInitialState          MessageType = "initial_state"
	MessageTypeEntityAdded           MessageType = "entity_added"
	MessageTypeEntityUpdated         MessageType = "entity_updated"
	MessageTypeEntityDeparted        MessageType = "entity_departed"
	MessageTypeEntityRestarted       MessageType = "entity_restarted"
	MessageTypeConnectionEstablished MessageType = "connection_established"
	MessageTypeConnectionReleased    MessageType = "connection_released"
	MessageTypeErrorNotification     MessageType = "error_notification"
	MessageTypeLogNotification       MessageType = "log_notification"
	MessageTypeCommandResult         MessageType = "command_result"

	// Client -> Server message types
	MessageTypeListEntities     MessageType = "list_entities"
	MessageTypeListConnections  MessageType = "list_connections"
	MessageTypeDiscoverEntities MessageType = "discover_entities"
	MessageTypeReadDescriptor   MessageType = "read_descriptor"
	MessageTypeAcquireEntity    MessageType = "acquire_entity"
	MessageTypeReleaseEntity    MessageType = "release_entity"
	MessageTypeConnectStream    MessageType = "connect_stream"
	MessageTypeDisconnectStream MessageType = "disconnect_stream"
	MessageTypeStartStreaming   MessageType = "start_streaming"
	MessageTypeStopStreaming    MessageType = "stop_streaming"
	MessageTypeGetStreamInfo    MessageType = "get_stream_info"
)

// ErrorCode defines error codes for error messages
type ErrorCode string

// Client Request Related
const (
	ErrorCodeInvalidRequestFormat ErrorCode = "INVALID_REQUEST_FORMAT"
	ErrorCodeInvalidParameters    ErrorCode = "INVALID_PARAMETERS"
	ErrorCodeEntityNotFound       ErrorCode = "ENTITY_NOT_FOUND"
)

// Server/Communication Related
const (
	ErrorCodeCommandTimeout     ErrorCode = "AVDECC_TIMEOUT"
	ErrorCodeCommandRejected    ErrorCode = "AVDECC_COMMAND_REJECTED"
	ErrorCodeCommunicationError ErrorCode = "AVDECC_COMMUNICATION_ERROR"
	ErrorCodeInternalServerErr  ErrorCode = "INTERNAL_SERVER_ERROR"
)

// Message is the base structure for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// Entity represents a discovered AVDECC entity
type Entity struct {
	EntityID             string    `json:"entityId"`      // 16進表現（例: "0x001b92fffe000001"）
	EntityModelID        string    `json:"entityModelId"` // 16進表現
	Addr                 string    `json:"addr"`
	EntityCapabilities   uint32    `json:"entityCapabilities"`
	TalkerStreamSources  uint16    `json:"talkerStreamSources"`
	TalkerCapabilities   uint16    `json:"talkerCapabilities"`
	ListenerStreamSinks  uint16    `json:"listenerStreamSinks"`
	ListenerCapabilities uint16    `json:"listenerCapabilities"`
	GPTPGrandmasterID    string    `json:"gptpGrandmasterId"` // 16進表現
	GPTPDomainNumber     byte      `json:"gptpDomainNumber"`
	LastSeen             time.Time `json:"lastSeen"`
}

// Connection represents an established stream connection
type Connection struct {
	StreamID         string `json:"streamId"` // 16進表現
	TalkerEntityID   string `json:"talkerEntityId"`
	TalkerUniqueID   uint16 `json:"talkerUniqueId"`
	ListenerEntityID string `json:"listenerEntityId"`
	ListenerUniqueID uint16 `json:"listenerUniqueId"`
	StreamDestMAC    string `json:"streamDestMac"`
	StreamVLANID     uint16 `json:"streamVlanId,omitempty"`
}

// Error represents an error in the WebSocket protocol
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// InitialStatePayload is the payload for the initial_state message
type InitialStatePayload struct {
	Entities          map[string]Entity `json:"entities"`
	Connections       []Connection      `json:"connections"`
	LocalEntityID     string            `json:"localEntityId"`
	ServerStartupTime time.Time         `json:"serverStartupTime"`
}

// EntityEventPayload is the payload for entity_added / entity_updated /
// entity_departed / entity_restarted messages
type EntityEventPayload struct {
	Entity Entity `json:"entity"`
}

// ConnectionEventPayload is the payload for connection_established / connection_released messages
type ConnectionEventPayload struct {
	Connection Connection `json:"connection"`
	Status     string     `json:"status"`
}

// ErrorNotificationPayload is the payload for the error_notification message
type ErrorNotificationPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// LogNotificationPayload is the payload for the log_notification message
type LogNotificationPayload struct {
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Time       time.Time              `json:"time"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// CommandResultPayload is the payload for the command_result message
type CommandResultPayload struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// ListEntitiesPayload is the payload for the list_entities message
type ListEntitiesPayload struct {
	Targets []string `json:"targets,omitempty"` // 絞り込み対象のエンティティID（省略時は全件）
}

// DiscoverEntitiesPayload is the payload for the discover_entities message
type DiscoverEntitiesPayload struct {
	Target string `json:"target,omitempty"` // 省略時はグローバル発見
}

// ReadDescriptorPayload is the payload for the read_descriptor message
type ReadDescriptorPayload struct {
	Target             string `json:"target"`
	ConfigurationIndex uint16 `json:"configurationIndex"`
	DescriptorType     uint16 `json:"descriptorType"`
	DescriptorIndex    uint16 `json:"descriptorIndex"`
}

// ReadDescriptorResultData is the data for the command_result message of read_descriptor
type ReadDescriptorResultData struct {
	ConfigurationIndex uint16 `json:"configurationIndex"`
	DescriptorType     uint16 `json:"descriptorType"`
	DescriptorIndex    uint16 `json:"descriptorIndex"`
	Descriptor         string `json:"descriptor"` // Base64エンコードしたディスクリプタ本体
}

// AcquireEntityPayload is the payload for the acquire_entity / release_entity messages
type AcquireEntityPayload struct {
	Target     string `json:"target"`
	Persistent bool   `json:"persistent,omitempty"`
}

// ConnectStreamPayload is the payload for the connect_stream / disconnect_stream messages
type ConnectStreamPayload struct {
	Talker           string `json:"talker"`
	TalkerUniqueID   uint16 `json:"talkerUniqueId"`
	Listener         string `json:"listener"`
	ListenerUniqueID uint16 `json:"listenerUniqueId"`
	Flags            uint16 `json:"flags,omitempty"`
}

// StreamingPayload is the payload for the start_streaming / stop_streaming / get_stream_info messages
type StreamingPayload struct {
	Target          string `json:"target"`
	DescriptorType  uint16 `json:"descriptorType"`
	DescriptorIndex uint16 `json:"descriptorIndex"`
}

// StreamInfoResultData is the data for the command_result message of get_stream_info
type StreamInfoResultData struct {
	StreamID               string `json:"streamId"`
	StreamFormat           string `json:"streamFormat"` // 16進表現
	StreamDestMAC          string `json:"streamDestMac"`
	StreamVLANID           uint16 `json:"streamVlanId"`
	MSRPAccumulatedLatency uint32 `json:"msrpAccumulatedLatency"`
	Connected              bool   `json:"connected"`
}

// CreateMessage creates a new Message with the given type and payload
func CreateMessage(msgType MessageType, payload interface{}, requestID string) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	msg := Message{
		Type:      msgType,
		Payload:   payloadBytes,
		RequestID: requestID,
	}

	return json.Marshal(msg)
}

// ParseMessage parses a JSON message into a Message struct
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParsePayload parses the payload of a message into the given struct
func ParsePayload(msg *Message, payload interface{}) error {
	return json.Unmarshal(msg.Payload, payload)
}
