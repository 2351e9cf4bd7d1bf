package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"avdecc-list/avdecc"
	"avdecc-list/avdecc/handler"
	"avdecc-list/protocol"
)

func marshalResultData(data interface{}) (json.RawMessage, error) {
	return json.Marshal(data)
}

// SuccessResponse は成功のcommand_resultペイロードを作る
func SuccessResponse(data interface{}) protocol.CommandResultPayload {
	payload := protocol.CommandResultPayload{Success: true}
	if data != nil {
		raw, err := marshalResultData(data)
		if err == nil {
			payload.Data = raw
		}
	}
	return payload
}

// ErrorResponse は失敗のcommand_resultペイロードを作る
func ErrorResponse(code protocol.ErrorCode, format string, args ...interface{}) protocol.CommandResultPayload {
	return protocol.CommandResultPayload{
		Success: false,
		Error: &protocol.Error{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

// aemResultError はAECPコマンドの終端結果をエラーペイロードに変換する。
// 成功時はnilを返す。
func aemResultError(resp *avdecc.AECPDU, result handler.CommandResult) *protocol.CommandResultPayload {
	switch result {
	case handler.ResultTimeout:
		p := ErrorResponse(protocol.ErrorCodeCommandTimeout, "AECP command timed out")
		return &p
	case handler.ResultCancelled:
		p := ErrorResponse(protocol.ErrorCodeCommunicationError, "AECP command cancelled")
		return &p
	}
	if resp.Status != avdecc.AEMStatusSuccess {
		p := ErrorResponse(protocol.ErrorCodeCommandRejected, "AECP command rejected: %v", resp.Status)
		return &p
	}
	return nil
}

// handleListEntitiesFromClient handles a list_entities message from a client
func (ws *WebSocketServer) handleListEntitiesFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.ListEntitiesPayload
	if len(msg.Payload) > 0 {
		if err := protocol.ParsePayload(msg, &payload); err != nil {
			result := ErrorResponse(protocol.ErrorCodeInvalidRequestFormat, "Error parsing list_entities payload: %v", err)
			return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
		}
	}

	filter := make(map[string]bool, len(payload.Targets))
	for _, t := range payload.Targets {
		filter[t] = true
	}

	entities := make([]protocol.Entity, 0)
	for _, e := range ws.coordinator.Discovery.Entities() {
		p := protocol.EntityToProtocol(e)
		if len(filter) > 0 && !filter[p.EntityID] {
			continue
		}
		entities = append(entities, p)
	}

	return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, SuccessResponse(entities), msg.RequestID)
}

// handleListConnectionsFromClient handles a list_connections message from a client
func (ws *WebSocketServer) handleListConnectionsFromClient(connID string, msg *protocol.Message) error {
	connections := ws.collectConnections()
	return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, SuccessResponse(connections), msg.RequestID)
}

// handleDiscoverEntitiesFromClient handles a discover_entities message from a client
func (ws *WebSocketServer) handleDiscoverEntitiesFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.DiscoverEntitiesPayload
	if len(msg.Payload) > 0 {
		if err := protocol.ParsePayload(msg, &payload); err != nil {
			result := ErrorResponse(protocol.ErrorCodeInvalidRequestFormat, "Error parsing discover_entities payload: %v", err)
			return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
		}
	}

	target := avdecc.EntityIDUnknown
	if payload.Target != "" {
		id, err := protocol.ParseEntityIDString(payload.Target)
		if err != nil {
			result := ErrorResponse(protocol.ErrorCodeInvalidParameters, "Invalid target entity ID: %v", err)
			return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
		}
		target = id
	}

	if err := ws.coordinator.Discovery.Discover(target); err != nil {
		result := ErrorResponse(protocol.ErrorCodeCommunicationError, "Error sending discover: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}

	return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, SuccessResponse(nil), msg.RequestID)
}

// handleReadDescriptorFromClient handles a read_descriptor message from a client
func (ws *WebSocketServer) handleReadDescriptorFromClient(connID string, msg *protocol.Message) error {
	var payload protocol.ReadDescriptorPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		result := ErrorResponse(protocol.ErrorCodeInvalidRequestFormat, "Error parsing read_descriptor payload: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}

	target, err := protocol.ParseEntityIDString(payload.Target)
	if err != nil {
		result := ErrorResponse(protocol.ErrorCodeInvalidParameters, "Invalid target entity ID: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}

	requestID := msg.RequestID
	err = ws.coordinator.AECPController.ReadDescriptor(target, payload.ConfigurationIndex,
		avdecc.DescriptorType(payload.DescriptorType), payload.DescriptorIndex,
		func(resp *avdecc.AECPDU, result handler.CommandResult) {
			if errPayload := aemResultError(resp, result); errPayload != nil {
				ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, *errPayload, requestID)
				return
			}
			rd, err := avdecc.DecodeReadDescriptorResponse(resp.Payload)
			if err != nil || len(rd.DescriptorData) < 4 {
				errResult := ErrorResponse(protocol.ErrorCodeCommunicationError, "Malformed READ_DESCRIPTOR response: %v", err)
				ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, errResult, requestID)
				return
			}
			data := protocol.ReadDescriptorResultData{
				ConfigurationIndex: rd.ConfigurationIndex,
				DescriptorType:     uint16(rd.DescriptorData[0])<<8 | uint16(rd.DescriptorData[1]),
				DescriptorIndex:    uint16(rd.DescriptorData[2])<<8 | uint16(rd.DescriptorData[3]),
				Descriptor:         base64.StdEncoding.EncodeToString(rd.DescriptorData),
			}
			ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, SuccessResponse(data), requestID)
		})
	if err != nil {
		result := ErrorResponse(protocol.ErrorCodeCommunicationError, "Error sending READ_DESCRIPTOR: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}
	return nil
}

// handleAcquireEntityFromClient handles acquire_entity / release_entity messages from a client
func (ws *WebSocketServer) handleAcquireEntityFromClient(connID string, msg *protocol.Message, release bool) error {
	var payload protocol.AcquireEntityPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		result := ErrorResponse(protocol.ErrorCodeInvalidRequestFormat, "Error parsing acquire_entity payload: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}

	target, err := protocol.ParseEntityIDString(payload.Target)
	if err != nil {
		result := ErrorResponse(protocol.ErrorCodeInvalidParameters, "Invalid target entity ID: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}

	requestID := msg.RequestID
	callback := func(resp *avdecc.AECPDU, result handler.CommandResult) {
		if errPayload := aemResultError(resp, result); errPayload != nil {
			ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, *errPayload, requestID)
			return
		}
		ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, SuccessResponse(nil), requestID)
	}

	if release {
		err = ws.coordinator.AECPController.ReleaseEntity(target, callback)
	} else {
		err = ws.coordinator.AECPController.AcquireEntity(target, payload.Persistent, callback)
	}
	if err != nil {
		result := ErrorResponse(protocol.ErrorCodeCommunicationError, "Error sending ACQUIRE_ENTITY: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}
	return nil
}
