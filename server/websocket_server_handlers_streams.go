package server

import (
	"fmt"

	"avdecc-list/avdecc"
	"avdecc-list/avdecc/handler"
	"avdecc-list/protocol"
)

// acmpResultError はACMPコマンドの終端結果をエラーペイロードに変換する。
// 成功時はnilを返す。
func acmpResultError(resp *avdecc.ACMPDU, result handler.CommandResult) *protocol.CommandResultPayload {
	switch result {
	case handler.ResultTimeout:
		p := ErrorResponse(protocol.ErrorCodeCommandTimeout, "ACMP command timed out")
		return &p
	case handler.ResultCancelled:
		p := ErrorResponse(protocol.ErrorCodeCommunicationError, "ACMP command cancelled")
		return &p
	}
	if resp.Status != avdecc.ACMPStatusSuccess {
		p := ErrorResponse(protocol.ErrorCodeCommandRejected, "ACMP command rejected: %v", resp.Status)
		return &p
	}
	return nil
}

// handleConnectStreamFromClient handles connect_stream / disconnect_stream messages from a client
func (ws *WebSocketServer) handleConnectStreamFromClient(connID string, msg *protocol.Message, connect bool) error {
	var payload protocol.ConnectStreamPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		result := ErrorResponse(protocol.ErrorCodeInvalidRequestFormat, "Error parsing connect_stream payload: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}

	talker, err := protocol.ParseEntityIDString(payload.Talker)
	if err != nil {
		result := ErrorResponse(protocol.ErrorCodeInvalidParameters, "Invalid talker entity ID: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}
	listener, err := protocol.ParseEntityIDString(payload.Listener)
	if err != nil {
		result := ErrorResponse(protocol.ErrorCodeInvalidParameters, "Invalid listener entity ID: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}

	requestID := msg.RequestID
	callback := func(resp *avdecc.ACMPDU, result handler.CommandResult) {
		if errPayload := acmpResultError(resp, result); errPayload != nil {
			ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, *errPayload, requestID)
			return
		}
		conn := protocol.Connection{
			StreamID:         fmt.Sprintf("0x%016x", uint64(resp.StreamID)),
			TalkerEntityID:   protocol.FormatEntityID(resp.TalkerEntityID),
			TalkerUniqueID:   uint16(resp.TalkerUniqueID),
			ListenerEntityID: protocol.FormatEntityID(resp.ListenerEntityID),
			ListenerUniqueID: uint16(resp.ListenerUniqueID),
			StreamDestMAC:    resp.StreamDestMAC.String(),
			StreamVLANID:     resp.StreamVLANID,
		}
		ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, SuccessResponse(conn), requestID)
	}

	if connect {
		err = ws.coordinator.ACMPController.Connect(talker, handler.UniqueID(payload.TalkerUniqueID),
			listener, handler.UniqueID(payload.ListenerUniqueID), payload.Flags, callback)
	} else {
		err = ws.coordinator.ACMPController.Disconnect(talker, handler.UniqueID(payload.TalkerUniqueID),
			listener, handler.UniqueID(payload.ListenerUniqueID), callback)
	}
	if err != nil {
		result := ErrorResponse(protocol.ErrorCodeCommunicationError, "Error sending ACMP command: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}
	return nil
}

// parseStreamingPayload は start_streaming / stop_streaming / get_stream_info 共通のペイロードを検証する
func parseStreamingPayload(msg *protocol.Message) (avdecc.EntityID, avdecc.DescriptorType, uint16, *protocol.CommandResultPayload) {
	var payload protocol.StreamingPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		p := ErrorResponse(protocol.ErrorCodeInvalidRequestFormat, "Error parsing payload: %v", err)
		return 0, 0, 0, &p
	}

	target, err := protocol.ParseEntityIDString(payload.Target)
	if err != nil {
		p := ErrorResponse(protocol.ErrorCodeInvalidParameters, "Invalid target entity ID: %v", err)
		return 0, 0, 0, &p
	}

	descriptorType := avdecc.DescriptorType(payload.DescriptorType)
	if descriptorType != avdecc.DescriptorStreamInput && descriptorType != avdecc.DescriptorStreamOutput {
		p := ErrorResponse(protocol.ErrorCodeInvalidParameters, "Descriptor type must be STREAM_INPUT or STREAM_OUTPUT: 0x%04x", payload.DescriptorType)
		return 0, 0, 0, &p
	}

	return target, descriptorType, payload.DescriptorIndex, nil
}

// handleStreamingFromClient handles start_streaming / stop_streaming messages from a client
func (ws *WebSocketServer) handleStreamingFromClient(connID string, msg *protocol.Message, start bool) error {
	target, descriptorType, descriptorIndex, errPayload := parseStreamingPayload(msg)
	if errPayload != nil {
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, *errPayload, msg.RequestID)
	}

	requestID := msg.RequestID
	callback := func(resp *avdecc.AECPDU, result handler.CommandResult) {
		if errPayload := aemResultError(resp, result); errPayload != nil {
			ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, *errPayload, requestID)
			return
		}
		ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, SuccessResponse(nil), requestID)
	}

	var err error
	if start {
		err = ws.coordinator.AECPController.StartStreaming(target, descriptorType, descriptorIndex, callback)
	} else {
		err = ws.coordinator.AECPController.StopStreaming(target, descriptorType, descriptorIndex, callback)
	}
	if err != nil {
		result := ErrorResponse(protocol.ErrorCodeCommunicationError, "Error sending streaming command: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}
	return nil
}

// handleGetStreamInfoFromClient handles a get_stream_info message from a client
func (ws *WebSocketServer) handleGetStreamInfoFromClient(connID string, msg *protocol.Message) error {
	target, descriptorType, descriptorIndex, errPayload := parseStreamingPayload(msg)
	if errPayload != nil {
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, *errPayload, msg.RequestID)
	}

	requestID := msg.RequestID
	err := ws.coordinator.AECPController.GetStreamInfo(target, descriptorType, descriptorIndex,
		func(resp *avdecc.AECPDU, result handler.CommandResult) {
			if errPayload := aemResultError(resp, result); errPayload != nil {
				ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, *errPayload, requestID)
				return
			}
			info, err := avdecc.DecodeStreamInfoPayload(resp.Payload)
			if err != nil {
				errResult := ErrorResponse(protocol.ErrorCodeCommunicationError, "Malformed GET_STREAM_INFO response: %v", err)
				ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, errResult, requestID)
				return
			}
			data := protocol.StreamInfoResultData{
				StreamID:               fmt.Sprintf("0x%016x", uint64(info.StreamID)),
				StreamFormat:           fmt.Sprintf("0x%016x", info.StreamFormat),
				StreamDestMAC:          info.StreamDestMAC.String(),
				StreamVLANID:           info.StreamVLANID,
				MSRPAccumulatedLatency: info.MSRPAccumulatedLatency,
				Connected:              info.Flags&avdecc.StreamInfoFlagConnected != 0,
			}
			ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, SuccessResponse(data), requestID)
		})
	if err != nil {
		result := ErrorResponse(protocol.ErrorCodeCommunicationError, "Error sending GET_STREAM_INFO: %v", err)
		return ws.sendMessageToClient(connID, protocol.MessageTypeCommandResult, result, msg.RequestID)
	}
	return nil
}
