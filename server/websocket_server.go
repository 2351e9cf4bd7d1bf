package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"avdecc-list/avdecc/handler"
	"avdecc-list/protocol"
)

// StartOptions は WebSocketServer の起動オプションを表す
type StartOptions struct {
	// TLS証明書ファイルのパス (TLSを使用する場合)
	CertFile string
	// TLS秘密鍵ファイルのパス (TLSを使用する場合)
	KeyFile string
	// Ready は待ち受け開始時にcloseされるチャンネル (テスト用、nil可)
	Ready chan struct{}
}

// WebSocketServer はAVDECC制御プレーンをWebSocketクライアントへ公開するサーバー
type WebSocketServer struct {
	ctx         context.Context
	cancel      context.CancelFunc
	transport   WebSocketTransport
	coordinator *handler.Coordinator
	startupTime time.Time
}

// NewWebSocketServer creates a new WebSocket server
func NewWebSocketServer(ctx context.Context, addr string, coordinator *handler.Coordinator) (*WebSocketServer, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	// Create the transport
	transport := NewDefaultWebSocketTransport(serverCtx, addr)

	ws := &WebSocketServer{
		ctx:         serverCtx,
		cancel:      cancel,
		transport:   transport,
		coordinator: coordinator,
		startupTime: time.Now(),
	}

	// Set up the transport handlers
	transport.SetConnectHandler(ws.handleClientConnect)
	transport.SetMessageHandler(ws.handleClientMessage)
	transport.SetDisconnectHandler(ws.handleClientDisconnect)

	return ws, nil
}

// Transport はログブロードキャスト等の配線用にトランスポートを返す
func (ws *WebSocketServer) Transport() WebSocketTransport {
	return ws.transport
}

// handleClientConnect is called when a new client connects
func (ws *WebSocketServer) handleClientConnect(connID string) error {
	slog.Debug("新しいWebSocket接続", "connID", connID)

	// Send initial state to the client
	return ws.sendInitialStateToClient(connID)
}

// handleClientMessage is called when a message is received from a client
func (ws *WebSocketServer) handleClientMessage(connID string, message []byte) error {
	// Parse the message
	msg, err := protocol.ParseMessage(message)
	if err != nil {
		slog.Error("メッセージのパースエラー", "err", err)
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Error parsing message: %v", err),
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, "")
	}

	// Handle the message based on its type
	switch msg.Type {
	case protocol.MessageTypeListEntities:
		return ws.handleListEntitiesFromClient(connID, msg)
	case protocol.MessageTypeListConnections:
		return ws.handleListConnectionsFromClient(connID, msg)
	case protocol.MessageTypeDiscoverEntities:
		return ws.handleDiscoverEntitiesFromClient(connID, msg)
	case protocol.MessageTypeReadDescriptor:
		return ws.handleReadDescriptorFromClient(connID, msg)
	case protocol.MessageTypeAcquireEntity:
		return ws.handleAcquireEntityFromClient(connID, msg, false)
	case protocol.MessageTypeReleaseEntity:
		return ws.handleAcquireEntityFromClient(connID, msg, true)
	case protocol.MessageTypeConnectStream:
		return ws.handleConnectStreamFromClient(connID, msg, true)
	case protocol.MessageTypeDisconnectStream:
		return ws.handleConnectStreamFromClient(connID, msg, false)
	case protocol.MessageTypeStartStreaming:
		return ws.handleStreamingFromClient(connID, msg, true)
	case protocol.MessageTypeStopStreaming:
		return ws.handleStreamingFromClient(connID, msg, false)
	case protocol.MessageTypeGetStreamInfo:
		return ws.handleGetStreamInfoFromClient(connID, msg)
	default:
		slog.Debug("未知のメッセージ種別", "type", msg.Type)
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Unknown message type: %s", msg.Type),
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, msg.RequestID)
	}
}

// handleClientDisconnect is called when a client disconnects
func (ws *WebSocketServer) handleClientDisconnect(connID string) {
	slog.Debug("WebSocket接続が切断されました", "connID", connID)
}

// Start starts the WebSocket server
func (ws *WebSocketServer) Start(options StartOptions) error {
	return ws.transport.Start(options)
}

// Stop stops the WebSocket server
func (ws *WebSocketServer) Stop() error {
	ws.cancel()
	return ws.transport.Stop()
}

// sendInitialStateToClient sends the initial state to a client
func (ws *WebSocketServer) sendInitialStateToClient(connID string) error {
	entities := make(map[string]protocol.Entity)
	for _, e := range ws.coordinator.Discovery.Entities() {
		p := protocol.EntityToProtocol(e)
		entities[p.EntityID] = p
	}

	connections := ws.collectConnections()

	payload := protocol.InitialStatePayload{
		Entities:          entities,
		Connections:       connections,
		LocalEntityID:     protocol.FormatEntityID(ws.coordinator.Store().EntityID()),
		ServerStartupTime: ws.startupTime,
	}

	return ws.sendMessageToClient(connID, protocol.MessageTypeInitialState, payload, "")
}

// collectConnections はリスナー側とトーカー側の確立済みコネクションを集める
func (ws *WebSocketServer) collectConnections() []protocol.Connection {
	connections := make([]protocol.Connection, 0)
	for _, c := range ws.coordinator.ACMPListener.Connections() {
		connections = append(connections, protocol.ConnectionToProtocol(c))
	}
	sources := ws.coordinator.Store().EntityDescriptor().TalkerStreamSources
	for uid := uint16(0); uid < sources; uid++ {
		for _, c := range ws.coordinator.ACMPTalker.Connections(handler.UniqueID(uid)) {
			connections = append(connections, protocol.ConnectionToProtocol(c))
		}
	}
	return connections
}

// OnEntityEvent は発見エンジンの通知を全クライアントへブロードキャストする
func (ws *WebSocketServer) OnEntityEvent(n handler.EntityNotification) {
	var msgType protocol.MessageType
	switch n.Type {
	case handler.EntityDiscovered:
		msgType = protocol.MessageTypeEntityAdded
	case handler.EntityUpdated:
		msgType = protocol.MessageTypeEntityUpdated
	case handler.EntityDeparted:
		msgType = protocol.MessageTypeEntityDeparted
	case handler.EntityRestarted:
		msgType = protocol.MessageTypeEntityRestarted
	default:
		return
	}
	payload := protocol.EntityEventPayload{Entity: protocol.EntityToProtocol(n.Entity)}
	ws.broadcastMessageToClients(msgType, payload)
}

// OnConnectionEvent はコネクション通知を全クライアントへブロードキャストする
func (ws *WebSocketServer) OnConnectionEvent(n handler.ConnectionNotification) {
	var msgType protocol.MessageType
	switch n.Type {
	case handler.ConnectionEstablished:
		msgType = protocol.MessageTypeConnectionEstablished
	case handler.ConnectionReleased:
		msgType = protocol.MessageTypeConnectionReleased
	default:
		return
	}
	payload := protocol.ConnectionEventPayload{
		Connection: protocol.ConnectionToProtocol(n.Connection),
		Status:     n.Status.String(),
	}
	ws.broadcastMessageToClients(msgType, payload)
}

// sendMessageToClient sends a message to a client
func (ws *WebSocketServer) sendMessageToClient(connID string, msgType protocol.MessageType, payload interface{}, requestID string) error {
	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		return fmt.Errorf("error creating message: %v", err)
	}

	return ws.transport.SendMessage(connID, data)
}

// broadcastMessageToClients sends a message to all connected clients
func (ws *WebSocketServer) broadcastMessageToClients(msgType protocol.MessageType, payload interface{}) {
	data, err := protocol.CreateMessage(msgType, payload, "")
	if err != nil {
		slog.Error("ブロードキャストメッセージの作成エラー", "err", err)
		return
	}

	if err := ws.transport.BroadcastMessage(data); err != nil {
		slog.Error("ブロードキャストエラー", "err", err)
	}
}
