package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// WebSocketTransport はWebSocketサーバーのネットワーク層を抽象化するインターフェース
type WebSocketTransport interface {
	// Start はWebSocketサーバーを起動する
	Start(options StartOptions) error

	// Stop はWebSocketサーバーを停止する
	Stop() error

	// SetMessageHandler はクライアントからメッセージを受信した時に呼び出されるハンドラを設定する
	SetMessageHandler(handler func(connID string, message []byte) error)

	// SetConnectHandler は新しいクライアントが接続した時に呼び出されるハンドラを設定する
	SetConnectHandler(handler func(connID string) error)

	// SetDisconnectHandler はクライアントが切断した時に呼び出されるハンドラを設定する
	SetDisconnectHandler(handler func(connID string))

	// SendMessage は特定のクライアントにメッセージを送信する
	SendMessage(connID string, message []byte) error

	// BroadcastMessage は接続中の全クライアントにメッセージを送信する
	BroadcastMessage(message []byte) error
}

// wsClient は1クライアント接続を表す。書き込みはmutexで直列化する
// （gorilla/websocketは並行Writeを許さない）。
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DefaultWebSocketTransport は WebSocketTransport のgorilla/websocket実装
type DefaultWebSocketTransport struct {
	ctx               context.Context
	cancel            context.CancelFunc
	server            *http.Server
	upgrader          websocket.Upgrader
	nextConnID        atomic.Uint64
	clients           map[string]*wsClient
	clientsMutex      sync.RWMutex
	messageHandler    func(connID string, message []byte) error
	connectHandler    func(connID string) error
	disconnectHandler func(connID string)
}

// NewDefaultWebSocketTransport は /ws でWebSocket接続を受け付けるトランスポートを作成する
func NewDefaultWebSocketTransport(ctx context.Context, addr string) *DefaultWebSocketTransport {
	transportCtx, cancel := context.WithCancel(ctx)

	t := &DefaultWebSocketTransport{
		ctx:    transportCtx,
		cancel: cancel,
		upgrader: websocket.Upgrader{
			// ローカル制御用途のためオリジンは検査しない
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", t.handleWebSocket)
	t.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return t
}

// Start はWebSocketサーバーを起動する。optionsのReadyチャンネルは
// 待ち受け開始後にcloseされる。
func (t *DefaultWebSocketTransport) Start(options StartOptions) error {
	listener, err := net.Listen("tcp", t.server.Addr)
	if err != nil {
		return err
	}
	if options.Ready != nil {
		close(options.Ready)
	}
	slog.Info("WebSocketサーバーを起動します", "addr", t.server.Addr)

	if options.CertFile != "" && options.KeyFile != "" {
		slog.Info("TLSで待ち受けます", "certFile", options.CertFile)
		return t.server.ServeTLS(listener, options.CertFile, options.KeyFile)
	}
	return t.server.Serve(listener)
}

// Stop はWebSocketサーバーを停止する
func (t *DefaultWebSocketTransport) Stop() error {
	slog.Info("WebSocketサーバーを停止します", "addr", t.server.Addr)
	t.cancel()
	err := t.server.Shutdown(context.Background())
	if err != nil {
		slog.Info("WebSocketサーバーの停止エラー", "err", err)
	}
	return err
}

func (t *DefaultWebSocketTransport) SetMessageHandler(handler func(connID string, message []byte) error) {
	t.messageHandler = handler
}

func (t *DefaultWebSocketTransport) SetConnectHandler(handler func(connID string) error) {
	t.connectHandler = handler
}

func (t *DefaultWebSocketTransport) SetDisconnectHandler(handler func(connID string)) {
	t.disconnectHandler = handler
}

// isConnectionClosedError は切断済みコネクションへの書き込みエラーかどうかを判定する
func isConnectionClosedError(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) ||
		strings.Contains(err.Error(), "close sent") ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// dropClient はクライアントを登録から外し、切断ハンドラを呼ぶ。
// 既に外れていた場合はfalseを返す。
func (t *DefaultWebSocketTransport) dropClient(connID string) bool {
	t.clientsMutex.Lock()
	_, exists := t.clients[connID]
	if exists {
		delete(t.clients, connID)
	}
	t.clientsMutex.Unlock()
	if !exists {
		return false
	}

	// ハンドラはロック外で呼ぶ（ハンドラがSendMessage等を呼んでも詰まらないように）
	go func() {
		select {
		case <-t.ctx.Done():
		default:
			if t.disconnectHandler != nil {
				t.disconnectHandler(connID)
			}
		}
	}()
	return true
}

// SendMessage は特定のクライアントにメッセージを送信する
func (t *DefaultWebSocketTransport) SendMessage(connID string, message []byte) error {
	t.clientsMutex.RLock()
	client, exists := t.clients[connID]
	t.clientsMutex.RUnlock()
	if !exists {
		return fmt.Errorf("client with ID %s not found", connID)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if isConnectionClosedError(err) {
			t.dropClient(connID)
		}
		return fmt.Errorf("failed to send message to client %s: %w", connID, err)
	}
	return nil
}

// BroadcastMessage は接続中の全クライアントにメッセージを送信する
func (t *DefaultWebSocketTransport) BroadcastMessage(message []byte) error {
	t.clientsMutex.RLock()
	clients := make(map[string]*wsClient, len(t.clients))
	for connID, client := range t.clients {
		clients[connID] = client
	}
	t.clientsMutex.RUnlock()

	var disconnected []string
	for connID, client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, message)
		client.mu.Unlock()
		if err != nil {
			if isConnectionClosedError(err) {
				disconnected = append(disconnected, connID)
			} else {
				slog.Error("ブロードキャスト送信エラー", "err", err, "connID", connID)
			}
		}
	}

	for _, connID := range disconnected {
		t.dropClient(connID)
	}
	return nil
}

// handleWebSocket はHTTP接続をWebSocketへアップグレードし、受信ループを回す
func (t *DefaultWebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocketアップグレードエラー", "err", err, "remoteAddr", r.RemoteAddr)
		return
	}
	defer conn.Close()

	connID := fmt.Sprintf("conn-%d", t.nextConnID.Add(1))
	slog.Debug("新しいWebSocket接続を受け付けました", "connID", connID, "remoteAddr", r.RemoteAddr)

	t.clientsMutex.Lock()
	t.clients[connID] = &wsClient{conn: conn}
	t.clientsMutex.Unlock()
	defer t.dropClient(connID)

	if t.connectHandler != nil {
		if err := t.connectHandler(connID); err != nil {
			slog.Error("接続ハンドラのエラー", "err", err)
			return
		}
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			// 正常系のクローズコード（1000/1001/1005/1006）以外だけ記録する
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				slog.Error("WebSocketの異常切断", "err", err)
			}
			break
		}

		if t.messageHandler != nil {
			if err := t.messageHandler(connID, message); err != nil {
				errStr := err.Error()
				if !isConnectionClosedError(err) &&
					!(strings.Contains(errStr, "client with ID") && strings.Contains(errStr, "not found")) {
					slog.Error("メッセージハンドラのエラー", "err", err)
				}
			}
		}
	}
}
