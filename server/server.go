package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"avdecc-list/avdecc/entitymodel"
	"avdecc-list/avdecc/handler"
	"avdecc-list/avdecc/network"
)

// ServerOptions はServerの構成を表す
type ServerOptions struct {
	Port        int
	MulticastIP net.IP
	Coordinator handler.CoordinatorConfig
	Clock       handler.ClockSource
	Delegate    handler.ListenerDelegate
}

// Server はUDPソケットとプロトコルコーディネーターをまとめて起動するファサード
type Server struct {
	ctx         context.Context
	cancel      context.CancelFunc
	conn        *network.UDPConnection
	coordinator *handler.Coordinator
	wg          sync.WaitGroup

	// 通知ハンドラー（Startの前に設定すること）
	OnEntityEvent     func(handler.EntityNotification)
	OnConnectionEvent func(handler.ConnectionNotification)
}

// NewServer creates the UDP connection and the protocol coordinator
func NewServer(ctx context.Context, store *entitymodel.Store, options ServerOptions) (*Server, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	conn, err := network.CreateUDPConnection(serverCtx, options.Port, options.MulticastIP)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Server{
		ctx:    serverCtx,
		cancel: cancel,
		conn:   conn,
	}

	// 通知は遅延束縛にする: WebSocketServerはコーディネーターを参照するため、
	// 構築時点ではハンドラーが決まっていない
	s.coordinator = handler.NewCoordinator(conn, store, options.Clock, options.Coordinator,
		options.Delegate,
		func(n handler.EntityNotification) {
			if s.OnEntityEvent != nil {
				s.OnEntityEvent(n)
			}
		},
		func(n handler.ConnectionNotification) {
			if s.OnConnectionEvent != nil {
				s.OnConnectionEvent(n)
			}
		})

	return s, nil
}

// Coordinator はプロトコルコーディネーターを返す
func (s *Server) Coordinator() *handler.Coordinator {
	return s.coordinator
}

// Start begins advertising, the tick loop, and the receive loop
func (s *Server) Start() error {
	if err := s.coordinator.Start(s.ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.receiveLoop()
	return nil
}

// receiveLoop は受信フレームをコーディネーターへ渡し続ける
func (s *Server) receiveLoop() {
	defer s.wg.Done()
	for {
		data, src, err := s.conn.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("受信エラー", "err", err)
			continue
		}
		if data == nil {
			// 自分が送信したパケット
			continue
		}
		var srcIP net.IP
		if src != nil {
			srcIP = src.IP
		}
		s.coordinator.Dispatch(data, srcIP, time.Now())
	}
}

// Close stops the coordinator (sending ENTITY_DEPARTING) and closes the socket
func (s *Server) Close() error {
	err := s.coordinator.Close()
	s.cancel()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	s.wg.Wait()
	return err
}
