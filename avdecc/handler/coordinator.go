package handler

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"avdecc-list/avdecc"
	"avdecc-list/avdecc/entitymodel"
)

// CoordinatorConfig は全エンジン共通の動作設定を表します。
type CoordinatorConfig struct {
	Command      CommandConfig   // コマンドの再送・タイムアウト
	Discovery    DiscoveryConfig // 広告のvalid_time
	TickInterval time.Duration   // 周期処理の間隔
	Advertise    bool            // 起動時に自エンティティの広告を開始するか
}

// DefaultCoordinatorConfig はデフォルトの設定を返す
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Command:      DefaultCommandConfig(),
		Discovery:    DefaultDiscoveryConfig(),
		TickInterval: 100 * time.Millisecond,
		Advertise:    true,
	}
}

// Coordinator は各プロトコルエンジンを束ね、受信PDUの振り分けと
// 周期Tickの配線を担います。受信処理とTickは同一のシリアル実行で行われ、
// エンジン間の順序はここで固定されます。
type Coordinator struct {
	transport Transport
	store     *entitymodel.Store
	cfg       CoordinatorConfig

	Discovery      *DiscoveryEngine
	ACMPController *ACMPController
	ACMPListener   *ACMPListener
	ACMPTalker     *ACMPTalker
	AECPEntity     *AECPEntity
	AECPController *AECPController

	notifyEntity func(EntityNotification)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewCoordinator は全エンジンを構築して配線します。
// clock・delegate・通知コールバックは nil でも動作します。
func NewCoordinator(transport Transport, store *entitymodel.Store, clock ClockSource, cfg CoordinatorConfig,
	listenerDelegate ListenerDelegate,
	notifyEntity func(EntityNotification),
	notifyConnection func(ConnectionNotification)) *Coordinator {

	c := &Coordinator{
		transport:    transport,
		store:        store,
		cfg:          cfg,
		notifyEntity: notifyEntity,
	}
	localID := store.EntityID()

	c.Discovery = NewDiscoveryEngine(transport, store, clock, cfg.Discovery, c.onEntityEvent)
	c.ACMPController = NewACMPController(transport, localID, cfg.Command, nil)
	c.ACMPListener = NewACMPListener(transport, store, listenerDelegate, notifyConnection)
	c.ACMPTalker = NewACMPTalker(transport, store, notifyConnection)
	c.AECPEntity = NewAECPEntity(transport, store, clock)
	c.AECPController = NewAECPController(transport, localID, cfg.Command, nil)

	// AEMコマンドの送信先は発見表のアドレスで解決する
	c.AECPController.SetAddressResolver(func(id EntityID) net.IP {
		if e, ok := c.Discovery.Entity(id); ok {
			return e.Addr
		}
		return nil
	})
	return c
}

// onEntityEvent は発見エンジンからの通知を横取りし、離脱・再起動の際に
// 各エンジンのキャッシュと未応答コマンドを破棄してから上位層へ転送します。
func (c *Coordinator) onEntityEvent(n EntityNotification) {
	switch n.Type {
	case EntityDeparted, EntityRestarted:
		id := n.Entity.EntityID
		slog.Info("エンティティの状態を破棄します", "entityID", id, "event", n.Type)
		c.ACMPListener.PurgeEntity(id)
		c.ACMPTalker.PurgeEntity(id)
		c.AECPEntity.PurgeEntity(id)
		c.ACMPController.CancelTarget(id)
		c.AECPController.CancelTarget(id)
	}
	if c.notifyEntity != nil {
		c.notifyEntity(n)
	}
}

// Dispatch は受信したフレームをsubtypeで判別して各エンジンへ振り分けます。
// 不正なフレームはログに残して捨てます（プロトコルエラーで止まらない）。
func (c *Coordinator) Dispatch(data []byte, src net.IP, now time.Time) {
	subtype, err := avdecc.PeekSubtype(data)
	if err != nil {
		slog.Debug("フレームの判別エラー", "err", err)
		return
	}
	switch subtype {
	case avdecc.SubtypeADP:
		pdu, err := avdecc.DecodeADPDU(data)
		if err != nil {
			slog.Debug("ADP PDUのデコードエラー", "err", err)
			return
		}
		c.Discovery.HandleADPDU(pdu, src, now)
	case avdecc.SubtypeAECP:
		pdu, err := avdecc.DecodeAECPDU(data)
		if err != nil {
			slog.Debug("AECP PDUのデコードエラー", "err", err)
			return
		}
		c.AECPEntity.HandleAECPDU(pdu)
		c.AECPController.HandleAECPDU(pdu)
	case avdecc.SubtypeACMP:
		pdu, err := avdecc.DecodeACMPDU(data)
		if err != nil {
			slog.Debug("ACMP PDUのデコードエラー", "err", err)
			return
		}
		c.ACMPListener.HandleACMPDU(pdu)
		c.ACMPTalker.HandleACMPDU(pdu)
		c.ACMPController.HandleACMPDU(pdu)
	default:
		slog.Debug("未対応のsubtypeを無視", "subtype", subtype)
	}
}

// Tick は各エンジンの周期処理を固定順で実行します。
// 発見表の期限切れ掃除を先に行い、続いて未応答コマンドの再送判定を行います。
func (c *Coordinator) Tick(now time.Time) {
	c.Discovery.Tick(now)
	c.ACMPController.Tick(now)
	c.AECPController.Tick(now)
}

// Start は周期Tickのループを開始します。設定に応じて広告も開始します。
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	c.mu.Unlock()

	if c.cfg.Advertise {
		if err := c.Discovery.StartAdvertising(time.Now()); err != nil {
			slog.Error("広告の開始エラー", "err", err)
		}
	}

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				c.Tick(now)
			}
		}
	}()
	return nil
}

// Close は離脱広告を送り、全エンジンの未応答コマンドを取り消して停止します。
func (c *Coordinator) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.started = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	err := c.Discovery.Close()
	c.ACMPController.Close()
	c.AECPController.Close()
	c.AECPEntity.Close()
	slog.Info("プロトコルコーディネーターを停止しました")
	return err
}

// Store はエンティティモデルのストアを返す
func (c *Coordinator) Store() *entitymodel.Store {
	return c.store
}
