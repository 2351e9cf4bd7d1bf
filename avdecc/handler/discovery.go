package handler

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"avdecc-list/avdecc"
	"avdecc-list/avdecc/entitymodel"
)

// DiscoveryConfig はディスカバリエンジンの設定を表します。
type DiscoveryConfig struct {
	// ValidTime は自エンティティ広告の有効時間（2秒単位に丸められる）
	ValidTime time.Duration
}

// DefaultDiscoveryConfig はデフォルトのディスカバリ設定を返す
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		ValidTime: 20 * time.Second,
	}
}

// availableIndexWrapThreshold を超えた値から小さい値への変化はラップとみなし、
// 再起動扱いにしない
const availableIndexWrapThreshold uint32 = 0xffffff00

// DiscoveryEngine はADPの送受信を担います。
// リモート側: 発見したエンティティの表を保持し、広告の途絶（expiry超過）と
// 明示的なENTITY_DEPARTINGで離脱を検出します。
// ローカル側: 自エンティティの周期広告と停止時のENTITY_DEPARTING送出を行います。
type DiscoveryEngine struct {
	mu        sync.RWMutex
	transport Transport
	store     *entitymodel.Store
	clock     ClockSource // nil可（そのときはグランドマスター情報は0）
	cfg       DiscoveryConfig
	notify    func(EntityNotification)

	entities map[EntityID]*DiscoveredEntity

	advertising    bool
	availableIndex uint32
	nextAdvertise  time.Time
}

func NewDiscoveryEngine(transport Transport, store *entitymodel.Store, clock ClockSource, cfg DiscoveryConfig, notify func(EntityNotification)) *DiscoveryEngine {
	return &DiscoveryEngine{
		transport: transport,
		store:     store,
		clock:     clock,
		cfg:       cfg,
		notify:    notify,
		entities:  make(map[EntityID]*DiscoveredEntity),
	}
}

// validTimeUnits は有効時間を2秒単位の5ビット値に丸める
func (e *DiscoveryEngine) validTimeUnits() byte {
	units := int(e.cfg.ValidTime.Seconds()) / 2
	if units < 1 {
		units = 1
	}
	if units > 31 {
		units = 31
	}
	return byte(units)
}

// advertiseInterval は再広告間隔（有効時間の1/4、最低1秒）を返す
func (e *DiscoveryEngine) advertiseInterval() time.Duration {
	interval := e.cfg.ValidTime / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (e *DiscoveryEngine) buildADPDU(messageType avdecc.ADPMessageType, availableIndex uint32) *avdecc.ADPDU {
	desc := e.store.EntityDescriptor()
	pdu := &avdecc.ADPDU{
		MessageType:            messageType,
		ValidTime:              e.validTimeUnits(),
		EntityID:               desc.EntityID,
		EntityModelID:          desc.EntityModelID,
		EntityCapabilities:     desc.EntityCapabilities,
		TalkerStreamSources:    desc.TalkerStreamSources,
		TalkerCapabilities:     desc.TalkerCapabilities,
		ListenerStreamSinks:    desc.ListenerStreamSinks,
		ListenerCapabilities:   desc.ListenerCapabilities,
		ControllerCapabilities: desc.ControllerCapabilities,
		AvailableIndex:         availableIndex,
		AssociationID:          desc.AssociationID,
	}
	if e.clock != nil {
		// グランドマスター情報は外部プロバイダの値を解釈せず透過する
		pdu.GPTPGrandmasterID = e.clock.GrandmasterID()
		pdu.GPTPDomainNumber = e.clock.DomainNumber()
	}
	return pdu
}

// StartAdvertising は自エンティティの周期広告を開始します。
func (e *DiscoveryEngine) StartAdvertising(now time.Time) error {
	e.mu.Lock()
	e.advertising = true
	e.availableIndex++
	index := e.availableIndex
	e.nextAdvertise = now.Add(e.advertiseInterval())
	e.mu.Unlock()

	e.store.SetAvailableIndex(index)
	pdu := e.buildADPDU(avdecc.ADPEntityAvailable, index)
	slog.Info("エンティティ広告を開始します", "entityID", pdu.EntityID, "validTime", e.cfg.ValidTime)
	return e.transport.Send(pdu.Encode(), nil)
}

// StopAdvertising は離脱メッセージを一度送ってから広告を停止します。
func (e *DiscoveryEngine) StopAdvertising() error {
	e.mu.Lock()
	if !e.advertising {
		e.mu.Unlock()
		return nil
	}
	e.advertising = false
	index := e.availableIndex
	e.mu.Unlock()

	pdu := e.buildADPDU(avdecc.ADPEntityDeparting, index)
	slog.Info("エンティティ離脱を通知します", "entityID", pdu.EntityID)
	return e.transport.Send(pdu.Encode(), nil)
}

// Discover は探索要求をブロードキャストします。
// target が EntityIDUnknown のときは全エンティティが対象です。
func (e *DiscoveryEngine) Discover(target EntityID) error {
	pdu := &avdecc.ADPDU{
		MessageType: avdecc.ADPEntityDiscover,
		EntityID:    target,
	}
	slog.Debug("エンティティ探索を送信", "target", target)
	return e.transport.Send(pdu.Encode(), nil)
}

// HandleADPDU は受信したADP PDUを処理します。
func (e *DiscoveryEngine) HandleADPDU(pdu *avdecc.ADPDU, src net.IP, now time.Time) {
	switch pdu.MessageType {
	case avdecc.ADPEntityDiscover:
		e.handleDiscover(pdu)
	case avdecc.ADPEntityAvailable:
		e.handleAvailable(pdu, src, now)
	case avdecc.ADPEntityDeparting:
		e.handleDeparting(pdu)
	default:
		slog.Debug("未知のADPメッセージ種別を無視", "type", pdu.MessageType)
	}
}

func (e *DiscoveryEngine) handleDiscover(pdu *avdecc.ADPDU) {
	localID := e.store.EntityID()
	if pdu.EntityID != avdecc.EntityIDUnknown && pdu.EntityID != localID {
		return
	}
	e.mu.RLock()
	advertising := e.advertising
	index := e.availableIndex
	e.mu.RUnlock()
	if !advertising {
		return
	}
	resp := e.buildADPDU(avdecc.ADPEntityAvailable, index)
	if err := e.transport.Send(resp.Encode(), nil); err != nil {
		slog.Error("探索応答の送信エラー", "err", err)
	}
}

func (e *DiscoveryEngine) handleAvailable(pdu *avdecc.ADPDU, src net.IP, now time.Time) {
	if pdu.EntityID == e.store.EntityID() {
		// 自分の広告のループバックは無視
		return
	}
	validTime := time.Duration(pdu.ValidTime) * 2 * time.Second
	if validTime == 0 {
		validTime = 2 * time.Second
	}
	entity := DiscoveredEntity{
		EntityID:               pdu.EntityID,
		EntityModelID:          pdu.EntityModelID,
		EntityCapabilities:     pdu.EntityCapabilities,
		TalkerStreamSources:    pdu.TalkerStreamSources,
		TalkerCapabilities:     pdu.TalkerCapabilities,
		ListenerStreamSinks:    pdu.ListenerStreamSinks,
		ListenerCapabilities:   pdu.ListenerCapabilities,
		ControllerCapabilities: pdu.ControllerCapabilities,
		AvailableIndex:         pdu.AvailableIndex,
		GPTPGrandmasterID:      pdu.GPTPGrandmasterID,
		GPTPDomainNumber:       pdu.GPTPDomainNumber,
		Addr:                   src,
		LastSeen:               now,
		Expiry:                 now.Add(validTime),
	}

	e.mu.Lock()
	prev, known := e.entities[pdu.EntityID]
	restarted := known && pdu.AvailableIndex < prev.AvailableIndex && prev.AvailableIndex < availableIndexWrapThreshold
	e.entities[pdu.EntityID] = &entity
	e.mu.Unlock()

	switch {
	case !known:
		slog.Info("エンティティを発見", "entity", entity)
		e.notify(EntityNotification{Type: EntityDiscovered, Entity: entity})
	case restarted:
		// available_indexの後退は再初期化のサイン。キャッシュ済み動的状態の
		// 破棄は通知を受けたコーディネーターが行う
		slog.Info("エンティティの再初期化を検出", "entity", entity, "prevIndex", prev.AvailableIndex, "newIndex", pdu.AvailableIndex)
		e.notify(EntityNotification{Type: EntityRestarted, Entity: entity})
	default:
		e.notify(EntityNotification{Type: EntityUpdated, Entity: entity})
	}
}

func (e *DiscoveryEngine) handleDeparting(pdu *avdecc.ADPDU) {
	e.mu.Lock()
	entity, known := e.entities[pdu.EntityID]
	if known {
		delete(e.entities, pdu.EntityID)
	}
	e.mu.Unlock()

	if known {
		slog.Info("エンティティが離脱", "entity", *entity)
		e.notify(EntityNotification{Type: EntityDeparted, Entity: *entity})
	}
}

// Tick は期限切れエンティティの掃除と周期広告を行います。
func (e *DiscoveryEngine) Tick(now time.Time) {
	// 期限切れの掃除。表から除いた後に通知するので離脱通知は一度だけ発火する
	var departed []DiscoveredEntity

	e.mu.Lock()
	for id, entity := range e.entities {
		if now.After(entity.Expiry) {
			delete(e.entities, id)
			departed = append(departed, *entity)
		}
	}
	advertise := e.advertising && !now.Before(e.nextAdvertise)
	var index uint32
	if advertise {
		e.availableIndex++
		index = e.availableIndex
		e.nextAdvertise = now.Add(e.advertiseInterval())
	}
	e.mu.Unlock()

	for _, entity := range departed {
		slog.Info("エンティティの広告が途絶", "entity", entity)
		e.notify(EntityNotification{Type: EntityDeparted, Entity: entity})
	}

	if advertise {
		e.store.SetAvailableIndex(index)
		pdu := e.buildADPDU(avdecc.ADPEntityAvailable, index)
		if err := e.transport.Send(pdu.Encode(), nil); err != nil {
			slog.Error("広告の送信エラー", "err", err)
		}
	}
}

// Entity は発見済みエンティティを返します。
func (e *DiscoveryEngine) Entity(id EntityID) (DiscoveredEntity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entity, ok := e.entities[id]
	if !ok {
		return DiscoveredEntity{}, false
	}
	return *entity, true
}

// Entities は発見済みエンティティの一覧をID順で返します。
func (e *DiscoveryEngine) Entities() []DiscoveredEntity {
	e.mu.RLock()
	list := make([]DiscoveredEntity, 0, len(e.entities))
	for _, entity := range e.entities {
		list = append(list, *entity)
	}
	e.mu.RUnlock()

	slices.SortFunc(list, func(a, b DiscoveredEntity) int {
		switch {
		case a.EntityID < b.EntityID:
			return -1
		case a.EntityID > b.EntityID:
			return 1
		default:
			return 0
		}
	})
	return list
}

// Remove は発見表からエンティティを取り除きます（通知なし）。
// コーディネーターが再初期化検出後の整理に使います。
func (e *DiscoveryEngine) Remove(id EntityID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entities, id)
}

// Close は広告を停止します（離脱メッセージを送出）。
func (e *DiscoveryEngine) Close() error {
	return e.StopAdvertising()
}
