package handler

import (
	"net"
	"testing"
	"time"

	"avdecc-list/avdecc"
)

func newTestCoordinator(transport *fakeTransport, notifyEntity func(EntityNotification), notifyConnection func(ConnectionNotification)) *Coordinator {
	cfg := DefaultCoordinatorConfig()
	cfg.Advertise = false
	return NewCoordinator(transport, newHandlerStore(), nil, cfg, ListenerDelegate{}, notifyEntity, notifyConnection)
}

func TestCoordinator_DispatchBySubtype(t *testing.T) {
	transport := &fakeTransport{}
	var entityEvents []EntityNotification
	var connEvents []ConnectionNotification
	c := newTestCoordinator(transport,
		func(n EntityNotification) { entityEvents = append(entityEvents, n) },
		func(n ConnectionNotification) { connEvents = append(connEvents, n) })
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := net.IPv4(192, 168, 1, 20)

	// ADP広告 → 発見エンジン
	c.Dispatch(availablePDU(remoteTalkerID, 1, 5).Encode(), src, now)
	if len(entityEvents) != 1 || entityEvents[0].Type != EntityDiscovered {
		t.Fatalf("entity events: %+v", entityEvents)
	}

	// AECPコマンド → ローカルエンティティエンジン
	cmd := aemCommand(remoteControllerID, avdecc.AEMEntityAvailable, 1, nil)
	c.Dispatch(cmd.Encode(), src, now)
	resp := transport.lastAECPDU(t)
	if resp.MessageType != avdecc.AECPAEMResponse || resp.Status != avdecc.AEMStatusSuccess {
		t.Fatalf("AECP dispatch: type=%v status=%v", resp.MessageType, resp.Status)
	}

	// ACMPコマンド → リスナーエンジン
	c.Dispatch(connectRXCommand(localEntityID, 0).Encode(), src, now)
	acmpResp := transport.lastACMPDU(t)
	if acmpResp.MessageType != avdecc.ACMPConnectRXResponse || acmpResp.Status != avdecc.ACMPStatusSuccess {
		t.Fatalf("ACMP dispatch: type=%v status=%v", acmpResp.MessageType, acmpResp.Status)
	}
	if len(connEvents) != 1 || connEvents[0].Type != ConnectionEstablished {
		t.Errorf("connection events: %+v", connEvents)
	}
}

func TestCoordinator_DispatchMalformedFrames(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestCoordinator(transport, nil, nil)
	now := time.Now()
	src := net.IPv4(192, 168, 1, 20)

	// 空フレーム、未知subtype、途中で切れたPDUのいずれでも落ちない
	c.Dispatch(nil, src, now)
	c.Dispatch([]byte{0x01, 0x00, 0x00, 0x00}, src, now)
	c.Dispatch([]byte{0xfa, 0x00, 0x10}, src, now)
	if len(transport.sent) != 0 {
		t.Errorf("malformed frames produced %d responses", len(transport.sent))
	}
}

func TestCoordinator_DepartedPurgesState(t *testing.T) {
	transport := &fakeTransport{}
	var entityEvents []EntityNotification
	var connEvents []ConnectionNotification
	c := newTestCoordinator(transport,
		func(n EntityNotification) { entityEvents = append(entityEvents, n) },
		func(n ConnectionNotification) { connEvents = append(connEvents, n) })
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := net.IPv4(192, 168, 1, 20)

	// トーカーを発見し、そのトーカーからのコネクションを確立し、
	// 同じトーカー宛の未応答コマンドも作っておく
	c.Dispatch(availablePDU(remoteTalkerID, 1, 5).Encode(), src, now)
	c.Dispatch(connectRXCommand(localEntityID, 0).Encode(), src, now)

	var cmdResult CommandResult
	c.AECPController.EntityAvailable(remoteTalkerID, func(resp *avdecc.AECPDU, result CommandResult) {
		cmdResult = result
	})
	entityEvents = entityEvents[:0]
	connEvents = connEvents[:0]

	// 離脱でコネクション・未応答コマンドがまとめて破棄される
	departing := &avdecc.ADPDU{MessageType: avdecc.ADPEntityDeparting, EntityID: remoteTalkerID}
	c.Dispatch(departing.Encode(), src, now.Add(time.Second))

	if len(entityEvents) != 1 || entityEvents[0].Type != EntityDeparted {
		t.Fatalf("entity events: %+v", entityEvents)
	}
	if len(connEvents) != 1 || connEvents[0].Type != ConnectionReleased {
		t.Fatalf("connection events: %+v", connEvents)
	}
	if cmdResult != ResultCancelled {
		t.Errorf("inflight command result = %v", cmdResult)
	}
	if len(c.ACMPListener.Connections()) != 0 {
		t.Error("connection survived departure")
	}
}

func TestCoordinator_RestartPurgesState(t *testing.T) {
	transport := &fakeTransport{}
	var entityEvents []EntityNotification
	c := newTestCoordinator(transport,
		func(n EntityNotification) { entityEvents = append(entityEvents, n) }, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := net.IPv4(192, 168, 1, 20)

	c.Dispatch(availablePDU(remoteTalkerID, 10, 5).Encode(), src, now)
	c.Dispatch(connectRXCommand(localEntityID, 0).Encode(), src, now)
	entityEvents = entityEvents[:0]

	// available_indexの後退 → 再起動としてコネクションを破棄
	c.Dispatch(availablePDU(remoteTalkerID, 1, 5).Encode(), src, now.Add(time.Second))
	if len(entityEvents) != 1 || entityEvents[0].Type != EntityRestarted {
		t.Fatalf("entity events: %+v", entityEvents)
	}
	if len(c.ACMPListener.Connections()) != 0 {
		t.Error("connection survived restart")
	}
	// 再起動後もエンティティは発見表に残る
	if _, ok := c.Discovery.Entity(remoteTalkerID); !ok {
		t.Error("entity removed from discovery table on restart")
	}
}

func TestCoordinator_TickDrivesEngines(t *testing.T) {
	transport := &fakeTransport{}
	var entityEvents []EntityNotification
	c := newTestCoordinator(transport,
		func(n EntityNotification) { entityEvents = append(entityEvents, n) }, nil)
	// コントローラーエンジンの期限は実時間基準なのでここも実時間を使う
	now := time.Now()
	src := net.IPv4(192, 168, 1, 20)

	c.Dispatch(availablePDU(remoteTalkerID, 1, 1).Encode(), src, now)

	var cmdResults []CommandResult
	c.ACMPController.GetListenerState(remoteListenerID, 0, func(resp *avdecc.ACMPDU, result CommandResult) {
		cmdResults = append(cmdResults, result)
	})

	// 広告の期限切れ（2秒）と全再送の消化が同じTick駆動で進む
	for i := 1; i <= 10; i++ {
		c.Tick(now.Add(time.Duration(i) * time.Second))
	}
	// 発見→期限切れ離脱の順で通知される
	if len(entityEvents) != 2 || entityEvents[0].Type != EntityDiscovered || entityEvents[1].Type != EntityDeparted {
		t.Errorf("entity events: %+v", entityEvents)
	}
	if len(cmdResults) != 1 || cmdResults[0] != ResultTimeout {
		t.Errorf("command results: %v", cmdResults)
	}
}
