package handler

import (
	"testing"
	"time"

	"avdecc-list/avdecc"
)

const (
	remoteTalkerID     = avdecc.EntityID(0x001b92fffe000010)
	remoteListenerID   = avdecc.EntityID(0x001b92fffe000020)
	remoteControllerID = avdecc.EntityID(0x001b92fffe000030)
)

// lastACMPDU は最後に送信されたフレームをACMPとしてデコードする
func (f *fakeTransport) lastACMPDU(t *testing.T) *avdecc.ACMPDU {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no frames sent")
	}
	pdu, err := avdecc.DecodeACMPDU(f.sent[len(f.sent)-1].data)
	if err != nil {
		t.Fatalf("DecodeACMPDU: %v", err)
	}
	return pdu
}

func connectRXCommand(listener avdecc.EntityID, listenerUID UniqueID) *avdecc.ACMPDU {
	return &avdecc.ACMPDU{
		MessageType:        avdecc.ACMPConnectRXCommand,
		ControllerEntityID: remoteControllerID,
		TalkerEntityID:     remoteTalkerID,
		TalkerUniqueID:     0,
		ListenerEntityID:   listener,
		ListenerUniqueID:   listenerUID,
		StreamID:           avdecc.StreamID(0x1122334455660000),
		StreamDestMAC:      avdecc.MACAddress{0x91, 0xe0, 0xf0, 0x00, 0x00, 0x01},
		SequenceID:         7,
	}
}

func TestACMPListener_ConnectDisconnect(t *testing.T) {
	transport := &fakeTransport{}
	store := newHandlerStore()
	var events []ConnectionNotification
	listener := NewACMPListener(transport, store, ListenerDelegate{}, func(n ConnectionNotification) {
		events = append(events, n)
	})

	listener.HandleACMPDU(connectRXCommand(localEntityID, 0))
	resp := transport.lastACMPDU(t)
	if resp.MessageType != avdecc.ACMPConnectRXResponse || resp.Status != avdecc.ACMPStatusSuccess {
		t.Fatalf("connect response: type=%v status=%v", resp.MessageType, resp.Status)
	}
	if resp.SequenceID != 7 {
		t.Errorf("sequence ID not echoed: %d", resp.SequenceID)
	}
	if resp.ConnectionCount != 1 {
		t.Errorf("connection count = %d", resp.ConnectionCount)
	}
	if len(events) != 1 || events[0].Type != ConnectionEstablished {
		t.Fatalf("events: %+v", events)
	}

	// ストリーム入力の動的情報へ反映されている
	info, status := store.StreamInfo(avdecc.DescriptorStreamInput, 0)
	if status != avdecc.AEMStatusSuccess || info.Flags&avdecc.StreamInfoFlagConnected == 0 {
		t.Errorf("stream info not updated: %+v (%v)", info, status)
	}

	// 同じトーカーへの再接続は冪等に成功し、状態は変わらない
	listener.HandleACMPDU(connectRXCommand(localEntityID, 0))
	resp = transport.lastACMPDU(t)
	if resp.Status != avdecc.ACMPStatusSuccess {
		t.Errorf("idempotent reconnect: %v", resp.Status)
	}
	if len(events) != 1 {
		t.Errorf("reconnect produced extra events: %+v", events)
	}

	// 別トーカーからの接続は排他エラー
	other := connectRXCommand(localEntityID, 0)
	other.TalkerEntityID = avdecc.EntityID(0x99)
	listener.HandleACMPDU(other)
	if resp := transport.lastACMPDU(t); resp.Status != avdecc.ACMPStatusListenerExclusive {
		t.Errorf("exclusive status = %v", resp.Status)
	}

	// 切断
	disconnect := connectRXCommand(localEntityID, 0)
	disconnect.MessageType = avdecc.ACMPDisconnectRXCommand
	listener.HandleACMPDU(disconnect)
	resp = transport.lastACMPDU(t)
	if resp.MessageType != avdecc.ACMPDisconnectRXResponse || resp.Status != avdecc.ACMPStatusSuccess {
		t.Fatalf("disconnect response: type=%v status=%v", resp.MessageType, resp.Status)
	}
	if len(events) != 2 || events[1].Type != ConnectionReleased {
		t.Fatalf("events after disconnect: %+v", events)
	}
	if _, ok := listener.Connection(0); ok {
		t.Error("connection still present after disconnect")
	}

	// 切断で動的ストリーム情報も消えている
	info, _ = store.StreamInfo(avdecc.DescriptorStreamInput, 0)
	if info.Flags&avdecc.StreamInfoFlagConnected != 0 {
		t.Errorf("connected flag still set after disconnect: %+v", info)
	}
	if info.StreamID != 0 || !info.StreamDestMAC.IsZero() {
		t.Errorf("stale stream info after disconnect: %+v", info)
	}

	// 未接続のシンクへの切断
	listener.HandleACMPDU(disconnect)
	if resp := transport.lastACMPDU(t); resp.Status != avdecc.ACMPStatusNotConnected {
		t.Errorf("disconnect when not connected: %v", resp.Status)
	}
}

func TestACMPListener_InvalidSink(t *testing.T) {
	transport := &fakeTransport{}
	listener := NewACMPListener(transport, newHandlerStore(), ListenerDelegate{}, nil)

	// シンクはひとつしかない
	listener.HandleACMPDU(connectRXCommand(localEntityID, 5))
	if resp := transport.lastACMPDU(t); resp.Status != avdecc.ACMPStatusListenerUnknownID {
		t.Errorf("status = %v", resp.Status)
	}
}

func TestACMPListener_IgnoresOtherEntity(t *testing.T) {
	transport := &fakeTransport{}
	listener := NewACMPListener(transport, newHandlerStore(), ListenerDelegate{}, nil)

	listener.HandleACMPDU(connectRXCommand(avdecc.EntityID(0x99), 0))
	if len(transport.sent) != 0 {
		t.Error("responded to command for another entity")
	}
}

func TestACMPListener_DelegateVeto(t *testing.T) {
	transport := &fakeTransport{}
	delegate := ListenerDelegate{
		ConnectRequested: func(conn ConnectionInfo) (avdecc.MACAddress, uint16, ACMPStatus) {
			return avdecc.MACAddress{}, 0, avdecc.ACMPStatusTalkerNoBandwidth
		},
	}
	listener := NewACMPListener(transport, newHandlerStore(), delegate, nil)

	listener.HandleACMPDU(connectRXCommand(localEntityID, 0))
	if resp := transport.lastACMPDU(t); resp.Status != avdecc.ACMPStatusTalkerNoBandwidth {
		t.Errorf("status = %v", resp.Status)
	}
	if _, ok := listener.Connection(0); ok {
		t.Error("vetoed connection was recorded")
	}
}

func TestACMPListener_DelegateOverridesDestination(t *testing.T) {
	transport := &fakeTransport{}
	destMAC := avdecc.MACAddress{0x91, 0xe0, 0xf0, 0x00, 0xaa, 0xbb}
	delegate := ListenerDelegate{
		ConnectRequested: func(conn ConnectionInfo) (avdecc.MACAddress, uint16, ACMPStatus) {
			return destMAC, 100, avdecc.ACMPStatusSuccess
		},
	}
	listener := NewACMPListener(transport, newHandlerStore(), delegate, nil)

	listener.HandleACMPDU(connectRXCommand(localEntityID, 0))
	resp := transport.lastACMPDU(t)
	if resp.StreamDestMAC != destMAC {
		t.Errorf("dest MAC = %v", resp.StreamDestMAC)
	}
	if resp.StreamVLANID != 100 {
		t.Errorf("VLAN = %d", resp.StreamVLANID)
	}
}

func TestACMPListener_GetState(t *testing.T) {
	transport := &fakeTransport{}
	listener := NewACMPListener(transport, newHandlerStore(), ListenerDelegate{}, nil)

	getState := &avdecc.ACMPDU{
		MessageType:        avdecc.ACMPGetRXStateCommand,
		ControllerEntityID: remoteControllerID,
		ListenerEntityID:   localEntityID,
		ListenerUniqueID:   0,
	}

	// 未接続時はconnection_count 0
	listener.HandleACMPDU(getState)
	resp := transport.lastACMPDU(t)
	if resp.MessageType != avdecc.ACMPGetRXStateResponse || resp.ConnectionCount != 0 {
		t.Fatalf("idle state: type=%v count=%d", resp.MessageType, resp.ConnectionCount)
	}

	listener.HandleACMPDU(connectRXCommand(localEntityID, 0))
	listener.HandleACMPDU(getState)
	resp = transport.lastACMPDU(t)
	if resp.ConnectionCount != 1 || resp.TalkerEntityID != remoteTalkerID {
		t.Errorf("connected state: count=%d talker=%v", resp.ConnectionCount, resp.TalkerEntityID)
	}
}

func TestACMPListener_PurgeEntity(t *testing.T) {
	transport := &fakeTransport{}
	store := newHandlerStore()
	var events []ConnectionNotification
	listener := NewACMPListener(transport, store, ListenerDelegate{}, func(n ConnectionNotification) {
		events = append(events, n)
	})

	listener.HandleACMPDU(connectRXCommand(localEntityID, 0))
	events = events[:0]

	listener.PurgeEntity(remoteTalkerID)
	if len(events) != 1 || events[0].Type != ConnectionReleased || events[0].Status != avdecc.ACMPStatusListenerTalkerTimeout {
		t.Fatalf("purge events: %+v", events)
	}
	if len(listener.Connections()) != 0 {
		t.Error("connection survived purge")
	}
	if info, _ := store.StreamInfo(avdecc.DescriptorStreamInput, 0); info.Flags&avdecc.StreamInfoFlagConnected != 0 {
		t.Error("stream info not cleared after purge")
	}
}

func connectTXCommand(listener avdecc.EntityID, listenerUID UniqueID) *avdecc.ACMPDU {
	return &avdecc.ACMPDU{
		MessageType:        avdecc.ACMPConnectTXCommand,
		ControllerEntityID: remoteControllerID,
		TalkerEntityID:     localEntityID,
		TalkerUniqueID:     0,
		ListenerEntityID:   listener,
		ListenerUniqueID:   listenerUID,
		SequenceID:         9,
	}
}

func TestACMPTalker_ConnectDisconnect(t *testing.T) {
	transport := &fakeTransport{}
	store := newHandlerStore()
	talker := NewACMPTalker(transport, store, nil)

	talker.HandleACMPDU(connectTXCommand(remoteListenerID, 0))
	resp := transport.lastACMPDU(t)
	if resp.MessageType != avdecc.ACMPConnectTXResponse || resp.Status != avdecc.ACMPStatusSuccess {
		t.Fatalf("connect response: type=%v status=%v", resp.MessageType, resp.Status)
	}
	if resp.StreamID == 0 {
		t.Error("stream ID not assigned")
	}
	if resp.StreamDestMAC.IsZero() {
		t.Error("dest MAC not assigned")
	}
	if resp.ConnectionCount != 1 {
		t.Errorf("connection count = %d", resp.ConnectionCount)
	}
	streamID := resp.StreamID

	// 別リスナーの接続でカウントが増え、ストリームIDは同じ
	second := connectTXCommand(remoteListenerID, 1)
	talker.HandleACMPDU(second)
	resp = transport.lastACMPDU(t)
	if resp.ConnectionCount != 2 {
		t.Errorf("connection count = %d, want 2", resp.ConnectionCount)
	}
	if resp.StreamID != streamID {
		t.Errorf("stream ID changed: %v -> %v", streamID, resp.StreamID)
	}

	if got := len(talker.Connections(0)); got != 2 {
		t.Errorf("Connections len = %d", got)
	}

	// ストリーム出力の動的情報へ反映されている
	info, _ := store.StreamInfo(avdecc.DescriptorStreamOutput, 0)
	if info.Flags&avdecc.StreamInfoFlagConnected == 0 || info.StreamID != streamID {
		t.Errorf("stream output info not updated: %+v", info)
	}

	// 切断でカウントが減る
	disconnect := connectTXCommand(remoteListenerID, 0)
	disconnect.MessageType = avdecc.ACMPDisconnectTXCommand
	talker.HandleACMPDU(disconnect)
	resp = transport.lastACMPDU(t)
	if resp.MessageType != avdecc.ACMPDisconnectTXResponse || resp.Status != avdecc.ACMPStatusSuccess {
		t.Fatalf("disconnect response: type=%v status=%v", resp.MessageType, resp.Status)
	}
	if resp.ConnectionCount != 1 {
		t.Errorf("connection count after disconnect = %d", resp.ConnectionCount)
	}

	// リスナーが残っている間は接続状態のまま
	info, _ = store.StreamInfo(avdecc.DescriptorStreamOutput, 0)
	if info.Flags&avdecc.StreamInfoFlagConnected == 0 {
		t.Errorf("stream output info cleared while listeners remain: %+v", info)
	}

	// 存在しない接続の切断
	talker.HandleACMPDU(disconnect)
	if resp := transport.lastACMPDU(t); resp.Status != avdecc.ACMPStatusNoSuchConnection {
		t.Errorf("double disconnect: %v", resp.Status)
	}

	// 最後のリスナーの切断で動的情報も消える
	last := connectTXCommand(remoteListenerID, 1)
	last.MessageType = avdecc.ACMPDisconnectTXCommand
	talker.HandleACMPDU(last)
	if resp := transport.lastACMPDU(t); resp.ConnectionCount != 0 {
		t.Errorf("connection count after last disconnect = %d", resp.ConnectionCount)
	}
	info, _ = store.StreamInfo(avdecc.DescriptorStreamOutput, 0)
	if info.Flags&avdecc.StreamInfoFlagConnected != 0 || info.StreamID != 0 {
		t.Errorf("stale stream output info after last disconnect: %+v", info)
	}
}

func TestACMPTalker_GetStateAndConnection(t *testing.T) {
	transport := &fakeTransport{}
	talker := NewACMPTalker(transport, newHandlerStore(), nil)

	talker.HandleACMPDU(connectTXCommand(remoteListenerID, 0))
	talker.HandleACMPDU(connectTXCommand(remoteListenerID, 1))

	talker.HandleACMPDU(&avdecc.ACMPDU{
		MessageType:    avdecc.ACMPGetTXStateCommand,
		TalkerEntityID: localEntityID,
		TalkerUniqueID: 0,
	})
	resp := transport.lastACMPDU(t)
	if resp.MessageType != avdecc.ACMPGetTXStateResponse || resp.ConnectionCount != 2 {
		t.Fatalf("get state: type=%v count=%d", resp.MessageType, resp.ConnectionCount)
	}

	// connection_countフィールドで番号を指定して個別のコネクションを引く
	talker.HandleACMPDU(&avdecc.ACMPDU{
		MessageType:     avdecc.ACMPGetTXConnectionCommand,
		TalkerEntityID:  localEntityID,
		TalkerUniqueID:  0,
		ConnectionCount: 1,
	})
	resp = transport.lastACMPDU(t)
	if resp.MessageType != avdecc.ACMPGetTXConnectionResponse || resp.Status != avdecc.ACMPStatusSuccess {
		t.Fatalf("get connection: type=%v status=%v", resp.MessageType, resp.Status)
	}
	if resp.ListenerEntityID != remoteListenerID || resp.ListenerUniqueID != 1 {
		t.Errorf("connection[1] = %v[%d]", resp.ListenerEntityID, resp.ListenerUniqueID)
	}

	// 範囲外の番号
	talker.HandleACMPDU(&avdecc.ACMPDU{
		MessageType:     avdecc.ACMPGetTXConnectionCommand,
		TalkerEntityID:  localEntityID,
		TalkerUniqueID:  0,
		ConnectionCount: 5,
	})
	if resp := transport.lastACMPDU(t); resp.Status != avdecc.ACMPStatusNoSuchConnection {
		t.Errorf("out of range index: %v", resp.Status)
	}
}

func TestACMPTalker_InvalidSource(t *testing.T) {
	transport := &fakeTransport{}
	talker := NewACMPTalker(transport, newHandlerStore(), nil)

	cmd := connectTXCommand(remoteListenerID, 0)
	cmd.TalkerUniqueID = 5
	talker.HandleACMPDU(cmd)
	if resp := transport.lastACMPDU(t); resp.Status != avdecc.ACMPStatusTalkerNoStreamIndex {
		t.Errorf("status = %v", resp.Status)
	}
}

func TestACMPTalker_PurgeEntity(t *testing.T) {
	transport := &fakeTransport{}
	talker := NewACMPTalker(transport, newHandlerStore(), nil)

	talker.HandleACMPDU(connectTXCommand(remoteListenerID, 0))
	talker.HandleACMPDU(connectTXCommand(avdecc.EntityID(0x99), 0))

	talker.PurgeEntity(remoteListenerID)
	conns := talker.Connections(0)
	if len(conns) != 1 || conns[0].ListenerEntityID != avdecc.EntityID(0x99) {
		t.Errorf("connections after purge: %+v", conns)
	}
}

func TestACMPController_ConnectResponse(t *testing.T) {
	transport := &fakeTransport{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	controller := NewACMPController(transport, localEntityID, DefaultCommandConfig(), func() time.Time { return now })

	var gotResp *avdecc.ACMPDU
	var gotResult CommandResult
	err := controller.Connect(remoteTalkerID, 0, remoteListenerID, 0, 0, func(resp *avdecc.ACMPDU, result CommandResult) {
		gotResp = resp
		gotResult = result
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	cmd := transport.lastACMPDU(t)
	if cmd.MessageType != avdecc.ACMPConnectRXCommand {
		t.Fatalf("command type = %v", cmd.MessageType)
	}
	if cmd.ControllerEntityID != localEntityID {
		t.Errorf("controller ID = %v", cmd.ControllerEntityID)
	}

	// リスナーからの応答を照合する
	resp := cmd.Response(avdecc.ACMPStatusSuccess)
	resp.ConnectionCount = 1
	controller.HandleACMPDU(resp)
	if gotResult != ResultResponse || gotResp == nil {
		t.Fatalf("callback: result=%v resp=%v", gotResult, gotResp)
	}
	if gotResp.Status != avdecc.ACMPStatusSuccess {
		t.Errorf("response status = %v", gotResp.Status)
	}
}

func TestACMPController_RetryAndTimeout(t *testing.T) {
	transport := &fakeTransport{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := CommandConfig{Timeout: 200 * time.Millisecond, MaxRetries: 1}
	controller := NewACMPController(transport, localEntityID, cfg, func() time.Time { return now })

	results := []CommandResult{}
	controller.Disconnect(remoteTalkerID, 0, remoteListenerID, 0, func(resp *avdecc.ACMPDU, result CommandResult) {
		results = append(results, result)
	})
	first := transport.sent[0].data

	controller.Tick(now.Add(200 * time.Millisecond))
	if len(transport.sent) != 2 {
		t.Fatalf("retry not sent: %d frames", len(transport.sent))
	}
	if string(transport.sent[1].data) != string(first) {
		t.Error("retry bytes differ from original command")
	}

	controller.Tick(now.Add(400 * time.Millisecond))
	if len(results) != 1 || results[0] != ResultTimeout {
		t.Fatalf("results = %v", results)
	}
}

func TestACMPController_IgnoresForeignResponses(t *testing.T) {
	transport := &fakeTransport{}
	now := time.Now()
	controller := NewACMPController(transport, localEntityID, DefaultCommandConfig(), func() time.Time { return now })

	fired := false
	controller.Connect(remoteTalkerID, 0, remoteListenerID, 0, 0, func(resp *avdecc.ACMPDU, result CommandResult) {
		fired = true
	})
	cmd := transport.lastACMPDU(t)

	// 他コントローラー宛の応答は無視
	foreign := cmd.Response(avdecc.ACMPStatusSuccess)
	foreign.ControllerEntityID = remoteControllerID
	controller.HandleACMPDU(foreign)
	if fired {
		t.Fatal("matched response for another controller")
	}

	// コマンド（応答でないもの）は無視
	controller.HandleACMPDU(cmd)
	if fired {
		t.Fatal("matched a command as response")
	}
}

func TestACMPController_CancelTarget(t *testing.T) {
	transport := &fakeTransport{}
	now := time.Now()
	controller := NewACMPController(transport, localEntityID, DefaultCommandConfig(), func() time.Time { return now })

	var gotResult CommandResult
	controller.GetListenerState(remoteListenerID, 0, func(resp *avdecc.ACMPDU, result CommandResult) {
		gotResult = result
	})

	controller.CancelTarget(remoteListenerID)
	if gotResult != ResultCancelled {
		t.Errorf("result = %v", gotResult)
	}
}
