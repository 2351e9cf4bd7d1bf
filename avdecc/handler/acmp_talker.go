package handler

import (
	"log/slog"
	"sync"

	"avdecc-list/avdecc"
	"avdecc-list/avdecc/entitymodel"
)

// listenerPair はトーカーが把握しているひとつの接続先を表します。
type listenerPair struct {
	entityID EntityID
	uniqueID UniqueID
}

// talkerStream はひとつのストリームソースの送信側状態を表します。
// リスナーロールと違い、ひとつのソースに複数のリスナーがぶら下がるため
// 接続先はリストで保持します。
type talkerStream struct {
	streamID  StreamID
	destMAC   avdecc.MACAddress
	vlanID    uint16
	listeners []listenerPair
}

// ACMPTalker はACMPのトーカーロールのステートマシンを表します。
type ACMPTalker struct {
	mu        sync.Mutex
	transport Transport
	store     *entitymodel.Store
	notify    func(ConnectionNotification)

	streams map[UniqueID]*talkerStream
}

func NewACMPTalker(transport Transport, store *entitymodel.Store, notify func(ConnectionNotification)) *ACMPTalker {
	return &ACMPTalker{
		transport: transport,
		store:     store,
		notify:    notify,
		streams:   make(map[UniqueID]*talkerStream),
	}
}

// HandleACMPDU は自エンティティ宛のトーカー系コマンドを処理します。
func (t *ACMPTalker) HandleACMPDU(pdu *avdecc.ACMPDU) {
	if !pdu.MessageType.IsCommand() {
		return
	}
	if pdu.TalkerEntityID != t.store.EntityID() {
		return
	}
	switch pdu.MessageType {
	case avdecc.ACMPConnectTXCommand:
		t.handleConnect(pdu)
	case avdecc.ACMPDisconnectTXCommand:
		t.handleDisconnect(pdu)
	case avdecc.ACMPGetTXStateCommand:
		t.handleGetState(pdu)
	case avdecc.ACMPGetTXConnectionCommand:
		t.handleGetConnection(pdu)
	}
}

func (t *ACMPTalker) reply(pdu *avdecc.ACMPDU, status ACMPStatus) {
	resp := pdu.Response(status)
	if err := t.transport.Send(resp.Encode(), nil); err != nil {
		slog.Error("ACMP応答の送信エラー", "type", resp.MessageType, "err", err)
	}
}

func (t *ACMPTalker) sourceValid(uid UniqueID) bool {
	return uint16(uid) < t.store.EntityDescriptor().TalkerStreamSources
}

// streamLocked は指定ソースの状態を返し、なければ初期化します。
// ストリームIDと宛先MACはストリーム出力の動的情報から引き、未設定なら割り当てます。
func (t *ACMPTalker) streamLocked(uid UniqueID) *talkerStream {
	if st, ok := t.streams[uid]; ok {
		return st
	}
	st := &talkerStream{}
	if info, status := t.store.StreamInfo(avdecc.DescriptorStreamOutput, uint16(uid)); status == avdecc.AEMStatusSuccess {
		st.streamID = info.StreamID
		st.destMAC = info.StreamDestMAC
		st.vlanID = info.StreamVLANID
	}
	localID := uint64(t.store.EntityID())
	if st.streamID == 0 {
		// エンティティIDの上位48ビット（MAC由来）+ ユニークIDで一意になる
		st.streamID = StreamID(localID&0xffffffffffff0000 | uint64(uid))
	}
	if st.destMAC.IsZero() {
		// AVBのMAAP割り当て範囲からソースごとに導出する
		st.destMAC = avdecc.MACAddress{0x91, 0xe0, 0xf0, 0x00, byte(localID >> 8), byte(uint64(uid) ^ localID)}
	}
	t.streams[uid] = st
	return st
}

func (t *ACMPTalker) handleConnect(pdu *avdecc.ACMPDU) {
	if !t.sourceValid(pdu.TalkerUniqueID) {
		t.reply(pdu, avdecc.ACMPStatusTalkerNoStreamIndex)
		return
	}

	t.mu.Lock()
	st := t.streamLocked(pdu.TalkerUniqueID)
	pair := listenerPair{pdu.ListenerEntityID, pdu.ListenerUniqueID}
	known := false
	for _, p := range st.listeners {
		if p == pair {
			known = true
			break
		}
	}
	if !known {
		st.listeners = append(st.listeners, pair)
	}
	count := uint16(len(st.listeners))
	streamID, destMAC, vlanID := st.streamID, st.destMAC, st.vlanID
	t.mu.Unlock()

	conn := ConnectionInfo{
		StreamID:         streamID,
		TalkerEntityID:   pdu.TalkerEntityID,
		TalkerUniqueID:   pdu.TalkerUniqueID,
		ListenerEntityID: pdu.ListenerEntityID,
		ListenerUniqueID: pdu.ListenerUniqueID,
		StreamDestMAC:    destMAC,
		Flags:            pdu.Flags,
		StreamVLANID:     vlanID,
	}
	if !known {
		slog.Info("送信側コネクションを登録", "conn", conn, "connectionCount", count)
		t.store.SetStreamInfo(avdecc.DescriptorStreamOutput, uint16(pdu.TalkerUniqueID), avdecc.StreamInfoPayload{
			Flags:         avdecc.StreamInfoFlagConnected | avdecc.StreamInfoFlagStreamIDValid | avdecc.StreamInfoFlagDestMACValid,
			StreamID:      streamID,
			StreamDestMAC: destMAC,
		})
		if t.notify != nil {
			t.notify(ConnectionNotification{Type: ConnectionEstablished, Connection: conn, Status: avdecc.ACMPStatusSuccess})
		}
	}

	resp := pdu.Response(avdecc.ACMPStatusSuccess)
	resp.StreamID = streamID
	resp.StreamDestMAC = destMAC
	resp.StreamVLANID = vlanID
	resp.ConnectionCount = count
	if err := t.transport.Send(resp.Encode(), nil); err != nil {
		slog.Error("ACMP応答の送信エラー", "err", err)
	}
}

func (t *ACMPTalker) handleDisconnect(pdu *avdecc.ACMPDU) {
	if !t.sourceValid(pdu.TalkerUniqueID) {
		t.reply(pdu, avdecc.ACMPStatusTalkerNoStreamIndex)
		return
	}

	t.mu.Lock()
	st := t.streams[pdu.TalkerUniqueID]
	found := false
	var count uint16
	if st != nil {
		pair := listenerPair{pdu.ListenerEntityID, pdu.ListenerUniqueID}
		for i, p := range st.listeners {
			if p == pair {
				st.listeners = append(st.listeners[:i], st.listeners[i+1:]...)
				found = true
				break
			}
		}
		count = uint16(len(st.listeners))
	}
	t.mu.Unlock()

	if !found {
		t.reply(pdu, avdecc.ACMPStatusNoSuchConnection)
		return
	}
	if count == 0 {
		t.store.ClearStreamInfo(avdecc.DescriptorStreamOutput, uint16(pdu.TalkerUniqueID))
	}

	resp := pdu.Response(avdecc.ACMPStatusSuccess)
	resp.ConnectionCount = count
	if err := t.transport.Send(resp.Encode(), nil); err != nil {
		slog.Error("ACMP応答の送信エラー", "err", err)
	}
	if t.notify != nil {
		t.notify(ConnectionNotification{
			Type: ConnectionReleased,
			Connection: ConnectionInfo{
				TalkerEntityID:   pdu.TalkerEntityID,
				TalkerUniqueID:   pdu.TalkerUniqueID,
				ListenerEntityID: pdu.ListenerEntityID,
				ListenerUniqueID: pdu.ListenerUniqueID,
			},
			Status: avdecc.ACMPStatusSuccess,
		})
	}
}

func (t *ACMPTalker) handleGetState(pdu *avdecc.ACMPDU) {
	if !t.sourceValid(pdu.TalkerUniqueID) {
		t.reply(pdu, avdecc.ACMPStatusTalkerNoStreamIndex)
		return
	}

	t.mu.Lock()
	st := t.streamLocked(pdu.TalkerUniqueID)
	resp := pdu.Response(avdecc.ACMPStatusSuccess)
	resp.StreamID = st.streamID
	resp.StreamDestMAC = st.destMAC
	resp.StreamVLANID = st.vlanID
	resp.ConnectionCount = uint16(len(st.listeners))
	t.mu.Unlock()

	if err := t.transport.Send(resp.Encode(), nil); err != nil {
		slog.Error("ACMP応答の送信エラー", "err", err)
	}
}

func (t *ACMPTalker) handleGetConnection(pdu *avdecc.ACMPDU) {
	if !t.sourceValid(pdu.TalkerUniqueID) {
		t.reply(pdu, avdecc.ACMPStatusTalkerNoStreamIndex)
		return
	}

	t.mu.Lock()
	st := t.streams[pdu.TalkerUniqueID]
	index := int(pdu.ConnectionCount)
	if st == nil || index >= len(st.listeners) {
		t.mu.Unlock()
		t.reply(pdu, avdecc.ACMPStatusNoSuchConnection)
		return
	}
	pair := st.listeners[index]
	resp := pdu.Response(avdecc.ACMPStatusSuccess)
	resp.StreamID = st.streamID
	resp.StreamDestMAC = st.destMAC
	resp.StreamVLANID = st.vlanID
	resp.ListenerEntityID = pair.entityID
	resp.ListenerUniqueID = pair.uniqueID
	resp.ConnectionCount = uint16(len(st.listeners))
	t.mu.Unlock()

	if err := t.transport.Send(resp.Encode(), nil); err != nil {
		slog.Error("ACMP応答の送信エラー", "err", err)
	}
}

// Connections は指定ソースの接続先一覧を返します。
func (t *ACMPTalker) Connections(uid UniqueID) []ConnectionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.streams[uid]
	if st == nil {
		return nil
	}
	localID := t.store.EntityID()
	list := make([]ConnectionInfo, 0, len(st.listeners))
	for _, p := range st.listeners {
		list = append(list, ConnectionInfo{
			StreamID:         st.streamID,
			TalkerEntityID:   localID,
			TalkerUniqueID:   uid,
			ListenerEntityID: p.entityID,
			ListenerUniqueID: p.uniqueID,
			StreamDestMAC:    st.destMAC,
			StreamVLANID:     st.vlanID,
		})
	}
	return list
}

// PurgeEntity は離脱・再起動したリスナーに紐づく接続先を取り除きます。
func (t *ACMPTalker) PurgeEntity(id EntityID) {
	t.mu.Lock()
	var emptied []UniqueID
	for uid, st := range t.streams {
		kept := st.listeners[:0]
		for _, p := range st.listeners {
			if p.entityID != id {
				kept = append(kept, p)
			}
		}
		if len(kept) != len(st.listeners) {
			slog.Info("リスナー消失により接続先を破棄", "talkerUID", uid, "listener", id)
			if len(kept) == 0 {
				emptied = append(emptied, uid)
			}
		}
		st.listeners = kept
	}
	t.mu.Unlock()

	for _, uid := range emptied {
		t.store.ClearStreamInfo(avdecc.DescriptorStreamOutput, uint16(uid))
	}
}
