package handler

import (
	"log/slog"
	"sync"

	"avdecc-list/avdecc"
	"avdecc-list/avdecc/entitymodel"
)

// ListenerDelegate はリスナーロールのローカルポリシー判断を表します。
// ConnectRequested は接続要求の承認を行い、成功時は宛先MACとVLANを返します。
// nil のフィールドは既定動作（承認、宛先はトーカー応答値をそのまま採用）になります。
type ListenerDelegate struct {
	// ConnectRequested は帯域・フォーマット互換性などの承認を行う
	ConnectRequested func(conn ConnectionInfo) (avdecc.MACAddress, uint16, ACMPStatus)
	// DisconnectRequested は切断の可否を判断する
	DisconnectRequested func(conn ConnectionInfo) ACMPStatus
}

// ACMPListener はACMPのリスナーロールのステートマシンを表します。
// シンク（listener unique ID）ごとに高々ひとつのコネクションを保持します。
type ACMPListener struct {
	mu        sync.Mutex
	transport Transport
	store     *entitymodel.Store
	delegate  ListenerDelegate
	notify    func(ConnectionNotification)

	sinks map[UniqueID]*ConnectionInfo
}

func NewACMPListener(transport Transport, store *entitymodel.Store, delegate ListenerDelegate, notify func(ConnectionNotification)) *ACMPListener {
	return &ACMPListener{
		transport: transport,
		store:     store,
		delegate:  delegate,
		notify:    notify,
		sinks:     make(map[UniqueID]*ConnectionInfo),
	}
}

// HandleACMPDU は自エンティティ宛のリスナー系コマンドを処理します。
func (l *ACMPListener) HandleACMPDU(pdu *avdecc.ACMPDU) {
	if !pdu.MessageType.IsCommand() {
		return
	}
	if pdu.ListenerEntityID != l.store.EntityID() {
		return
	}
	switch pdu.MessageType {
	case avdecc.ACMPConnectRXCommand:
		l.handleConnect(pdu)
	case avdecc.ACMPDisconnectRXCommand:
		l.handleDisconnect(pdu)
	case avdecc.ACMPGetRXStateCommand:
		l.handleGetState(pdu)
	}
}

func (l *ACMPListener) reply(pdu *avdecc.ACMPDU, status ACMPStatus) {
	resp := pdu.Response(status)
	if err := l.transport.Send(resp.Encode(), nil); err != nil {
		slog.Error("ACMP応答の送信エラー", "type", resp.MessageType, "err", err)
	}
}

func (l *ACMPListener) sinkValid(uid UniqueID) bool {
	return uint16(uid) < l.store.EntityDescriptor().ListenerStreamSinks
}

func (l *ACMPListener) handleConnect(pdu *avdecc.ACMPDU) {
	if !l.sinkValid(pdu.ListenerUniqueID) {
		l.reply(pdu, avdecc.ACMPStatusListenerUnknownID)
		return
	}

	l.mu.Lock()
	existing := l.sinks[pdu.ListenerUniqueID]
	l.mu.Unlock()

	if existing != nil {
		if existing.TalkerEntityID == pdu.TalkerEntityID && existing.TalkerUniqueID == pdu.TalkerUniqueID {
			// 同じトーカーへの再接続要求は冪等に成功させる
			resp := pdu.Response(avdecc.ACMPStatusSuccess)
			resp.StreamID = existing.StreamID
			resp.StreamDestMAC = existing.StreamDestMAC
			resp.Flags = existing.Flags
			resp.StreamVLANID = existing.StreamVLANID
			resp.ConnectionCount = 1
			if err := l.transport.Send(resp.Encode(), nil); err != nil {
				slog.Error("ACMP応答の送信エラー", "err", err)
			}
			return
		}
		l.reply(pdu, avdecc.ACMPStatusListenerExclusive)
		return
	}

	conn := ConnectionInfo{
		StreamID:         pdu.StreamID,
		TalkerEntityID:   pdu.TalkerEntityID,
		TalkerUniqueID:   pdu.TalkerUniqueID,
		ListenerEntityID: pdu.ListenerEntityID,
		ListenerUniqueID: pdu.ListenerUniqueID,
		StreamDestMAC:    pdu.StreamDestMAC,
		Flags:            pdu.Flags,
		StreamVLANID:     pdu.StreamVLANID,
	}

	// ローカルポリシー（容量・フォーマット互換性）の承認を仰ぐ
	if l.delegate.ConnectRequested != nil {
		destMAC, vlan, status := l.delegate.ConnectRequested(conn)
		if status != avdecc.ACMPStatusSuccess {
			slog.Info("接続要求を拒否", "conn", conn, "status", status)
			l.reply(pdu, status)
			return
		}
		if !destMAC.IsZero() {
			conn.StreamDestMAC = destMAC
		}
		if vlan != 0 {
			conn.StreamVLANID = vlan
		}
	}
	if conn.StreamDestMAC.IsZero() {
		// 宛先未定のままでは受信を開始できない
		l.reply(pdu, avdecc.ACMPStatusTalkerDestMACFail)
		return
	}
	if conn.StreamID == 0 {
		conn.StreamID = StreamID(uint64(conn.TalkerEntityID)&0xffffffffffff0000 | uint64(conn.TalkerUniqueID))
	}

	l.mu.Lock()
	l.sinks[pdu.ListenerUniqueID] = &conn
	l.mu.Unlock()

	// ストリーム入力の動的情報へ反映する
	l.store.SetStreamInfo(avdecc.DescriptorStreamInput, uint16(pdu.ListenerUniqueID), avdecc.StreamInfoPayload{
		Flags:         avdecc.StreamInfoFlagConnected | avdecc.StreamInfoFlagStreamIDValid | avdecc.StreamInfoFlagDestMACValid | avdecc.StreamInfoFlagStreamVLANValid,
		StreamID:      conn.StreamID,
		StreamDestMAC: conn.StreamDestMAC,
		StreamVLANID:  conn.StreamVLANID,
	})

	slog.Info("コネクションを確立", "conn", conn)
	resp := pdu.Response(avdecc.ACMPStatusSuccess)
	resp.StreamID = conn.StreamID
	resp.StreamDestMAC = conn.StreamDestMAC
	resp.Flags = conn.Flags
	resp.StreamVLANID = conn.StreamVLANID
	resp.ConnectionCount = 1
	if err := l.transport.Send(resp.Encode(), nil); err != nil {
		slog.Error("ACMP応答の送信エラー", "err", err)
	}
	if l.notify != nil {
		l.notify(ConnectionNotification{Type: ConnectionEstablished, Connection: conn, Status: avdecc.ACMPStatusSuccess})
	}
}

func (l *ACMPListener) handleDisconnect(pdu *avdecc.ACMPDU) {
	if !l.sinkValid(pdu.ListenerUniqueID) {
		l.reply(pdu, avdecc.ACMPStatusListenerUnknownID)
		return
	}

	l.mu.Lock()
	existing := l.sinks[pdu.ListenerUniqueID]
	l.mu.Unlock()

	if existing == nil {
		l.reply(pdu, avdecc.ACMPStatusNotConnected)
		return
	}
	if existing.TalkerEntityID != pdu.TalkerEntityID || existing.TalkerUniqueID != pdu.TalkerUniqueID {
		l.reply(pdu, avdecc.ACMPStatusNoSuchConnection)
		return
	}
	if l.delegate.DisconnectRequested != nil {
		if status := l.delegate.DisconnectRequested(*existing); status != avdecc.ACMPStatusSuccess {
			l.reply(pdu, status)
			return
		}
	}

	l.mu.Lock()
	delete(l.sinks, pdu.ListenerUniqueID)
	l.mu.Unlock()

	l.store.ClearStreamInfo(avdecc.DescriptorStreamInput, uint16(pdu.ListenerUniqueID))

	slog.Info("コネクションを解放", "conn", *existing)
	l.reply(pdu, avdecc.ACMPStatusSuccess)
	if l.notify != nil {
		l.notify(ConnectionNotification{Type: ConnectionReleased, Connection: *existing, Status: avdecc.ACMPStatusSuccess})
	}
}

func (l *ACMPListener) handleGetState(pdu *avdecc.ACMPDU) {
	if !l.sinkValid(pdu.ListenerUniqueID) {
		l.reply(pdu, avdecc.ACMPStatusListenerUnknownID)
		return
	}

	l.mu.Lock()
	existing := l.sinks[pdu.ListenerUniqueID]
	l.mu.Unlock()

	resp := pdu.Response(avdecc.ACMPStatusSuccess)
	if existing != nil {
		resp.StreamID = existing.StreamID
		resp.TalkerEntityID = existing.TalkerEntityID
		resp.TalkerUniqueID = existing.TalkerUniqueID
		resp.StreamDestMAC = existing.StreamDestMAC
		resp.Flags = existing.Flags
		resp.StreamVLANID = existing.StreamVLANID
		resp.ConnectionCount = 1
	} else {
		resp.ConnectionCount = 0
	}
	if err := l.transport.Send(resp.Encode(), nil); err != nil {
		slog.Error("ACMP応答の送信エラー", "err", err)
	}
}

// Connection は指定シンクの現在のコネクションを返します。
func (l *ACMPListener) Connection(uid UniqueID) (ConnectionInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn := l.sinks[uid]
	if conn == nil {
		return ConnectionInfo{}, false
	}
	return *conn, true
}

// Connections は現在のコネクション一覧を返します。
func (l *ACMPListener) Connections() []ConnectionInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := make([]ConnectionInfo, 0, len(l.sinks))
	for _, conn := range l.sinks {
		list = append(list, *conn)
	}
	return list
}

// PurgeEntity は離脱・再起動したトーカーに紐づくコネクションを破棄します。
func (l *ACMPListener) PurgeEntity(id EntityID) {
	l.mu.Lock()
	var purged []ConnectionInfo
	for uid, conn := range l.sinks {
		if conn.TalkerEntityID == id {
			purged = append(purged, *conn)
			delete(l.sinks, uid)
		}
	}
	l.mu.Unlock()

	for _, conn := range purged {
		l.store.ClearStreamInfo(avdecc.DescriptorStreamInput, uint16(conn.ListenerUniqueID))
		slog.Info("トーカー消失によりコネクションを破棄", "conn", conn)
		if l.notify != nil {
			l.notify(ConnectionNotification{Type: ConnectionReleased, Connection: conn, Status: avdecc.ACMPStatusListenerTalkerTimeout})
		}
	}
}
