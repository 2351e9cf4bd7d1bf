package handler

import (
	"log/slog"
	"net"
	"time"

	"avdecc-list/avdecc"
)

// ACMPResponseCallback はコントローラーコマンドの終端結果を受け取ります。
// result が ResultResponse のときのみ resp は非nilです。
type ACMPResponseCallback func(resp *avdecc.ACMPDU, result CommandResult)

// ACMPController はACMPのコントローラーロールのステートマシンを表します。
// connect / disconnect / get state / get connection を発行し、未応答コマンドは
// シーケンスIDで照合される inflight 表で管理します。
type ACMPController struct {
	transport Transport
	localID   EntityID
	inflight  *inflightTable[*avdecc.ACMPDU]
	now       func() time.Time
}

func NewACMPController(transport Transport, localID EntityID, cfg CommandConfig, now func() time.Time) *ACMPController {
	if now == nil {
		now = time.Now
	}
	return &ACMPController{
		transport: transport,
		localID:   localID,
		inflight: newInflightTable[*avdecc.ACMPDU](cfg, func(data []byte, dest net.IP) error {
			return transport.Send(data, dest)
		}),
		now: now,
	}
}

// sendCommand はPDUを組み立てて未応答表に登録し、マルチキャスト送信します。
func (c *ACMPController) sendCommand(pdu avdecc.ACMPDU, callback ACMPResponseCallback) error {
	pdu.ControllerEntityID = c.localID
	target := pdu.TalkerEntityID
	if pdu.MessageType == avdecc.ACMPConnectRXCommand ||
		pdu.MessageType == avdecc.ACMPDisconnectRXCommand ||
		pdu.MessageType == avdecc.ACMPGetRXStateCommand {
		target = pdu.ListenerEntityID
	}
	data := c.inflight.Register(target, pdu.MessageType.String(), nil, c.now(),
		func(seq SequenceID) []byte {
			pdu.SequenceID = seq
			return pdu.Encode()
		},
		func(resp *avdecc.ACMPDU, result CommandResult) {
			if callback != nil {
				callback(resp, result)
			}
		})
	return c.transport.Send(data, nil)
}

// Connect はリスナーへ接続要求（CONNECT_RX_COMMAND）を送ります。
func (c *ACMPController) Connect(talker EntityID, talkerUID UniqueID, listener EntityID, listenerUID UniqueID, flags uint16, callback ACMPResponseCallback) error {
	slog.Debug("接続要求を送信", "talker", talker, "talkerUID", talkerUID, "listener", listener, "listenerUID", listenerUID)
	return c.sendCommand(avdecc.ACMPDU{
		MessageType:      avdecc.ACMPConnectRXCommand,
		TalkerEntityID:   talker,
		TalkerUniqueID:   talkerUID,
		ListenerEntityID: listener,
		ListenerUniqueID: listenerUID,
		Flags:            flags,
	}, callback)
}

// Disconnect はリスナーへ切断要求（DISCONNECT_RX_COMMAND）を送ります。
func (c *ACMPController) Disconnect(talker EntityID, talkerUID UniqueID, listener EntityID, listenerUID UniqueID, callback ACMPResponseCallback) error {
	slog.Debug("切断要求を送信", "talker", talker, "listener", listener)
	return c.sendCommand(avdecc.ACMPDU{
		MessageType:      avdecc.ACMPDisconnectRXCommand,
		TalkerEntityID:   talker,
		TalkerUniqueID:   talkerUID,
		ListenerEntityID: listener,
		ListenerUniqueID: listenerUID,
	}, callback)
}

// GetListenerState はリスナーシンクの接続状態を照会します（GET_RX_STATE_COMMAND）。
func (c *ACMPController) GetListenerState(listener EntityID, listenerUID UniqueID, callback ACMPResponseCallback) error {
	return c.sendCommand(avdecc.ACMPDU{
		MessageType:      avdecc.ACMPGetRXStateCommand,
		ListenerEntityID: listener,
		ListenerUniqueID: listenerUID,
	}, callback)
}

// GetTalkerState はトーカーソースの状態を照会します（GET_TX_STATE_COMMAND）。
func (c *ACMPController) GetTalkerState(talker EntityID, talkerUID UniqueID, callback ACMPResponseCallback) error {
	return c.sendCommand(avdecc.ACMPDU{
		MessageType:    avdecc.ACMPGetTXStateCommand,
		TalkerEntityID: talker,
		TalkerUniqueID: talkerUID,
	}, callback)
}

// GetTalkerConnection はトーカーのn番目のコネクションを照会します
// （GET_TX_CONNECTION_COMMAND、connection_countフィールドで番号を指定）。
func (c *ACMPController) GetTalkerConnection(talker EntityID, talkerUID UniqueID, index uint16, callback ACMPResponseCallback) error {
	return c.sendCommand(avdecc.ACMPDU{
		MessageType:     avdecc.ACMPGetTXConnectionCommand,
		TalkerEntityID:  talker,
		TalkerUniqueID:  talkerUID,
		ConnectionCount: index,
	}, callback)
}

// HandleACMPDU は自分宛の応答を未応答表に照合します。
// シーケンスIDが一致しない応答は無視されます。
func (c *ACMPController) HandleACMPDU(pdu *avdecc.ACMPDU) {
	if pdu.MessageType.IsCommand() {
		return
	}
	if pdu.ControllerEntityID != c.localID {
		return
	}
	if !c.inflight.HandleResponse(pdu.SequenceID, pdu) {
		slog.Debug("対応しないACMP応答を無視", "seq", pdu.SequenceID, "type", pdu.MessageType)
	}
}

// Tick は再送とタイムアウト判定を行います。
func (c *ACMPController) Tick(now time.Time) {
	c.inflight.Tick(now)
}

// CancelTarget は特定エンティティ宛の未応答コマンドを取り消します。
func (c *ACMPController) CancelTarget(target EntityID) {
	c.inflight.CancelTarget(target)
}

// Close は未応答コマンドをすべて取り消し扱いで終端させます。
func (c *ACMPController) Close() {
	c.inflight.CancelAll()
}
