package handler

import (
	"log/slog"
	"net"
	"time"

	"avdecc-list/avdecc"
)

// AEMResponseCallback はAEMコマンドの終端時に呼ばれるコールバックです。
// タイムアウト・取り消し時は resp が nil になります。
type AEMResponseCallback func(resp *avdecc.AECPDU, result CommandResult)

// AECPController はリモートエンティティへAEMコマンドを発行するエンジンです。
// 発行したコマンドは未応答表に登録され、応答はsequence_idで照合されます。
// 再送はTickで駆動され、同じsequence_idのまま繰り返されます。
type AECPController struct {
	transport   Transport
	localID     EntityID
	inflight    *inflightTable[*avdecc.AECPDU]
	resolve     func(EntityID) net.IP // エンティティIDから送信先アドレスを引く（nil可）
	unsolicited AEMResponseCallback   // uビット付き通知の受け口（nil可）
	now         func() time.Time
}

func NewAECPController(transport Transport, localID EntityID, cfg CommandConfig, now func() time.Time) *AECPController {
	if now == nil {
		now = time.Now
	}
	return &AECPController{
		transport: transport,
		localID:   localID,
		inflight:  newInflightTable[*avdecc.AECPDU](cfg, transport.Send),
		now:       now,
	}
}

// SetAddressResolver はエンティティIDから送信先アドレスを引く関数を設定します。
// 未設定または解決できないときはマルチキャストで送ります。
func (c *AECPController) SetAddressResolver(resolve func(EntityID) net.IP) {
	c.resolve = resolve
}

// SetUnsolicitedHandler は非請求通知の受け口を設定します。
func (c *AECPController) SetUnsolicitedHandler(handler AEMResponseCallback) {
	c.unsolicited = handler
}

// sendCommand はAEMコマンドを組み立てて送信し、未応答表に登録します。
func (c *AECPController) sendCommand(target EntityID, commandType avdecc.AEMCommandType, payload []byte, callback AEMResponseCallback) error {
	var dest net.IP
	if c.resolve != nil {
		dest = c.resolve(target)
	}
	data := c.inflight.Register(target, commandType.String(), dest, c.now(),
		func(seq SequenceID) []byte {
			pdu := &avdecc.AECPDU{
				MessageType:        avdecc.AECPAEMCommand,
				TargetEntityID:     target,
				ControllerEntityID: c.localID,
				SequenceID:         seq,
				CommandType:        commandType,
				Payload:            payload,
			}
			return pdu.Encode()
		},
		func(resp *avdecc.AECPDU, result CommandResult) {
			if callback != nil {
				callback(resp, result)
			}
		})
	slog.Debug("AEMコマンドを送信", "command", commandType, "target", target)
	return c.transport.Send(data, dest)
}

// AcquireEntity はエンティティの所有権を要求します。
func (c *AECPController) AcquireEntity(target EntityID, persistent bool, callback AEMResponseCallback) error {
	var flags uint32
	if persistent {
		flags |= avdecc.AcquireFlagPersistent
	}
	payload := avdecc.AcquireEntityPayload{
		Flags:          flags,
		DescriptorType: avdecc.DescriptorEntity,
	}
	return c.sendCommand(target, avdecc.AEMAcquireEntity, payload.Encode(), callback)
}

// ReleaseEntity はAcquireの所有権を解放します。
func (c *AECPController) ReleaseEntity(target EntityID, callback AEMResponseCallback) error {
	payload := avdecc.AcquireEntityPayload{
		Flags:          avdecc.AcquireFlagRelease,
		DescriptorType: avdecc.DescriptorEntity,
	}
	return c.sendCommand(target, avdecc.AEMAcquireEntity, payload.Encode(), callback)
}

// LockEntity はエンティティをロックします。
func (c *AECPController) LockEntity(target EntityID, callback AEMResponseCallback) error {
	payload := avdecc.LockEntityPayload{DescriptorType: avdecc.DescriptorEntity}
	return c.sendCommand(target, avdecc.AEMLockEntity, payload.Encode(), callback)
}

// UnlockEntity はロックを解放します。
func (c *AECPController) UnlockEntity(target EntityID, callback AEMResponseCallback) error {
	payload := avdecc.LockEntityPayload{
		Flags:          avdecc.LockFlagUnlock,
		DescriptorType: avdecc.DescriptorEntity,
	}
	return c.sendCommand(target, avdecc.AEMLockEntity, payload.Encode(), callback)
}

// EntityAvailable は対象エンティティの生存確認を送ります。
func (c *AECPController) EntityAvailable(target EntityID, callback AEMResponseCallback) error {
	return c.sendCommand(target, avdecc.AEMEntityAvailable, nil, callback)
}

// ReadDescriptor は指定ディスクリプタの読み出しを要求します。
func (c *AECPController) ReadDescriptor(target EntityID, configurationIndex uint16, descriptorType avdecc.DescriptorType, descriptorIndex uint16, callback AEMResponseCallback) error {
	payload := avdecc.ReadDescriptorCommand{
		ConfigurationIndex: configurationIndex,
		DescriptorType:     descriptorType,
		DescriptorIndex:    descriptorIndex,
	}
	return c.sendCommand(target, avdecc.AEMReadDescriptor, payload.Encode(), callback)
}

// WriteDescriptor はディスクリプタの書き換え（名前フィールド）を要求します。
// descriptorData にはエンコード済みのディスクリプタ本体を渡します。
func (c *AECPController) WriteDescriptor(target EntityID, configurationIndex uint16, descriptorData []byte, callback AEMResponseCallback) error {
	payload := avdecc.ReadDescriptorResponse{
		ConfigurationIndex: configurationIndex,
		DescriptorData:     descriptorData,
	}
	return c.sendCommand(target, avdecc.AEMWriteDescriptor, payload.Encode(), callback)
}

// SetConfiguration は現在コンフィギュレーションの変更を要求します。
func (c *AECPController) SetConfiguration(target EntityID, index uint16, callback AEMResponseCallback) error {
	payload := avdecc.ConfigurationPayload{ConfigurationIndex: index}
	return c.sendCommand(target, avdecc.AEMSetConfiguration, payload.Encode(), callback)
}

// GetConfiguration は現在コンフィギュレーションを問い合わせます。
func (c *AECPController) GetConfiguration(target EntityID, callback AEMResponseCallback) error {
	return c.sendCommand(target, avdecc.AEMGetConfiguration, nil, callback)
}

// SetStreamFormat はストリームフォーマットの変更を要求します。
func (c *AECPController) SetStreamFormat(target EntityID, descriptorType avdecc.DescriptorType, descriptorIndex uint16, format uint64, callback AEMResponseCallback) error {
	payload := avdecc.StreamFormatPayload{
		DescriptorType:  descriptorType,
		DescriptorIndex: descriptorIndex,
		StreamFormat:    format,
	}
	return c.sendCommand(target, avdecc.AEMSetStreamFormat, payload.Encode(), callback)
}

// GetStreamFormat は現在のストリームフォーマットを問い合わせます。
func (c *AECPController) GetStreamFormat(target EntityID, descriptorType avdecc.DescriptorType, descriptorIndex uint16, callback AEMResponseCallback) error {
	payload := avdecc.DescriptorRef{DescriptorType: descriptorType, DescriptorIndex: descriptorIndex}
	return c.sendCommand(target, avdecc.AEMGetStreamFormat, payload.Encode(), callback)
}

// SetStreamInfo は動的ストリーム情報の更新を要求します。validフラグ付きフィールドのみ適用されます。
func (c *AECPController) SetStreamInfo(target EntityID, info avdecc.StreamInfoPayload, callback AEMResponseCallback) error {
	return c.sendCommand(target, avdecc.AEMSetStreamInfo, info.Encode(), callback)
}

// GetStreamInfo は動的ストリーム情報を問い合わせます。
func (c *AECPController) GetStreamInfo(target EntityID, descriptorType avdecc.DescriptorType, descriptorIndex uint16, callback AEMResponseCallback) error {
	payload := avdecc.DescriptorRef{DescriptorType: descriptorType, DescriptorIndex: descriptorIndex}
	return c.sendCommand(target, avdecc.AEMGetStreamInfo, payload.Encode(), callback)
}

// StartStreaming はストリーミング開始を要求します。
func (c *AECPController) StartStreaming(target EntityID, descriptorType avdecc.DescriptorType, descriptorIndex uint16, callback AEMResponseCallback) error {
	payload := avdecc.DescriptorRef{DescriptorType: descriptorType, DescriptorIndex: descriptorIndex}
	return c.sendCommand(target, avdecc.AEMStartStreaming, payload.Encode(), callback)
}

// StopStreaming はストリーミング停止を要求します。
func (c *AECPController) StopStreaming(target EntityID, descriptorType avdecc.DescriptorType, descriptorIndex uint16, callback AEMResponseCallback) error {
	payload := avdecc.DescriptorRef{DescriptorType: descriptorType, DescriptorIndex: descriptorIndex}
	return c.sendCommand(target, avdecc.AEMStopStreaming, payload.Encode(), callback)
}

// GetAVBInfo はAVBインターフェースの動的情報を問い合わせます。
func (c *AECPController) GetAVBInfo(target EntityID, descriptorIndex uint16, callback AEMResponseCallback) error {
	payload := avdecc.DescriptorRef{DescriptorType: avdecc.DescriptorAVBInterface, DescriptorIndex: descriptorIndex}
	return c.sendCommand(target, avdecc.AEMGetAVBInfo, payload.Encode(), callback)
}

// GetAudioMap はストリームのオーディオマッピングを問い合わせます。
func (c *AECPController) GetAudioMap(target EntityID, descriptorType avdecc.DescriptorType, descriptorIndex uint16, mapIndex uint16, callback AEMResponseCallback) error {
	payload := avdecc.GetAudioMapCommand{
		DescriptorType:  descriptorType,
		DescriptorIndex: descriptorIndex,
		MapIndex:        mapIndex,
	}
	return c.sendCommand(target, avdecc.AEMGetAudioMap, payload.Encode(), callback)
}

// RegisterUnsolicited は対象エンティティへ非請求通知の購読を登録します。
func (c *AECPController) RegisterUnsolicited(target EntityID, callback AEMResponseCallback) error {
	return c.sendCommand(target, avdecc.AEMRegisterUnsolicited, nil, callback)
}

// DeregisterUnsolicited は非請求通知の購読を解除します。
func (c *AECPController) DeregisterUnsolicited(target EntityID, callback AEMResponseCallback) error {
	return c.sendCommand(target, avdecc.AEMDeregisterUnsolicited, nil, callback)
}

// HandleAECPDU は受信したAECP PDUをこのコントローラーの未応答コマンドと照合します。
// uビット付きのAEM_RESPONSEは未応答表を経由せず非請求通知として扱います。
func (c *AECPController) HandleAECPDU(pdu *avdecc.AECPDU) {
	if pdu.MessageType != avdecc.AECPAEMResponse {
		return
	}
	if pdu.ControllerEntityID != c.localID {
		return
	}
	if pdu.Unsolicited {
		slog.Debug("非請求通知を受信", "target", pdu.TargetEntityID, "command", pdu.CommandType, "status", pdu.Status)
		if c.unsolicited != nil {
			c.unsolicited(pdu, ResultResponse)
		}
		return
	}
	if !c.inflight.HandleResponse(pdu.SequenceID, pdu) {
		slog.Debug("対応しないAEM応答を無視", "seq", pdu.SequenceID, "command", pdu.CommandType)
	}
}

// Tick は期限切れコマンドの再送とタイムアウト終端を行います。
func (c *AECPController) Tick(now time.Time) {
	c.inflight.Tick(now)
}

// CancelTarget は離脱・再起動したエンティティ宛の未応答コマンドを取り消します。
func (c *AECPController) CancelTarget(target EntityID) {
	c.inflight.CancelTarget(target)
}

// Close は未応答コマンドをすべて取り消し扱いで終端します。
func (c *AECPController) Close() {
	c.inflight.CancelAll()
}
