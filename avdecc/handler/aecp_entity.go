package handler

import (
	"log/slog"
	"sync"

	"avdecc-list/avdecc"
	"avdecc-list/avdecc/entitymodel"
)

// AECPEntity はローカルエンティティに宛てられたAEMコマンドを処理するエンジンです。
// コマンドの適用先はエンティティモデルのストアで、応答は常にコマンドと同じ
// sequence_id を返します。状態変更コマンドが成功したときは、登録済みの
// コントローラーへuビット付きの非請求通知を配布します。
type AECPEntity struct {
	mu          sync.Mutex
	transport   Transport
	store       *entitymodel.Store
	clock       ClockSource
	subscribers map[EntityID]*unsolicitedSubscriber
}

// unsolicitedSubscriber はREGISTER_UNSOLICITED_NOTIFICATIONで登録された
// コントローラーを表します。通知のsequence_idは購読者ごとに独立して進めます。
type unsolicitedSubscriber struct {
	controllerID EntityID
	nextSequence SequenceID
}

func NewAECPEntity(transport Transport, store *entitymodel.Store, clock ClockSource) *AECPEntity {
	return &AECPEntity{
		transport:   transport,
		store:       store,
		clock:       clock,
		subscribers: make(map[EntityID]*unsolicitedSubscriber),
	}
}

// HandleAECPDU は受信したAECP PDUを処理します。
// ローカルエンティティ宛てのAEM_COMMAND以外は何もしません。
func (e *AECPEntity) HandleAECPDU(pdu *avdecc.AECPDU) {
	if pdu.MessageType != avdecc.AECPAEMCommand {
		return
	}
	if pdu.TargetEntityID != e.store.EntityID() {
		return
	}

	status, payload := e.execute(pdu)
	resp := pdu.Response(status, payload)
	if err := e.transport.Send(resp.Encode(), nil); err != nil {
		slog.Error("AEM応答の送信エラー", "command", pdu.CommandType, "err", err)
		return
	}
	slog.Debug("AEMコマンドを処理", "command", pdu.CommandType, "controller", pdu.ControllerEntityID, "status", status)

	if status == avdecc.AEMStatusSuccess && isStateChangingCommand(pdu.CommandType) {
		e.notifyUnsolicited(resp)
	}
}

// execute はコマンド種別に応じた処理を行い、応答のステータスとペイロードを返します。
func (e *AECPEntity) execute(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	switch pdu.CommandType {
	case avdecc.AEMAcquireEntity:
		return e.acquireEntity(pdu)
	case avdecc.AEMLockEntity:
		return e.lockEntity(pdu)
	case avdecc.AEMEntityAvailable:
		// 生存確認のみ。成功応答を返せばよい
		return avdecc.AEMStatusSuccess, pdu.Payload
	case avdecc.AEMReadDescriptor:
		return e.readDescriptor(pdu)
	case avdecc.AEMWriteDescriptor:
		return e.writeDescriptor(pdu)
	case avdecc.AEMSetConfiguration:
		return e.setConfiguration(pdu)
	case avdecc.AEMGetConfiguration:
		payload := avdecc.ConfigurationPayload{ConfigurationIndex: e.store.CurrentConfiguration()}
		return avdecc.AEMStatusSuccess, payload.Encode()
	case avdecc.AEMSetStreamFormat:
		return e.setStreamFormat(pdu)
	case avdecc.AEMGetStreamFormat:
		return e.getStreamFormat(pdu)
	case avdecc.AEMSetStreamInfo:
		return e.setStreamInfo(pdu)
	case avdecc.AEMGetStreamInfo:
		return e.getStreamInfo(pdu)
	case avdecc.AEMStartStreaming:
		return e.setStreaming(pdu, true)
	case avdecc.AEMStopStreaming:
		return e.setStreaming(pdu, false)
	case avdecc.AEMRegisterUnsolicited:
		e.registerSubscriber(pdu.ControllerEntityID)
		return avdecc.AEMStatusSuccess, pdu.Payload
	case avdecc.AEMDeregisterUnsolicited:
		e.deregisterSubscriber(pdu.ControllerEntityID)
		return avdecc.AEMStatusSuccess, pdu.Payload
	case avdecc.AEMGetAVBInfo:
		return e.getAVBInfo(pdu)
	case avdecc.AEMGetAudioMap:
		return e.getAudioMap(pdu)
	default:
		// 未対応コマンドはペイロードをそのまま返す
		return avdecc.AEMStatusNotImplemented, pdu.Payload
	}
}

// isStateChangingCommand は非請求通知の対象になるコマンドかどうかを返します。
func isStateChangingCommand(t avdecc.AEMCommandType) bool {
	switch t {
	case avdecc.AEMAcquireEntity,
		avdecc.AEMLockEntity,
		avdecc.AEMWriteDescriptor,
		avdecc.AEMSetConfiguration,
		avdecc.AEMSetStreamFormat,
		avdecc.AEMSetStreamInfo,
		avdecc.AEMStartStreaming,
		avdecc.AEMStopStreaming:
		return true
	default:
		return false
	}
}

func (e *AECPEntity) acquireEntity(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	cmd, err := avdecc.DecodeAcquireEntityPayload(pdu.Payload)
	if err != nil {
		slog.Debug("ACQUIRE_ENTITYペイロードのデコードエラー", "err", err)
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	// エンティティ全体の所有のみ対応する
	if cmd.DescriptorType != avdecc.DescriptorEntity || cmd.DescriptorIndex != 0 {
		return avdecc.AEMStatusNotSupported, pdu.Payload
	}

	var owner EntityID
	var status avdecc.AEMStatus
	if cmd.Flags&avdecc.AcquireFlagRelease != 0 {
		owner, status = e.store.Release(pdu.ControllerEntityID)
	} else {
		persistent := cmd.Flags&avdecc.AcquireFlagPersistent != 0
		owner, status = e.store.Acquire(pdu.ControllerEntityID, persistent)
	}
	resp := avdecc.AcquireEntityPayload{
		Flags:           cmd.Flags,
		OwnerEntityID:   owner,
		DescriptorType:  cmd.DescriptorType,
		DescriptorIndex: cmd.DescriptorIndex,
	}
	return status, resp.Encode()
}

func (e *AECPEntity) lockEntity(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	cmd, err := avdecc.DecodeLockEntityPayload(pdu.Payload)
	if err != nil {
		slog.Debug("LOCK_ENTITYペイロードのデコードエラー", "err", err)
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	if cmd.DescriptorType != avdecc.DescriptorEntity || cmd.DescriptorIndex != 0 {
		return avdecc.AEMStatusNotSupported, pdu.Payload
	}

	var owner EntityID
	var status avdecc.AEMStatus
	if cmd.Flags&avdecc.LockFlagUnlock != 0 {
		owner, status = e.store.Unlock(pdu.ControllerEntityID)
	} else {
		owner, status = e.store.Lock(pdu.ControllerEntityID)
	}
	resp := avdecc.LockEntityPayload{
		Flags:           cmd.Flags,
		LockedEntityID:  owner,
		DescriptorType:  cmd.DescriptorType,
		DescriptorIndex: cmd.DescriptorIndex,
	}
	return status, resp.Encode()
}

func (e *AECPEntity) readDescriptor(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	cmd, err := avdecc.DecodeReadDescriptorCommand(pdu.Payload)
	if err != nil {
		slog.Debug("READ_DESCRIPTORペイロードのデコードエラー", "err", err)
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	data, status := e.store.ReadDescriptor(cmd.ConfigurationIndex, cmd.DescriptorType, cmd.DescriptorIndex)
	if status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	resp := avdecc.ReadDescriptorResponse{
		ConfigurationIndex: cmd.ConfigurationIndex,
		DescriptorData:     data,
	}
	return avdecc.AEMStatusSuccess, resp.Encode()
}

// writeDescriptor はWRITE_DESCRIPTORを処理します。対応するのは名前フィールドの
// 書き換えのみで、その他のフィールドの変更は受け付けません。
// ペイロードは configuration_index(2) + reserved(2) + ディスクリプタ本体です。
func (e *AECPEntity) writeDescriptor(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	if status := e.store.CheckControlAccess(pdu.ControllerEntityID); status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	cmd, err := avdecc.DecodeReadDescriptorResponse(pdu.Payload)
	if err != nil || len(cmd.DescriptorData) < 4 {
		slog.Debug("WRITE_DESCRIPTORペイロードのデコードエラー", "err", err)
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}

	data := cmd.DescriptorData
	descriptorType := avdecc.DescriptorType(uint16(data[0])<<8 | uint16(data[1]))
	descriptorIndex := uint16(data[2])<<8 | uint16(data[3])

	// 名前フィールドの位置はENTITYだけ異なる
	var name avdecc.ObjectName
	switch descriptorType {
	case avdecc.DescriptorEntity:
		if len(data) < 112 {
			return avdecc.AEMStatusBadArguments, pdu.Payload
		}
		copy(name[:], data[48:112])
	case avdecc.DescriptorConfiguration, avdecc.DescriptorStreamInput, avdecc.DescriptorStreamOutput:
		if len(data) < 68 {
			return avdecc.AEMStatusBadArguments, pdu.Payload
		}
		copy(name[:], data[4:68])
	default:
		return avdecc.AEMStatusNotSupported, pdu.Payload
	}

	status := e.store.WriteObjectName(cmd.ConfigurationIndex, descriptorType, descriptorIndex, name)
	if status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	slog.Info("ディスクリプタ名を更新", "type", descriptorType, "index", descriptorIndex, "name", name)
	return avdecc.AEMStatusSuccess, pdu.Payload
}

func (e *AECPEntity) setConfiguration(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	if status := e.store.CheckControlAccess(pdu.ControllerEntityID); status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	cmd, err := avdecc.DecodeConfigurationPayload(pdu.Payload)
	if err != nil {
		slog.Debug("SET_CONFIGURATIONペイロードのデコードエラー", "err", err)
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	status := e.store.SetCurrentConfiguration(cmd.ConfigurationIndex)
	// 応答には適用後の現在値を載せる（失敗時は変更前の値になる）
	resp := avdecc.ConfigurationPayload{ConfigurationIndex: e.store.CurrentConfiguration()}
	if status == avdecc.AEMStatusSuccess {
		slog.Info("コンフィギュレーションを変更", "index", cmd.ConfigurationIndex)
	}
	return status, resp.Encode()
}

func (e *AECPEntity) setStreamFormat(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	if status := e.store.CheckControlAccess(pdu.ControllerEntityID); status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	cmd, err := avdecc.DecodeStreamFormatPayload(pdu.Payload)
	if err != nil {
		slog.Debug("SET_STREAM_FORMATペイロードのデコードエラー", "err", err)
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	status := e.store.SetStreamFormat(cmd.DescriptorType, cmd.DescriptorIndex, cmd.StreamFormat)
	if status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	slog.Info("ストリームフォーマットを変更", "type", cmd.DescriptorType, "index", cmd.DescriptorIndex, "format", cmd.StreamFormat)
	return avdecc.AEMStatusSuccess, cmd.Encode()
}

func (e *AECPEntity) getStreamFormat(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	ref, err := avdecc.DecodeDescriptorRef(pdu.Payload)
	if err != nil {
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	format, status := e.store.StreamFormat(ref.DescriptorType, ref.DescriptorIndex)
	if status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	resp := avdecc.StreamFormatPayload{
		DescriptorType:  ref.DescriptorType,
		DescriptorIndex: ref.DescriptorIndex,
		StreamFormat:    format,
	}
	return avdecc.AEMStatusSuccess, resp.Encode()
}

func (e *AECPEntity) setStreamInfo(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	if status := e.store.CheckControlAccess(pdu.ControllerEntityID); status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	cmd, err := avdecc.DecodeStreamInfoPayload(pdu.Payload)
	if err != nil {
		slog.Debug("SET_STREAM_INFOペイロードのデコードエラー", "err", err)
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	status := e.store.SetStreamInfo(cmd.DescriptorType, cmd.DescriptorIndex, *cmd)
	if status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	// 応答は適用後の全体を返す
	info, status := e.store.StreamInfo(cmd.DescriptorType, cmd.DescriptorIndex)
	if status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	return avdecc.AEMStatusSuccess, info.Encode()
}

func (e *AECPEntity) getStreamInfo(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	ref, err := avdecc.DecodeDescriptorRef(pdu.Payload)
	if err != nil {
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	info, status := e.store.StreamInfo(ref.DescriptorType, ref.DescriptorIndex)
	if status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	return avdecc.AEMStatusSuccess, info.Encode()
}

func (e *AECPEntity) setStreaming(pdu *avdecc.AECPDU, streaming bool) (avdecc.AEMStatus, []byte) {
	if status := e.store.CheckControlAccess(pdu.ControllerEntityID); status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	ref, err := avdecc.DecodeDescriptorRef(pdu.Payload)
	if err != nil {
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	status := e.store.SetStreaming(ref.DescriptorType, ref.DescriptorIndex, streaming)
	if status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	slog.Info("ストリーミング状態を変更", "type", ref.DescriptorType, "index", ref.DescriptorIndex, "streaming", streaming)
	return avdecc.AEMStatusSuccess, ref.Encode()
}

// getAVBInfo はAVB_INTERFACEディスクリプタとgPTPプロバイダの現在値から応答を組み立てます。
func (e *AECPEntity) getAVBInfo(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	ref, err := avdecc.DecodeDescriptorRef(pdu.Payload)
	if err != nil {
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	if ref.DescriptorType != avdecc.DescriptorAVBInterface {
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	iface, status := e.store.AVBInterface(ref.DescriptorIndex)
	if status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}

	info := avdecc.AVBInfoPayload{
		GPTPGrandmasterID: iface.ClockIdentity,
		GPTPDomainNumber:  iface.DomainNumber,
		Flags:             avdecc.AVBInfoFlagASCapable | avdecc.AVBInfoFlagGPTPEnabled,
	}
	if e.clock != nil {
		// gPTP層が生きていればそちらの現在値を優先する
		info.GPTPGrandmasterID = e.clock.GrandmasterID()
		info.GPTPDomainNumber = e.clock.DomainNumber()
	}
	return avdecc.AEMStatusSuccess, info.Encode()
}

func (e *AECPEntity) getAudioMap(pdu *avdecc.AECPDU) (avdecc.AEMStatus, []byte) {
	cmd, err := avdecc.DecodeGetAudioMapCommand(pdu.Payload)
	if err != nil {
		return avdecc.AEMStatusBadArguments, pdu.Payload
	}
	mappings, status := e.store.AudioMap(cmd.DescriptorType, cmd.DescriptorIndex, cmd.MapIndex)
	if status != avdecc.AEMStatusSuccess {
		return status, pdu.Payload
	}
	resp := avdecc.GetAudioMapResponse{
		DescriptorType:  cmd.DescriptorType,
		DescriptorIndex: cmd.DescriptorIndex,
		MapIndex:        cmd.MapIndex,
		NumberOfMaps:    1,
		Mappings:        mappings,
	}
	return avdecc.AEMStatusSuccess, resp.Encode()
}

func (e *AECPEntity) registerSubscriber(controller EntityID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subscribers[controller]; ok {
		return
	}
	e.subscribers[controller] = &unsolicitedSubscriber{controllerID: controller}
	slog.Info("非請求通知の購読を登録", "controller", controller)
}

func (e *AECPEntity) deregisterSubscriber(controller EntityID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subscribers[controller]; !ok {
		return
	}
	delete(e.subscribers, controller)
	slog.Info("非請求通知の購読を解除", "controller", controller)
}

// notifyUnsolicited は成功した状態変更応答のコピーを各購読者に配布します。
// コマンドの発行元には通常応答が届いているため除外します。
func (e *AECPEntity) notifyUnsolicited(resp *avdecc.AECPDU) {
	e.mu.Lock()
	notices := make([]*avdecc.AECPDU, 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		if sub.controllerID == resp.ControllerEntityID {
			continue
		}
		n := *resp
		n.ControllerEntityID = sub.controllerID
		n.SequenceID = sub.nextSequence
		n.Unsolicited = true
		sub.nextSequence++
		notices = append(notices, &n)
	}
	e.mu.Unlock()

	for _, n := range notices {
		if err := e.transport.Send(n.Encode(), nil); err != nil {
			slog.Error("非請求通知の送信エラー", "controller", n.ControllerEntityID, "err", err)
		}
	}
}

// PurgeEntity は離脱したコントローラーの購読を破棄します。
func (e *AECPEntity) PurgeEntity(id EntityID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subscribers[id]; ok {
		delete(e.subscribers, id)
		slog.Info("離脱したコントローラーの購読を破棄", "controller", id)
	}
}

// Close は全購読を破棄します。
func (e *AECPEntity) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = make(map[EntityID]*unsolicitedSubscriber)
}
