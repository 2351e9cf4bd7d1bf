// Package entitymodel はAEMエンティティモデル（ディスクリプタ表と動的状態）を
// メモリ上に保持するストアを提供します。
package entitymodel

import (
	"sync"

	"avdecc-list/avdecc"
)

// Delegate はローカルポリシー判断をエンティティモデルの実装側に委ねるための
// コールバック集合を表します。nil のフィールドは既定動作（許可）になります。
type Delegate struct {
	// ValidateConfiguration はSET_CONFIGURATIONの適用可否を判断する
	ValidateConfiguration func(index uint16) bool
	// OverrideDescriptor はREAD_DESCRIPTORの応答を差し替える（okがtrueのとき採用）
	OverrideDescriptor func(configurationIndex uint16, descriptorType avdecc.DescriptorType, descriptorIndex uint16) (data []byte, ok bool)
	// ValidateStreamFormat はSET_STREAM_FORMATの適用可否を判断する
	ValidateStreamFormat func(descriptorType avdecc.DescriptorType, descriptorIndex uint16, format uint64) bool
}

// StreamState はストリーム入出力ディスクリプタとその動的状態を表します。
type StreamState struct {
	Descriptor avdecc.StreamDescriptor
	Info       avdecc.StreamInfoPayload // 動的ストリーム情報
	Streaming  bool                     // START_STREAMING中か
	Mappings   []avdecc.AudioMapping    // オーディオチャンネルマッピング
}

// Configuration はひとつのコンフィギュレーションに属するディスクリプタ群を表します。
type Configuration struct {
	Descriptor    avdecc.ConfigurationDescriptor
	StreamInputs  []*StreamState
	StreamOutputs []*StreamState
	AVBInterfaces []avdecc.AVBInterfaceDescriptor
	ClockSources  []avdecc.ClockSourceDescriptor
}

// Store はエンティティモデルのインメモリ表を表します。
// ディスクリプタは（種別, インデックス）で引き、動的状態（現在コンフィギュレーション、
// ストリーム情報、Acquire/Lock所有者）もここで一元管理します。
// すべてのアクセスは内部のRWMutexで保護されます。
type Store struct {
	mu                sync.RWMutex
	entity            avdecc.EntityDescriptor
	configurations    []*Configuration
	acquireOwner      avdecc.EntityID
	acquirePersistent bool
	lockOwner         avdecc.EntityID
	delegate          Delegate
}

func NewStore(entity avdecc.EntityDescriptor, configurations ...*Configuration) *Store {
	entity.ConfigurationsCount = uint16(len(configurations))
	return &Store{
		entity:         entity,
		configurations: configurations,
	}
}

func (s *Store) SetDelegate(d Delegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = d
}

// EntityID はストアが表すエンティティのIDを返す
func (s *Store) EntityID() avdecc.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entity.EntityID
}

// EntityDescriptor は現在の動的状態を反映したENTITYディスクリプタのコピーを返します。
func (s *Store) EntityDescriptor() avdecc.EntityDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entity
}

// SetAvailableIndex はDiscoveryエンジンが広告のたびに進めるavailable_indexを反映する
func (s *Store) SetAvailableIndex(index uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entity.AvailableIndex = index
}

// CurrentConfiguration は現在のコンフィギュレーション番号を返す
func (s *Store) CurrentConfiguration() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entity.CurrentConfiguration
}

// SetCurrentConfiguration はSET_CONFIGURATIONを適用します。
// ストリーミング中の変更は拒否し、デリゲートの検証に従います。
func (s *Store) SetCurrentConfiguration(index uint16) avdecc.AEMStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(index) >= len(s.configurations) {
		return avdecc.AEMStatusNoSuchDescriptor
	}
	if s.anyStreamingLocked() {
		return avdecc.AEMStatusStreamIsRunning
	}
	if s.delegate.ValidateConfiguration != nil && !s.delegate.ValidateConfiguration(index) {
		return avdecc.AEMStatusBadArguments
	}
	s.entity.CurrentConfiguration = index
	return avdecc.AEMStatusSuccess
}

func (s *Store) anyStreamingLocked() bool {
	for _, cfg := range s.configurations {
		for _, st := range cfg.StreamInputs {
			if st.Streaming {
				return true
			}
		}
		for _, st := range cfg.StreamOutputs {
			if st.Streaming {
				return true
			}
		}
	}
	return false
}

func (s *Store) configurationLocked(index uint16) *Configuration {
	if int(index) >= len(s.configurations) {
		return nil
	}
	return s.configurations[index]
}

// ReadDescriptor は（種別, インデックス）でディスクリプタを引き、エンコード済み
// バイト列とステータスを返します。デリゲートによる差し替えを先に試みます。
func (s *Store) ReadDescriptor(configurationIndex uint16, descriptorType avdecc.DescriptorType, descriptorIndex uint16) ([]byte, avdecc.AEMStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.delegate.OverrideDescriptor != nil {
		if data, ok := s.delegate.OverrideDescriptor(configurationIndex, descriptorType, descriptorIndex); ok {
			return data, avdecc.AEMStatusSuccess
		}
	}

	switch descriptorType {
	case avdecc.DescriptorEntity:
		// ENTITYディスクリプタはインデックス0の単一レコード
		if descriptorIndex != 0 {
			return nil, avdecc.AEMStatusNoSuchDescriptor
		}
		return s.entity.Encode(), avdecc.AEMStatusSuccess
	case avdecc.DescriptorConfiguration:
		cfg := s.configurationLocked(descriptorIndex)
		if cfg == nil {
			return nil, avdecc.AEMStatusNoSuchDescriptor
		}
		return cfg.Descriptor.Encode(), avdecc.AEMStatusSuccess
	}

	cfg := s.configurationLocked(configurationIndex)
	if cfg == nil {
		return nil, avdecc.AEMStatusNoSuchDescriptor
	}
	switch descriptorType {
	case avdecc.DescriptorStreamInput:
		if int(descriptorIndex) >= len(cfg.StreamInputs) {
			return nil, avdecc.AEMStatusNoSuchDescriptor
		}
		return cfg.StreamInputs[descriptorIndex].Descriptor.Encode(), avdecc.AEMStatusSuccess
	case avdecc.DescriptorStreamOutput:
		if int(descriptorIndex) >= len(cfg.StreamOutputs) {
			return nil, avdecc.AEMStatusNoSuchDescriptor
		}
		return cfg.StreamOutputs[descriptorIndex].Descriptor.Encode(), avdecc.AEMStatusSuccess
	case avdecc.DescriptorAVBInterface:
		if int(descriptorIndex) >= len(cfg.AVBInterfaces) {
			return nil, avdecc.AEMStatusNoSuchDescriptor
		}
		return cfg.AVBInterfaces[descriptorIndex].Encode(), avdecc.AEMStatusSuccess
	case avdecc.DescriptorClockSource:
		if int(descriptorIndex) >= len(cfg.ClockSources) {
			return nil, avdecc.AEMStatusNoSuchDescriptor
		}
		return cfg.ClockSources[descriptorIndex].Encode(), avdecc.AEMStatusSuccess
	default:
		// カタログ全種別はモデル化対象外（§1の範囲）
		return nil, avdecc.AEMStatusNoSuchDescriptor
	}
}

// WriteObjectName はWRITE_DESCRIPTORで書き込み可能な名前フィールドを更新します。
func (s *Store) WriteObjectName(configurationIndex uint16, descriptorType avdecc.DescriptorType, descriptorIndex uint16, name avdecc.ObjectName) avdecc.AEMStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch descriptorType {
	case avdecc.DescriptorEntity:
		if descriptorIndex != 0 {
			return avdecc.AEMStatusNoSuchDescriptor
		}
		s.entity.EntityName = name
		return avdecc.AEMStatusSuccess
	case avdecc.DescriptorConfiguration:
		cfg := s.configurationLocked(descriptorIndex)
		if cfg == nil {
			return avdecc.AEMStatusNoSuchDescriptor
		}
		cfg.Descriptor.ObjectName = name
		return avdecc.AEMStatusSuccess
	case avdecc.DescriptorStreamInput, avdecc.DescriptorStreamOutput:
		st := s.streamStateLocked(configurationIndex, descriptorType, descriptorIndex)
		if st == nil {
			return avdecc.AEMStatusNoSuchDescriptor
		}
		st.Descriptor.ObjectName = name
		return avdecc.AEMStatusSuccess
	default:
		return avdecc.AEMStatusNotSupported
	}
}

func (s *Store) streamStateLocked(configurationIndex uint16, descriptorType avdecc.DescriptorType, descriptorIndex uint16) *StreamState {
	cfg := s.configurationLocked(configurationIndex)
	if cfg == nil {
		return nil
	}
	switch descriptorType {
	case avdecc.DescriptorStreamInput:
		if int(descriptorIndex) < len(cfg.StreamInputs) {
			return cfg.StreamInputs[descriptorIndex]
		}
	case avdecc.DescriptorStreamOutput:
		if int(descriptorIndex) < len(cfg.StreamOutputs) {
			return cfg.StreamOutputs[descriptorIndex]
		}
	}
	return nil
}

// Acquire はエンティティのAcquire所有権を要求します。
// 未所有か、既に同じコントローラーが所有している場合のみ成功します。
// 失敗時は現在の所有者を返します（応答のowner_entity_idに載せるため）。
func (s *Store) Acquire(controller avdecc.EntityID, persistent bool) (avdecc.EntityID, avdecc.AEMStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireOwner != avdecc.EntityIDUnknown && s.acquireOwner != controller {
		return s.acquireOwner, avdecc.AEMStatusEntityAcquired
	}
	s.acquireOwner = controller
	s.acquirePersistent = persistent
	return controller, avdecc.AEMStatusSuccess
}

// Release はAcquire所有権を解放します。所有者以外からの解放は拒否します。
func (s *Store) Release(controller avdecc.EntityID) (avdecc.EntityID, avdecc.AEMStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireOwner == avdecc.EntityIDUnknown {
		return avdecc.EntityIDUnknown, avdecc.AEMStatusSuccess
	}
	if s.acquireOwner != controller {
		return s.acquireOwner, avdecc.AEMStatusEntityAcquired
	}
	s.acquireOwner = avdecc.EntityIDUnknown
	s.acquirePersistent = false
	return avdecc.EntityIDUnknown, avdecc.AEMStatusSuccess
}

// AcquireOwner は現在のAcquire所有者を返す（未所有ならEntityIDUnknown）
func (s *Store) AcquireOwner() avdecc.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acquireOwner
}

// Lock はエンティティのLock所有権を要求します。Acquireと同じ排他規則です。
func (s *Store) Lock(controller avdecc.EntityID) (avdecc.EntityID, avdecc.AEMStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockOwner != avdecc.EntityIDUnknown && s.lockOwner != controller {
		return s.lockOwner, avdecc.AEMStatusEntityLocked
	}
	s.lockOwner = controller
	return controller, avdecc.AEMStatusSuccess
}

// Unlock はLock所有権を解放します。
func (s *Store) Unlock(controller avdecc.EntityID) (avdecc.EntityID, avdecc.AEMStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockOwner == avdecc.EntityIDUnknown {
		return avdecc.EntityIDUnknown, avdecc.AEMStatusSuccess
	}
	if s.lockOwner != controller {
		return s.lockOwner, avdecc.AEMStatusEntityLocked
	}
	s.lockOwner = avdecc.EntityIDUnknown
	return avdecc.EntityIDUnknown, avdecc.AEMStatusSuccess
}

// LockOwner は現在のLock所有者を返す
func (s *Store) LockOwner() avdecc.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockOwner
}

// CheckControlAccess は状態変更コマンドの発行元が所有権の点で許可されるかを判定します。
// 他のコントローラーがAcquire/Lockしている場合は対応するステータスを返します。
func (s *Store) CheckControlAccess(controller avdecc.EntityID) avdecc.AEMStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.acquireOwner != avdecc.EntityIDUnknown && s.acquireOwner != controller {
		return avdecc.AEMStatusEntityAcquired
	}
	if s.lockOwner != avdecc.EntityIDUnknown && s.lockOwner != controller {
		return avdecc.AEMStatusEntityLocked
	}
	return avdecc.AEMStatusSuccess
}

// StreamFormat は現在のストリームフォーマットを返します。
func (s *Store) StreamFormat(descriptorType avdecc.DescriptorType, descriptorIndex uint16) (uint64, avdecc.AEMStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.streamStateLocked(s.entity.CurrentConfiguration, descriptorType, descriptorIndex)
	if st == nil {
		return 0, avdecc.AEMStatusNoSuchDescriptor
	}
	return st.Descriptor.CurrentFormat, avdecc.AEMStatusSuccess
}

// SetStreamFormat はストリームフォーマットを変更します。
// ディスクリプタのサポートフォーマット一覧にないものは拒否します。
func (s *Store) SetStreamFormat(descriptorType avdecc.DescriptorType, descriptorIndex uint16, format uint64) avdecc.AEMStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.streamStateLocked(s.entity.CurrentConfiguration, descriptorType, descriptorIndex)
	if st == nil {
		return avdecc.AEMStatusNoSuchDescriptor
	}
	if st.Streaming {
		return avdecc.AEMStatusStreamIsRunning
	}
	supported := false
	for _, f := range st.Descriptor.Formats {
		if f == format {
			supported = true
			break
		}
	}
	if !supported {
		return avdecc.AEMStatusNotSupported
	}
	if s.delegate.ValidateStreamFormat != nil && !s.delegate.ValidateStreamFormat(descriptorType, descriptorIndex, format) {
		return avdecc.AEMStatusBadArguments
	}
	st.Descriptor.CurrentFormat = format
	st.Info.StreamFormat = format
	st.Info.Flags |= avdecc.StreamInfoFlagFormatValid
	return avdecc.AEMStatusSuccess
}

// StreamInfo は動的ストリーム情報のコピーを返します。
func (s *Store) StreamInfo(descriptorType avdecc.DescriptorType, descriptorIndex uint16) (avdecc.StreamInfoPayload, avdecc.AEMStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.streamStateLocked(s.entity.CurrentConfiguration, descriptorType, descriptorIndex)
	if st == nil {
		return avdecc.StreamInfoPayload{}, avdecc.AEMStatusNoSuchDescriptor
	}
	info := st.Info
	info.DescriptorType = descriptorType
	info.DescriptorIndex = descriptorIndex
	return info, avdecc.AEMStatusSuccess
}

// SetStreamInfo はSET_STREAM_INFOで指定されたvalidフラグ付きフィールドのみ更新します。
func (s *Store) SetStreamInfo(descriptorType avdecc.DescriptorType, descriptorIndex uint16, info avdecc.StreamInfoPayload) avdecc.AEMStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.streamStateLocked(s.entity.CurrentConfiguration, descriptorType, descriptorIndex)
	if st == nil {
		return avdecc.AEMStatusNoSuchDescriptor
	}
	if info.Flags&avdecc.StreamInfoFlagFormatValid != 0 {
		st.Info.StreamFormat = info.StreamFormat
		st.Info.Flags |= avdecc.StreamInfoFlagFormatValid
	}
	if info.Flags&avdecc.StreamInfoFlagStreamIDValid != 0 {
		st.Info.StreamID = info.StreamID
		st.Info.Flags |= avdecc.StreamInfoFlagStreamIDValid
	}
	if info.Flags&avdecc.StreamInfoFlagDestMACValid != 0 {
		st.Info.StreamDestMAC = info.StreamDestMAC
		st.Info.Flags |= avdecc.StreamInfoFlagDestMACValid
	}
	if info.Flags&avdecc.StreamInfoFlagStreamVLANValid != 0 {
		st.Info.StreamVLANID = info.StreamVLANID
		st.Info.Flags |= avdecc.StreamInfoFlagStreamVLANValid
	}
	if info.Flags&avdecc.StreamInfoFlagMSRPAccLatValid != 0 {
		st.Info.MSRPAccumulatedLatency = info.MSRPAccumulatedLatency
		st.Info.Flags |= avdecc.StreamInfoFlagMSRPAccLatValid
	}
	if info.Flags&avdecc.StreamInfoFlagConnected != 0 {
		st.Info.Flags |= avdecc.StreamInfoFlagConnected
	}
	return avdecc.AEMStatusSuccess
}

// ClearStreamInfo はコネクション由来の動的ストリーム情報（接続フラグ、StreamID、
// 宛先MAC、VLAN、レイテンシ）を消去します。SET_STREAM_FORMATで決まった
// フォーマットは保持します。
func (s *Store) ClearStreamInfo(descriptorType avdecc.DescriptorType, descriptorIndex uint16) avdecc.AEMStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.streamStateLocked(s.entity.CurrentConfiguration, descriptorType, descriptorIndex)
	if st == nil {
		return avdecc.AEMStatusNoSuchDescriptor
	}
	st.Info = avdecc.StreamInfoPayload{
		StreamFormat: st.Info.StreamFormat,
		Flags:        st.Info.Flags & avdecc.StreamInfoFlagFormatValid,
	}
	return avdecc.AEMStatusSuccess
}

// SetStreaming はSTART/STOP_STREAMINGの状態を更新します。冪等です。
func (s *Store) SetStreaming(descriptorType avdecc.DescriptorType, descriptorIndex uint16, streaming bool) avdecc.AEMStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.streamStateLocked(s.entity.CurrentConfiguration, descriptorType, descriptorIndex)
	if st == nil {
		return avdecc.AEMStatusNoSuchDescriptor
	}
	st.Streaming = streaming
	return avdecc.AEMStatusSuccess
}

// IsStreaming はストリーミング中かどうかを返す
func (s *Store) IsStreaming(descriptorType avdecc.DescriptorType, descriptorIndex uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.streamStateLocked(s.entity.CurrentConfiguration, descriptorType, descriptorIndex)
	return st != nil && st.Streaming
}

// AudioMap はストリームのオーディオチャンネルマッピングを返します。
// マップはストリームごとに1つだけ保持します（map_index 0のみ有効）。
func (s *Store) AudioMap(descriptorType avdecc.DescriptorType, descriptorIndex uint16, mapIndex uint16) ([]avdecc.AudioMapping, avdecc.AEMStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.streamStateLocked(s.entity.CurrentConfiguration, descriptorType, descriptorIndex)
	if st == nil {
		return nil, avdecc.AEMStatusNoSuchDescriptor
	}
	if mapIndex != 0 {
		return nil, avdecc.AEMStatusNoSuchDescriptor
	}
	mappings := make([]avdecc.AudioMapping, len(st.Mappings))
	copy(mappings, st.Mappings)
	return mappings, avdecc.AEMStatusSuccess
}

// SetAudioMap はストリームのオーディオチャンネルマッピングを設定します。
func (s *Store) SetAudioMap(descriptorType avdecc.DescriptorType, descriptorIndex uint16, mappings []avdecc.AudioMapping) avdecc.AEMStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.streamStateLocked(s.entity.CurrentConfiguration, descriptorType, descriptorIndex)
	if st == nil {
		return avdecc.AEMStatusNoSuchDescriptor
	}
	st.Mappings = append([]avdecc.AudioMapping(nil), mappings...)
	return avdecc.AEMStatusSuccess
}

// AVBInterface は現在のコンフィギュレーションのAVB_INTERFACEディスクリプタを返します。
func (s *Store) AVBInterface(descriptorIndex uint16) (avdecc.AVBInterfaceDescriptor, avdecc.AEMStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.configurationLocked(s.entity.CurrentConfiguration)
	if cfg == nil || int(descriptorIndex) >= len(cfg.AVBInterfaces) {
		return avdecc.AVBInterfaceDescriptor{}, avdecc.AEMStatusNoSuchDescriptor
	}
	return cfg.AVBInterfaces[descriptorIndex], avdecc.AEMStatusSuccess
}
