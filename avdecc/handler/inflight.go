package handler

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

// inflightEntry は送信済みで応答待ちのコマンドひとつを表します。
type inflightEntry[R any] struct {
	seq      SequenceID
	target   EntityID
	desc     string // ログ用のコマンド名
	data     []byte // 再送用のエンコード済みPDU（シーケンスIDは同じまま）
	dest     net.IP
	deadline time.Time
	retries  int
	callback func(resp R, result CommandResult)
}

// inflightTable は未応答コマンドの表を表します。
// 応答はシーケンスIDで照合され、到着順序には依存しません。
// 再送とタイムアウト判定は周期Tickで行い、どこにもブロック待ちはありません。
// ACMPコントローラー・AECPコントローラーの両エンジンが共有する規律です。
type inflightTable[R any] struct {
	mu      sync.Mutex
	cfg     CommandConfig
	send    func(data []byte, dest net.IP) error
	nextSeq SequenceID
	entries map[SequenceID]*inflightEntry[R]
}

func newInflightTable[R any](cfg CommandConfig, send func(data []byte, dest net.IP) error) *inflightTable[R] {
	return &inflightTable[R]{
		cfg:     cfg,
		send:    send,
		entries: make(map[SequenceID]*inflightEntry[R]),
	}
}

// nextSequenceID は未応答コマンドと重複しないシーケンスIDを払い出します。
// 呼び出し側がロックを保持していること。
func (t *inflightTable[R]) nextSequenceID() SequenceID {
	for {
		t.nextSeq++
		if _, used := t.entries[t.nextSeq]; !used {
			return t.nextSeq
		}
	}
}

// Register は新しいシーケンスIDを割り当てて未応答表に登録します。
// 実際の送信は呼び出し側が行うため、エンコード済みPDUを作るクロージャを受け取ります。
func (t *inflightTable[R]) Register(target EntityID, desc string, dest net.IP, now time.Time, encode func(seq SequenceID) []byte, callback func(resp R, result CommandResult)) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq := t.nextSequenceID()
	data := encode(seq)
	t.entries[seq] = &inflightEntry[R]{
		seq:      seq,
		target:   target,
		desc:     desc,
		data:     data,
		dest:     dest,
		deadline: now.Add(t.cfg.Timeout),
		callback: callback,
	}
	return data
}

// HandleResponse はシーケンスIDが一致する未応答コマンドを退役させ、
// コールバックを発火します。一致しない応答は無視してfalseを返します。
func (t *inflightTable[R]) HandleResponse(seq SequenceID, resp R) bool {
	t.mu.Lock()
	entry, ok := t.entries[seq]
	if ok {
		delete(t.entries, seq)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	// コールバックはロックの外で実行する
	if entry.callback != nil {
		entry.callback(resp, ResultResponse)
	}
	if entry.retries > 0 {
		slog.Info("リトライ後に応答を受信", "desc", entry.desc, "target", entry.target, "retries", entry.retries)
	}
	return true
}

// Tick は期限切れのコマンドを再送し、最大再送回数に達したものを
// タイムアウトとして一度だけ終端させます。
func (t *inflightTable[R]) Tick(now time.Time) {
	var expired []*inflightEntry[R]

	t.mu.Lock()
	for seq, entry := range t.entries {
		if now.Before(entry.deadline) {
			continue
		}
		entry.retries++
		if entry.retries > t.cfg.MaxRetries {
			// 終端タイムアウト。表から除いた後にコールバックを呼ぶので二重発火しない
			delete(t.entries, seq)
			expired = append(expired, entry)
			continue
		}
		entry.deadline = now.Add(t.cfg.Timeout)
		slog.Info("コマンドを再送します", "desc", entry.desc, "target", entry.target, "seq", entry.seq, "retry", entry.retries, "maxRetries", t.cfg.MaxRetries)
		if err := t.send(entry.data, entry.dest); err != nil {
			slog.Error("コマンド再送エラー", "desc", entry.desc, "err", err)
		}
	}
	t.mu.Unlock()

	var zero R
	for _, entry := range expired {
		slog.Warn("最大再送回数に達しました", "desc", entry.desc, "target", entry.target, "seq", entry.seq, "maxRetries", t.cfg.MaxRetries)
		if entry.callback != nil {
			entry.callback(zero, ResultTimeout)
		}
	}
}

// CancelAll は未応答コマンドをすべて取り消し扱いで終端させます。
// エンジン停止時に呼ばれ、コールバックは黙殺されません。
func (t *inflightTable[R]) CancelAll() {
	t.mu.Lock()
	cancelled := make([]*inflightEntry[R], 0, len(t.entries))
	for seq, entry := range t.entries {
		delete(t.entries, seq)
		cancelled = append(cancelled, entry)
	}
	t.mu.Unlock()

	var zero R
	for _, entry := range cancelled {
		if entry.callback != nil {
			entry.callback(zero, ResultCancelled)
		}
	}
}

// CancelTarget は特定エンティティ宛の未応答コマンドを取り消します。
// エンティティの離脱・再起動検出時に呼ばれます。
func (t *inflightTable[R]) CancelTarget(target EntityID) {
	t.mu.Lock()
	var cancelled []*inflightEntry[R]
	for seq, entry := range t.entries {
		if entry.target == target {
			delete(t.entries, seq)
			cancelled = append(cancelled, entry)
		}
	}
	t.mu.Unlock()

	var zero R
	for _, entry := range cancelled {
		if entry.callback != nil {
			entry.callback(zero, ResultCancelled)
		}
	}
}

// Len は未応答コマンド数を返す
func (t *inflightTable[R]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
