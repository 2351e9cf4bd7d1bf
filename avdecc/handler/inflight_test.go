package handler

import (
	"net"
	"testing"
	"time"
)

type sentPDU struct {
	data []byte
	dest net.IP
}

// recordingSender はsend関数として注入し、送信されたPDUを記録する
type recordingSender struct {
	sent []sentPDU
	err  error
}

func (r *recordingSender) send(data []byte, dest net.IP) error {
	r.sent = append(r.sent, sentPDU{data: data, dest: dest})
	return r.err
}

func TestInflightTable_ResponseRetires(t *testing.T) {
	sender := &recordingSender{}
	table := newInflightTable[int](CommandConfig{Timeout: time.Second, MaxRetries: 3}, sender.send)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var gotResp int
	var gotResult CommandResult
	calls := 0
	var seq SequenceID
	table.Register(EntityID(1), "TEST", net.IPv4(192, 168, 1, 10), now,
		func(s SequenceID) []byte { seq = s; return []byte{byte(s)} },
		func(resp int, result CommandResult) {
			calls++
			gotResp = resp
			gotResult = result
		})

	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}
	if !table.HandleResponse(seq, 42) {
		t.Fatal("HandleResponse returned false for matching sequence")
	}
	if calls != 1 || gotResp != 42 || gotResult != ResultResponse {
		t.Errorf("callback: calls=%d resp=%d result=%v", calls, gotResp, gotResult)
	}
	if table.Len() != 0 {
		t.Errorf("entry not retired: Len() = %d", table.Len())
	}
	// 退役済みのシーケンスIDへの応答は無視される
	if table.HandleResponse(seq, 43) {
		t.Error("HandleResponse accepted a retired sequence")
	}
	if calls != 1 {
		t.Errorf("callback fired twice: %d", calls)
	}
}

func TestInflightTable_UnknownSequenceIgnored(t *testing.T) {
	sender := &recordingSender{}
	table := newInflightTable[int](CommandConfig{Timeout: time.Second, MaxRetries: 3}, sender.send)

	if table.HandleResponse(SequenceID(999), 1) {
		t.Error("HandleResponse accepted unknown sequence")
	}
}

func TestInflightTable_TickResendsSameSequence(t *testing.T) {
	sender := &recordingSender{}
	table := newInflightTable[int](CommandConfig{Timeout: time.Second, MaxRetries: 3}, sender.send)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var seq SequenceID
	dest := net.IPv4(192, 168, 1, 10)
	data := table.Register(EntityID(1), "TEST", dest, now,
		func(s SequenceID) []byte { seq = s; return []byte{0xab, byte(s)} },
		func(resp int, result CommandResult) {})

	// 期限前のTickでは何も起きない
	table.Tick(now.Add(500 * time.Millisecond))
	if len(sender.sent) != 0 {
		t.Fatalf("resent before deadline: %d", len(sender.sent))
	}

	// 期限を過ぎると同じバイト列を同じ宛先へ再送する
	table.Tick(now.Add(time.Second))
	if len(sender.sent) != 1 {
		t.Fatalf("resend count = %d, want 1", len(sender.sent))
	}
	if string(sender.sent[0].data) != string(data) {
		t.Errorf("resent different bytes: %x vs %x", sender.sent[0].data, data)
	}
	if !sender.sent[0].dest.Equal(dest) {
		t.Errorf("resent to %v, want %v", sender.sent[0].dest, dest)
	}

	// 再送後でも応答は同じシーケンスIDで照合できる
	if !table.HandleResponse(seq, 7) {
		t.Error("response after retry not matched")
	}
}

func TestInflightTable_TimeoutFiresOnce(t *testing.T) {
	sender := &recordingSender{}
	table := newInflightTable[int](CommandConfig{Timeout: time.Second, MaxRetries: 2}, sender.send)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	timeouts := 0
	var seq SequenceID
	table.Register(EntityID(1), "TEST", net.IPv4(192, 168, 1, 10), now,
		func(s SequenceID) []byte { seq = s; return []byte{byte(s)} },
		func(resp int, result CommandResult) {
			if result == ResultTimeout {
				timeouts++
			}
		})

	// 再送2回のあと3回目の期限超過で終端タイムアウト
	table.Tick(now.Add(1 * time.Second)) // retry 1
	table.Tick(now.Add(2 * time.Second)) // retry 2
	if timeouts != 0 {
		t.Fatalf("timed out during retries: %d", timeouts)
	}
	table.Tick(now.Add(3 * time.Second)) // terminal
	if timeouts != 1 {
		t.Fatalf("timeout callbacks = %d, want 1", timeouts)
	}
	if len(sender.sent) != 2 {
		t.Errorf("resend count = %d, want 2", len(sender.sent))
	}

	// 終端後のTick・応答で二重発火しない
	table.Tick(now.Add(4 * time.Second))
	table.HandleResponse(seq, 1)
	if timeouts != 1 {
		t.Errorf("timeout fired again: %d", timeouts)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d after timeout", table.Len())
	}
}

func TestInflightTable_CancelAll(t *testing.T) {
	sender := &recordingSender{}
	table := newInflightTable[int](CommandConfig{Timeout: time.Second, MaxRetries: 3}, sender.send)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cancelled := 0
	for i := 0; i < 3; i++ {
		table.Register(EntityID(i), "TEST", net.IPv4(192, 168, 1, 10), now,
			func(s SequenceID) []byte { return []byte{byte(s)} },
			func(resp int, result CommandResult) {
				if result == ResultCancelled {
					cancelled++
				}
			})
	}

	table.CancelAll()
	if cancelled != 3 {
		t.Errorf("cancelled callbacks = %d, want 3", cancelled)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d after CancelAll", table.Len())
	}
}

func TestInflightTable_CancelTarget(t *testing.T) {
	sender := &recordingSender{}
	table := newInflightTable[int](CommandConfig{Timeout: time.Second, MaxRetries: 3}, sender.send)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	results := map[EntityID]CommandResult{}
	for _, target := range []EntityID{1, 2, 1} {
		target := target
		table.Register(target, "TEST", net.IPv4(192, 168, 1, 10), now,
			func(s SequenceID) []byte { return []byte{byte(s)} },
			func(resp int, result CommandResult) { results[target] = result })
	}

	table.CancelTarget(EntityID(1))
	if results[EntityID(1)] != ResultCancelled {
		t.Errorf("target 1 not cancelled: %v", results[EntityID(1)])
	}
	if _, fired := results[EntityID(2)]; fired {
		t.Error("unrelated target was cancelled")
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestInflightTable_SequenceIDsUnique(t *testing.T) {
	sender := &recordingSender{}
	table := newInflightTable[int](CommandConfig{Timeout: time.Second, MaxRetries: 3}, sender.send)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seen := map[SequenceID]bool{}
	for i := 0; i < 10; i++ {
		var seq SequenceID
		table.Register(EntityID(1), "TEST", nil, now,
			func(s SequenceID) []byte { seq = s; return nil },
			nil)
		if seen[seq] {
			t.Fatalf("duplicate sequence ID %d", seq)
		}
		seen[seq] = true
	}
}
