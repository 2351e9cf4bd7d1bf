package handler

import (
	"net"
	"testing"
	"time"

	"avdecc-list/avdecc"
)

func TestAECPController_ReadDescriptor(t *testing.T) {
	transport := &fakeTransport{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	controller := NewAECPController(transport, localEntityID, DefaultCommandConfig(), func() time.Time { return now })

	var gotResp *avdecc.AECPDU
	var gotResult CommandResult
	err := controller.ReadDescriptor(remoteTalkerID, 0, avdecc.DescriptorEntity, 0, func(resp *avdecc.AECPDU, result CommandResult) {
		gotResp = resp
		gotResult = result
	})
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}

	cmd := transport.lastAECPDU(t)
	if cmd.MessageType != avdecc.AECPAEMCommand || cmd.CommandType != avdecc.AEMReadDescriptor {
		t.Fatalf("command: type=%v command=%v", cmd.MessageType, cmd.CommandType)
	}
	if cmd.TargetEntityID != remoteTalkerID || cmd.ControllerEntityID != localEntityID {
		t.Errorf("addressing: target=%v controller=%v", cmd.TargetEntityID, cmd.ControllerEntityID)
	}
	payload, err := avdecc.DecodeReadDescriptorCommand(cmd.Payload)
	if err != nil || payload.DescriptorType != avdecc.DescriptorEntity {
		t.Errorf("payload = %+v err = %v", payload, err)
	}

	// ターゲットからの応答を照合
	resp := cmd.Response(avdecc.AEMStatusSuccess, cmd.Payload)
	controller.HandleAECPDU(resp)
	if gotResult != ResultResponse || gotResp == nil {
		t.Fatalf("callback: result=%v resp=%v", gotResult, gotResp)
	}
}

func TestAECPController_AddressResolver(t *testing.T) {
	transport := &fakeTransport{}
	controller := NewAECPController(transport, localEntityID, DefaultCommandConfig(), nil)
	addr := net.IPv4(192, 168, 1, 50)
	controller.SetAddressResolver(func(id EntityID) net.IP {
		if id == remoteTalkerID {
			return addr
		}
		return nil
	})

	controller.EntityAvailable(remoteTalkerID, nil)
	if !transport.sent[0].dest.Equal(addr) {
		t.Errorf("dest = %v, want %v", transport.sent[0].dest, addr)
	}

	// 解決できないターゲットはマルチキャスト（dest nil）
	controller.EntityAvailable(remoteListenerID, nil)
	if transport.sent[1].dest != nil {
		t.Errorf("unresolved dest = %v, want nil", transport.sent[1].dest)
	}
}

func TestAECPController_UnsolicitedBypassesInflight(t *testing.T) {
	transport := &fakeTransport{}
	controller := NewAECPController(transport, localEntityID, DefaultCommandConfig(), nil)

	var unsolicited *avdecc.AECPDU
	controller.SetUnsolicitedHandler(func(resp *avdecc.AECPDU, result CommandResult) {
		unsolicited = resp
	})

	fired := false
	controller.EntityAvailable(remoteTalkerID, func(resp *avdecc.AECPDU, result CommandResult) {
		fired = true
	})
	cmd := transport.lastAECPDU(t)

	// 同じsequence_idでもuビット付きなら未応答表を経由しない
	notice := cmd.Response(avdecc.AEMStatusSuccess, nil)
	notice.Unsolicited = true
	controller.HandleAECPDU(notice)
	if unsolicited == nil {
		t.Fatal("unsolicited handler not called")
	}
	if fired {
		t.Error("unsolicited notification retired an inflight command")
	}

	// 通常応答はこれまでどおり照合される
	controller.HandleAECPDU(cmd.Response(avdecc.AEMStatusSuccess, nil))
	if !fired {
		t.Error("normal response not matched")
	}
}

func TestAECPController_RetryAndTimeout(t *testing.T) {
	transport := &fakeTransport{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := CommandConfig{Timeout: time.Second, MaxRetries: 2}
	controller := NewAECPController(transport, localEntityID, cfg, func() time.Time { return now })

	var results []CommandResult
	controller.AcquireEntity(remoteTalkerID, false, func(resp *avdecc.AECPDU, result CommandResult) {
		if resp != nil {
			t.Error("non-nil response on timeout")
		}
		results = append(results, result)
	})
	first := transport.sent[0].data

	controller.Tick(now.Add(1 * time.Second))
	controller.Tick(now.Add(2 * time.Second))
	if len(transport.sent) != 3 {
		t.Fatalf("frames = %d, want 3 (original + 2 retries)", len(transport.sent))
	}
	for i := 1; i < 3; i++ {
		if string(transport.sent[i].data) != string(first) {
			t.Errorf("retry %d bytes differ from original", i)
		}
	}

	controller.Tick(now.Add(3 * time.Second))
	if len(results) != 1 || results[0] != ResultTimeout {
		t.Fatalf("results = %v", results)
	}
}

func TestAECPController_CancelOnClose(t *testing.T) {
	transport := &fakeTransport{}
	controller := NewAECPController(transport, localEntityID, DefaultCommandConfig(), nil)

	var results []CommandResult
	callback := func(resp *avdecc.AECPDU, result CommandResult) { results = append(results, result) }
	controller.GetConfiguration(remoteTalkerID, callback)
	controller.GetConfiguration(remoteListenerID, callback)

	controller.Close()
	if len(results) != 2 {
		t.Fatalf("cancelled callbacks = %d, want 2", len(results))
	}
	for _, r := range results {
		if r != ResultCancelled {
			t.Errorf("result = %v", r)
		}
	}
}
