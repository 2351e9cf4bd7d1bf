package server

import (
	"context"
	"fmt"
	"log/slog"

	"avdecc-list/protocol"
)

// BroadcastHandler は一定レベル以上のログをWebSocketクライアントへ配信するslogハンドラー。
// ログ出力自体は内側のハンドラーに委譲する。
type BroadcastHandler struct {
	inner     slog.Handler
	transport WebSocketTransport
	minLevel  slog.Level
}

func NewBroadcastHandler(inner slog.Handler, transport WebSocketTransport, minLevel slog.Level) *BroadcastHandler {
	return &BroadcastHandler{
		inner:     inner,
		transport: transport,
		minLevel:  minLevel,
	}
}

func (h *BroadcastHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *BroadcastHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level >= h.minLevel && h.transport != nil {
		h.broadcastLog(r)
	}
	return nil
}

func (h *BroadcastHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BroadcastHandler{
		inner:     h.inner.WithAttrs(attrs),
		transport: h.transport,
		minLevel:  h.minLevel,
	}
}

func (h *BroadcastHandler) WithGroup(name string) slog.Handler {
	return &BroadcastHandler{
		inner:     h.inner.WithGroup(name),
		transport: h.transport,
		minLevel:  h.minLevel,
	}
}

// logAttrValue はslogの属性値をJSONに載せられる形へ変換する
func logAttrValue(v slog.Value) interface{} {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindTime:
		return v.Time()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		a := v.Any()
		if a == nil {
			return nil
		}
		if err, ok := a.(error); ok {
			return err.Error()
		}
		if s, ok := a.(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("%+v", a)
	default:
		return v.String()
	}
}

// broadcastLog はログレコードをlog_notificationとして全クライアントへ送る
func (h *BroadcastHandler) broadcastLog(r slog.Record) {
	attrs := make(map[string]interface{})
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = logAttrValue(a.Value)
		return true
	})

	payload := protocol.LogNotificationPayload{
		Level:      r.Level.String(),
		Message:    r.Message,
		Time:       r.Time,
		Attributes: attrs,
	}
	data, err := protocol.CreateMessage(protocol.MessageTypeLogNotification, payload, "")
	if err != nil {
		// ここでslogを呼ぶと無限ループになるため捨てる
		return
	}
	_ = h.transport.BroadcastMessage(data)
}
