// Package natsutil provides typed NATS publish, subscribe and request/reply
// helpers with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// ErrRemote wraps the error text returned by a Handle responder.
var ErrRemote = errors.New("natsutil: remote error")

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Reply is the envelope every Handle responder answers with.
type Reply[T any] struct {
	OK    bool   `json:"ok"`
	Data  T      `json:"data"`
	Error string `json:"error,omitempty"`
}

func newMsg(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it on subject with the trace
// context from ctx in the headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler for JSON messages of type T. Malformed
// messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, log *slog.Logger, handler func(context.Context, T)) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Warn("dropping malformed message", "subject", msg.Subject, "error", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}

// Handle serves request/reply on subject within a queue group, so several
// workers can share the load. Every request is answered with a Reply.
func Handle[Req, Resp any](nc *nats.Conn, subject, queue string, log *slog.Logger, fn func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		var out Reply[Resp]
		var req Req
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			out.Error = fmt.Sprintf("invalid request: %v", err)
		} else {
			ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
			resp, err := fn(ctx, req)
			if err != nil {
				out.Error = err.Error()
			} else {
				out.OK, out.Data = true, resp
			}
		}
		data, err := json.Marshal(out)
		if err != nil {
			log.Error("encode reply", "subject", subject, "error", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			log.Error("send reply", "subject", subject, "error", err)
		}
	})
}

// Request sends req to a Handle responder and returns its data. The call is
// bounded by ctx; a context without a deadline gets nats.DefaultTimeout.
// A failed reply is returned as an error wrapping ErrRemote.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, err
	}
	var out Reply[Resp]
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return zero, fmt.Errorf("natsutil: decode reply: %w", err)
	}
	if !out.OK {
		return zero, fmt.Errorf("%w: %s", ErrRemote, out.Error)
	}
	return out.Data, nil
}
