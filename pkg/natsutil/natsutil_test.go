package natsutil

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type scan struct {
	PostURL string `json:"postUrl"`
}

type ledger struct {
	Entries int `json:"entries"`
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)
	if carrier.Get("missing") != "" || carrier.Keys() != nil {
		t.Fatal("empty carrier should have no values")
	}
	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestPublishSubscribe(t *testing.T) {
	nc := startTestNATS(t)
	got := make(chan ledger, 1)
	sub, err := Subscribe(nc, "raffle.ledger.updated", nil, func(_ context.Context, l ledger) { got <- l })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := nc.Publish("raffle.ledger.updated", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := Publish(context.Background(), nc, "raffle.ledger.updated", ledger{Entries: 7}); err != nil {
		t.Fatal(err)
	}
	select {
	case l := <-got:
		if l.Entries != 7 {
			t.Errorf("got %+v", l)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestHandleRequest(t *testing.T) {
	nc := startTestNATS(t)
	sub, err := Handle(nc, "raffle.scan", "workers", nil, func(_ context.Context, s scan) (ledger, error) {
		if s.PostURL == "" {
			return ledger{}, errors.New("postUrl is required")
		}
		return ledger{Entries: len(s.PostURL)}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := Request[scan, ledger](ctx, nc, "raffle.scan", scan{PostURL: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Entries != 3 {
		t.Errorf("got %+v", got)
	}

	_, err = Request[scan, ledger](ctx, nc, "raffle.scan", scan{})
	if !errors.Is(err, ErrRemote) || !strings.Contains(err.Error(), "postUrl is required") {
		t.Errorf("expected remote error, got %v", err)
	}
}

func TestHandle_MalformedRequest(t *testing.T) {
	nc := startTestNATS(t)
	sub, err := Handle(nc, "raffle.scan", "workers", nil, func(context.Context, scan) (ledger, error) {
		t.Error("handler must not run for malformed input")
		return ledger{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	resp, err := nc.Request("raffle.scan", []byte("{"), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(resp.Data), `"ok":false`) || !strings.Contains(string(resp.Data), "invalid request") {
		t.Errorf("reply = %s", resp.Data)
	}
}

func TestRequest_NoResponder(t *testing.T) {
	nc := startTestNATS(t)
	_, err := Request[scan, ledger](context.Background(), nc, "nobody.home", scan{PostURL: "x"})
	if err == nil {
		t.Fatal("expected error without a responder")
	}
}
