package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsSessionGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With("component", "test")

	ctx := WithSessionData(context.Background(), &SessionData{
		SessionID: "abc",
		Partition: "session",
		Principal: "alice",
	})
	ctx = WithRequestData(ctx, &RequestData{RequestID: "r1", Command: "get"})
	log.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	sess, ok := rec["sess"].(map[string]any)
	if !ok {
		t.Fatalf("missing sess group: %s", buf.String())
	}
	if sess["id"] != "abc" || sess["principal"] != "alice" {
		t.Fatalf("unexpected sess group: %v", sess)
	}
	if _, ok := sess["presenter"]; ok {
		t.Fatalf("empty presenter should be omitted: %v", sess)
	}
	req, ok := rec["req"].(map[string]any)
	if !ok || req["command"] != "get" {
		t.Fatalf("unexpected req group: %v", rec["req"])
	}
	if rec["component"] != "test" {
		t.Fatalf("WithAttrs lost through handler: %v", rec)
	}
}

func TestHandlerWithoutContextData(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})
	log.Info("plain")

	if bytes.Contains(buf.Bytes(), []byte(`"sess"`)) {
		t.Fatalf("unexpected sess group: %s", buf.String())
	}
}
