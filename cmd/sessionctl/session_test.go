package main

import (
	"bytes"
	"encoding/json"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/idp-sessions-go/sessions"
)

func TestSessionViewOmitsSecret(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := sessions.New("sid", []byte("s3cr3t"), 30*time.Minute,
		sessions.WithCreatedAt(created),
		sessions.WithPresenter(netip.MustParseAddr("10.0.0.7")),
		sessions.WithPrincipals(sessions.UsernamePrincipal("alice")))
	m := sessions.NewAuthenticationMethod(sessions.AuthnMethodPassword, created, 0)
	s.AddAuthenticationMethod(m)
	s.AddServiceInformation(sessions.NewServiceInformation("https://sp.example.org", created, m))

	var buf bytes.Buffer
	if err := writeSessionJSON(&buf, s); err != nil {
		t.Fatalf("writeSessionJSON: %v", err)
	}
	if strings.Contains(buf.String(), "s3cr3t") {
		t.Fatalf("secret leaked into output: %s", buf.String())
	}

	var got sessionView
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got.ID != "sid" || got.Principal != "alice" || got.Presenter != "10.0.0.7" {
		t.Fatalf("unexpected view: %+v", got)
	}
	if got.InactivityTimeout != "30m0s" {
		t.Fatalf("timeout = %q", got.InactivityTimeout)
	}
	if len(got.Services) != 1 || got.Services[0].Method != sessions.AuthnMethodPassword {
		t.Fatalf("services = %+v", got.Services)
	}
}

func TestSessionCreateWithMemoryBackend(t *testing.T) {
	t.Setenv("IDP_STORAGE_BACKEND", "memory")
	t.Setenv("IDP_LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"session", "create", "alice", "--presenter", "127.0.0.1", "--method", sessions.AuthnMethodPassword})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if id := strings.TrimSpace(out.String()); len(id) != 43 {
		t.Fatalf("expected a 43 character session id, got %q", id)
	}
}

func TestSessionCreateRejectsBadPresenter(t *testing.T) {
	t.Setenv("IDP_STORAGE_BACKEND", "memory")

	rootCmd.SetArgs([]string{"session", "create", "alice", "--presenter", "not-an-ip"})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetErr(nil)
		_ = sessionCreateCmd.Flags().Set("presenter", "")
	})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected an error for an invalid presenter")
	}
}
