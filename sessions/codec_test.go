package sessions

import (
	"bytes"
	"net/netip"
	"testing"
	"time"
)

func TestCodecPreservesSessionState(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New("sess-1", []byte{0xde, 0xad, 0xbe, 0xef}, 30*time.Minute,
		WithCreatedAt(created),
		WithPresenter(netip.MustParseAddr("2001:db8::1")),
		WithPrincipals(UsernamePrincipal("alice")))

	pw := NewAuthenticationMethod(AuthnMethodPassword, created, time.Hour)
	s.AddAuthenticationMethod(pw)
	s.AddServiceInformation(NewServiceInformation("https://sp.example.org", created.Add(time.Minute), pw))

	data, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Contains(data, []byte("alice")) {
		t.Fatalf("expected principal in document")
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID() != s.ID() || !bytes.Equal(got.Secret(), s.Secret()) {
		t.Fatalf("identity mismatch: %s vs %s", got.ID(), s.ID())
	}
	if got.InactivityTimeout() != 30*time.Minute || !got.CreatedAt().Equal(created) {
		t.Fatalf("timing mismatch: %v %v", got.InactivityTimeout(), got.CreatedAt())
	}
	if got.PresenterAddress() != s.PresenterAddress() {
		t.Fatalf("presenter mismatch: %v", got.PresenterAddress())
	}

	si, ok := got.ServiceInformation("https://sp.example.org")
	if !ok {
		t.Fatalf("service record missing")
	}
	m, ok := got.AuthenticationMethod(AuthnMethodPassword)
	if !ok {
		t.Fatalf("method record missing")
	}
	if si.AuthenticationMethod != m {
		t.Fatalf("service record not linked to the decoded method record")
	}
}

func TestUnmarshalRejectsUnknownVersion(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"v":99,"id":"x"}`)); err == nil {
		t.Fatalf("expected error for unknown version")
	}
	if _, err := Unmarshal([]byte(`{"v":1}`)); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if _, err := Unmarshal([]byte(`not-json`)); err == nil {
		t.Fatalf("expected error for malformed document")
	}
}
