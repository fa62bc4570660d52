package authz

import "testing"

import "github.com/nulpointcorp/uniproxy/internal/config"

func testConfig() *config.Config {
	cfg := &config.Config{
		APIKeys: []config.ApiKeyRecord{
			{API: "sk-admin-1", Role: "admin"},
			{API: "sk-user-1", Role: "user"},
		},
	}
	cfg.BuildIndex()
	return cfg
}

func TestVerifyMissingToken(t *testing.T) {
	a := New(testConfig())
	if _, err := a.Verify(""); err == nil {
		t.Fatal("expected an error for an empty token")
	} else if _, ok := err.(ErrMissing); !ok {
		t.Fatalf("expected ErrMissing, got %T", err)
	}
}

func TestVerifyInvalidToken(t *testing.T) {
	a := New(testConfig())
	if _, err := a.Verify("sk-does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown token")
	} else if _, ok := err.(ErrInvalid); !ok {
		t.Fatalf("expected ErrInvalid, got %T", err)
	}
}

func TestVerifyValidToken(t *testing.T) {
	a := New(testConfig())
	rec, err := a.Verify("sk-user-1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.API != "sk-user-1" {
		t.Fatalf("got record %+v", rec)
	}
}

func TestVerifyAdminRejectsNonAdmin(t *testing.T) {
	a := New(testConfig())
	if _, err := a.VerifyAdmin("sk-user-1"); err == nil {
		t.Fatal("expected a forbidden error for a non-admin caller")
	} else if _, ok := err.(ErrForbidden); !ok {
		t.Fatalf("expected ErrForbidden, got %T", err)
	}
}

func TestVerifyAdminAcceptsAdmin(t *testing.T) {
	a := New(testConfig())
	rec, err := a.VerifyAdmin("sk-admin-1")
	if err != nil {
		t.Fatalf("VerifyAdmin: %v", err)
	}
	if !rec.IsAdmin() {
		t.Fatalf("got non-admin record %+v", rec)
	}
}
