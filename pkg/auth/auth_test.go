package authentication

import (
	"encoding/base64"
	"testing"
)

func TestDecodeFromHeader(t *testing.T) {
	svc := NewBasicAuthService(&BasicAuthTConfig{AdminUsername: "admin", AdminPassword: "secret"})

	header := "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:se:cret"))
	user, pass := svc.DecodeFromHeader(header)
	if user != "admin" || pass != "se:cret" {
		t.Fatalf("unexpected credentials %q %q", user, pass)
	}

	if user, pass := svc.DecodeFromHeader("Basic !!!"); user != "" || pass != "" {
		t.Fatalf("expected empty credentials for bad encoding")
	}
}

func TestValidateAdmin(t *testing.T) {
	svc := NewBasicAuthService(&BasicAuthTConfig{AdminUsername: "admin", AdminPassword: "secret"})
	if !svc.ValidateAdmin("admin", "secret") {
		t.Fatal("expected valid credentials to pass")
	}
	if svc.ValidateAdmin("admin", "wrong") {
		t.Fatal("expected wrong password to fail")
	}

	empty := NewBasicAuthService(nil)
	if empty.ValidateAdmin("", "") {
		t.Fatal("expected unconfigured credentials to never match")
	}
}
