package identity

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"testing"

	"github.com/atmx/futurebureau/internal/model"
)

func TestContextResolver(t *testing.T) {
	var r ContextResolver
	if _, err := r.CurrentCallerName(context.Background()); !errors.Is(err, model.ErrPermission) {
		t.Fatalf("expected ErrPermission without caller, got %v", err)
	}
	ctx := WithCaller(context.Background(), "alice")
	name, err := r.CurrentCallerName(ctx)
	if err != nil || name != "alice" {
		t.Errorf("expected alice, got %q (%v)", name, err)
	}
	if _, err := r.CurrentCallerName(WithCaller(context.Background(), "")); !errors.Is(err, model.ErrPermission) {
		t.Errorf("empty caller should be rejected, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	name, err := Static("admin").CurrentCallerName(context.Background())
	if err != nil || name != "admin" {
		t.Errorf("expected admin, got %q (%v)", name, err)
	}
	if _, err := Static("").CurrentCallerName(context.Background()); !errors.Is(err, model.ErrPermission) {
		t.Errorf("expected ErrPermission, got %v", err)
	}
}

func TestPeerCommonName(t *testing.T) {
	if cn := PeerCommonName(nil); cn != "" {
		t.Errorf("expected empty CN for nil state, got %q", cn)
	}
	state := &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{Subject: pkix.Name{CommonName: "bob"}}}}
	if cn := PeerCommonName(state); cn != "bob" {
		t.Errorf("expected bob, got %q", cn)
	}
}
