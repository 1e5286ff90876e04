// Package identity resolves the calling principal of an invocation.
package identity

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/atmx/futurebureau/internal/model"
)

// Resolver returns the stable name of the principal behind ctx.
type Resolver interface {
	CurrentCallerName(ctx context.Context) (string, error)
}

// Static always resolves to the same name. Used for bootstrap and tests.
type Static string

func (s Static) CurrentCallerName(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: no caller identity", model.ErrPermission)
	}
	return string(s), nil
}

type callerKey struct{}

// WithCaller attaches the caller name extracted by the transport to ctx.
func WithCaller(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, callerKey{}, name)
}

// FromContext returns the caller name attached by WithCaller.
func FromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(callerKey{}).(string)
	return name, ok && name != ""
}

// ContextResolver resolves the caller placed on the context by the host.
type ContextResolver struct{}

func (ContextResolver) CurrentCallerName(ctx context.Context) (string, error) {
	name, ok := FromContext(ctx)
	if !ok {
		return "", fmt.Errorf("%w: no caller identity", model.ErrPermission)
	}
	return name, nil
}

// PeerCommonName returns the subject CN of the verified client certificate,
// or "" when the connection carried none.
func PeerCommonName(state *tls.ConnectionState) string {
	if state == nil || len(state.PeerCertificates) == 0 {
		return ""
	}
	return state.PeerCertificates[0].Subject.CommonName
}
