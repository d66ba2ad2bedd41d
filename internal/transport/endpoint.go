package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kilnhq/kiln/internal/model"
)

// Endpoint is where and how to reach the backend socket.
type Endpoint struct {
	URL    string
	Secret string
}

// EndpointResolver returns the endpoint to connect to. It is called on every
// (re)connect so a relaunched backend is picked up.
type EndpointResolver interface {
	Resolve(ctx context.Context) (Endpoint, error)
}

// EndpointResolverFunc is a helper to create resolvers from functions.
type EndpointResolverFunc func(ctx context.Context) (Endpoint, error)

func (f EndpointResolverFunc) Resolve(ctx context.Context) (Endpoint, error) { return f(ctx) }

// StaticEndpoint always resolves to e.
func StaticEndpoint(e Endpoint) EndpointResolver {
	return EndpointResolverFunc(func(context.Context) (Endpoint, error) { return e, nil })
}

// EndpointFromHandshake returns the local websocket endpoint of a ready backend.
func EndpointFromHandshake(hs model.BackendHandshake, socketPath string) Endpoint {
	if socketPath == "" {
		socketPath = "/"
	}
	u := url.URL{Scheme: "ws", Host: hs.Address(), Path: socketPath}
	return Endpoint{URL: u.String(), Secret: hs.Secret}
}

// HandshakeSource returns the current backend handshake.
type HandshakeSource interface {
	Handshake() (*model.BackendHandshake, bool)
}

// HandshakeResolver resolves the endpoint from the launcher cached handshake.
func HandshakeResolver(src HandshakeSource, socketPath string) EndpointResolver {
	return EndpointResolverFunc(func(context.Context) (Endpoint, error) {
		hs, ok := src.Handshake()
		if !ok {
			return Endpoint{}, fmt.Errorf("backend handshake: %w", model.ErrNotFound)
		}
		return EndpointFromHandshake(*hs, socketPath), nil
	})
}
