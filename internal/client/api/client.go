// Package api implements the HTTP client used to replay queued operations
// against the remote endpoint. It classifies responses into success, conflict
// and failure so the sync engine never has to look at status codes itself.
package api

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Response is the classified outcome of a successfully delivered request.
// Conflict is set when the server answered with an explicit conflict flag;
// ServerData then carries the server's current version of the entity.
type Response struct {
	StatusCode int
	Conflict   bool
	ServerData []byte
	Body       []byte
}

// TokenSource supplies the bearer token for outgoing requests. Implementations
// may refresh the token transparently when it is close to expiry.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	// Invalidate discards the current access token so the next call to
	// AccessToken is forced through a refresh.
	Invalidate(ctx context.Context) error
}

// Client is the remote side of the sync engine.
type Client interface {
	// Execute replays one queued operation. A transport failure or a 5xx
	// answer returns an error wrapping common.ErrUnavailable; a 4xx answer
	// other than a conflict wraps common.ErrServerRejected.
	Execute(ctx context.Context, op *models.PendingOperation) (*Response, error)

	// UploadPhoto sends one captured photo as a multipart request.
	UploadPhoto(ctx context.Context, photo *models.PendingPhoto) (*Response, error)

	// Fetch retrieves an entity payload for the read-through cache.
	Fetch(ctx context.Context, endpoint string) ([]byte, error)

	// Ping probes the endpoint for reachability.
	Ping(ctx context.Context) error
}
