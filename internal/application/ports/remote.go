package ports

import (
	"context"
	"encoding/json"

	"github.com/jbctechsolutions/offsync/internal/domain/entity"
)

// RemoteResponse is the decoded body of a successful write.
type RemoteResponse struct {
	StatusCode int
	Message    string
	Data       json.RawMessage // May be empty
}

// Entity decodes Data as a single record, if present.
func (r *RemoteResponse) Entity() (*entity.Entity, bool) {
	if r == nil || len(r.Data) == 0 || r.Data[0] != '{' {
		return nil, false
	}
	e, err := entity.FromJSON(r.Data)
	if err != nil || e.ID == "" {
		return nil, false
	}
	return &e, true
}

// RemoteClient talks to the remote service.
// Every returned error is a *errors.SyncError classified as connectivity, server, client or unauthorized.
type RemoteClient interface {
	// FetchByStatus lists remote records in a category.
	FetchByStatus(ctx context.Context, status string) ([]entity.Entity, error)

	// Send issues a write request.
	Send(ctx context.Context, method, endpoint string, payload []byte) (*RemoteResponse, error)
}

// TokenSource supplies the current bearer credential.
type TokenSource interface {
	// AccessToken returns the token and whether the session is authenticated.
	AccessToken() (string, bool)
}

// Prober checks whether the remote service is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}
