package backend

import (
	"context"

	"github.com/toricodesthings/document-ingestion-service/internal/ingest"
)

type tokenKey struct{}

// WithToken attaches a per-request bearer token that Transport prefers over
// its default.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// Transport uploads session documents through a Client.
type Transport struct {
	client *Client
	token  string
}

func NewTransport(client *Client, token string) *Transport {
	return &Transport{client: client, token: token}
}

// Upload sends the extracted text as the document content.
func (t *Transport) Upload(ctx context.Context, doc ingest.Document, progress ingest.ProgressFunc) error {
	token := t.token
	if v, ok := ctx.Value(tokenKey{}).(string); ok && v != "" {
		token = v
	}
	return t.client.UploadDocument(ctx, token, doc.Name, doc.Text, progress)
}
