package storage

import (
	"context"

	"github.com/google/uuid"
)

// DocumentMeta describes an uploaded file.
type DocumentMeta struct {
	OwnerID     uuid.UUID
	ModuleID    uuid.UUID
	Field       string
	Filename    string
	ContentType string
}

// DocumentStore persists application documents and hands back an opaque reference.
type DocumentStore interface {
	Store(ctx context.Context, content []byte, meta DocumentMeta) (string, error)
	Retrieve(ctx context.Context, ref string) ([]byte, error)
}
