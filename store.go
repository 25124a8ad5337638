package dynts

import "context"

// Record is the persisted form of a chunk: the sizes table and the packed data.
type Record struct {
	Sizes []byte
	Data  []byte
}

// Store is the key-value collaborator that persists sealed chunks.
// Implementations own retries and timeouts; the chunk code never blocks.
type Store interface {
	// Get returns the record stored under (primaryKey, secondaryKey), or an
	// error matching ErrNotFound.
	Get(ctx context.Context, primaryKey, secondaryKey string) (Record, error)

	// Put stores rec under (primaryKey, secondaryKey), replacing any previous record.
	Put(ctx context.Context, primaryKey, secondaryKey string, rec Record) error
}

// ManifestStore is implemented by stores that can also keep hypertable manifests.
type ManifestStore interface {
	Store

	// GetManifest returns the manifest saved for a hypertable, or an error
	// matching ErrNotFound.
	GetManifest(ctx context.Context, hypertable string) ([]byte, error)

	PutManifest(ctx context.Context, hypertable string, data []byte) error
}

// Key addresses one record.
type Key struct {
	Primary   string
	Secondary string
}

// Lister is implemented by stores that can enumerate their record keys.
type Lister interface {
	Keys(ctx context.Context) ([]Key, error)
}
