package sqlite

import "ingest/internal/storage"

func init() {
	// registers the backend factory
	storage.Register("sqlite", New)
}
