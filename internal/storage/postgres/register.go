package postgres

import "ingest/internal/storage"

func init() {
	// registers the backend factory
	storage.Register("postgres", New)
}
