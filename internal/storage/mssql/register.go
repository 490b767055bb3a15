package mssql

import "ingest/internal/storage"

func init() {
	// registers the backend factory
	storage.Register("mssql", New)
}
