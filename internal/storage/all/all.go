// Package all links in every storage backend. Blank-import it from a main
// package to make the registered kinds available.
package all

import (
	_ "ingest/internal/storage/mssql"
	_ "ingest/internal/storage/postgres"
	_ "ingest/internal/storage/sqlite"
)
