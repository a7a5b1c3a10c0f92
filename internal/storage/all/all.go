// Package all registers every storage backend with storage.New.
package all

import (
	_ "demoindex/internal/storage/duckdb"
	_ "demoindex/internal/storage/mssql"
	_ "demoindex/internal/storage/postgres"
	_ "demoindex/internal/storage/sqlite"
)
