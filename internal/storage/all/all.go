// Package all registers every storage backend and the SQL drivers they need.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "mediasync/internal/storage/mssql"
	_ "mediasync/internal/storage/postgres"
	_ "mediasync/internal/storage/sqlite"
)
