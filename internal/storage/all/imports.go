// Package all registers every built-in storage backend with the storage
// factory. Import it for its side effects:
//
//	import _ "apiload/internal/storage/all"
//
// Binaries that need only some backends import those packages instead.
package all

import (
	_ "apiload/internal/storage/bigquery"
	_ "apiload/internal/storage/mssql"
	_ "apiload/internal/storage/mysql"
	_ "apiload/internal/storage/postgres"
	_ "apiload/internal/storage/sqlite"
)
