// Package migrations embeds the SQL schema so binaries can migrate without
// a checkout of the repository.
package migrations

import "embed"

// FS holds every NNN_name.{up,down}.sql file.
//
//go:embed *.sql
var FS embed.FS
