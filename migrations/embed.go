// Package migrations embeds the SQL that creates the run journal tables.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

func FS() fs.FS {
	return files
}
