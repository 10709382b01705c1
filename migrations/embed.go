// Package migrations embeds the schema migrations into the binary.
//
// Importing it for side effects registers the files with the database
// package, so Migrate works without the SQL on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/grott-scheduler/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
