// Package content embeds the default roster.
package content

import (
	"embed"
	"io/fs"

	"github.com/tatianab/silver-tongue/internal/models"
)

//go:embed roster/*.yaml
var rosterFS embed.FS

// FS returns the embedded roster files at their root.
func FS() fs.FS {
	sub, err := fs.Sub(rosterFS, "roster")
	if err != nil {
		panic(err)
	}
	return sub
}

// Default loads the embedded roster.
func Default() (*models.Roster, error) {
	return models.LoadRoster(FS())
}
