package migrations

import "embed"

// FS holds the goose migrations shipped with the binary.
//
//go:embed *.sql
var FS embed.FS
