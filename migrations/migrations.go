// Package migrations carries the engine's schema, applied with goose.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
