// Package schema embeds the warehouse DDL so a fresh database can be
// initialized by the binary without external migration tooling.
package schema

import (
	"embed"
)

//go:embed *.sql
var Content embed.FS
