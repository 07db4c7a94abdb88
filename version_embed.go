package main

import (
	_ "embed"
	"strings"

	"shotimport/cmd"
)

//go:embed VERSION
var versionFile string

// A -ldflags version wins over the file.
func init() {
	if v := strings.TrimSpace(versionFile); v != "" && cmd.Version == "dev" {
		cmd.Version = v
	}
	cmd.ApplyVersion()
}
