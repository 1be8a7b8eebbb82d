// Package configs embeds the configuration templates written by
// `repoindex config init`.
//
// Configuration precedence (see internal/config Load):
//  1. Defaults (config.NewConfig)
//  2. User config (~/.config/repoindex/config.yaml)
//  3. Project config (<config-dir>/.repoindex.yaml)
//  4. .env in the config directory, then REPOINDEX_* environment variables
package configs

import _ "embed"

// ProjectConfigTemplate is written to <config-dir>/.repoindex.yaml.
//
//go:embed repoindex.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is written to the user config path with --user.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
