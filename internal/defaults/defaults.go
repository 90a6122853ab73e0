// Package defaults provides embedded copies of the starter configuration
// and system prompt written by the relay init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the starter configuration file.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// SystemPromptMD is the starter system prompt.
//
//go:embed system-prompt.example.md
var SystemPromptMD []byte
