// Package embedded provides the default prompt templates compiled into the
// orchestrald binary, used when no project-local template override exists.
package embedded

import "embed"

// PromptTemplates holds the four default agent prompt templates, rendered
// by internal/promptgen.
//
//go:embed all:prompts
var PromptTemplates embed.FS
