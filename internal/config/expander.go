package config

import "os"

// EnvironmentExpander expands placeholders in raw config bytes before
// parsing.
type EnvironmentExpander interface {
	Expand(input string) string
}

// OsEnvironmentExpander expands ${VAR} references from the process
// environment. Unset variables expand to the empty string.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates a new OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand substitutes ${VAR} and $VAR using os.Getenv.
func (e *OsEnvironmentExpander) Expand(input string) string {
	return os.ExpandEnv(input)
}
