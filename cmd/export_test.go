package cmd

import "io"

// SetOutput redirects command output and returns a function restoring it.
func SetOutput(w io.Writer) func() {
	prev := output
	output = w
	return func() { output = prev }
}

// SetStdinIsTerminal overrides terminal detection for prompts.
func SetStdinIsTerminal(isTerminal bool) func() {
	prev := stdinIsTerminal
	stdinIsTerminal = func() bool { return isTerminal }
	return func() { stdinIsTerminal = prev }
}

// SetLinearEndpoint points the issue command at a test server.
func SetLinearEndpoint(url string) func() {
	prev := linearEndpoint
	linearEndpoint = url
	return func() { linearEndpoint = prev }
}
