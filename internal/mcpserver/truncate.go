package mcpserver

import "fmt"

// maxOutputTokens and charsPerToken together bound a tool result's
// rendered size: 8000 tokens at an approximate 4 characters per token.
const (
	maxOutputTokens = 8000
	charsPerToken   = 4
	maxOutputChars  = maxOutputTokens * charsPerToken
)

const truncationFooter = "\n--- TRUNCATED --- use opensrc.files/opensrc.read to narrow your query"

// truncate clamps s to maxOutputChars, appending a footer that names the
// narrowing verbs when it cuts anything.
func truncate(s string) string {
	if len(s) <= maxOutputChars {
		return s
	}
	cut := maxOutputChars - len(truncationFooter)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationFooter
}

func formatError(err error) string {
	return fmt.Sprintf("Error: %s", err.Error())
}
