// Package logging provides opt-in file-based logging with rotation for
// opensrc. When --debug is set, logs are written to $OPENSRC_DIR/logs/
// for troubleshooting; otherwise logging stays minimal on stderr.
package logging
