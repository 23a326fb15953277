// Package constants centralizes defaults shared across the CLI and the audit core.
//
// Timeouts, retry budgets and file permissions live here so cmd/ and internal/
// agree on them without importing each other.
package constants
