// Package fetch implements the tiered content-fetch engine: URL normalization,
// content truncation, the error taxonomy, retry policy, and the orchestrator
// that fans a batch of URLs out over the browser, lightweight, and archive tiers.
package fetch
