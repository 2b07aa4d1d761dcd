/*
Package fetch is the supervisor's outbound HTTP client: retrying
downloads with digest verification, and JSON GETs against registry APIs.

Download streams to a .part file in the destination directory, verifies
the expected digest while writing, and renames into place only when both
the body and the digest check out. A partial or corrupt transfer never
replaces an existing good file. GetJSON fetches and decodes small API
responses with the same retry policy.

Retries ride on hashicorp/go-retryablehttp with jittered exponential
backoff; retryablehttp's internal logging is bridged into zerolog at
debug level. Both entry points honor context cancellation.
*/
package fetch
