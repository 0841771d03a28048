// Package dedupe provides a time-windowed cache of recently seen keys, used
// to make client command retries idempotent.
package dedupe
