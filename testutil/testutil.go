/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains assertion helpers for HTTP responses, channels and listening servers.
package testutil

type tHelper interface {
	Helper()
}
