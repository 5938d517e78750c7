// Package jwt issues and verifies session tokens. A token carries the
// credential identity, its role and the session version it was minted
// against; whether that version is still current is decided by the caller.
package jwt
