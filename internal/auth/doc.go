// Package auth implements the gateway's API key fast path: extracting the
// raw token from request headers, verifying it against the stored salted
// hashes in constant time, and checking key scopes against the attempted
// operation.
//
// Secrets are hashed with scrypt over a per-key random salt; the raw secret
// exists only in the creation response and in callers' hands. A development
// bypass can disable enforcement, but only in builds compiled with
// devBuild=true.
package auth
