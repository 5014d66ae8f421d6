// File: doc.go

// Package charon implements a refresh-token rotation protocol for HTTP
// session authentication: a token factory that signs and verifies opaque
// bearer tokens, a session store with optimistic-locking persistence and
// per-user expiration bookkeeping, a session engine that rotates refresh
// tokens through a sliding two-generation grace window, and a validation
// pipeline that resolves an inbound bearer token to its session.
//
// The package does not ship an HTTP framework adapter, a configuration
// loader, a cookie serialization policy, GraphQL middleware, or challenge
// modules (TOTP and friends); those are host concerns, consumed through
// the narrow RequestContext, SessionStore and TokenFactory contracts
// defined here. See cmd/charonserver for one concrete net/http wiring.
package charon
