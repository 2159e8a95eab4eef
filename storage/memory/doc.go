// Package memory provides an in-memory implementation of every repository
// interface of the engine.
//
// The Store exposes per-kind repository views (AccessTokens, RefreshTokens,
// AuthorizationCodes, Clients, UserAccounts, TrustedIssuers) backed by maps
// under a single mutex. The mutex makes the used and revoked transitions
// atomic: of two concurrent exchanges of the same authorization code exactly
// one succeeds.
//
// Features:
//   - Automatic cleanup of expired tokens and codes
//   - Configurable cleanup intervals
//   - Optional at-rest encryption of sensitive token parameters
//
// It is suitable for development, testing, and single-instance deployments.
// For multi-instance deployments use the storage/valkey package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	codes := store.AuthorizationCodes()
package memory
