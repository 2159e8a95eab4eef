// Package util provides small shared helpers that do not belong to a
// domain-specific package.
//
// Key utilities:
//   - SafeTruncate: truncates strings so only a prefix of sensitive data is logged
//   - NormalizeURL: trailing-slash normalization for audience and resource comparison
//   - ClassifyIP: IP classification for redirect URI host checks
package util
