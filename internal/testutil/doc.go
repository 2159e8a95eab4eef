// Package testutil provides test fixtures and helpers shared across the
// engine's test suites: a controllable clock, PKCE and random-value
// generators, JOSE signing helpers, and canned clients and accounts.
package testutil
