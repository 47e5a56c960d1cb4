// Package contextdef provides Context Definition sources: read-only key-value
// providers that bind attribute values the configuration session does not own.
//
// Paths are dotted, e.g. SalesTransaction.UserProfile.Region. Providers can
// be backed by memory (MapProvider), a SQLite table (SQLiteProvider) or a
// Starlark script (StarlarkProvider), and combined with Chain.
package contextdef
