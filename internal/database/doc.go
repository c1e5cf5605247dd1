// Package database builds the PostgreSQL connection pool used by the call
// archive.
package database
