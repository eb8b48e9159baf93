// Package database provides the TimescaleDB connection pool used for
// latency sample and metrics snapshot persistence. Persistence is optional;
// the monitor runs entirely in memory when no database is configured.
package database
