// Package sink implements chat.Sink destinations for a finished transcript: a CSV file in
// the output directory, the Postgres tables from package db, and a fan-out over several sinks.
package sink
