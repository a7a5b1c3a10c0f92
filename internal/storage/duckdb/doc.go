// Package duckdb registers the "duckdb" storage backend. The driver needs cgo;
// without it the package compiles to nothing and the kind stays unregistered.
package duckdb
