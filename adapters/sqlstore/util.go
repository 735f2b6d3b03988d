// Package sqlstore provides MySQL implementations of the engine's
// persistence contracts. Each store takes a writer and reader connection so
// reads can be served from replicas.
package sqlstore

// row is a common interface for *sql.Rows and *sql.Row.
type row interface {
	Scan(dest ...any) error
}
