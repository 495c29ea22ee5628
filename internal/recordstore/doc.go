// Package recordstore provides a generic, concurrent-safe, file-backed record store.
//
// # Overview
//
// A [Record] is an opaque JSON object carrying a mandatory string "id". Records
// are grouped in named collections. [Store] persists each collection as one
// pretty-printed JSON array in a data directory. The [Engine] interface is the
// storage contract shared with the relational variant in package sqlstore.
//
// # Concurrency: Pessimistic Locking
//
// Every mutation is a read-entire-collection, modify-in-memory,
// write-entire-collection cycle performed while holding the collection's
// exclusive lock. Reads hold the shared lock and observe the last fully written
// file. Lock waits are FIFO and bounded by the store's lock timeout.
//
// # Transactions
//
// [Tx] spans several collections. Locks are acquired in alphabetical order so
// that overlapping transactions cannot deadlock. [Store.CascadeDelete] uses a Tx
// to delete a root record and all its dependents as one unit.
//
// # File Format
//
// One JSON array of objects per collection, indented with two spaces. Files are
// replaced atomically (temp file, fsync, rename).
package recordstore
