// Package store provides the collaboration ledger: an append-only history of
// committed session events kept in SQLite.
//
// The ledger answers "who changed this file and when" for operators. It
// records versions, lock holders and content sizes, but never file content,
// and it is never read back to seed a session: a re-created session always
// starts fresh at version 0.
//
// Writes go through AsyncWriter, which the gateway registers as an observer
// on the collaboration Manager.
package store
