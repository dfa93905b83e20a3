// Package store provides persistent storage for the inbox gateway using SQLite.
//
// # Architecture
//
// The store package is interface-driven, one accessor interface per entity:
//
//   - CustomerStore: WhatsApp contacts keyed by phone number
//   - ConversationStore: threads between a customer and the agent team
//   - MessageStore: inbound/outbound messages, read markers and unread queries
//   - UserStore: agent accounts
//   - ActivityStore: append-only audit of agent actions
//
// Store composes them and adds InTx. SQLiteStore and MockStore both
// implement Store.
//
// # Read state
//
// A message is unread when it is inbound and read_at is NULL. Read markers
// are written with guarded UPDATEs (read_at IS NULL in the WHERE clause) so
// concurrent marks settle on exactly one timestamp. A CHECK constraint keeps
// read_at off outbound rows.
//
// UnreadScope describes which unread messages a query covers. Assignment
// scoping (UserID) includes unassigned conversations; see VisibleTo.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// The pool is capped at one connection, so transactions serialize writers.
//
// # Errors
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: unique phone number, email or provider message id taken
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore with a t.TempDir()
// path for integration tests.
package store
