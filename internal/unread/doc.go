// Package unread answers "what hasn't an agent read yet" queries.
//
// A message is unread when it is inbound and has no read_at. With a user
// scope, conversations assigned to that user and unassigned conversations
// are both counted: unclaimed work is visible to every agent.
package unread
