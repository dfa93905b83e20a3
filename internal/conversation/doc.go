// Package conversation is the inbox's working layer: it ingests provider
// webhooks, sends agent replies and manages conversations and customers.
//
// # Ingestion
//
// HandleWebhook walks every message and status callback in a delivery:
//
//  1. Drop the message if its provider id was already seen
//  2. Find the customer by phone, or create one named after the contact
//  3. Reuse the customer's open conversation, or start a new one
//  4. Record the inbound message unread, with the raw payload as metadata
//  5. Announce new_message, conversation_update and unread counts
//
// Status callbacks update delivery status on outbound messages only.
//
// # Sending
//
// SendText and SendMedia dispatch through the provider first. If the
// provider refuses, nothing is recorded. The stored message carries the
// provider id and the acting agent.
//
// # Events
//
// All writes happen in one store transaction. Events are queued and
// published after commit, so subscribers never see rolled-back state.
package conversation
