// Package readstate marks inbound messages read and keeps each
// conversation's status consistent with what remains unread.
//
// A conversation is open while it has unread inbound messages and closed
// once none remain. Every write happens inside one store transaction;
// events are queued and published only after the commit. Read receipts to
// the provider are advisory: a failed receipt is logged and never fails
// the local read.
package readstate
