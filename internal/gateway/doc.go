// Package gateway orchestrates the inbox-gateway server components.
//
// # Overview
//
// The gateway owns the store, the WhatsApp client, the event broadcaster
// (plus the optional AMQP relay), the conversation service, the read-state
// reconciler, the unread engine and the websocket hub, and serves all of
// them over one HTTP server.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// Run listens on server.http_addr, or on a Tailscale node when
// tailscale.enabled is set (Funnel exposes the webhook publicly). Shutdown
// closes live streams first, then drains HTTP, then releases the relay,
// caches and store.
//
// # Routes
//
// Unauthenticated:
//
//	GET  /health, /health/ready   (ready is 503 while the AMQP relay is down)
//	GET  /webhook          subscription handshake
//	POST /webhook          message and status deliveries
//	GET  <metrics.path>    Prometheus scrape (when enabled)
//
// Bearer token required (Authorization header or ?token=):
//
//	/api/conversations...  list, mine, detail, messages, activity, assign,
//	                       status, close, reopen, read
//	/api/messages...       send, send-media, {id}/read, stats
//	/api/unread/...        count, messages, summary
//	/api/customers...      list, get, rename
//	/api/users/me, /api/auth/logout
//	/api/events            SSE stream
//	/ws                    websocket with room commands
//
// Admin role also required (403 otherwise):
//
//	/api/users...          list, create, stats, get, update, {id}/role,
//	                       {id}/toggle-status
//
// # Errors
//
// Handlers answer {"error": "..."}. Not-found maps to 404. Reading an
// outbound message, a taken email or an admin changing their own role or
// status map to 409. Validation failures and oversized media map to 400.
// WhatsApp API failures map to 502 with the provider's status and message.
package gateway
