// Package events carries live-update notifications from the inbox services
// to connected clients.
//
// An Event has a name (new_message, conversation_update, message_read, ...),
// a room and a JSON payload. Rooms are conversation_<id>, user_<id> and the
// global room. Services publish through the Publisher interface:
//
//   - Broadcaster routes events to in-process room subscribers (websocket
//     and SSE clients)
//   - AMQPRelay mirrors events to a RabbitMQ topic exchange
//   - Fanout combines publishers
//   - Queue holds events until a store transaction commits
//
// Delivery is best-effort everywhere. Publishers never block callers and
// never return errors.
package events
