// Package realtime serves live inbox updates over websockets.
//
// A client connects to /ws with a bearer token (header or ?token=) and is
// placed in the global room and its own user room. It then sends JSON
// commands:
//
//	{"command": "join_conversation", "conversationId": 12}
//	{"command": "leave_conversation", "conversationId": 12}
//	{"command": "join_user_room", "userId": 3}
//
// Every server message has the shape {"event": "...", "data": {...}}.
// Clients that fall behind are disconnected and expected to reconnect and
// refetch.
package realtime
