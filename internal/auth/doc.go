// Package auth authenticates agents using the inbox.
//
// # Tokens
//
// Agents present HS256 JWTs signed with the configured jwt_secret:
//
//	verifier, err := auth.NewJWTVerifier(secret, revocations)
//	token, claims, err := verifier.Generate(userID, ttl)
//
// The sub claim carries the user id and jti a random token id. Tokens are
// sent as "Authorization: Bearer <token>", or as a token query parameter
// where the client cannot set headers (websocket and SSE).
//
// # Revocation
//
// Logging out revokes the token's jti until the token would have expired
// anyway. Revocations live in process memory, so a restart forgets them.
//
// # Middleware
//
// HTTPAuthMiddleware verifies the token, loads the user, rejects inactive
// accounts and attaches an AuthContext. RequireAdminHTTP gates admin-only
// routes. Services read the acting user with ActorID for activity logs.
package auth
