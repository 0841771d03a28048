// Package auth resolves the identity of collaboration clients.
//
// # JWT Tokens
//
// Clients authenticate with HS256 JWTs signed with auth.jwt_secret. The
// "sub" claim is the user ID used for presence and locks; an optional
// "roles" claim grants operator access ("admin" or "owner").
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("alice", []string{"admin"}, 24*time.Hour)
//
// Tokens are read from the Authorization header, or from the access_token
// query parameter on WebSocket upgrades.
//
// # Anonymous Mode
//
// Without a secret the middleware trusts the user_id query parameter or the
// X-User-ID header. Anonymous identities can collaborate but are never admins.
package auth
