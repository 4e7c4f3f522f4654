// Package auth verifies the bearer tokens presented by downstream clients.
//
// Tokens are RS256 JWTs issued by the identity provider. Signing keys come
// from the provider's JWKS endpoint, or from a static PEM public key for
// local development. WebSocket clients pass the token as the token query
// parameter of the upgrade request.
package auth
