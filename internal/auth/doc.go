// Package auth authenticates gateway operators.
//
// The operator account comes from configuration with an Argon2id PHC
// password hash. A successful login yields a short-lived HS256 access token
// carrying the operator role; the API verifies it on every request without
// any database lookup.
package auth
