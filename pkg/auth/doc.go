// Package auth verifies bearer tokens and administers user accounts.
//
// Identity is owned by an external OpenID Connect provider. OIDCVerifier
// validates ID tokens against the provider's published keys; HMACVerifier
// accepts HS256 tokens signed with a shared secret for local development and
// tests. Both produce an AuthContext carrying the subject, username and any
// role ids present in the token's "roles" claim.
//
// UserStore keeps a local record per subject so that roles can be assigned
// before a user first signs in. Deleting a user runs registered DeleteHooks
// in the same transaction; the rbac store uses one to drop memberships.
//
// # Usage
//
//	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.IssuerURL, cfg.Auth.ClientID)
//	ac, err := verifier.Verify(ctx, rawToken)
//	ctx = auth.WithAuthContext(ctx, ac)
package auth
