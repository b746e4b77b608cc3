// Package client is a typed Go client for the shopadmin REST API.
//
// Requests authenticate with a static bearer token or, for service
// accounts, with OAuth2 client credentials fetched from the identity
// provider. Non-2xx responses are returned as *Error carrying the decoded
// {message, code, errors} body.
package client
