// Package cli implements shopadmin-cli, the operator tool for the admin
// backend.
//
// # Commands
//
// Database commands talk to the database directly and read
// SHOPADMIN_DB_DRIVER and SHOPADMIN_DB_DSN unless -driver and -dsn are given:
//
//	shopadmin-cli migrate
//	shopadmin-cli seed -file ./seed.yaml
//	shopadmin-cli matrix -role Editor
//	shopadmin-cli matrix -user alice
//	shopadmin-cli check -user alice -function CONTENT_PRODUCT -command DELETE
//	shopadmin-cli grant -role Editor -function CONTENT_BRAND -command DELETE
//	shopadmin-cli revoke -role Editor -function CONTENT_BRAND -command DELETE
//
// token mints a development bearer token signed with
// SHOPADMIN_DEV_TOKEN_SECRET:
//
//	shopadmin-cli token -subject admin -roles Admin -ttl 8h
//
// API commands go through the REST API:
//
//	shopadmin-cli rating -api http://localhost:8080 -product <id> -stars 5 -comment "great"
//	shopadmin-cli average -api http://localhost:8080 -product <id>
package cli
