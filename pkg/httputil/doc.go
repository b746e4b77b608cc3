// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Envelope
//
// Success responses carry the resource as JSON. Errors always use
// {"message": "..."} and validation failures add field level detail:
//
//	{"message": "one or more validation errors occurred",
//	 "code": "validation_failed",
//	 "errors": [{"field": "name", "message": "is required"}]}
//
// WriteAppError maps the apperr taxonomy onto status codes:
//
//	validation, conflict, persistence -> 400
//	not found                         -> 404
//	unauthorized / forbidden          -> 401 / 403
//	anything else                     -> 500 (logged, message hidden)
//
// # Request Parsing
//
//	var req createFunctionRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	page, err := httputil.ParsePaging(r) // filter, pageIndex (1-based), pageSize
//	ids := httputil.ParseQueryList(r, "commandIds")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
