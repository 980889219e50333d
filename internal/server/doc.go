/*
Package server hosts the hub's HTTP router and its middleware chain.

# Middleware Components

## Request ID (requestid.go)

RequestIDMiddleware takes the X-Request-ID header of the client, or generates
a UUID when it is missing or too long, and adds it to:
  - The request context (accessible via GetRequestID)
  - The X-Request-ID response header

## Logging (logging.go)

LoggingMiddleware writes one structured line per request using slog:
  - Logs request start at debug level (method, path, remote_addr)
  - Logs request completion (status, duration); 4xx at warn, 5xx at error
  - Supports custom log fields via AddLogField/AddError

## Authentication (authmiddleware.go)

AuthMiddleware validates API keys and injects the tenant into the context:
  - Extracts the key from the Authorization header (Bearer format) or the
    access_token query parameter
  - Answers 401 with a JSON error for missing or unknown keys

## Timeout and body size (timeout.go)

TimeoutMiddleware puts a deadline on the request context. Handlers that
observe it answer 504. MaxBodyMiddleware rejects declared bodies above the
limit with 413 and caps the rest with http.MaxBytesReader.

# Middleware Chain Order

Every route gets:
 1. RequestIDMiddleware
 2. LoggingMiddleware
 3. Recoverer
 4. OTel instrumentation

Routes mounted with Server.API additionally get, in order:
 1. AuthMiddleware
 2. TimeoutMiddleware
 3. MaxBodyMiddleware

# Errors

WriteError converts any error with domain.FromError and answers with
{"error": {...}, "requestId": "..."}.
*/
package server
