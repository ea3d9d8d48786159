// Package server implements the HTTP transport for filedrop. It routes
// uploads and downloads to the storage service, maps storage errors onto
// status codes, and carries the ambient middleware: request ids, access
// logging, panic recovery, security headers, CORS, rate limiting, metrics
// and the optional audit trail.
package server
