// Package httputil provides shared HTTP response helpers for the API
// handlers: one JSON envelope, one error shape, one place that logs
// encode failures. Handlers should not write raw http.ResponseWriter
// JSON themselves.
package httputil
