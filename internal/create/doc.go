// Package create is a client for the remote sketch store API.
//
// File content travels base64-encoded; the client encodes and decodes at the
// boundary so callers deal in raw bytes. Writes are confirmed by re-listing
// the sketch directory because the remote acknowledges a POST before the file
// is visible.
package create
