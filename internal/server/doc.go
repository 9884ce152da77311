// Package server exposes the service over the network: the UDP TLV ingest
// for meeting audio, the HTTP management API, and WebSocket endpoints for
// event streaming and browser audio ingest.
package server
