// Package server exposes transcription sessions over the network: a TCP
// server speaking the line-packet protocol, a WebSocket server for
// clip-at-a-time transcription and an HTTP API for monitoring, Prometheus
// metrics and sample file transcription.
package server
