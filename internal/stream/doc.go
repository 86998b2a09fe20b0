// Package stream implements per-connection transcription sessions. A
// Connection wraps the client socket, a TranscriptionSession pulls audio
// from it, drives the ASR engine and sends back stitched, non-overlapping
// segments, and the Manager keeps track of live sessions and cancels idle
// ones.
package stream
