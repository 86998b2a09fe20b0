// Package vad implements energy-based voice activity detection on 16 kHz
// float audio. It provides a per-window Processor, a streaming Iterator that
// reports the start and end of speech regions in sample offsets, and a batch
// helper that locates speech regions in a complete clip.
package vad
