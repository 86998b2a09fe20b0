// Package asr defines the incremental speech recognition contract used by
// streaming sessions and provides its implementations. Batch transcribers
// talk to a faster-whisper compatible HTTP server or to the OpenAI audio API;
// the online processor turns a batch transcriber into an incremental engine
// by committing words two consecutive hypotheses agree on, and the VAC
// processor gates it with voice activity detection.
package asr
