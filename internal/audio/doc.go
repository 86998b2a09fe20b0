// Package audio handles audio ingestion and format conversion for the
// streaming recognizer. It implements PCM16 decoding to normalized float
// samples, per-connection accumulation with first-chunk gating, sample and
// byte buffers, WAV encoding and decoding, loading of audio files resampled
// to 16 kHz, and a bounded decode cache shared by concurrent readers.
package audio
