// Package protocol implements the line-packet framing used to exchange text
// over a byte stream. It handles encoding of single text lines into fixed-size
// zero-padded packets, blocking and non-blocking line decoding, and the JSON
// control messages used by the WebSocket transport.
package protocol
