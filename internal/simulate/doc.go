// Package simulate replays a recorded audio file through an ASR engine to
// reproduce streaming behavior offline. Three pacing modes are supported:
// the whole file at once, fixed chunks on a virtual clock, and chunks paced
// by the wall clock.
package simulate
