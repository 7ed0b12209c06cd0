package segment

// buffers holds the per-session sample storage. The analysis buffer handed
// to the detector is voice itself; there is no separate copy.
type buffers struct {
	// context is the trailing audio carried into the next emission.
	context []float32
	// voice accumulates audio until it is emitted or cleaned up.
	voice []float32
}

// appendVoice adds chunk to the voice buffer.
func (b *buffers) appendVoice(chunk []float32) {
	b.voice = append(b.voice, chunk...)
}

// analysis returns the buffer the detector classifies.
func (b *buffers) analysis() []float32 { return b.voice }

// span assembles context followed by voice into a new slice.
func (b *buffers) span() []float32 {
	out := make([]float32, 0, len(b.context)+len(b.voice))
	out = append(out, b.context...)
	return append(out, b.voice...)
}

// keepVoiceTail replaces context with the last n samples of voice. The
// voice buffer is left intact.
func (b *buffers) keepVoiceTail(n int) {
	b.context = append(b.context[:0], tail(b.voice, n)...)
}

// retire moves the last n samples of voice into context and empties voice.
func (b *buffers) retire(n int) {
	b.keepVoiceTail(n)
	b.voice = b.voice[:0]
}

// release drops both buffers.
func (b *buffers) release() {
	b.context = nil
	b.voice = nil
}

// tail returns the last n samples of s, or all of s when it is shorter.
func tail(s []float32, n int) []float32 {
	if n <= 0 {
		return nil
	}
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}
