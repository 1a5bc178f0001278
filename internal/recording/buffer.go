package recording

// chunkBuffer is an append-only buffer. Writes accumulate in a pending
// slice that Seal moves into the sealed chunk list.
type chunkBuffer struct {
	capHint int
	pending []byte
	chunks  [][]byte
	size    int
}

func newChunkBuffer(capHint int) *chunkBuffer {
	return &chunkBuffer{capHint: capHint}
}

func (b *chunkBuffer) Write(p []byte) (int, error) {
	if b.pending == nil {
		b.pending = make([]byte, 0, max(b.capHint, len(p)))
	}
	b.pending = append(b.pending, p...)
	b.size += len(p)
	return len(p), nil
}

// Seal closes the pending chunk.
func (b *chunkBuffer) Seal() {
	if len(b.pending) == 0 {
		return
	}
	b.chunks = append(b.chunks, b.pending)
	b.pending = nil
}

// Chunks is the number of sealed chunks.
func (b *chunkBuffer) Chunks() int {
	return len(b.chunks)
}

// Len is the total number of bytes written.
func (b *chunkBuffer) Len() int {
	return b.size
}

// Bytes seals the pending chunk and concatenates everything.
func (b *chunkBuffer) Bytes() []byte {
	b.Seal()
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Reset discards all data.
func (b *chunkBuffer) Reset() {
	b.pending = nil
	b.chunks = nil
	b.size = 0
}
