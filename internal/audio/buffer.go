package audio

// RingBuffer keeps the most recent bytes written to it, overwriting the oldest
// once full. The segmenter uses it as pre-roll so the onset of an utterance,
// captured before the energy threshold trips, is not clipped.
type RingBuffer struct {
	buffer []byte
	size   int
	start  int
	length int
}

// NewRingBuffer creates a new ring buffer holding at most size bytes
func NewRingBuffer(size int) *RingBuffer {
	if size < 0 {
		size = 0
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, evicting the oldest bytes when full. It always reports
// len(data) as written.
func (rb *RingBuffer) Write(data []byte) (int, error) {
	if rb.size == 0 {
		return len(data), nil
	}

	// Only the tail of an oversized write can survive
	src := data
	if len(src) > rb.size {
		src = src[len(src)-rb.size:]
	}

	for _, b := range src {
		end := (rb.start + rb.length) % rb.size
		rb.buffer[end] = b
		if rb.length < rb.size {
			rb.length++
		} else {
			rb.start = (rb.start + 1) % rb.size
		}
	}

	return len(data), nil
}

// Drain returns the buffered bytes oldest first and empties the buffer
func (rb *RingBuffer) Drain() []byte {
	out := make([]byte, rb.length)
	for i := 0; i < rb.length; i++ {
		out[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	rb.Clear()
	return out
}

// Available returns the number of buffered bytes
func (rb *RingBuffer) Available() int {
	return rb.length
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.start = 0
	rb.length = 0
}
