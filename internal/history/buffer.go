package history

// Buffer is a fixed-capacity circular store of load samples. The mean
// is taken over the full window including slots that have not been
// written yet, so the average ramps up from zero over the first
// window-many ticks. That dilution is deliberate: it keeps a burst of
// early samples from onlining everything right after startup, and it
// absorbs short load spikes that the frequency governor should handle
// instead.
type Buffer struct {
	samples []uint
	cursor  int
}

func New(window uint) *Buffer {
	if window == 0 {
		window = 1
	}
	return &Buffer{samples: make([]uint, window)}
}

// Record overwrites the slot at the cursor, advances the cursor modulo
// the window and returns the mean over all slots.
func (b *Buffer) Record(sample uint) uint {
	b.samples[b.cursor] = sample
	b.cursor++
	if b.cursor == len(b.samples) {
		b.cursor = 0
	}

	var sum uint
	for _, s := range b.samples {
		sum += s
	}
	return sum / uint(len(b.samples))
}

// Window returns the buffer capacity.
func (b *Buffer) Window() uint {
	return uint(len(b.samples))
}
