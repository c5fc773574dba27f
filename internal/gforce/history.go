package gforce

// history is a fixed-capacity ring of smoothed values for one axis.
type history struct {
	buf  []float64
	next int
	full bool
}

func newHistory(capacity int) *history {
	return &history{buf: make([]float64, capacity)}
}

func (h *history) push(v float64) {
	h.buf[h.next] = v
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) len() int {
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// values returns the stored values in no particular order.
func (h *history) values() []float64 {
	return h.buf[:h.len()]
}

func (h *history) latest() float64 {
	if h.len() == 0 {
		return 0
	}
	i := h.next - 1
	if i < 0 {
		i = len(h.buf) - 1
	}
	return h.buf[i]
}

func (h *history) reset() {
	h.next = 0
	h.full = false
}
