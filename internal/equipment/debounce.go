package equipment

// debouncer asserts a fault kind only after it has been observed on
// `cycles` consecutive sweeps. A different observation restarts the count.
type debouncer struct {
	cycles  int
	pending ErrorKind
	count   int
}

func newDebouncer(cycles int) *debouncer {
	if cycles < 1 {
		cycles = 1
	}
	return &debouncer{cycles: cycles, pending: ErrorNone}
}

// observe records one sweep's candidate and reports whether it has
// persisted long enough to assert.
func (d *debouncer) observe(kind ErrorKind) bool {
	if kind != d.pending {
		d.pending = kind
		d.count = 0
	}
	if d.count < d.cycles {
		d.count++
	}
	return d.count >= d.cycles
}

func (d *debouncer) reset() {
	d.pending = ErrorNone
	d.count = 0
}
