package gpio

// FakeWriter is a test double that records relay writes.
type FakeWriter struct {
	// Writes contains every successful write in order.
	Writes []Write

	// Open holds the current relay state per valve.
	Open []bool

	// WriteError, if set, will be returned by Write().
	WriteError error

	// Closed tracks if Close was called
	Closed bool
}

// Write is a single recorded relay write.
type Write struct {
	Valve int
	Open  bool
}

// NewFakeWriter creates a FakeWriter for count valves.
func NewFakeWriter(count int) *FakeWriter {
	return &FakeWriter{Open: make([]bool, count)}
}

// Write records the relay state.
func (f *FakeWriter) Write(valve int, open bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	if err := checkValve(valve, len(f.Open)); err != nil {
		return err
	}
	f.Open[valve] = open
	f.Writes = append(f.Writes, Write{Valve: valve, Open: open})
	return nil
}

// Close releases every relay and marks the writer as closed.
func (f *FakeWriter) Close() error {
	for i := range f.Open {
		f.Open[i] = false
	}
	f.Closed = true
	return nil
}

// Reset clears recorded writes.
func (f *FakeWriter) Reset() {
	f.Writes = nil
	for i := range f.Open {
		f.Open[i] = false
	}
	f.Closed = false
	f.WriteError = nil
}
