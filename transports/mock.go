package transports

// MockTransport implements a transport for testing. Each Write call is
// recorded as one frame.
type MockTransport struct {
	WriteData []byte
	Frames    [][]byte
	WriteErr  error
	DrainErr  error
	Closed    bool
	Drained   int

	// ShortWrite, when positive, caps the byte count reported by Write.
	ShortWrite int
}

func (m *MockTransport) Write(p []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	frame := make([]byte, len(p))
	copy(frame, p)
	m.Frames = append(m.Frames, frame)
	m.WriteData = append(m.WriteData, p...)
	if m.ShortWrite > 0 && m.ShortWrite < len(p) {
		return m.ShortWrite, nil
	}
	return len(p), nil
}

func (m *MockTransport) Drain() error {
	if m.DrainErr != nil {
		return m.DrainErr
	}
	m.Drained++
	return nil
}

func (m *MockTransport) Close() error {
	m.Closed = true
	return nil
}

// LastFrame returns the most recently written frame, or nil.
func (m *MockTransport) LastFrame() []byte {
	if len(m.Frames) == 0 {
		return nil
	}
	return m.Frames[len(m.Frames)-1]
}
