package sampler

import "context"

// MockSource publishes a scripted sequence of readings and then returns
// from Monitor. It gives consumers a Source they can drive deterministically
// in tests.
type MockSource struct {
	fanout
	samples []uint16
}

// NewMockSource creates a source that will publish the given readings in
// order.
func NewMockSource(samples ...uint16) *MockSource {
	return &MockSource{fanout: newFanout(), samples: samples}
}

// Monitor publishes the scripted readings and returns nil, or ctx.Err()
// if cancelled part way.
func (m *MockSource) Monitor(ctx context.Context) error {
	for _, v := range m.samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.publish(v)
	}
	return nil
}

// Close closes all subscriber channels.
func (m *MockSource) Close() error {
	m.closeAll()
	return nil
}
