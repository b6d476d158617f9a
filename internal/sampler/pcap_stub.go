//go:build !pcap
// +build !pcap

package sampler

import (
	"context"
	"fmt"
)

// PCAPSource is a stub when PCAP support is disabled.
// Build with -tags=pcap to enable capture replay.
type PCAPSource struct {
	fanout
}

// NewPCAPSource is a stub implementation when PCAP support is disabled.
func NewPCAPSource(cfg PCAPConfig) (*PCAPSource, error) {
	return nil, fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable capture replay")
}

// Monitor always fails on the stub.
func (p *PCAPSource) Monitor(ctx context.Context) error {
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable capture replay")
}

// Close closes all subscriber channels.
func (p *PCAPSource) Close() error {
	p.closeAll()
	return nil
}
