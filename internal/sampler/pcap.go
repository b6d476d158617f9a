//go:build pcap
// +build pcap

package sampler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// PCAPSource replays sample datagrams from a packet capture, so a session
// recorded off the wire can be decoded again offline. Only available when
// building with the 'pcap' build tag.
type PCAPSource struct {
	fanout
	cfg PCAPConfig
}

// NewPCAPSource creates a capture-replay source.
func NewPCAPSource(cfg PCAPConfig) (*PCAPSource, error) {
	return &PCAPSource{fanout: newFanout(), cfg: cfg}, nil
}

// Monitor reads the capture and publishes every reading it carries.
func (p *PCAPSource) Monitor(ctx context.Context) error {
	handle, err := pcap.OpenOffline(p.cfg.File)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", p.cfg.File, err)
	}
	defer handle.Close()

	// Only capture UDP packets on the sample port
	filterStr := fmt.Sprintf("udp port %d", p.cfg.UDPPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
	}
	log.Printf("PCAP BPF filter set: %s", filterStr)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0
	readingCount := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			log.Printf("PCAP reader stopping due to context cancellation (processed %d packets)", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				// End of capture
				elapsed := time.Since(startTime)
				log.Printf("PCAP replay complete: %d packets, %d readings in %v", packetCount, readingCount, elapsed)
				return nil
			}
			packetCount++

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok {
				continue
			}
			payload := udp.Payload
			if len(payload) == 0 {
				continue
			}

			for _, v := range parseDatagram(payload, p.cfg.Encoding) {
				p.publish(v)
				readingCount++
			}
		}
	}
}

// Close closes all subscriber channels.
func (p *PCAPSource) Close() error {
	p.closeAll()
	return nil
}
