package sampler

// PCAPConfig contains configuration options for a PCAPSource.
type PCAPConfig struct {
	// File is the packet capture to replay.
	File string

	// UDPPort filters the capture to sample datagrams on this port.
	UDPPort int

	// Encoding is how datagram payloads carry readings.
	Encoding Encoding
}
