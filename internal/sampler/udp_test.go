package sampler

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// startUDPSource runs Monitor in the background and waits for the socket
// to come up, returning the bound address and the Monitor error channel.
func startUDPSource(t *testing.T, ctx context.Context, src *UDPSource) (net.Addr, chan error) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Monitor(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := src.LocalAddr(); addr != nil {
			return addr, errCh
		}
		select {
		case err := <-errCh:
			t.Fatalf("Monitor exited before listening: %v", err)
		case <-time.After(5 * time.Millisecond):
		}
	}
	t.Fatal("UDP source never started listening")
	return nil, nil
}

func TestUDPSourceBinaryDatagrams(t *testing.T) {
	src := NewUDPSource(UDPConfig{Address: "127.0.0.1:0", Encoding: EncodingBinary})
	_, ch := src.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, errCh := startUDPSource(t, ctx, src)

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("Failed to dial UDP source: %v", err)
	}
	defer conn.Close()

	// 500, 3000, 500 little-endian
	if _, err := conn.Write([]byte{0xF4, 0x01, 0xB8, 0x0B, 0xF4, 0x01}); err != nil {
		t.Fatalf("Failed to send datagram: %v", err)
	}

	got := recvReadings(t, ch, 3, 2*time.Second)
	want := []uint16{500, 3000, 500}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Reading %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancellation")
	}
}

func TestUDPSourceTextDatagrams(t *testing.T) {
	src := NewUDPSource(UDPConfig{Address: "127.0.0.1:0", Encoding: EncodingText})
	_, ch := src.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, _ := startUDPSource(t, ctx, src)

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("Failed to dial UDP source: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("100\n200\n# note\n")); err != nil {
		t.Fatalf("Failed to send datagram: %v", err)
	}

	got := recvReadings(t, ch, 2, 2*time.Second)
	if got[0] != 100 || got[1] != 200 {
		t.Errorf("Expected readings [100 200], got %v", got)
	}
}

func TestUDPSourceResolveError(t *testing.T) {
	src := NewUDPSource(UDPConfig{Address: "not-a-real-host-name-xyz:notaport"})

	err := src.Monitor(context.Background())
	if err == nil {
		t.Fatal("Expected error for unresolvable address")
	}
}

func TestUDPSourceCloseWithoutMonitor(t *testing.T) {
	src := NewUDPSource(UDPConfig{Address: "127.0.0.1:0"})
	_, ch := src.Subscribe()

	if err := src.Close(); err != nil {
		t.Errorf("Close without Monitor returned error: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("Expected subscriber channel to be closed")
	}
	if src.LocalAddr() != nil {
		t.Error("Expected nil LocalAddr before Monitor")
	}
}
