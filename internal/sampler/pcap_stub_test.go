//go:build !pcap
// +build !pcap

package sampler

import (
	"context"
	"strings"
	"testing"
)

func TestNewPCAPSourceStubReturnsBuildHint(t *testing.T) {
	src, err := NewPCAPSource(PCAPConfig{File: "capture.pcap", UDPPort: 9911})
	if err == nil {
		t.Fatal("Expected error from stub constructor")
	}
	if !strings.Contains(err.Error(), "-tags=pcap") {
		t.Errorf("Expected build hint in error, got %q", err.Error())
	}
	if src != nil {
		t.Error("Expected nil source from stub constructor")
	}
}

func TestPCAPSourceStubMonitorFails(t *testing.T) {
	src := &PCAPSource{fanout: newFanout()}

	err := src.Monitor(context.Background())
	if err == nil {
		t.Fatal("Expected error from stub Monitor")
	}
	if !strings.Contains(err.Error(), "-tags=pcap") {
		t.Errorf("Expected build hint in error, got %q", err.Error())
	}

	if err := src.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}
