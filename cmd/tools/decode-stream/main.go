// Command decode-stream plays a recorded sample log through the pulse
// decoder and prints the link traffic it carries.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/lightlink/internal/config"
	"github.com/banshee-data/lightlink/internal/decode"
	"github.com/banshee-data/lightlink/internal/lightcode"
	"github.com/banshee-data/lightlink/internal/sampler"
)

func main() {
	var (
		tuningFile    = flag.String("tuning", "", "tuning config JSON path (built-in defaults when empty)")
		estimateNoise = flag.Bool("estimate-noise", false, "print the capture's noise floor estimate and exit")
		showBytes     = flag.Bool("bytes", false, "print each assembled byte")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: decode-stream [flags] <sample-log>")
	}

	readings, err := sampler.ReadSampleLog(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to read sample log: %v", err)
	}
	samples := make([]float64, len(readings))
	for i, v := range readings {
		samples[i] = float64(v)
	}

	if *estimateNoise {
		fmt.Printf("noise floor estimate: %.2f (stddev of %d samples)\n",
			decode.EstimateNoiseFloor(samples), len(samples))
		fmt.Println("capture ambient light with the transmitter dark for a clean estimate")
		return
	}

	tuning := config.EmptyTuningConfig()
	if *tuningFile != "" {
		tuning, err = config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	cfg := tuning.DecoderConfig()
	cfg.Handler = func(ev decode.Event) {
		switch ev.Code {
		case decode.EventSyncAcquired:
			fmt.Printf("sync acquired: base unit %.2f samples\n", ev.BaseUnit)
		case decode.EventByteReceived:
			if *showBytes {
				fmt.Printf("  byte 0x%02X\n", ev.Byte)
			}
		case decode.EventPacketValid:
			fmt.Printf("✓ packet: %q (%d bytes, checksum 0x%02X)\n",
				ev.Frame.Payload, len(ev.Frame.Payload), ev.Frame.Checksum)
		case decode.EventPacketInvalid:
			fmt.Printf("✗ invalid packet: checksum 0x%02X, want 0x%02X (%d bytes)\n",
				ev.Frame.Checksum, lightcode.Checksum(ev.Frame.Payload), len(ev.Frame.Payload))
		}
	}

	dec := decode.NewDecoder(cfg)
	dec.ProcessAll(samples)

	st := dec.Stats()
	fmt.Printf("\n%d samples: %d sync locks, %d bytes, %d valid, %d invalid\n",
		len(samples), st.SyncLocks, st.BytesAssembled, st.PacketsValid, st.PacketsInvalid)
	if st.UnclassifiedPulses > 0 || st.FramesAborted > 0 {
		fmt.Printf("%d unclassified pulses, %d aborted frames\n",
			st.UnclassifiedPulses, st.FramesAborted)
	}
}
