// Command gen-stream renders a payload into a photocell sample log that
// the receiver's -replay flag, decode-stream and plot-stream can play back.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/lightlink/internal/lightcode"
	"github.com/banshee-data/lightlink/internal/lightsim"
	"github.com/banshee-data/lightlink/internal/sampler"
	"github.com/banshee-data/lightlink/internal/security"
)

func main() {
	var (
		text    = flag.String("text", "", "payload as literal text")
		hexStr  = flag.String("hex", "", "payload as hex digits (overrides -text)")
		output  = flag.String("o", "stream.log", "output path")
		frames  = flag.Int("frames", 1, "number of frames to render")
		perUnit = flag.Int("samples-per-unit", 10, "receiver samples per base unit")
		ambient = flag.Float64("ambient", 500, "dark channel intensity")
		lit     = flag.Float64("lit", 3000, "lit channel intensity")
		noise   = flag.Float64("noise", 0, "gaussian noise standard deviation")
		jitter  = flag.Float64("jitter", 0, "pulse width jitter in base units")
		idle    = flag.Int("idle", 8, "idle base units before and after each frame")
		seed    = flag.Int64("seed", 0, "noise and jitter seed (0 seeds from the clock)")
	)
	flag.Parse()

	payload := []byte(*text)
	if *hexStr != "" {
		var err error
		payload, err = hex.DecodeString(*hexStr)
		if err != nil {
			log.Fatalf("invalid -hex payload: %v", err)
		}
	}

	syms, err := lightcode.Encode(payload)
	if err != nil {
		log.Fatalf("failed to encode payload: %v", err)
	}

	if err := security.ValidateExportPath(*output); err != nil {
		log.Fatalf("invalid output path: %v", err)
	}

	seedVal := *seed
	if seedVal == 0 {
		seedVal = time.Now().UnixNano()
	}
	r := lightsim.NewRenderer(seedVal)
	r.SamplesPerUnit = *perUnit
	r.Ambient = *ambient
	r.Lit = *lit
	r.Noise = *noise

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	defer f.Close()

	// The comment header documents how the stream was made; replay skips it.
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# lightlink sample stream\n")
	fmt.Fprintf(w, "# payload: %q (%d bytes, checksum 0x%02X)\n",
		payload, len(payload), lightcode.Checksum(payload))
	fmt.Fprintf(w, "# samples-per-unit=%d ambient=%g lit=%g noise=%g jitter=%g seed=%d frames=%d\n",
		*perUnit, *ambient, *lit, *noise, *jitter, seedVal, *frames)

	total := 0
	for i := 0; i < *frames; i++ {
		units := lightsim.Ratios(syms)
		if *jitter > 0 {
			units = r.Jitter(units, *jitter)
		}
		stream := r.Idle(*idle)
		stream = append(stream, r.Durations(units)...)
		stream = append(stream, r.Idle(*idle)...)

		for _, v := range stream {
			fmt.Fprintf(w, "%d\n", sampler.Quantize(v))
		}
		total += len(stream)
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("failed to write output: %v", err)
	}

	log.Printf("✓ Created: %s (%d samples, %d frames)", *output, total, *frames)
}
