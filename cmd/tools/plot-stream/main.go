// Command plot-stream draws a recorded sample log as a PNG with the
// decoder's events marked on the waveform.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/lightlink/internal/config"
	"github.com/banshee-data/lightlink/internal/decode"
	"github.com/banshee-data/lightlink/internal/sampler"
	"github.com/banshee-data/lightlink/internal/security"
)

// mark pins a decoder event to the sample it fired on.
type mark struct {
	idx int
	val float64
}

func main() {
	var (
		output     = flag.String("o", "stream.png", "output PNG path")
		tuningFile = flag.String("tuning", "", "tuning config JSON path (built-in defaults when empty)")
		maxSamples = flag.Int("max", 0, "plot at most this many samples (0 plots all)")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: plot-stream [flags] <sample-log>")
	}

	readings, err := sampler.ReadSampleLog(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to read sample log: %v", err)
	}
	if len(readings) == 0 {
		log.Fatal("sample log is empty")
	}
	if *maxSamples > 0 && len(readings) > *maxSamples {
		readings = readings[:*maxSamples]
	}

	if err := security.ValidateExportPath(*output); err != nil {
		log.Fatalf("invalid output path: %v", err)
	}

	tuning := config.EmptyTuningConfig()
	if *tuningFile != "" {
		tuning, err = config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	var syncs, valids, invalids []mark

	idx := 0
	cfg := tuning.DecoderConfig()
	cfg.Handler = func(ev decode.Event) {
		m := mark{idx: idx, val: float64(readings[idx])}
		switch ev.Code {
		case decode.EventSyncAcquired:
			syncs = append(syncs, m)
		case decode.EventPacketValid:
			valids = append(valids, m)
		case decode.EventPacketInvalid:
			invalids = append(invalids, m)
		}
	}
	dec := decode.NewDecoder(cfg)
	for i, v := range readings {
		idx = i
		dec.Process(float64(v))
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%d samples)", flag.Arg(0), len(readings))
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "ADC reading"

	pts := make(plotter.XYs, len(readings))
	for i, v := range readings {
		pts[i] = plotter.XY{X: float64(i), Y: float64(v)}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		log.Fatalf("failed to build waveform: %v", err)
	}
	line.Color = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("signal", line)

	addMarks := func(label string, marks []mark, c color.Color) {
		if len(marks) == 0 {
			return
		}
		mp := make(plotter.XYs, len(marks))
		for i, m := range marks {
			mp[i] = plotter.XY{X: float64(m.idx), Y: m.val}
		}
		s, err := plotter.NewScatter(mp)
		if err != nil {
			log.Fatalf("failed to build %s markers: %v", label, err)
		}
		s.GlyphStyle.Color = c
		s.GlyphStyle.Radius = vg.Points(4)
		p.Add(s)
		p.Legend.Add(label, s)
	}
	addMarks("sync lock", syncs, color.RGBA{R: 255, G: 165, B: 0, A: 255})
	addMarks("valid packet", valids, color.RGBA{R: 50, G: 205, B: 50, A: 255})
	addMarks("invalid packet", invalids, color.RGBA{R: 220, G: 20, B: 60, A: 255})

	p.Legend.Top = true
	p.Legend.Left = false

	width := 14 * vg.Inch
	if len(readings) > 5000 {
		width = 20 * vg.Inch
	}
	if err := p.Save(width, 6*vg.Inch, *output); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}

	st := dec.Stats()
	log.Printf("✓ Created: %s (%d sync locks, %d valid, %d invalid)",
		*output, st.SyncLocks, st.PacketsValid, st.PacketsInvalid)
}
