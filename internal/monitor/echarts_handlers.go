package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
)

// echartsAssetsPrefix is where chart pages load the echarts JS bundle
// from. Receivers usually run on a LAN with internet access, so the
// public assets mirror is fine.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleSignalChart renders a quick scatter plot (HTML) of the recent
// photodiode samples using go-echarts. This is a debugging-only endpoint
// (no auth) to eyeball pulse shapes, the noise floor and clipping without
// pulling the stream into a notebook.
// Query params:
//   - max_points (optional; default 2000) to reduce payload size
func (ws *WebServer) handleSignalChart(w http.ResponseWriter, r *http.Request) {
	if ws.stats == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no link stats available")
		return
	}

	samples := ws.stats.RecentSamples()
	if len(samples) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no samples captured yet")
		return
	}

	maxPoints := 2000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if len(samples) > maxPoints {
		stride = int(math.Ceil(float64(len(samples)) / float64(maxPoints)))
	}

	// Mean and spread of the full window summarize link quality: the mean
	// sits near ambient on an idle line and the spread jumps when pulses
	// or noise arrive.
	vals := make([]float64, len(samples))
	for i, s := range samples {
		vals[i] = float64(s)
	}
	mean, std := stat.MeanStdDev(vals, nil)

	data := make([]opts.ScatterData, 0, len(samples)/stride+1)
	maxSeen := float64(0)
	for i := 0; i < len(samples); i += stride {
		v := float64(samples[i])
		if v > maxSeen {
			maxSeen = v
		}
		data = append(data, opts.ScatterData{Value: []interface{}{i, v, v}})
	}
	if maxSeen == 0 {
		maxSeen = 1
	}

	state, baseUnit := ws.stats.LinkState()

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Light Link Signal", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Photodiode Signal", Subtitle: fmt.Sprintf("points=%d stride=%d state=%s base_unit=%.2f mean=%.0f stddev=%.1f", len(data), stride, state, baseUnit, mean, std)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Sample", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ADC", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxSeen),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)

	scatter.AddSeries("signal", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleRatesChart renders a simple bar chart of per-minute packet counts.
// Query params:
//
//	minutes (optional, default 60, max 1440)
func (ws *WebServer) handleRatesChart(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "packet DB not configured")
		return
	}

	minutes := 60
	if m := r.URL.Query().Get("minutes"); m != "" {
		if v, err := strconv.Atoi(m); err == nil && v > 0 && v <= 1440 {
			minutes = v
		}
	}

	buckets, err := ws.db.PacketRates(time.Now().Add(-time.Duration(minutes) * time.Minute))
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get packet rates: %v", err))
		return
	}
	if len(buckets) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no packets in window")
		return
	}

	x := make([]string, 0, len(buckets))
	total := make([]opts.BarData, 0, len(buckets))
	valid := make([]opts.BarData, 0, len(buckets))
	for _, b := range buckets {
		x = append(x, time.Unix(b.MinuteUnix, 0).UTC().Format("15:04"))
		total = append(total, opts.BarData{Value: b.Total})
		valid = append(valid, opts.BarData{Value: b.Valid})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Packets per Minute", Subtitle: fmt.Sprintf("last %d minutes (UTC)", minutes)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("total", total).
		AddSeries("valid", valid,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
