package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/lightlink/internal/config"
	"github.com/banshee-data/lightlink/internal/decode"
	"github.com/banshee-data/lightlink/internal/lightcode"
	"github.com/banshee-data/lightlink/internal/lightsim"
	"github.com/banshee-data/lightlink/internal/monitor"
	"github.com/banshee-data/lightlink/internal/monitoring"
	"github.com/banshee-data/lightlink/internal/sampler"
	"github.com/banshee-data/lightlink/internal/storage"
	"github.com/banshee-data/lightlink/internal/transmit"
	"github.com/banshee-data/lightlink/internal/version"
)

var (
	devMode        = flag.Bool("dev", false, "Run a simulated loopback channel instead of reading hardware")
	listen         = flag.String("listen", ":8080", "HTTP listen address")
	serialPort     = flag.String("port", "/dev/ttyUSB0", "Serial port carrying photocell readings")
	baudRate       = flag.Int("baud", 115200, "Serial baud rate")
	udpAddr        = flag.String("udp", "", "Listen for sample datagrams on this UDP address instead of serial (e.g. :9911)")
	udpEncoding    = flag.String("udp-encoding", "text", "UDP payload encoding: text or binary")
	rcvBuf         = flag.Int("rcvbuf", 1<<20, "UDP receive buffer size in bytes")
	replayFile     = flag.String("replay", "", "Replay a recorded sample log instead of reading hardware")
	replayInterval = flag.Duration("replay-interval", 0, "Delay between replayed samples (0 derives it from the sample rate)")
	replayLoop     = flag.Bool("replay-loop", false, "Restart the replay log each time it is exhausted")
	pcapFile       = flag.String("pcap", "", "Replay sample datagrams from a packet capture (build with -tags pcap)")
	pcapPort       = flag.Int("pcap-port", 9911, "UDP port to filter when replaying a capture")
	dbFile         = flag.String("db", "lightlink.db", "Path to the SQLite database file")
	migrationsDir  = flag.String("migrations", "migrations", "Directory containing schema migration files")
	tuningFile     = flag.String("tuning", "", "Tuning config JSON path (built-in defaults when empty)")
	verbose        = flag.Bool("verbose", false, "Log every assembled byte and link state change")
)

// loadTuning resolves the decoder and transmitter parameters: an explicit
// -tuning file must load, the conventional default path may, and built-in
// defaults cover everything else.
func loadTuning() *config.TuningConfig {
	if *tuningFile != "" {
		tuning, err := config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", *tuningFile)
		return tuning
	}

	tuning, err := config.LoadTuningConfig(config.DefaultConfigPath)
	if err != nil {
		log.Printf("Using built-in tuning defaults (%s: %v)", config.DefaultConfigPath, err)
		return config.EmptyTuningConfig()
	}
	log.Printf("Loaded tuning config from %s", config.DefaultConfigPath)
	return tuning
}

// buildSource picks the hardware sample source from the flags. Dev mode is
// handled separately in main because the loopback needs a transmitter.
func buildSource(tuning *config.TuningConfig) (sampler.Source, string, error) {
	switch {
	case *pcapFile != "":
		enc, ok := sampler.ParseEncoding(*udpEncoding)
		if !ok {
			return nil, "", fmt.Errorf("unknown UDP encoding %q: expected text or binary", *udpEncoding)
		}
		src, err := sampler.NewPCAPSource(sampler.PCAPConfig{
			File:     *pcapFile,
			UDPPort:  *pcapPort,
			Encoding: enc,
		})
		if err != nil {
			return nil, "", err
		}
		return src, "pcap:" + *pcapFile, nil

	case *replayFile != "":
		interval := *replayInterval
		if interval == 0 {
			interval = time.Second / time.Duration(tuning.GetSampleRateHz())
		}
		src := sampler.NewReplaySource(sampler.ReplayConfig{
			Path:     *replayFile,
			Interval: interval,
			Loop:     *replayLoop,
		})
		return src, "replay:" + *replayFile, nil

	case *udpAddr != "":
		enc, ok := sampler.ParseEncoding(*udpEncoding)
		if !ok {
			return nil, "", fmt.Errorf("unknown UDP encoding %q: expected text or binary", *udpEncoding)
		}
		src := sampler.NewUDPSource(sampler.UDPConfig{
			Address:  *udpAddr,
			RcvBuf:   *rcvBuf,
			Encoding: enc,
		})
		return src, "udp:" + *udpAddr, nil

	default:
		src, err := sampler.OpenSerialSource(*serialPort, sampler.PortOptions{BaudRate: *baudRate})
		if err != nil {
			return nil, "", err
		}
		return src, "serial:" + *serialPort, nil
	}
}

// openStore opens the packet database and refuses to run against a schema
// that is behind the shipped migrations. A brand new database is stamped at
// the latest version because the baseline schema already matches it.
func openStore() *storage.DB {
	fresh := false
	if _, err := os.Stat(*dbFile); os.IsNotExist(err) {
		fresh = true
	}

	db, err := storage.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if _, err := os.Stat(*migrationsDir); err != nil {
		log.Printf("Migrations directory %s not found; skipping schema version check", *migrationsDir)
		return db
	}

	if fresh {
		latest, err := storage.GetLatestMigrationVersion(*migrationsDir)
		if err != nil {
			log.Fatalf("Failed to determine latest migration version: %v", err)
		}
		if err := db.BaselineAtVersion(latest); err != nil {
			log.Fatalf("Failed to baseline fresh database: %v", err)
		}
		log.Printf("Initialized new database at schema version %d", latest)
		return db
	}

	if _, err := db.CheckAndPromptMigrations(*migrationsDir); err != nil {
		log.Fatalf("Migration check failed: %v", err)
	}
	return db
}

func main() {
	// The migrate subcommand never starts the receiver.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}

	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("lightlink receiver %s (%s)", version.Version, version.GitSHA)

	if !*verbose {
		// Per-byte and state transition chatter only appears with -verbose.
		monitoring.SetLogger(nil)
	}

	tuning := loadTuning()

	db := openStore()
	defer db.Close()

	// Pick the sample source. Dev mode runs a full loopback: a transmitter
	// drives a simulated light channel and the sampler reads it back.
	var (
		source     sampler.Source
		sourceDesc string
		sender     monitor.PayloadSender
		tx         *transmit.Transmitter
	)
	if *devMode {
		channel := lightsim.NewChannel(time.Now().UnixNano())
		channel.SetNoise(tuning.GetNoiseFloor())
		tx = transmit.NewTransmitter(channel, tuning.TransmitterConfig())
		source = sampler.NewSimSource(sampler.SimConfig{
			Reader:     channel,
			SampleRate: tuning.GetSampleRateHz(),
		})
		sourceDesc = "sim:loopback"
		sender = tx
		log.Printf("Dev mode: loopback channel at %d samples/sec, base unit %s",
			tuning.GetSampleRateHz(), tuning.GetBaseUnit())
	} else {
		var err error
		source, sourceDesc, err = buildSource(tuning)
		if err != nil {
			log.Fatalf("Failed to open sample source: %v", err)
		}
	}
	defer source.Close()

	sessionID, err := db.BeginSession(sourceDesc)
	if err != nil {
		log.Fatalf("Failed to begin session: %v", err)
	}
	log.Printf("Session %s reading from %s", sessionID, sourceDesc)

	stats := monitor.NewLinkStats()

	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address:   *listen,
		Stats:     stats,
		DB:        db,
		Tuning:    tuning,
		Source:    sourceDesc,
		SessionID: sessionID,
		Sender:    sender,
	})
	db.AttachAdminRoutes(ws.ServeMux())
	ws.AttachAdminRoutes(ws.ServeMux())

	rec := &linkRecorder{db: db, ws: ws, stats: stats, sessionID: sessionID}
	decCfg := tuning.DecoderConfig()
	decCfg.Handler = rec.handle
	dec := decode.NewDecoder(decCfg)

	// Create a wait group for the HTTP server, sample source, decode loop
	// and stats routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the sample source
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor sample source: %v", err)
		}
		log.Print("source monitor routine terminated")
	}()

	// subscribe to the sample stream and feed the decoder
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := source.Subscribe()
		defer source.Unsubscribe(id)

		prevState := dec.State()
		for {
			select {
			case v, ok := <-c:
				if !ok {
					log.Printf("sample stream closed; decode routine terminated")
					return
				}
				stats.RecordSample(v)
				dec.Process(float64(v))
				if s := dec.State(); s != prevState {
					monitoring.Logf("Link state: %s -> %s", prevState, s)
					prevState = s
				}
				stats.SetLinkState(dec.State().String(), dec.BaseUnit())
			case <-ctx.Done():
				log.Printf("decode routine terminated")
				return
			}
		}
	}()

	// dev mode runs the loopback transmitter's pulse clock
	if tx != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tx.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("transmitter error: %v", err)
			}
			log.Print("transmitter routine terminated")
		}()
	}

	// periodic stats logging
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(tuning.GetStatsInterval())
		defer ticker.Stop()

		var lastDropped uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if dc, ok := source.(interface{ Dropped() uint64 }); ok {
					d := dc.Dropped()
					stats.AddDropped(int64(d - lastDropped))
					lastDropped = d
				}
				stats.LogStats()
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("web server error: %v", err)
		}
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// linkRecorder fans decoder events out to the log, the stats counters,
// the packet store and the live web feed.
type linkRecorder struct {
	db        *storage.DB
	ws        *monitor.WebServer
	stats     *monitor.LinkStats
	sessionID string
}

func (lr *linkRecorder) handle(ev decode.Event) {
	switch ev.Code {
	case decode.EventSyncAcquired:
		lr.stats.AddSync()
		log.Printf("Sync acquired: base unit %.2f samples", ev.BaseUnit)
		if err := lr.db.RecordLinkEvent(lr.sessionID, int(ev.Code), decode.StateSyncLocked.String(),
			fmt.Sprintf("base unit %.2f samples", ev.BaseUnit)); err != nil {
			log.Printf("failed to record link event: %v", err)
		}

	case decode.EventByteReceived:
		lr.stats.AddByte()
		monitoring.Logf("Byte received: 0x%02X", ev.Byte)

	case decode.EventPacketValid:
		lr.stats.AddPacket(true)
		log.Printf("Packet: %q (%d bytes, checksum 0x%02X)",
			ev.Frame.Payload, len(ev.Frame.Payload), ev.Frame.Checksum)
		lr.store(ev, true)

	case decode.EventPacketInvalid:
		lr.stats.AddPacket(false)
		detail := fmt.Sprintf("checksum 0x%02X, want 0x%02X",
			ev.Frame.Checksum, lightcode.Checksum(ev.Frame.Payload))
		log.Printf("Invalid packet: %s (%d bytes)", detail, len(ev.Frame.Payload))
		if err := lr.db.RecordLinkEvent(lr.sessionID, int(ev.Code), decode.StateFrameError.String(), detail); err != nil {
			log.Printf("failed to record link event: %v", err)
		}
		lr.store(ev, false)
	}
}

// store persists a finalized frame and pushes it to the live tail.
func (lr *linkRecorder) store(ev decode.Event, valid bool) {
	if err := lr.db.RecordPacket(lr.sessionID, ev.Frame.Payload, ev.Frame.Checksum, valid, ev.BaseUnit); err != nil {
		log.Printf("failed to record packet: %v", err)
	}
	if lr.ws != nil {
		lr.ws.PublishPacket(storage.PacketRecord{
			SessionID:        lr.sessionID,
			Payload:          ev.Frame.Payload,
			Length:           len(ev.Frame.Payload),
			Checksum:         ev.Frame.Checksum,
			Valid:            valid,
			BaseUnit:         ev.BaseUnit,
			ReceivedAtUnixMs: time.Now().UnixMilli(),
		})
	}
}

// runMigrate applies the migrate subcommand against the packet database.
func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	migrateDB := fs.String("db", "lightlink.db", "Path to the SQLite database file")
	migrateDir := fs.String("migrations", "migrations", "Directory containing schema migration files")
	fs.Parse(args)

	storage.RunMigrateCommand(fs.Args(), *migrateDB, *migrateDir)
}
