// ABOUTME: Entry point for the direct playback engine
// ABOUTME: Parses CLI flags, wires sinks, sources and loggers, then runs the player
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/slog"

	"github.com/Resonate-Protocol/resonate-direct/internal/app"
	"github.com/Resonate-Protocol/resonate-direct/internal/discovery"
	"github.com/Resonate-Protocol/resonate-direct/internal/engine"
	"github.com/Resonate-Protocol/resonate-direct/internal/events"
	"github.com/Resonate-Protocol/resonate-direct/internal/netsink"
	"github.com/Resonate-Protocol/resonate-direct/internal/stream"
	"github.com/Resonate-Protocol/resonate-direct/internal/sync"
	"github.com/Resonate-Protocol/resonate-direct/internal/version"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-direct/pkg/audio/output"
)

const backendNet = "net"

var (
	file     = flag.String("file", "", "Audio file to play (MP3, FLAC, WAV, OGG). Plays a test tone if empty")
	toneMs   = flag.Int("tone-ms", 5000, "Test tone length in milliseconds (0 plays forever)")
	sinkName = flag.String("sink", output.BackendOto, "Sink backend: null, oto, malgo, pulse, portaudio, net")
	direct   = flag.Bool("direct", false, "Render 32-bit spans on the direct hardware path")
	voip     = flag.Bool("voip", false, "Tag the stream as voice communication")
	quality  = flag.Int("quality", 1, "Resampler quality (0 linear, 1 cubic)")
	logLevel = flag.String("log-level", "info", "Log level: trace, debug, info, warn, error, critical, off")
	logFile  = flag.String("log-file", "direct-play.log", "Log file path")
	noTUI    = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	natsURL  = flag.String("nats", "", "NATS URL for stream status events (disabled if empty)")
	netPort  = flag.Int("net-port", 0, "Serve a network sink on this port (enables -sink net)")
	name     = flag.String("name", "", "Network sink name (default: hostname-direct)")
	wavOut   = flag.String("wav-out", "", "Write rendered spans to this WAV file instead of a device")
	connect  = flag.String("connect", "", "Play from a network sink at host:port, or \"auto\" to discover one")
)

// setupLogging builds one backend and hands a tagged logger to every package
func setupLogging(w io.Writer, level string) error {
	lvl, ok := slog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}

	backend := slog.NewBackend(w)
	newLogger := func(tag string) slog.Logger {
		l := backend.Logger(tag)
		l.SetLevel(lvl)
		return l
	}

	stream.UseLogger(newLogger("STRM"))
	engine.UseLogger(newLogger("NMIX"))
	output.UseLogger(newLogger("SINK"))
	decode.UseLogger(newLogger("DECD"))
	sync.UseLogger(newLogger("SYNC"))
	netsink.UseLogger(newLogger("NETS"))
	discovery.UseLogger(newLogger("DISC"))
	events.UseLogger(newLogger("EVNT"))
	app.UseLogger(newLogger("PLAY"))
	mainLog = newLogger("MAIN")
	return nil
}

var mainLog = slog.Disabled

func main() {
	flag.Parse()

	if err := run(); err != nil {
		mainLog.Errorf("%v", err)
		fmt.Fprintf(os.Stderr, "direct-play: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var w io.Writer = f
	if !useTUI {
		w = io.MultiWriter(os.Stdout, f)
	}
	if err := setupLogging(w, *logLevel); err != nil {
		return err
	}

	mainLog.Infof("Starting %s", version.String())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := output.NewDefaultRegistry()
	backend := *sinkName

	if *netPort > 0 {
		srv := netsink.NewServer(netsink.Config{
			Name:       sinkDisplayName(),
			Port:       *netPort,
			EnableMDNS: true,
		})
		registry.Register(backendNet, srv.Factory())
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				mainLog.Errorf("Network sink: %v", err)
			}
		}()
		if backend == output.BackendOto && !isFlagSet("sink") {
			backend = backendNet
		}
	}
	if *wavOut != "" {
		registry.Register(output.BackendWav, output.NewWavFactory(*wavOut))
		backend = output.BackendWav
	}
	registry.Bind(output.RoleDirect, backend)
	registry.Bind(output.RoleVoip, backend)

	source, err := openSource(ctx)
	if err != nil {
		return err
	}

	var observers []stream.StatusCallback
	if *natsURL != "" {
		pub, err := events.Connect(*natsURL)
		if err != nil {
			mainLog.Warnf("Status events disabled: %v", err)
		} else {
			defer pub.Close()
			observers = append(observers, pub)
			mainLog.Infof("Publishing stream status as session %s", pub.SessionID())
		}
	}

	player := app.New(source, app.Config{
		Sinks:     registry,
		SinkName:  backend,
		IsDirect:  *direct,
		IsVoip:    *voip,
		Quality:   *quality,
		Observers: observers,
		Device:    audio.DeviceInfo{Type: audio.DeviceSpeaker, Name: backend},
		UseTUI:    useTUI,
	})

	if err := player.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	mainLog.Infof("Player stopped")
	return nil
}

// openSource picks the producer: a network sink, a file or a test tone
func openSource(ctx context.Context) (decode.Source, error) {
	if *connect != "" {
		addr := *connect
		if addr == "auto" {
			disc := discovery.NewManager(discovery.Config{})
			defer disc.Stop()

			findCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			info, err := disc.First(findCtx)
			if err != nil {
				return nil, fmt.Errorf("no network sink found: %w", err)
			}
			addr = info.Addr()
			mainLog.Infof("Discovered %s at %s", info.Name, addr)
		}

		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return netsink.Dial(dialCtx, netsink.ClientConfig{Addr: addr, Name: sinkDisplayName()})
	}

	if *file != "" {
		return decode.Open(*file)
	}

	cfg := audio.StreamConfig{
		Format:        audio.SampleS16LE,
		Channels:      2,
		SampleRate:    44100,
		ChannelLayout: audio.LayoutStereo,
	}
	if *voip {
		cfg.Channels = 1
		cfg.SampleRate = 16000
		cfg.ChannelLayout = audio.LayoutMono
	}
	return decode.NewTone(cfg, 440, 0.3, *toneMs), nil
}

func sinkDisplayName() string {
	if *name != "" {
		return *name
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-direct", hostname)
}

func isFlagSet(flagName string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == flagName {
			set = true
		}
	})
	return set
}
