// Command compositordemo composites the layer trees of several simulated
// content processes into one window and writes the last frame as PNG.
package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/compositor"
	"github.com/gogpu/compositor/layers"
	"github.com/gogpu/compositor/vsync"
)

type config struct {
	width, height int
	frames        int
	clients       int
	interval      time.Duration
	backend       string
	out           string
	metricsAddr   string
	verbose       bool
}

func main() {
	var cfg config
	pflag.IntVar(&cfg.width, "width", 640, "window width")
	pflag.IntVar(&cfg.height, "height", 480, "window height")
	pflag.IntVar(&cfg.frames, "frames", 30, "transactions sent by each client")
	pflag.IntVar(&cfg.clients, "clients", 4, "number of content processes")
	pflag.DurationVar(&cfg.interval, "vsync-interval", time.Second/60, "vsync tick interval")
	pflag.StringVar(&cfg.backend, "backend", "", "backend name (default: best available)")
	pflag.StringVarP(&cfg.out, "out", "o", "composite.png", "output file")
	pflag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pflag.BoolVarP(&cfg.verbose, "verbose", "v", false, "debug logging")
	pflag.Parse()

	if cfg.verbose {
		compositor.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("compositordemo: %v", err)
	}
}

func run(ctx context.Context, cfg config) (err error) {
	if cfg.clients < 1 || cfg.frames < 1 {
		return errors.New("--clients and --frames must be positive")
	}

	var opts []compositor.Option
	if cfg.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, compositor.WithMetrics(reg))
		srv := &http.Server{Addr: cfg.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server", "err", err)
			}
		}()
		defer srv.Close()
	}

	host := compositor.NewHost(opts...)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, host.Shutdown(sctx))
	}()

	source := vsync.NewTimerSource(cfg.interval)
	defer source.Close()

	window := gpucontext.NullWindowProvider{W: cfg.width, H: cfg.height, SF: 1}
	core, err := host.NewCore(window,
		compositor.WithVsyncDispatcher(source),
		compositor.WithBackendName(cfg.backend),
	)
	if err != nil {
		return err
	}
	log.Printf("compositing %d clients on the %s backend", cfg.clients, core.BackendName())

	tiles := tileRects(cfg.width, cfg.height, cfg.clients)
	trees := make([]layers.ID, len(tiles))
	children := []layers.Layer{
		&layers.ColorLayer{Rect: image.Rect(0, 0, cfg.width, cfg.height), Color: color.RGBA{R: 32, G: 32, B: 48, A: 255}},
	}
	for i, tile := range tiles {
		trees[i] = host.AllocateLayerTreeID()
		if err := core.NotifyChildCreated(trees[i]); err != nil {
			return err
		}
		children = append(children, &layers.RefLayer{Tree: trees[i], Clip: tile})
	}
	core.ShadowLayersUpdated(layers.Transaction{
		ID:                1,
		Root:              &layers.ContainerLayer{Children: children},
		ScheduleComposite: true,
	})

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := range tiles {
		g.Go(func() error {
			return runClient(gctx, host, trees[i], tiles[i], i, cfg.frames)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)
	log.Printf("%d transactions acknowledged in %v (%d vsync ticks)",
		cfg.clients*cfg.frames, elapsed.Round(time.Millisecond), source.Delivered())

	img, err := core.MakeSnapshot(image.Rectangle{})
	if err != nil {
		return err
	}
	return writePNG(cfg.out, img)
}

// clientPeer receives the completions of one simulated content process.
type clientPeer chan layers.Completion

func (p clientPeer) DidComposite(c layers.Completion) {
	select {
	case p <- c:
	default:
	}
}

// runClient paints tree frames times, waiting for each transaction to be
// acknowledged before sending the next.
func runClient(ctx context.Context, host *compositor.Host, tree layers.ID, tile image.Rectangle, index, frames int) error {
	peer := make(clientPeer, 1)
	bridge, err := host.NewBridge(peer)
	if err != nil {
		return err
	}
	defer bridge.Disconnect()
	if err := bridge.AllocLayerTransaction(tree); err != nil {
		return err
	}

	for f := 1; f <= frames; f++ {
		bridge.ShadowLayersUpdated(layers.Transaction{
			Tree:              tree,
			ID:                layers.TransactionID(f),
			Root:              &layers.ColorLayer{Rect: tile, Color: shade(index, f, frames)},
			ScheduleComposite: true,
			PaintStart:        time.Now(),
		})
		select {
		case c := <-peer:
			if c.Transaction != layers.TransactionID(f) {
				return fmt.Errorf("tree %v: completion for transaction %d, want %d", tree, c.Transaction, f)
			}
		case <-time.After(time.Second):
			return fmt.Errorf("tree %v: transaction %d not acknowledged", tree, f)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// tileRects splits a w×h window into n side-by-side columns with a margin.
func tileRects(w, h, n int) []image.Rectangle {
	const margin = 8
	tiles := make([]image.Rectangle, n)
	colW := w / n
	for i := range tiles {
		tiles[i] = image.Rect(i*colW+margin, margin, (i+1)*colW-margin, h-margin)
	}
	return tiles
}

func shade(index, frame, frames int) color.RGBA {
	palette := []color.RGBA{
		{R: 230, G: 80, B: 70, A: 255},
		{R: 80, G: 190, B: 110, A: 255},
		{R: 70, G: 130, B: 230, A: 255},
		{R: 240, G: 200, B: 60, A: 255},
	}
	c := palette[index%len(palette)]
	k := 0.5 + 0.5*float64(frame)/float64(frames)
	return color.RGBA{R: uint8(float64(c.R) * k), G: uint8(float64(c.G) * k), B: uint8(float64(c.B) * k), A: 255}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("wrote %s (%dx%d)", path, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}
