package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/stillcam/internal/catalog"
	"github.com/cjeanneret/stillcam/internal/config"
	"github.com/cjeanneret/stillcam/internal/debug"
	"github.com/cjeanneret/stillcam/internal/hw/device"
	"github.com/cjeanneret/stillcam/internal/hw/device/sim"
	"github.com/cjeanneret/stillcam/internal/hw/gpio"
	"github.com/cjeanneret/stillcam/internal/hw/sensors"
	"github.com/cjeanneret/stillcam/internal/hw/shutter"
	"github.com/cjeanneret/stillcam/internal/logic/correlate"
	"github.com/cjeanneret/stillcam/internal/logic/persist"
	"github.com/cjeanneret/stillcam/internal/logic/session"
	"github.com/cjeanneret/stillcam/internal/web"
	"golang.org/x/sync/errgroup"
)

// Overrides holds the CLI values that replace config entries. Zero values
// keep the config.
type Overrides struct {
	BurstSize int
	Facing    string
}

func main() {
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	burst := flag.Int("burst", 0, "burst size (1-100); without -web one burst is taken after the shots")
	shots := flag.Int("shots", 1, "number of single stills to take without -web")
	facing := flag.String("facing", "", "override camera facing (back or front)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		fatal("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("load config failed: %v", err)
	}
	if err := validateCLIOverrides(*burst, *shots, *facing); err != nil {
		fatal("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, Overrides{BurstSize: *burst, Facing: *facing})

	debug.Init(cfg.Defaults.DebugLevel)
	log := debug.Component("main")
	log.Info().
		Str("config", *cfgPath).
		Int("debug_level", cfg.Defaults.DebugLevel).
		Bool("mock_gpio", cfg.Defaults.MockGPIO).
		Msg("starting")

	app, err := newApp(cfg, webPort.port() > 0)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}

	if port := webPort.port(); port > 0 {
		err = app.serve(ctx, fmt.Sprintf(":%d", port))
	} else {
		err = app.shoot(ctx, *shots, *burst)
	}
	if cerr := app.close(); err == nil {
		err = cerr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("stillcam stopped")
	}
	log.Info().Msg("bye")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "stillcam: "+format+"\n", args...)
	os.Exit(1)
}

// app holds the wired components.
type app struct {
	cfg         *config.Config
	gpio        gpio.Driver
	indicator   *shutter.Indicator
	devices     *sim.Manager
	catalog     *catalog.Store
	controller  *session.Controller
	display     *sim.Display
	broadcaster *web.StatusBroadcaster
	thumbs      *web.ThumbnailHub
	persisted   chan string
}

func newApp(cfg *config.Config, withWeb bool) (_ *app, err error) {
	a := &app{cfg: cfg, persisted: make(chan string, 256)}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	a.gpio, err = gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	if pin := cfg.Shutter.IndicatorPin; pin > 0 {
		a.indicator = shutter.NewIndicator(a.gpio, pin, cfg.ShutterPulse(), cfg.Shutter.ActiveLow)
	}

	a.devices = sim.NewManager(sim.DefaultConfig())
	level, err := device.ParseHardwareLevel(cfg.Camera.MinHardwareLevel)
	if err != nil {
		return nil, err
	}
	dir, err := device.Enumerate(a.devices, level)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	if dir.Len() == 0 {
		return nil, fmt.Errorf("no device supports hardware level %s", level)
	}

	storage, err := persist.NewDirStorage(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.CatalogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	a.catalog, err = catalog.Open(cfg.Storage.CatalogPath, catalog.DefaultConfig())
	if err != nil {
		return nil, err
	}

	popts := []persist.Option{persist.WithSample(cfg.Storage.ThumbnailSample)}
	if withWeb {
		a.broadcaster = web.NewStatusBroadcaster()
		a.thumbs = web.NewThumbnailHub()
		popts = append(popts, persist.WithThumbnailSink(a.thumbs))
	}
	pipeline := persist.NewPipeline(storage, a.catalog, popts...)

	tracker := sensors.NewTracker()
	tracker.SetRotation(cfg.Rotation())
	if lat, lon, ok := cfg.Location(); ok {
		tracker.SetLocation(lat, lon)
	}

	opts := []session.Option{
		session.WithSensors(tracker, tracker),
		session.WithPersistHandler(func(ctx context.Context, p correlate.Pair) {
			pipeline.Persist(ctx, p)
			select {
			case a.persisted <- p.Result.RequestID:
			default:
			}
		}),
	}
	if a.indicator != nil {
		opts = append(opts, session.WithShutter(a.indicator))
	}
	if a.broadcaster != nil {
		opts = append(opts, session.WithStatusListener(func(st session.Status) {
			a.broadcaster.BroadcastStatus(st)
		}))
	}
	sessCfg, err := sessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.controller = session.New(sessCfg, a.devices, dir, opts...)

	a.display = sim.NewDisplay("preview")
	a.controller.SurfaceAvailable(a.display)
	return a, nil
}

// sessionConfig maps the camera section onto the controller settings.
func sessionConfig(cfg *config.Config) (session.Config, error) {
	facing, err := device.ParseFacing(cfg.Camera.Facing)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		DefaultFacing:    facing,
		PreviewMax:       device.Size{Width: cfg.Camera.PreviewMaxWidth, Height: cfg.Camera.PreviewMaxHeight},
		ImageMax:         device.Size{Width: cfg.Camera.ImageMaxWidth, Height: cfg.Camera.ImageMaxHeight},
		JPEGQuality:      cfg.Camera.JPEGQuality,
		PairingQueueSize: cfg.Camera.PairingQueueSize,
		CallbackTimeout:  cfg.CallbackTimeout(),
		JPEGMaxImages:    cfg.Camera.JPEGMaxImages,
		RawMaxImages:     cfg.Camera.RawMaxImages,
	}, nil
}

// serve resumes the camera and runs the web server until ctx is done.
func (a *app) serve(ctx context.Context, addr string) error {
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(a.broadcaster)))
	defer debug.SetOutput(nil)

	srv, err := web.NewServer(web.Options{
		Addr:         addr,
		BurstSize:    a.cfg.Camera.BurstSize,
		CommandLimit: 120,
	}, a.broadcaster, a.controller, a.catalog, a.thumbs)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		if _, err := a.controller.Resume().Wait(gctx); err != nil {
			log := debug.Component("main")
			log.Error().Err(err).Msg("resume failed, use the web page to retry")
		}
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// shoot resumes the camera, takes shots single stills then one burst of
// burst images, and waits until every image is persisted.
func (a *app) shoot(ctx context.Context, shots, burst int) error {
	log := debug.Component("main")
	if _, err := a.controller.Resume().Wait(ctx); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	expected := 0
	for i := 0; i < shots; i++ {
		if _, err := a.controller.Capture().Wait(ctx); err != nil {
			return fmt.Errorf("capture %d: %w", i+1, err)
		}
		expected++
	}
	if burst > 0 {
		if _, err := a.controller.CaptureBurst(burst).Wait(ctx); err != nil {
			return fmt.Errorf("burst: %w", err)
		}
		expected += burst
	}

	deadline := time.NewTimer(a.cfg.CallbackTimeout() + time.Duration(expected)*time.Second)
	defer deadline.Stop()
	for done := 0; done < expected; done++ {
		select {
		case id := <-a.persisted:
			log.Debug().Str(debug.FieldRequest, id).Int("done", done+1).Int("expected", expected).Msg("image persisted")
		case <-deadline.C:
			return fmt.Errorf("only %d of %d images persisted", done, expected)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.Info().Int("images", expected).Str("dir", a.cfg.Storage.Dir).Msg("shots complete")
	return nil
}

// close releases everything newApp acquired, in reverse order.
func (a *app) close() error {
	var errs []error
	if a.controller != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, a.controller.Shutdown(ctx))
		cancel()
		a.controller = nil
	}
	if a.catalog != nil {
		errs = append(errs, a.catalog.Close())
		a.catalog = nil
	}
	if a.devices != nil {
		errs = append(errs, a.devices.Close())
		a.devices = nil
	}
	if a.indicator != nil {
		errs = append(errs, a.indicator.Close())
		a.indicator = nil
	}
	if a.gpio != nil {
		errs = append(errs, a.gpio.Close())
		a.gpio = nil
	}
	return errors.Join(errs...)
}

// validateCLIOverrides checks the CLI values. Zero values are ignored
// (they mean "use config default").
func validateCLIOverrides(burst, shots int, facing string) error {
	if burst < 0 || burst > 100 {
		return fmt.Errorf("burst must be between 1 and 100, got %d", burst)
	}
	if shots < 0 {
		return fmt.Errorf("shots must be >= 0, got %d", shots)
	}
	switch facing {
	case "", "back", "front":
	default:
		return fmt.Errorf("facing must be back or front, got %q", facing)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o Overrides) {
	if o.BurstSize > 0 {
		cfg.Camera.BurstSize = o.BurstSize
	}
	if o.Facing != "" {
		cfg.Camera.Facing = o.Facing
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
