package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uvensys/gatekeeper"
	"github.com/uvensys/gatekeeper/internal"
	libgatekeeper "github.com/uvensys/gatekeeper/lib"
	auditsqlite "github.com/uvensys/gatekeeper/lib/audit/sqlite"
	"github.com/uvensys/gatekeeper/lib/guildconfig"
	configsqlite "github.com/uvensys/gatekeeper/lib/guildconfig/sqlite"
	"github.com/uvensys/gatekeeper/lib/platform"
	"github.com/uvensys/gatekeeper/lib/render"
	_ "github.com/uvensys/gatekeeper/lib/render/captcha"
	"github.com/uvensys/gatekeeper/lib/store"
	_ "github.com/uvensys/gatekeeper/lib/store/all"
)

var (
	bind               = flag.String("bind", ":8917", "network address to bind HTTP to")
	bindNetwork        = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	dbPath             = flag.String("db-path", "./gatekeeper.db", "path to the SQLite database for guild configs and the verification log")
	gatewayURL         = flag.String("gateway-url", "", "base URL of the chat gateway API")
	gatewayToken       = flag.String("gateway-token", "", "API token for the chat gateway")
	guildConfigFile    = flag.String("guild-config-file", "", "if set, load guild configs from this YAML file instead of the database")
	healthcheck        = flag.Bool("healthcheck", false, "run a health check against gatekeeperd")
	metricsBind        = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	presentAttempts    = flag.Int("present-attempts", gatekeeper.DefaultPresentAttempts, "how many times to attempt presenting a challenge before giving up")
	presentDelay       = flag.Duration("present-delay", gatekeeper.DefaultPresentDelay, "delay between presentation attempts")
	rendererBackend    = flag.String("renderer-backend", "captcha", fmt.Sprintf("renderer backend to use, one of: %v", render.Methods()))
	rendererConfig     = flag.String("renderer-config", "", "JSON configuration for the renderer backend")
	secretLength       = flag.Int("secret-length", gatekeeper.DefaultSecretLength, "number of characters in challenge secrets")
	slogLevel          = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	socketMode         = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	storeBackend       = flag.String("store-backend", "memory", fmt.Sprintf("challenge store backend to use, one of: %v", store.Methods()))
	storeConfig        = flag.String("store-config", "", "JSON configuration for the challenge store backend")
	versionFlag        = flag.Bool("version", false, "print gatekeeper version")
)

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *bind + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to fetch health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func setupListener(network string, address string) (net.Listener, string) {
	formattedAddress := ""
	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		formattedAddress = "http://localhost" + address
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatalf("failed to bind to %s: %v", formattedAddress, err)
	}

	// additional permission handling for unix sockets
	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatalf("could not parse socket mode %s: %v", *socketMode, err)
		}

		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			listener.Close()
			log.Fatalf("could not change socket mode: %v", err)
		}
	}

	return listener, formattedAddress
}

func buildStore(ctx context.Context) store.Interface {
	factory, ok := store.Get(*storeBackend)
	if !ok {
		log.Fatalf("unknown store backend %q, must be one of: %v", *storeBackend, store.Methods())
	}

	config := json.RawMessage(nil)
	if *storeConfig != "" {
		config = json.RawMessage(*storeConfig)
	}

	if err := factory.Valid(config); err != nil {
		log.Fatalf("invalid store config for backend %q: %v", *storeBackend, err)
	}

	result, err := factory.Build(ctx, config)
	if err != nil {
		log.Fatalf("can't build store backend %q: %v", *storeBackend, err)
	}

	return result
}

func buildRenderer(ctx context.Context) render.Renderer {
	factory, ok := render.Get(*rendererBackend)
	if !ok {
		log.Fatalf("unknown renderer backend %q, must be one of: %v", *rendererBackend, render.Methods())
	}

	config := json.RawMessage(nil)
	if *rendererConfig != "" {
		config = json.RawMessage(*rendererConfig)
	}

	if err := factory.Valid(config); err != nil {
		log.Fatalf("invalid renderer config for backend %q: %v", *rendererBackend, err)
	}

	result, err := factory.Build(ctx, config)
	if err != nil {
		log.Fatalf("can't build renderer backend %q: %v", *rendererBackend, err)
	}

	return result
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("gatekeeper", gatekeeper.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *healthcheck {
		log.Println("running healthcheck")
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *gatewayURL == "" || *gatewayToken == "" {
		log.Fatal("GATEWAY_URL and GATEWAY_TOKEN are required")
	}

	gateway, err := platform.New(platform.Options{
		BaseURL: *gatewayURL,
		Token:   *gatewayToken,
	})
	if err != nil {
		log.Fatalf("can't build gateway client: %v", err)
	}

	auditLog, err := auditsqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("can't open verification log at %s: %v", *dbPath, err)
	}
	defer auditLog.Close()

	var (
		configs     guildconfig.Source
		configStore *configsqlite.Store
	)
	if *guildConfigFile != "" {
		configs, err = guildconfig.LoadFile(*guildConfigFile)
		if err != nil {
			log.Fatalf("can't load guild configs from %s: %v", *guildConfigFile, err)
		}
	} else {
		configStore, err = configsqlite.Open(*dbPath)
		if err != nil {
			log.Fatalf("can't open guild config store at %s: %v", *dbPath, err)
		}
		defer configStore.Close()
		configs = configStore
	}

	wg := new(sync.WaitGroup)
	// install signal handler
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := libgatekeeper.New(libgatekeeper.Options{
		Store:           buildStore(ctx),
		Renderer:        buildRenderer(ctx),
		Configs:         configs,
		Directory:       gateway,
		Roles:           gateway,
		Presenter:       gateway,
		Audit:           auditLog,
		SecretLength:    *secretLength,
		PresentDelay:    *presentDelay,
		PresentAttempts: *presentAttempts,
	})
	if err != nil {
		log.Fatalf("can't build engine: %v", err)
	}
	defer engine.Close()

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	// A typed nil must not masquerade as a writer behind the interface.
	var cfgWriter configWriter
	if configStore != nil {
		cfgWriter = configStore
	}

	srv := http.Server{Handler: newAPIServer(engine, auditLog, cfgWriter).handler()}
	listener, listenerUrl := setupListener(*bindNetwork, *bind)
	slog.Info(
		"listening",
		"url", listenerUrl,
		"store-backend", *storeBackend,
		"renderer-backend", *rendererBackend,
		"present-attempts", *presentAttempts,
		"present-delay", *presentDelay,
		"version", gatekeeper.Version,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux}
	listener, metricsUrl := setupListener(*metricsBindNetwork, *metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
