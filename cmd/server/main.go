// Command `proploader-server` runs the Propeller loader web UI + HTTP API
// locally.
//
// It serves static assets from `-web` when the directory exists and exposes
// JSON APIs + a WebSocket event stream used by the frontend to load firmware,
// discover devices and run updates.
//
// Flags:
//
//	-addr:   TCP address to listen on (default from config, :8080)
//	-web:    path to web root containing index.html
//	-open:   open the UI URL in your default browser at startup
//	-config: YAML settings file
//
// Env:
//
//	PROPLOADER_NO_OPEN=1 disables browser auto-open even when -open is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/CK6170/propeller-loader/internal/app"
	"github.com/CK6170/propeller-loader/internal/config"
	"github.com/CK6170/propeller-loader/internal/server"
	"github.com/CK6170/propeller-loader/ui"
)

func main() {
	var (
		addr     = flag.String("addr", "", "http listen address")
		web      = flag.String("web", "./web", "path to web root (index.html)")
		open     = flag.Bool("open", false, "open the web UI in your default browser on startup")
		cfgPath  = flag.String("config", "", "settings file (default "+config.DefaultPath+")")
		firmware = flag.String("firmware", "", "firmware image or pack to load at startup")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	logger := ui.NewLogger(os.Stderr, cfg.Debug)

	// A missing web directory only disables static hosting.
	webDir, err := filepath.Abs(*web)
	if err != nil {
		log.Fatalf("Failed to resolve web directory: %v", err)
	}
	if st, err := os.Stat(webDir); err != nil || !st.IsDir() {
		log.Printf("WARN: web directory %s not found, serving API only", webDir)
		webDir = ""
	}

	hub := server.NewWSHub()
	a, err := app.New(cfg, logger, app.Options{Sink: server.NewHubSink(hub)})
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Firmware named in the settings is embedded; a -firmware flag is not.
	switch {
	case *firmware != "":
		if err := a.LoadFirmware(ctx, *firmware, false); err != nil {
			log.Fatal(err)
		}
	case cfg.Firmware != "":
		if err := a.LoadFirmware(ctx, cfg.Firmware, true); err != nil {
			log.Fatal(err)
		}
	}

	deps := server.Deps{
		Loader:     a.Loader,
		Queue:      a.Queue,
		Hub:        hub,
		UploadDir:  filepath.Join(os.TempDir(), "proploader-uploads"),
		WebDir:     webDir,
		WriteFlash: cfg.WriteFlash(),
		Logger:     logger,
	}
	if a.History != nil {
		deps.History = a.History
	}
	s := server.New(deps)

	// Bind the listen address early so we fail fast if the port is in use.
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.Addr, err)
	}

	uiURL := makeUIURL(cfg.Addr)
	log.Printf("Serving on http://%s", cfg.Addr)
	log.Printf("UI:        %s", uiURL)

	if *open && os.Getenv("PROPLOADER_NO_OPEN") == "" {
		if err := openBrowser(uiURL); err != nil {
			log.Printf("WARN: failed to open browser: %v", err)
		}
	}

	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Println(err)
	}
}

// makeUIURL turns a listen address (host:port) into a browser-friendly URL.
//
// If the server is bound to 0.0.0.0 / ::, the returned URL uses 127.0.0.1
// because wildcard addresses are not reachable targets in browsers.
func makeUIURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/", strings.TrimSpace(addr))
	}
	if host == "" || host == "0.0.0.0" || host == "::" || host == "[::]" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s/", host, port)
}

// openBrowser tries to open the given URL in the OS default browser without
// waiting for it.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "windows":
		// `start` is a cmd.exe built-in. The empty title argument prevents quoting issues.
		return exec.Command("cmd", "/c", "start", "", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
