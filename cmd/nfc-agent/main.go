package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cardkit/nfc-agent/internal/agent"
	"github.com/cardkit/nfc-agent/internal/api"
	"github.com/cardkit/nfc-agent/internal/cardcore"
	"github.com/cardkit/nfc-agent/internal/config"
	"github.com/cardkit/nfc-agent/internal/logging"
	"github.com/cardkit/nfc-agent/internal/pcsc"
	"github.com/cardkit/nfc-agent/internal/service"
	"github.com/cardkit/nfc-agent/internal/settings"
	"github.com/cardkit/nfc-agent/internal/tray"
	"github.com/cardkit/nfc-agent/internal/welcome"
)

func main() {
	// Define flags
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	noTrayFlag := flag.Bool("no-tray", false, "Run without system tray (headless mode)")

	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "CardKit NFC Agent - Local contactless-card reader service\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  nfc-agent [flags]\n")
		fmt.Fprintf(os.Stderr, "  nfc-agent <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  install     Install auto-start service\n")
		fmt.Fprintf(os.Stderr, "  uninstall   Remove auto-start service\n")
		fmt.Fprintf(os.Stderr, "  version     Print version information\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  CARDKIT_PORT    Port to listen on (default: 32145)\n")
		fmt.Fprintf(os.Stderr, "  CARDKIT_HOST    Host to bind to (default: 127.0.0.1)\n")
	}

	flag.Parse()

	if *versionFlag {
		printVersion()
		return
	}

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			return
		case "install":
			if err := installService(); err != nil {
				log.Fatalf("Failed to install service: %v", err)
			}
			fmt.Println("Auto-start service installed successfully")
			return
		case "uninstall":
			if err := uninstallService(); err != nil {
				log.Fatalf("Failed to uninstall service: %v", err)
			}
			fmt.Println("Auto-start service removed successfully")
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			flag.Usage()
			os.Exit(1)
		}
	}

	cfg := config.Load()
	run(cfg, *noTrayFlag)
}

func printVersion() {
	fmt.Printf("nfc-agent %s\n", api.Version)
	fmt.Printf("Build time: %s\n", api.BuildTime)
	fmt.Printf("Git commit: %s\n", api.GitCommit)
}

// buildManager establishes a PC/SC context and wires it into an
// agent.Manager configured from the persisted user settings.
func buildManager() (*agent.Manager, error) {
	s, _ := settings.Load()

	ctx, err := pcsc.DefaultContextFactory{}.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}

	var aid cardcore.AIDConfig
	if s.DefaultAID != "" {
		aid, err = cardcore.NewAIDFromHex(s.DefaultAID)
		if err != nil {
			logging.Warn(logging.CatSystem, "ignoring invalid default AID from settings", map[string]any{
				"defaultAID": s.DefaultAID,
				"error":      err.Error(),
			})
			aid = cardcore.AIDConfig{}
		}
	}

	return agent.NewManager(ctx, aid, s.AutoProcessing), nil
}

func run(cfg *config.Config, headless bool) {
	logging.Init(1000, logging.LevelDebug)
	logging.Info(logging.CatSystem, "NFC Agent starting", map[string]any{
		"version": api.Version,
	})

	mgr, err := buildManager()
	if err != nil {
		log.Fatalf("failed to initialize PC/SC: %v", err)
	}
	defer mgr.Close()

	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	defer cancelRefresh()
	if _, err := mgr.Refresh(refreshCtx); err != nil {
		logging.Warn(logging.CatSystem, "initial reader enumeration failed", map[string]any{
			"error": err.Error(),
		})
	}

	api.SetManager(mgr)
	api.InitUpdateChecker()

	mux := api.NewMux()
	mux.HandleFunc("/v1/ws", api.InitWebSocket())

	addr := cfg.Address()

	startServer := func() {
		log.Printf("nfc-agent %s listening on http://%s\n", api.Version, addr)
		log.Printf("WebSocket available at ws://%s/v1/ws\n", addr)
		logging.Info(logging.CatSystem, "Server started", map[string]any{
			"address": addr,
		})

		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	shutdown := func() {
		log.Println("Shutting down...")
		cancelRefresh()
		mgr.Close()
		os.Exit(0)
	}
	api.SetShutdownHandler(shutdown)

	useTray := !headless && tray.IsSupported()

	if useTray {
		log.Println("Starting with system tray...")

		if welcome.IsFirstRun() {
			go func() {
				welcome.ShowWelcome()
				_ = welcome.MarkAsShown()
			}()
		}

		trayApp := tray.New(addr, shutdown)
		trayApp.RunWithServer(startServer)
	} else {
		if headless {
			log.Println("Running in headless mode (no system tray)")
		} else {
			log.Println("System tray not supported on this platform, running headless")
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			shutdown()
		}()

		startServer()
	}
}

// installService installs the auto-start service for the current platform.
func installService() error {
	svc := service.New()
	return svc.Install()
}

// uninstallService removes the auto-start service for the current platform.
func uninstallService() error {
	svc := service.New()
	return svc.Uninstall()
}
