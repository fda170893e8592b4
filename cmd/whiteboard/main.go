package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whiteboard/internal/app"
	"whiteboard/internal/config"
	"whiteboard/internal/discovery"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("whiteboard", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("WHITEBOARD_CONFIG_FILE"), "path to a JSON config file")
	discover := flags.Duration("discover", 0, "list relays on the local network for this long, then exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *discover > 0 {
		return listRelays(*discover, stdout)
	}

	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	log.Printf("Listening on %s (FRONTEND_ORIGIN=%s)", application.Addr(), originLabel(cfg))

	// STEP 4: Wait for shutdown signal or server error
	var runErr error
	select {
	case runErr = <-application.Errors():
	case <-ctx.Done():
		log.Printf("Received shutdown signal, shutting down gracefully")
	}

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown error: %w", err)
	}
	return runErr
}

func originLabel(cfg *config.Config) string {
	if cfg.HTTP.FrontendOrigin == "" {
		return "not-set"
	}
	return cfg.HTTP.FrontendOrigin
}

func listRelays(timeout time.Duration, stdout io.Writer) error {
	instances, err := discovery.Browse(timeout)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		fmt.Fprintln(stdout, "no relays found")
		return nil
	}
	for _, inst := range instances {
		fmt.Fprintf(stdout, "%s\tws://%s/ws\n", inst.Name, inst.Addr)
	}
	return nil
}
