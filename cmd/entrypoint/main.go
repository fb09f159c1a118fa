package main

import (
	"log"
	"os"
	"syscall"
	"time"
)

// A tiny container entrypoint that fills env defaults and execs the API binary.
func main() {
	if os.Getenv("PORT") == "" {
		// Match the deployment default when the platform doesn't inject PORT
		_ = os.Setenv("PORT", "10000")
	}

	// Optional startup delay for platforms that attach volumes late
	if delay := os.Getenv("STARTUP_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d > 0 {
			log.Printf("Applying startup delay: %v", d)
			time.Sleep(d)
		}
	}

	target := os.Getenv("BACKEND_BINARY")
	if target == "" {
		target = "/app/main"
	}
	if err := syscall.Exec(target, []string{target}, os.Environ()); err != nil {
		log.Fatalf("failed to exec %s: %v", target, err)
	}
}
