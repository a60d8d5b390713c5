package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/basket/clawkeep/internal/config"
)

// runStatusCommand queries the control surface of a running keeper and
// prints its health document. Exit code 0 means the keeper answered.
func runStatusCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "print the raw health document")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	url := fmt.Sprintf("http://%s/healthz", cfg.ControlAddr)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build request: %v\n", err)
		return 1
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("keeper: not running (%s unreachable)\n", cfg.ControlAddr)
		return 1
	}
	defer resp.Body.Close()

	var health struct {
		Service     string  `json:"service"`
		Instance    string  `json:"instance"`
		GatewayPort int     `json:"gateway_port"`
		Gateway     string  `json:"gateway"`
		UptimeS     float64 `json:"uptime_s"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Fprintf(os.Stderr, "decode health document: %v\n", err)
		return 1
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(health, "", "  ")
		fmt.Println(string(out))
		return 0
	}

	fmt.Printf("keeper:   running (instance %s, up %s)\n", health.Instance, (time.Duration(health.UptimeS) * time.Second).String())
	fmt.Printf("gateway:  %s (port %d)\n", health.Gateway, health.GatewayPort)
	return 0
}
