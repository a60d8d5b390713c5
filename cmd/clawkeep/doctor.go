package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/basket/clawkeep/internal/config"
	"github.com/basket/clawkeep/internal/doctor"
)

// runDoctorCommand runs the integrity checklist against the local state
// directory and prints a report. Exit code 1 when any check is not PASS.
func runDoctorCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "emit the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	report := doctor.Run(ctx, cfg, Version)

	if *jsonOut {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("clawkeep doctor %s  (%s/%s, %s)\n\n",
			Version, report.System.OS, report.System.Arch, report.System.Go)
		for _, result := range report.Results {
			icon := "✓"
			switch result.Status {
			case "WARN":
				icon = "!"
			case "SKIP":
				icon = "-"
			}
			fmt.Printf("  %s %-18s %s\n", icon, result.Name, result.Message)
			if result.Detail != "" {
				fmt.Printf("    %s\n", result.Detail)
			}
		}
		fmt.Println()
		if report.Warnings == 0 {
			fmt.Println("All checks passed.")
		} else {
			fmt.Printf("%d check(s) need attention.\n", report.Warnings)
		}
	}

	if report.Warnings > 0 {
		return 1
	}
	return 0
}
