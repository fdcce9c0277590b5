// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/arborhq/arbor/internal/app"
	"github.com/arborhq/arbor/internal/config"
)

var (
	version = "0.12"
)

const starterConfig = `{
  // Arbor daemon configuration. See the README for the full schema.
  version: 1

  server: {
    host: "127.0.0.1"
    port: 4170
  }

  terminal: {
    // shell: "/bin/zsh"
  }

  worktree: {
    // repo_dir defaults to the directory containing this file
  }
}
`

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		host        string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("arbor %s\n", version)
		os.Exit(0)
	}

	// Find config file if not specified; running without one is fine.
	if configPath == "" {
		loader := config.NewLoader()
		if found, err := loader.FindConfig(); err == nil {
			configPath = found
		}
	}
	if configPath != "" {
		log.Printf("Using config: %s", configPath)
	} else {
		log.Printf("No config file found, using defaults")
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// runInit writes a starter config into the current directory.
func runInit() error {
	const path = "arbor.hjson"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
