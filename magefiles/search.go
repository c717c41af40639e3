//go:build mage

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Serve builds the CLI and runs the HTTP API with the sqlite store.
func Serve() error {
	mg.Deps(Build, Init)
	return sh.RunV(filepath.Join(binDir, binName), "serve", "--store", "sqlite")
}

// Research runs a quick research session on $TOPIC and writes the report
// to reports/.
func Research() error {
	mg.Deps(Build, Init)
	topic := os.Getenv("TOPIC")
	if topic == "" {
		topic = "large language models in clinical decision support"
	}
	return sh.RunV(filepath.Join(binDir, binName), "research", "--mode", "quick",
		"--out", filepath.Join("reports", "report.yaml"), topic)
}

// Search runs a merged literature search for $QUERY.
func Search() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "search", "--query", os.Getenv("QUERY"))
}
