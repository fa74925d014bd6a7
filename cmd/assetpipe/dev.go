package main

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/pipeline"
)

// runDev is the default command: clean, build everything, then watch and
// serve with live reload.
func runDev(ctx context.Context) error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Println()
	for _, line := range devBanner(p.config) {
		info("%s", line)
	}
	fmt.Println()

	err = p.pipeline.Dev(ctx, pipeline.DevOptions{
		Metrics:        p.metrics.Handler(),
		ReloadObserver: p.metrics,
		OpenBrowser:    openURL,
	})
	if ctx.Err() != nil && err == nil {
		fmt.Println()
		info("Shutting down...")
	}
	return err
}

// devBanner describes what the dev command is about to serve.
func devBanner(cfg *config.Config) []string {
	configFile := "(defaults)"
	if p := cfg.ConfigPath(); p != "" {
		configFile = cfg.Rel(p)
	}
	return []string{
		"Config:  " + configFile,
		"Source:  " + cfg.Rel(cfg.SourceRoot()),
		"Output:  " + cfg.Rel(cfg.DestRoot()),
		"Server:  " + cfg.DevURL(),
	}
}

// openURL opens a URL in the default browser.
func openURL(url string) {
	var cmd *exec.Cmd

	switch {
	case commandExists("xdg-open"):
		cmd = exec.Command("xdg-open", url)
	case commandExists("open"):
		cmd = exec.Command("open", url)
	case commandExists("cmd"):
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}

	cmd.Start()
}

// commandExists checks if a command exists in PATH.
func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
