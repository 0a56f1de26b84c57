// Package secrets reads sensitive settings through the Doppler CLI
package secrets

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// commandRunner runs the doppler binary and returns its stdout
type commandRunner func(name string, args ...string) ([]byte, error)

// DopplerClient provides access to secrets stored in Doppler
type DopplerClient struct {
	Project     string
	Config      string
	initialized bool
	run         commandRunner
	lookPath    func(string) (string, error)

	mu    sync.Mutex
	cache map[string]string
}

// NewDopplerClient creates a new Doppler client
func NewDopplerClient(project, config string) *DopplerClient {
	return &DopplerClient{
		Project: project,
		Config:  config,
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
		lookPath: exec.LookPath,
		cache:    make(map[string]string),
	}
}

// Initialize checks if Doppler CLI is installed
func (d *DopplerClient) Initialize() error {
	if _, err := d.lookPath("doppler"); err != nil {
		return fmt.Errorf("doppler CLI not found: %w", err)
	}
	d.initialized = true
	return nil
}

// GetSecret retrieves a secret. Variables injected by `doppler run` win
// over a CLI lookup.
func (d *DopplerClient) GetSecret(key string) (string, error) {
	if !d.initialized {
		if err := d.Initialize(); err != nil {
			return "", err
		}
	}

	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if value, ok := d.cache[key]; ok {
		return value, nil
	}

	output, err := d.run("doppler", "secrets", "get", key,
		"--project", d.Project,
		"--config", d.Config,
		"--plain")
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}

	value := strings.TrimSpace(string(output))
	d.cache[key] = value
	return value, nil
}

// GetSecretWithFallback gets a secret from Doppler with a fallback value
func (d *DopplerClient) GetSecretWithFallback(key, fallback string) string {
	value, err := d.GetSecret(key)
	if err != nil || value == "" {
		return fallback
	}
	return value
}
