package config

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kilianp07/tracet/core/telescope"
)

// TelescopeConfig holds the observatory endpoints shared by every trigger.
type TelescopeConfig struct {
	MWAURL         string `json:"mwa_url"`
	ATCAURL        string `json:"atca_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// SweetSpotsPath locates the MWA sweet spot database.
	SweetSpotsPath string `json:"sweet_spots_path"`
}

// SetDefaults applies sane defaults.
func (c *TelescopeConfig) SetDefaults() {
	if c.MWAURL == "" {
		c.MWAURL = telescope.DefaultMWAURL
	}
	if c.ATCAURL == "" {
		c.ATCAURL = telescope.DefaultATCAURL
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = int(telescope.DefaultTimeout / time.Second)
	}
}

// Validate checks the endpoints are absolute URLs.
func (c TelescopeConfig) Validate() error {
	for name, raw := range map[string]string{"mwa_url": c.MWAURL, "atca_url": c.ATCAURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("telescopes: invalid %s %q", name, raw)
		}
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("telescopes: timeout must not be negative")
	}
	return nil
}

// Env returns the shared telescope environment.
func (c TelescopeConfig) Env() telescope.Env {
	return telescope.Env{
		Client:         &http.Client{Timeout: time.Duration(c.TimeoutSeconds) * time.Second},
		MWAURL:         c.MWAURL,
		ATCAURL:        c.ATCAURL,
		SweetSpotsPath: c.SweetSpotsPath,
	}
}
