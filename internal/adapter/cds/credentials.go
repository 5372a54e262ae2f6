package cds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultURL is the public Climate Data Store API root.
const DefaultURL = "https://cds.climate.copernicus.eu/api"

// Credentials locate and authenticate against the archive.
type Credentials struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// RCPath returns the conventional ~/.cdsapirc location.
func RCPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cdsapirc"
	}
	return filepath.Join(home, ".cdsapirc")
}

// ResolveCredentials prefers explicit values and falls back to the rc file
// for whatever is missing. The key is required; the URL defaults to
// DefaultURL.
func ResolveCredentials(url, key, rcPath string) (Credentials, error) {
	c := Credentials{URL: url, Key: key}
	if c.URL == "" || c.Key == "" {
		rc, err := readRC(rcPath)
		if err != nil {
			return Credentials{}, err
		}
		if c.URL == "" {
			c.URL = rc.URL
		}
		if c.Key == "" {
			c.Key = rc.Key
		}
	}
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Key == "" {
		return Credentials{}, errors.New("CDSAPI_KEY is not set and no key found in " + rcPath)
	}
	return c, nil
}

func readRC(path string) (Credentials, error) {
	if path == "" {
		return Credentials{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", path, err)
	}
	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}
