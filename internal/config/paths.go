package config

import (
	"os"
	"path/filepath"
)

// DefaultFile is looked up in the working directory, then in the home dir.
const DefaultFile = "neuromind.yaml"

func defaultHome() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".neuromind"), nil
}

// FindFile returns the config file path to load when none was given.
func FindFile() string {
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile
	}
	if v := os.Getenv("APP_HOME"); v != "" {
		return filepath.Join(v, DefaultFile)
	}
	home, err := defaultHome()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DefaultFile)
}

func (c *Config) DataDir() string {
	return filepath.Join(c.Home, "data")
}

func (c *Config) DBPath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir(), "neuromind.db")
}

func (c *Config) PersonasDir() string {
	if c.Personas.Dir != "" {
		return c.Personas.Dir
	}
	return filepath.Join(c.DataDir(), "personas")
}

// EnsureDirs creates the data directory tree.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.DataDir(), 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.DBPath()), 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.PersonasDir(), 0755)
}
