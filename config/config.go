// Package config loads the piazza configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Database struct {
	Path   string `yaml:"path"`
	Driver string `yaml:"driver"`
}

type Lending struct {
	ReminderWindow time.Duration `yaml:"reminder_window"`
	DateFormat     string        `yaml:"date_format"`
}

type Suggestions struct {
	SimilarityThreshold int  `yaml:"similarity_threshold"`
	MaxAlternatives     int  `yaml:"max_alternatives"`
	ScopeToType         bool `yaml:"scope_to_type"`
}

type Metadata struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	BatchSize  int           `yaml:"batch_size"`
	MaxResults int           `yaml:"max_results"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the whole file. Missing sections keep their defaults.
type Config struct {
	Database    Database    `yaml:"database"`
	Lending     Lending     `yaml:"lending"`
	Suggestions Suggestions `yaml:"suggestions"`
	Metadata    Metadata    `yaml:"metadata"`
	Log         Log         `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:    Database{Path: "piazza.db", Driver: "sqlite3"},
		Lending:     Lending{ReminderWindow: 24 * time.Hour, DateFormat: "2006-01-02"},
		Suggestions: Suggestions{SimilarityThreshold: 75, MaxAlternatives: 3},
		Metadata: Metadata{
			BaseURL:    "https://boardgamegeek.com/xmlapi2",
			Timeout:    10 * time.Second,
			BatchSize:  20,
			MaxResults: 200,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path, or a path that does not
// exist, yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are an error.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the rest of the program cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is empty"))
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite3 or sqlite", c.Database.Driver))
	}
	if c.Lending.ReminderWindow < 0 {
		errs = append(errs, errors.New("lending.reminder_window is negative"))
	}
	if c.Lending.DateFormat == "" {
		errs = append(errs, errors.New("lending.date_format is empty"))
	}
	if c.Suggestions.SimilarityThreshold < 0 || c.Suggestions.SimilarityThreshold > 100 {
		errs = append(errs, fmt.Errorf("suggestions.similarity_threshold %d: want 0-100", c.Suggestions.SimilarityThreshold))
	}
	if c.Suggestions.MaxAlternatives < 1 {
		errs = append(errs, errors.New("suggestions.max_alternatives must be at least 1"))
	}
	if c.Metadata.BatchSize < 1 || c.Metadata.MaxResults < 1 {
		errs = append(errs, errors.New("metadata.batch_size and metadata.max_results must be positive"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
