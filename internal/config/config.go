// Package config provides a small typed view over the registry's
// configuration: enumerated keys with defaults, loaded from a YAML
// file with environment variable and flag overrides, and optionally
// hot-reloaded as the file changes on disk.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	KeyCacheSize           = "schema.cache.size"
	KeyCacheExpiryInterval = "schema.cache.expiry.interval"
)

var defaults = map[string]any{
	KeyCacheSize:           10000,
	KeyCacheExpiryInterval: 3600,
}

// fileConfig is the on-disk YAML shape. Unknown keys are ignored by
// yaml.v3's default unmarshal behavior; missing keys leave zero values,
// which reloadFromFile skips, so the value already in place (the
// default, on first load) stays. Only the schema.cache.* values are
// applied; the other fields are parsed but not used.
type fileConfig struct {
	Schema struct {
		Cache struct {
			Size   int `yaml:"size"`
			Expiry struct {
				Interval int `yaml:"interval"`
			} `yaml:"expiry"`
		} `yaml:"cache"`
	} `yaml:"schema"`

	NATSURL      string `yaml:"natsUrl"`
	HTTPAddr     string `yaml:"httpAddr"`
	SchemaBucket string `yaml:"schemaBucket"`
	ConfigBucket string `yaml:"configBucket"`
	FileBucket   string `yaml:"fileBucket"`
	Debug        bool   `yaml:"debug"`
	TestMode     bool   `yaml:"testMode"`
}

// Config is a typed, concurrency-safe, livable view over the property
// map described in the configuration surface. Reads never block on
// reloads longer than the swap of an internal snapshot.
type Config struct {
	mu       sync.RWMutex
	props    map[string]any
	NATSURL  string
	HTTPAddr string

	SchemaBucket string
	ConfigBucket string
	FileBucket   string
	Debug        bool
	TestMode     bool

	path    string
	watcher *fsnotify.Watcher
}

// Load reads process flags and environment variables, then overlays an
// optional YAML file at path (path may be empty, in which case only
// flags/env/defaults apply). args is typically os.Args[1:]; callers that
// don't want CLI overrides (tests, embedding) can pass nil.
//
// Flags are registered on a private FlagSet rather than flag.CommandLine,
// so Load can be called more than once in a process (every test in this
// package does) without a "flag redefined" panic, and so it never trips
// over flags a host binary (e.g. `go test`) registered for itself.
func Load(path string, args ...string) (*Config, error) {
	c := &Config{props: map[string]any{}}
	for k, v := range defaults {
		c.props[k] = v
	}

	fs := flag.NewFlagSet("schemaregistry", flag.ContinueOnError)
	fs.StringVar(&c.NATSURL, "nats-url", getEnv("NATS_URL", "nats://127.0.0.1:4222"), "NATS server URL")
	fs.StringVar(&c.HTTPAddr, "http-addr", getEnv("HTTP_ADDR", ":8081"), "HTTP server address")
	fs.StringVar(&c.SchemaBucket, "schema-bucket", getEnv("SCHEMA_BUCKET", "SCHEMA_REGISTRY"), "JetStream KV bucket for registry records")
	fs.StringVar(&c.ConfigBucket, "config-bucket", getEnv("CONFIG_BUCKET", "SCHEMA_REGISTRY_CONFIG"), "JetStream KV bucket name for config (not used by the server)")
	fs.StringVar(&c.FileBucket, "file-bucket", getEnv("FILE_BUCKET", "SCHEMA_REGISTRY_FILES"), "JetStream object store bucket for serdes artifacts")
	fs.BoolVar(&c.Debug, "debug", getEnvBool("DEBUG", false), "Enable debug logging")
	fs.BoolVar(&c.TestMode, "test", getEnvBool("TEST_MODE", false), "Enable test mode with embedded NATS server")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	c.path = path
	if path != "" {
		if err := c.reloadFromFile(path); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	return c, nil
}

func (c *Config) reloadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fc.Schema.Cache.Size > 0 {
		c.props[KeyCacheSize] = fc.Schema.Cache.Size
	}
	if fc.Schema.Cache.Expiry.Interval > 0 {
		c.props[KeyCacheExpiryInterval] = fc.Schema.Cache.Expiry.Interval
	}
	return nil
}

// CacheSize returns the current value of schema.cache.size.
func (c *Config) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.props[KeyCacheSize].(int)
}

// CacheExpiryInterval returns the current value of
// schema.cache.expiry.interval as a time.Duration.
func (c *Config) CacheExpiryInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.props[KeyCacheExpiryInterval].(int)) * time.Second
}

// WatchReload starts an fsnotify watch on the backing file, if any, and
// reloads schema.cache.* on write events. It returns a no-op stop
// function when the config was not loaded from a file.
func (c *Config) WatchReload() (stop func(), err error) {
	if c.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(c.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}
	c.watcher = w

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					_ = c.reloadFromFile(c.path)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}
