// internal/config/config.go
//
// This package holds the single JSON document of credentials and parameters
// that every step reads. Keys are addressed with dotted paths such as
// "cloudflare.api_token". The file is rewritten in full on every Set and may
// also be rewritten by the credential refresher from another process.

package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
)

// DefaultPath is used when neither --config nor CONTENTA_CONFIG is set.
const DefaultPath = "config/config.json"

// EnvPath overrides DefaultPath.
const EnvPath = "CONTENTA_CONFIG"

const defaultDocumentJSON = `{
  "paths": {
    "jobs_dir": "jobs",
    "data_dir": "data",
    "log_dir": "logs",
    "scripts_dir": "scripts",
    "ledger": "data/ledger.db"
  },
  "site": {
    "scheme": "https"
  },
  "credentials": {
    "refresh_command": ""
  },
  "cloudflare": {
    "api_token": "",
    "account_id": ""
  },
  "registrar": {
    "api_key": ""
  },
  "panel": {
    "url": "",
    "api_key": ""
  },
  "server": {
    "host": "",
    "user": "root"
  },
  "ai": {
    "api_key": "",
    "image_api_key": ""
  }
}
`

// ConfigurationError lists every required key that resolved to an empty value.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: missing required keys: %s", strings.Join(e.Missing, ", "))
}

// Config is the in-memory view of the config file.
type Config struct {
	path string

	mu     sync.RWMutex
	data   map[string]any
	digest [32]byte
	stale  bool
}

// ResolvePath picks the config location from an explicit flag value, the
// environment, or the default.
func ResolvePath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPath)); v != "" {
		return v
	}
	return DefaultPath
}

// New loads the config at path, writing the built-in default document first
// if the file does not exist yet.
func New(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config: path is required")
	}
	if err := ensureDocument(path); err != nil {
		return nil, err
	}
	c := &Config{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the built-in document.
func Default() map[string]any {
	var doc map[string]any
	if err := json.Unmarshal([]byte(defaultDocumentJSON), &doc); err != nil {
		panic(fmt.Sprintf("config: default document: %v", err))
	}
	return doc
}

// Path returns the backing file.
func (c *Config) Path() string {
	return c.path
}

// Dir returns the directory holding the backing file.
func (c *Config) Dir() string {
	return filepath.Dir(c.path)
}

// Get walks key segment by segment. It returns def if any segment is missing
// or an intermediate value is not a document.
func (c *Config) Get(key string, def any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := lookup(c.data, key)
	if !ok {
		return def
	}
	return value
}

// String returns the value at key rendered as a string, or def when absent
// or empty.
func (c *Config) String(key, def string) string {
	value := c.Get(key, nil)
	if isEmpty(value) {
		return def
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64, bool:
		return fmt.Sprint(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return def
		}
		return string(encoded)
	}
}

// Strings returns a list value at key. A plain string is split on whitespace.
func (c *Config) Strings(key string) []string {
	switch v := c.Get(key, nil).(type) {
	case string:
		return strings.Fields(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Has reports whether key resolves to a non-empty value.
func (c *Config) Has(key string) bool {
	return !isEmpty(c.Get(key, nil))
}

// Set overwrites the leaf at key, creating intermediate documents as needed,
// and persists the whole document.
func (c *Config) Set(key string, value any) error {
	segments, err := splitKey(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string]any{}
	}
	node := c.data
	for _, segment := range segments[:len(segments)-1] {
		next, ok := node[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[segment] = next
		}
		node = next
	}
	node[segments[len(segments)-1]] = value
	return c.saveLocked()
}

// Validate collects every key whose value is empty and reports them together.
func (c *Config) Validate(required []string) error {
	var missing []string
	for _, key := range required {
		if !c.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// Missing returns the subset of keys that resolve to empty values.
func (c *Config) Missing(keys []string) []string {
	var missing []string
	for _, key := range keys {
		if !c.Has(key) {
			missing = append(missing, key)
		}
	}
	return missing
}

// Reload re-reads the file, discarding in-memory state.
func (c *Config) Reload() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", c.path, err)
	}
	var doc map[string]any
	if len(bytes.TrimSpace(raw)) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", c.path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	c.mu.Lock()
	c.data = doc
	c.digest = sha256.Sum256(raw)
	c.stale = false
	c.mu.Unlock()
	return nil
}

// ReloadIfStale reloads only when the watcher saw an external rewrite.
// It reports whether a reload happened.
func (c *Config) ReloadIfStale() (bool, error) {
	if !c.Stale() {
		return false, nil
	}
	if err := c.Reload(); err != nil {
		return false, err
	}
	return true, nil
}

// Stale reports whether the file changed on disk since the last load or save.
func (c *Config) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stale
}

// Snapshot returns a deep copy of the document.
func (c *Config) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw, err := json.Marshal(c.data)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

func (c *Config) saveLocked() error {
	encoded, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	encoded = append(encoded, '\n')
	if err := writeAtomic(c.path, encoded); err != nil {
		return fmt.Errorf("config: write %s: %w", c.path, err)
	}
	c.digest = sha256.Sum256(encoded)
	c.stale = false
	return nil
}

// markIfChanged compares the file on disk with the last digest we loaded or
// wrote. Writes performed by Set therefore never mark the store stale.
func (c *Config) markIfChanged() bool {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(raw)
	c.mu.Lock()
	defer c.mu.Unlock()
	if sum == c.digest {
		return false
	}
	c.stale = true
	return true
}

func lookup(doc map[string]any, key string) (any, bool) {
	segments, err := splitKey(key)
	if err != nil {
		return nil, false
	}
	var current any = doc
	for _, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func splitKey(key string) ([]string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("config: key is required")
	}
	segments := strings.Split(key, ".")
	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("config: malformed key %q", key)
		}
	}
	return segments, nil
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case bool, float64, int, int64:
		return false
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func ensureDocument(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := writeAtomic(path, []byte(defaultDocumentJSON)); err != nil {
		return fmt.Errorf("config: write default %s: %w", path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
