package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/CK6170/Intellispec-go/models"
)

// PortCache remembers the last serial port that connected for a given line
// setup, so /api/connect without a port goes back to it. It is persisted as a
// small JSON file; an empty path keeps it in memory only.
type PortCache struct {
	mu   sync.Mutex
	path string
	m    map[string]string
}

func NewPortCache(path string) *PortCache {
	pc := &PortCache{
		path: path,
		m:    map[string]string{},
	}
	_ = pc.load()
	return pc
}

func (pc *PortCache) Get(key string) string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return strings.TrimSpace(pc.m[key])
}

func (pc *PortCache) Set(key string, port string) error {
	key = strings.TrimSpace(key)
	port = strings.TrimSpace(port)
	if key == "" || port == "" {
		return nil
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if strings.EqualFold(strings.TrimSpace(pc.m[key]), port) {
		return nil
	}
	pc.m[key] = port
	return pc.saveLocked()
}

func (pc *PortCache) load() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.path == "" {
		return nil
	}
	b, err := os.ReadFile(pc.path)
	if err != nil {
		return nil // best-effort
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return nil
	}
	pc.m = m
	return nil
}

func (pc *PortCache) saveLocked() error {
	if pc.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(pc.path), 0o755); err != nil {
		return fmt.Errorf("port cache: %w", err)
	}
	keys := make([]string, 0, len(pc.m))
	for k := range pc.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(pc.m))
	for _, k := range keys {
		out[k] = pc.m[k]
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("port cache: %w", err)
	}
	return os.WriteFile(pc.path, b, 0o644)
}

// serialKey identifies a line setup independently of the port name, so a
// blank or stale configured port still maps to the same entry.
func serialKey(ser models.SERIAL) string {
	ser = ser.WithDefaults()
	payload := struct {
		Baud int `json:"baud"`
	}{
		Baud: ser.BAUDRATE,
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
