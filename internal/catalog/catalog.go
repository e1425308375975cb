package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"eventdedup/internal/domain"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// deviceDoc mirrors device catalog document fields.
type deviceDoc struct {
	DeviceID      string         `json:"device_id"`
	DeviceName    string         `json:"device_name"`
	DeviceType    string         `json:"device_type"`
	Location      string         `json:"location"`
	DefaultWindow *int64         `json:"default_deduplication_window"`
	Events        []domain.Event `json:"events"`
}

// Device is one catalog device with its event templates in file order.
type Device struct {
	Profile   domain.DeviceProfile
	Templates []domain.Event
}

// Snapshot is immutable loaded catalog.
type Snapshot struct {
	devices  map[string]Device
	ids      []string
	sources  []string
	loadedAt time.Time
}

// Empty returns snapshot without devices.
func Empty() *Snapshot {
	return &Snapshot{devices: map[string]Device{}}
}

// FromDevices builds snapshot from in-memory devices; later duplicates replace earlier ones.
func FromDevices(devices ...Device) *Snapshot {
	snapshot := &Snapshot{devices: make(map[string]Device, len(devices)), loadedAt: time.Now().UTC()}
	for _, device := range devices {
		if _, seen := snapshot.devices[device.Profile.DeviceID]; !seen {
			snapshot.ids = append(snapshot.ids, device.Profile.DeviceID)
		}
		snapshot.devices[device.Profile.DeviceID] = device
	}
	sort.Strings(snapshot.ids)
	return snapshot
}

// DeviceProfile returns device profile by id.
func (s *Snapshot) DeviceProfile(deviceID string) (domain.DeviceProfile, bool) {
	device, ok := s.devices[deviceID]
	return device.Profile, ok
}

// Templates returns event templates of device in catalog order.
func (s *Snapshot) Templates(deviceID string) []domain.Event {
	return s.devices[deviceID].Templates
}

// TemplateFor finds catalog template matching event class.
// Params: incoming event.
// Returns: template with same device and message id, preferring equal origin; false when none.
func (s *Snapshot) TemplateFor(event domain.Event) (domain.Event, bool) {
	var fallback *domain.Event
	templates := s.devices[event.DeviceID].Templates
	for i := range templates {
		candidate := &templates[i]
		if candidate.MessageID != event.MessageID {
			continue
		}
		if candidate.OriginOfCondition == event.OriginOfCondition {
			return *candidate, true
		}
		if fallback == nil {
			fallback = candidate
		}
	}
	if fallback == nil {
		return domain.Event{}, false
	}
	return *fallback, true
}

// DeviceIDs returns sorted device ids.
func (s *Snapshot) DeviceIDs() []string {
	return s.ids
}

// Sources returns catalog files of snapshot.
func (s *Snapshot) Sources() []string {
	return s.sources
}

// LoadedAt returns snapshot load time.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Load reads catalog from file or directory.
// Params: path to .json/.yaml/.yml file or directory of such files (non-recursive, name order).
// Returns: validated snapshot or first decode/validation error.
func Load(path string) (*Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat catalog %q: %w", path, err)
	}
	files := []string{path}
	if info.IsDir() {
		files, err = listCatalogFiles(path)
		if err != nil {
			return nil, err
		}
	}

	snapshot := &Snapshot{devices: make(map[string]Device), loadedAt: time.Now().UTC()}
	for _, file := range files {
		docs, err := readFile(file)
		if err != nil {
			return nil, err
		}
		for i, doc := range docs {
			device, err := buildDevice(doc)
			if err != nil {
				return nil, fmt.Errorf("catalog %q device[%d]: %w", file, i, err)
			}
			if _, dup := snapshot.devices[device.Profile.DeviceID]; dup {
				return nil, fmt.Errorf("catalog %q: device %q is defined more than once", file, device.Profile.DeviceID)
			}
			snapshot.devices[device.Profile.DeviceID] = device
			snapshot.ids = append(snapshot.ids, device.Profile.DeviceID)
		}
		snapshot.sources = append(snapshot.sources, file)
	}
	sort.Strings(snapshot.ids)
	return snapshot, nil
}

func listCatalogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir %q: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no catalog files found in %q", dir)
	}
	sort.Strings(files)
	return files, nil
}

// readFile decodes one catalog file holding a device object or a list of devices.
func readFile(path string) ([]deviceDoc, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		body, err = yamlToJSON(body)
		if err != nil {
			return nil, fmt.Errorf("decode catalog %q: %w", path, err)
		}
	}
	docs, err := decodeDocs(body)
	if err != nil {
		return nil, fmt.Errorf("decode catalog %q: %w", path, err)
	}
	return docs, nil
}

// yamlToJSON re-encodes YAML document as JSON so both formats share event decoding.
func yamlToJSON(body []byte) ([]byte, error) {
	var generic any
	if err := yaml.Unmarshal(body, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func decodeDocs(body []byte) ([]deviceDoc, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty document")
	}
	if trimmed[0] == '[' {
		var docs []deviceDoc
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}
	var doc deviceDoc
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	return []deviceDoc{doc}, nil
}

// buildDevice validates device document and fills template DeviceId.
func buildDevice(doc deviceDoc) (Device, error) {
	if strings.TrimSpace(doc.DeviceID) == "" {
		return Device{}, errors.New("device_id is required")
	}
	if doc.DefaultWindow != nil && *doc.DefaultWindow < 0 {
		return Device{}, fmt.Errorf("%w: default_deduplication_window=%d", domain.ErrInvalidWindow, *doc.DefaultWindow)
	}
	device := Device{
		Profile: domain.DeviceProfile{
			DeviceID:           doc.DeviceID,
			DeviceName:         doc.DeviceName,
			DeviceType:         doc.DeviceType,
			Location:           doc.Location,
			DefaultDedupWindow: doc.DefaultWindow,
		},
		Templates: make([]domain.Event, 0, len(doc.Events)),
	}
	for i, event := range doc.Events {
		if event.DeviceID == "" {
			event.DeviceID = doc.DeviceID
		}
		if event.DeviceID != doc.DeviceID {
			return Device{}, fmt.Errorf("events[%d]: DeviceId %q does not match device_id %q", i, event.DeviceID, doc.DeviceID)
		}
		if err := event.Validate(); err != nil {
			return Device{}, fmt.Errorf("events[%d]: %w", i, err)
		}
		if event.DedupWindowSeconds != nil && *event.DedupWindowSeconds < 0 {
			return Device{}, fmt.Errorf("events[%d]: %w: %d", i, domain.ErrInvalidWindow, *event.DedupWindowSeconds)
		}
		device.Templates = append(device.Templates, event)
	}
	return device, nil
}

// Catalog holds current snapshot and reloads it from disk.
// Params: catalog path (empty path serves an empty catalog) and logger.
// Returns: concurrency-safe catalog view.
type Catalog struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]
	onLoad  func(*Snapshot)
	loads   singleflight.Group
}

// New loads catalog once.
// Params: path, logger, and optional callback called after each successful load.
// Returns: catalog or initial load error.
func New(path string, logger *slog.Logger, onLoad func(*Snapshot)) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{path: strings.TrimSpace(path), logger: logger, onLoad: onLoad}
	if c.path == "" {
		c.store(Empty())
		return c, nil
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewStatic wraps prepared snapshot.
func NewStatic(snapshot *Snapshot) *Catalog {
	c := &Catalog{logger: slog.Default()}
	c.store(snapshot)
	return c
}

func (c *Catalog) store(snapshot *Snapshot) {
	c.current.Store(snapshot)
	if c.onLoad != nil {
		c.onLoad(snapshot)
	}
}

// Reload re-reads catalog path and swaps snapshot on success.
// Params: none.
// Returns: load error; previous snapshot stays active on error.
// Concurrent calls share one load.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	_, err, _ := c.loads.Do(c.path, func() (any, error) {
		snapshot, err := Load(c.path)
		if err != nil {
			return nil, err
		}
		c.store(snapshot)
		c.logger.Info("catalog loaded", "path", c.path, "devices", len(snapshot.ids), "files", len(snapshot.sources))
		return snapshot, nil
	})
	return err
}

// Run reloads catalog on interval until context cancellation.
// Params: lifecycle context and interval (<=0 disables reload).
// Returns: nil after context end.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || c.path == "" {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Reload(); err != nil {
				c.logger.Error("catalog reload failed", "path", c.path, "error", err.Error())
			}
		}
	}
}

// Snapshot returns current snapshot.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// DeviceProfile returns profile from current snapshot.
func (c *Catalog) DeviceProfile(deviceID string) (domain.DeviceProfile, bool) {
	return c.Snapshot().DeviceProfile(deviceID)
}

// Templates returns templates from current snapshot.
func (c *Catalog) Templates(deviceID string) []domain.Event {
	return c.Snapshot().Templates(deviceID)
}

// TemplateFor returns matching template from current snapshot.
func (c *Catalog) TemplateFor(event domain.Event) (domain.Event, bool) {
	return c.Snapshot().TemplateFor(event)
}
