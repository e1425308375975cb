package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"eventdedup/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName        = "eventdedup"
	defaultShutdownTimeoutSec = 10
	defaultHTTPListen         = ":5001"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultIngestPath         = "/events"
	defaultCachePath          = "/cache"
	defaultCatalogPath        = "/catalog"
	defaultMetricsPath        = "/metrics"
	defaultMaxBodyBytes       = 2 << 20
	defaultNATSSubject        = "redfish.events"
	defaultNATSStream         = "REDFISH_EVENTS"
	defaultNATSConsumer       = "eventdedup-ingest"
	defaultNATSDeliverGroup   = "eventdedup-workers"
	defaultNATSAckWaitSec     = 30
	defaultNATSNackDelayMS    = 1000
	defaultNATSMaxDeliver     = -1
	defaultNATSMaxAckPending  = 2048
	defaultDedupShards        = 64
	defaultSweepIntervalSec   = 5
	defaultDispatchWorkers    = 4
	defaultDispatchQueueSize  = 1024
	defaultAdmitTimeoutMS     = 2000
	defaultDrainTimeoutSec    = 10
	defaultAuditBuffer        = 1024
	defaultAuditNATSSubject   = "redfish.audit"
	defaultAuditKafkaTopic    = "redfish-audit"
	defaultActionTimeoutSec   = 10

	// ActionTypeLog records action intent in service log.
	ActionTypeLog = "log"
	// ActionTypeHTTP posts action payload to webhook.
	ActionTypeHTTP = "http"
	// ActionTypeTelegram sends action message to Telegram chat.
	ActionTypeTelegram = "telegram"

	// BackoffFixed keeps constant delay between attempts.
	BackoffFixed = "fixed"
	// BackoffExponential doubles delay up to max_ms.
	BackoffExponential = "exponential"
)

// BuiltinActionNames lists actions handled by the log executor unless overridden by [action.<name>].
var BuiltinActionNames = []string{
	"NotifyAdmin",
	"ShutdownServer",
	"LogChange",
	"MonitorTemperature",
	"InitializeDrive",
	"UpdateInventory",
	"CheckPowerSupplies",
}

var legacyActionArrayPattern = regexp.MustCompile(`(?m)^\s*\[\[\s*action\s*\]\]`)

// Config holds service runtime settings and action bindings.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service  ServiceConfig
	Log      LogConfig
	Ingest   IngestConfig
	Dedup    DedupConfig
	Keying   KeyingConfig
	Dispatch DispatchConfig
	Catalog  CatalogConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Action   []ActionConfig
}

// rawConfig mirrors TOML model before action table normalization.
type rawConfig struct {
	Service  ServiceConfig              `toml:"service"`
	Log      LogConfig                  `toml:"log"`
	Ingest   IngestConfig               `toml:"ingest"`
	Dedup    DedupConfig                `toml:"dedup"`
	Keying   KeyingConfig               `toml:"keying"`
	Dispatch DispatchConfig             `toml:"dispatch"`
	Catalog  CatalogConfig              `toml:"catalog"`
	Audit    AuditConfig                `toml:"audit"`
	Metrics  MetricsConfig              `toml:"metrics"`
	Action   map[string]rawActionConfig `toml:"action"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Name               string `toml:"name"`
	ShutdownTimeoutSec int    `toml:"shutdown_timeout_sec"`
}

// IngestConfig defines inbound event interfaces.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures HTTP listener for ingest and admin endpoints.
// Params: listen address, endpoint paths, and body size limit.
// Returns: HTTP ingest behavior.
type HTTPIngestConfig struct {
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	IngestPath   string `toml:"ingest_path"`
	CachePath    string `toml:"cache_path"`
	CatalogPath  string `toml:"catalog_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: connection, stream routing, and ack/redelivery policy.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// DedupConfig controls window store sharding and sweep cadence.
type DedupConfig struct {
	Shards           int `toml:"shards"`
	SweepIntervalSec int `toml:"sweep_interval_sec"`
}

// KeyingConfig controls which message classes drop MessageArgs from the dedup key.
// Params: wildcard patterns over MessageId (e.g. "Alert.1.0.CPUUsage*").
// Returns: keying policy for resolver.
type KeyingConfig struct {
	IgnoreArgs []string `toml:"ignore_args"`
}

// CompiledIgnoreArgs compiles ignore_args wildcard patterns.
// Params: none.
// Returns: compiled case-insensitive matchers or first compile error.
func (k KeyingConfig) CompiledIgnoreArgs() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(k.IgnoreArgs))
	for i, pattern := range k.IgnoreArgs {
		if strings.TrimSpace(pattern) == "" {
			return nil, fmt.Errorf("keying.ignore_args[%d] is empty", i)
		}
		compiled, err := CompileWildcardPattern(strings.TrimSpace(pattern))
		if err != nil {
			return nil, fmt.Errorf("keying.ignore_args[%d]: %w", i, err)
		}
		out = append(out, compiled)
	}
	return out, nil
}

// DispatchConfig controls asynchronous action dispatch pool.
// Params: worker count, bounded queue size, admission wait, and shutdown drain timeout.
// Returns: dispatch pool sizing.
type DispatchConfig struct {
	Workers         int  `toml:"workers"`
	QueueSize       int  `toml:"queue_size"`
	AdmitTimeoutMS  int  `toml:"admit_timeout_ms"`
	DrainTimeoutSec int  `toml:"drain_timeout_sec"`
	DisableBuiltin  bool `toml:"disable_builtin_actions"`
}

// AdmitTimeout returns admission wait as duration.
func (d DispatchConfig) AdmitTimeout() time.Duration {
	return time.Duration(d.AdmitTimeoutMS) * time.Millisecond
}

// CatalogConfig points to device catalog file or directory.
type CatalogConfig struct {
	Path              string `toml:"path"`
	ReloadIntervalSec int    `toml:"reload_interval_sec"`
}

// AuditConfig defines audit record buffer and sinks.
type AuditConfig struct {
	Buffer int              `toml:"buffer"`
	Log    AuditLogConfig   `toml:"log"`
	NATS   AuditNATSConfig  `toml:"nats"`
	Kafka  AuditKafkaConfig `toml:"kafka"`
}

// AuditLogConfig writes audit records into service log.
type AuditLogConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
}

// AuditNATSConfig publishes audit records as JSON to a NATS subject.
type AuditNATSConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     []string `toml:"url"`
	Subject string   `toml:"subject"`
}

// AuditKafkaConfig writes audit records as JSON to a Kafka topic.
type AuditKafkaConfig struct {
	Enabled        bool     `toml:"enabled"`
	Brokers        []string `toml:"brokers"`
	Topic          string   `toml:"topic"`
	BatchTimeoutMS int      `toml:"batch_timeout_ms"`
}

// MetricsConfig exposes Prometheus metrics on HTTP listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// RetryConfig configures executor retries.
// Params: retry toggle, backoff, attempt limits, and logging.
// Returns: retry policy for one action executor.
type RetryConfig struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// ActionConfig binds one action name to an executor implementation.
// Params: executor type plus type-specific transport settings.
// Returns: executor definition used by registry builder.
type ActionConfig struct {
	Name       string
	Type       string
	URL        string
	Method     string
	TimeoutSec int
	Headers    map[string]string
	BotToken   string
	ChatID     string
	APIBase    string
	Message    string
	Retry      RetryConfig
}

// rawActionConfig stores one action body from `[action.<Name>]` table.
type rawActionConfig struct {
	Type       string            `toml:"type"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	TimeoutSec int               `toml:"timeout_sec"`
	Headers    map[string]string `toml:"headers"`
	BotToken   string            `toml:"bot_token"`
	ChatID     string            `toml:"chat_id"`
	APIBase    string            `toml:"api_base"`
	Message    string            `toml:"message"`
	Retry      RetryConfig       `toml:"retry"`
}

// LogConfig contains console/file logging sinks.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ConfigSource describes file or directory config source.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}
	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes one TOML document, applies defaults, and validates it.
// Params: TOML body.
// Returns: validated config or decode/validation error.
func Parse(body []byte) (Config, error) {
	cfg, err := decodeBody(body)
	if err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeBody decodes TOML body and normalizes action tables.
func decodeBody(body []byte) (Config, error) {
	if legacyActionArrayPattern.Match(body) {
		return Config{}, errors.New("[[action]] arrays are not supported; use [action.<ActionName>] tables")
	}
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, err
	}
	return normalizeRawConfig(raw), nil
}

// normalizeRawConfig converts raw TOML model to runtime config.
// Params: decoded raw config.
// Returns: config with action list sorted by name.
func normalizeRawConfig(raw rawConfig) Config {
	cfg := Config{
		Service:  raw.Service,
		Log:      raw.Log,
		Ingest:   raw.Ingest,
		Dedup:    raw.Dedup,
		Keying:   raw.Keying,
		Dispatch: raw.Dispatch,
		Catalog:  raw.Catalog,
		Audit:    raw.Audit,
		Metrics:  raw.Metrics,
	}
	names := make([]string, 0, len(raw.Action))
	for name := range raw.Action {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		body := raw.Action[name]
		cfg.Action = append(cfg.Action, ActionConfig{
			Name:       name,
			Type:       body.Type,
			URL:        body.URL,
			Method:     body.Method,
			TimeoutSec: body.TimeoutSec,
			Headers:    body.Headers,
			BotToken:   body.BotToken,
			ChatID:     body.ChatID,
			APIBase:    body.APIBase,
			Message:    body.Message,
			Retry:      body.Retry,
		})
	}
	return cfg
}

// loadFile reads one TOML configuration file.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := decodeBody(body)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges TOML files from one directory in file name order.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays non-empty sections of src onto dst.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	overlaySection(&dst.Service, src.Service)
	overlaySection(&dst.Log, src.Log)
	overlaySection(&dst.Ingest.HTTP, src.Ingest.HTTP)
	overlaySection(&dst.Ingest.NATS, src.Ingest.NATS)
	overlaySection(&dst.Dedup, src.Dedup)
	overlaySection(&dst.Dispatch, src.Dispatch)
	overlaySection(&dst.Catalog, src.Catalog)
	overlaySection(&dst.Audit, src.Audit)
	overlaySection(&dst.Metrics, src.Metrics)
	if len(src.Keying.IgnoreArgs) > 0 {
		dst.Keying.IgnoreArgs = append(dst.Keying.IgnoreArgs, src.Keying.IgnoreArgs...)
	}
	dst.Action = append(dst.Action, src.Action...)
}

// overlaySection replaces dst with src when src carries any value.
func overlaySection[T any](dst *T, src T) {
	if reflect.ValueOf(src).IsZero() {
		return
	}
	*dst = src
}

// ApplyDefaults fills unset fields with runtime defaults.
// Params: config pointer after decode/merge.
// Returns: defaults side-effect in cfg.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.ShutdownTimeoutSec <= 0 {
		cfg.Service.ShutdownTimeoutSec = defaultShutdownTimeoutSec
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	httpCfg := &cfg.Ingest.HTTP
	setDefaultString(&httpCfg.Listen, defaultHTTPListen)
	setDefaultString(&httpCfg.HealthPath, defaultHealthPath)
	setDefaultString(&httpCfg.ReadyPath, defaultReadyPath)
	setDefaultString(&httpCfg.IngestPath, defaultIngestPath)
	setDefaultString(&httpCfg.CachePath, defaultCachePath)
	setDefaultString(&httpCfg.CatalogPath, defaultCatalogPath)
	if httpCfg.MaxBodyBytes <= 0 {
		httpCfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	natsCfg := &cfg.Ingest.NATS
	natsCfg.URL = normalizeList(natsCfg.URL)
	setDefaultString(&natsCfg.Subject, defaultNATSSubject)
	setDefaultString(&natsCfg.Stream, defaultNATSStream)
	setDefaultString(&natsCfg.ConsumerName, defaultNATSConsumer)
	setDefaultString(&natsCfg.DeliverGroup, defaultNATSDeliverGroup)
	if natsCfg.AckWaitSec <= 0 {
		natsCfg.AckWaitSec = defaultNATSAckWaitSec
	}
	if natsCfg.NackDelayMS == 0 {
		natsCfg.NackDelayMS = defaultNATSNackDelayMS
	}
	if natsCfg.MaxDeliver == 0 {
		natsCfg.MaxDeliver = defaultNATSMaxDeliver
	}
	if natsCfg.MaxAckPending <= 0 {
		natsCfg.MaxAckPending = defaultNATSMaxAckPending
	}

	if cfg.Dedup.Shards == 0 {
		cfg.Dedup.Shards = defaultDedupShards
	}
	if cfg.Dedup.SweepIntervalSec == 0 {
		cfg.Dedup.SweepIntervalSec = defaultSweepIntervalSec
	}

	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = defaultDispatchWorkers
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = defaultDispatchQueueSize
	}
	if cfg.Dispatch.AdmitTimeoutMS == 0 {
		cfg.Dispatch.AdmitTimeoutMS = defaultAdmitTimeoutMS
	}
	if cfg.Dispatch.DrainTimeoutSec == 0 {
		cfg.Dispatch.DrainTimeoutSec = defaultDrainTimeoutSec
	}

	if cfg.Audit.Buffer == 0 {
		cfg.Audit.Buffer = defaultAuditBuffer
	}
	if cfg.Audit.Log.Level == "" {
		cfg.Audit.Log.Level = "info"
	}
	cfg.Audit.NATS.URL = normalizeList(cfg.Audit.NATS.URL)
	if len(cfg.Audit.NATS.URL) == 0 {
		cfg.Audit.NATS.URL = cfg.Ingest.NATS.URL
	}
	setDefaultString(&cfg.Audit.NATS.Subject, defaultAuditNATSSubject)
	cfg.Audit.Kafka.Brokers = normalizeList(cfg.Audit.Kafka.Brokers)
	setDefaultString(&cfg.Audit.Kafka.Topic, defaultAuditKafkaTopic)
	if !cfg.Audit.Log.Enabled && !cfg.Audit.NATS.Enabled && !cfg.Audit.Kafka.Enabled {
		cfg.Audit.Log.Enabled = true
	}

	setDefaultString(&cfg.Metrics.Path, defaultMetricsPath)

	for i := range cfg.Action {
		action := &cfg.Action[i]
		action.Type = strings.ToLower(strings.TrimSpace(action.Type))
		if action.Type == "" {
			action.Type = ActionTypeLog
		}
		if action.TimeoutSec <= 0 {
			action.TimeoutSec = defaultActionTimeoutSec
		}
		if action.Type == ActionTypeHTTP && strings.TrimSpace(action.Method) == "" {
			action.Method = "POST"
		}
		if action.Type == ActionTypeTelegram && strings.TrimSpace(action.APIBase) == "" {
			action.APIBase = "https://api.telegram.org"
		}
		fillRetryDefaults(&action.Retry)
	}
}

// fillRetryDefaults sets retry defaults when retry is enabled.
func fillRetryDefaults(retry *RetryConfig) {
	if !retry.Enabled {
		return
	}
	retry.Backoff = strings.ToLower(strings.TrimSpace(retry.Backoff))
	if retry.Backoff == "" {
		retry.Backoff = BackoffExponential
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 10000
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 5
	}
}

func setDefaultString(dst *string, value string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = value
	}
}

// normalizeList trims entries and drops empty values.
func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate checks config invariants after defaults.
// Params: config snapshot.
// Returns: first path-qualified validation error.
func Validate(cfg Config) error {
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	httpCfg := cfg.Ingest.HTTP
	if strings.TrimSpace(httpCfg.Listen) == "" {
		return errors.New("ingest.http.listen is required")
	}
	paths := map[string]string{
		"ingest.http.health_path":  httpCfg.HealthPath,
		"ingest.http.ready_path":   httpCfg.ReadyPath,
		"ingest.http.ingest_path":  httpCfg.IngestPath,
		"ingest.http.cache_path":   httpCfg.CachePath,
		"ingest.http.catalog_path": httpCfg.CatalogPath,
	}
	if cfg.Metrics.Enabled {
		paths["metrics.path"] = cfg.Metrics.Path
	}
	if err := validatePaths(paths); err != nil {
		return err
	}

	if cfg.Ingest.NATS.Enabled {
		natsCfg := cfg.Ingest.NATS
		if len(natsCfg.URL) == 0 {
			return errors.New("ingest.nats.url is required when ingest.nats.enabled=true")
		}
		if natsCfg.NackDelayMS < 0 {
			return errors.New("ingest.nats.nack_delay_ms must be >=0")
		}
		if natsCfg.MaxDeliver < -1 {
			return errors.New("ingest.nats.max_deliver must be -1 or >0")
		}
	}

	if cfg.Dedup.Shards <= 0 {
		return errors.New("dedup.shards must be >0")
	}
	if cfg.Dedup.SweepIntervalSec <= 0 {
		return errors.New("dedup.sweep_interval_sec must be >0")
	}
	if _, err := cfg.Keying.CompiledIgnoreArgs(); err != nil {
		return err
	}

	if cfg.Dispatch.Workers <= 0 {
		return errors.New("dispatch.workers must be >0")
	}
	if cfg.Dispatch.QueueSize <= 0 {
		return errors.New("dispatch.queue_size must be >0")
	}
	if cfg.Dispatch.AdmitTimeoutMS < 0 {
		return errors.New("dispatch.admit_timeout_ms must be >=0")
	}
	if cfg.Dispatch.DrainTimeoutSec <= 0 {
		return errors.New("dispatch.drain_timeout_sec must be >0")
	}

	if cfg.Catalog.ReloadIntervalSec < 0 {
		return errors.New("catalog.reload_interval_sec must be >=0")
	}
	if cfg.Catalog.ReloadIntervalSec > 0 && strings.TrimSpace(cfg.Catalog.Path) == "" {
		return errors.New("catalog.path is required when catalog.reload_interval_sec>0")
	}

	if cfg.Audit.Buffer <= 0 {
		return errors.New("audit.buffer must be >0")
	}
	if cfg.Audit.Log.Enabled {
		if _, err := ParseLevelName(cfg.Audit.Log.Level); err != nil {
			return fmt.Errorf("audit.log.level: %w", err)
		}
	}
	if cfg.Audit.NATS.Enabled && len(cfg.Audit.NATS.URL) == 0 {
		return errors.New("audit.nats.url is required when audit.nats.enabled=true")
	}
	if cfg.Audit.Kafka.Enabled && len(cfg.Audit.Kafka.Brokers) == 0 {
		return errors.New("audit.kafka.brokers is required when audit.kafka.enabled=true")
	}

	seen := make(map[string]struct{}, len(cfg.Action))
	for _, action := range cfg.Action {
		if _, dup := seen[action.Name]; dup {
			return fmt.Errorf("action.%s is defined more than once", action.Name)
		}
		seen[action.Name] = struct{}{}
		if err := validateAction(action); err != nil {
			return err
		}
	}
	return nil
}

// validatePaths checks HTTP paths are absolute and unique.
func validatePaths(paths map[string]string) error {
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)
	owners := make(map[string]string, len(paths))
	for _, name := range names {
		value := strings.TrimSpace(paths[name])
		if !strings.HasPrefix(value, "/") {
			return fmt.Errorf("%s must start with /", name)
		}
		if other, taken := owners[value]; taken {
			return fmt.Errorf("%s duplicates %s (%q)", name, other, value)
		}
		owners[value] = name
	}
	return nil
}

// validateAction validates one [action.<Name>] table.
func validateAction(action ActionConfig) error {
	prefix := "action." + action.Name
	if strings.TrimSpace(action.Name) == "" {
		return errors.New("action name is required")
	}
	switch action.Type {
	case ActionTypeLog:
	case ActionTypeHTTP:
		if strings.TrimSpace(action.URL) == "" {
			return fmt.Errorf("%s.url is required for type=http", prefix)
		}
	case ActionTypeTelegram:
		if strings.TrimSpace(action.BotToken) == "" {
			return fmt.Errorf("%s.bot_token is required for type=telegram", prefix)
		}
		if strings.TrimSpace(action.ChatID) == "" {
			return fmt.Errorf("%s.chat_id is required for type=telegram", prefix)
		}
	default:
		return fmt.Errorf("%s.type has unsupported value %q", prefix, action.Type)
	}
	if strings.TrimSpace(action.Message) != "" {
		if _, err := templatefmt.ParseMessageTemplate(prefix+".message", action.Message); err != nil {
			return fmt.Errorf("%s.message is invalid: %w", prefix, err)
		}
	}
	if action.Retry.Enabled {
		switch action.Retry.Backoff {
		case BackoffFixed, BackoffExponential:
		default:
			return fmt.Errorf("%s.retry.backoff has unsupported value %q", prefix, action.Retry.Backoff)
		}
		if action.Retry.MaxMS < action.Retry.InitialMS {
			return fmt.Errorf("%s.retry.max_ms must be >= initial_ms", prefix)
		}
	}
	return nil
}

// CompileWildcardPattern converts wildcard syntax (*, ?) into regex and compiles it.
// Params: wildcard expression.
// Returns: compiled case-insensitive regex.
func CompileWildcardPattern(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(strings.ToLower(pattern))
	quoted = strings.ReplaceAll(quoted, `\*`, ".*")
	quoted = strings.ReplaceAll(quoted, `\?`, ".")
	return regexp.Compile("^" + quoted + "$")
}

// ParseLevelName checks log level name.
// Params: level name (debug/info/warn/error).
// Returns: normalized level name or error.
func ParseLevelName(value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "debug", "info", "warn", "error":
		return normalized, nil
	default:
		return "", fmt.Errorf("unsupported level %q", value)
	}
}

// validateLogSink validates one log sink configuration.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}
	if _, err := ParseLevelName(sink.Level); err != nil {
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}
	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}
	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}
	return nil
}
