// Package config loads speechstream settings from JSON files and the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daikw/speechstream/internal/retry"
	"github.com/daikw/speechstream/internal/speech"
)

const (
	FileName = "config.json"
	DirName  = ".speechstream"

	EnvKey    = "SPEECH_KEY"
	EnvRegion = "SPEECH_REGION"
)

// File is the config file structure.
type File struct {
	Speech          SpeechConfig              `json:"speech"`
	Retry           RetryConfig               `json:"retry,omitempty"`
	DefaultProvider string                    `json:"defaultProvider,omitempty"`
	Providers       map[string]ProviderConfig `json:"providers,omitempty"`
}

// SpeechConfig configures the primary streaming service.
type SpeechConfig struct {
	Key           string `json:"key,omitempty"`
	Region        string `json:"region,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	TokenEndpoint string `json:"tokenEndpoint,omitempty"`

	Voice  string  `json:"voice,omitempty"`
	Format string  `json:"format,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
	Style  string  `json:"style,omitempty"`
	Role   string  `json:"role,omitempty"`

	// Preset is realtime, balanced or high-quality; the fields below override it.
	Preset         string `json:"preset,omitempty"`
	ChunkSize      string `json:"chunkSize,omitempty"`
	BufferStrategy string `json:"bufferStrategy,omitempty"`
	MaxLatencyMs   *int   `json:"maxLatencyMs,omitempty"`
	Progress       *bool  `json:"progress,omitempty"`
}

// RetryConfig tunes retries of batch synthesis.
type RetryConfig struct {
	MaxRetries     *int `json:"maxRetries,omitempty"`
	InitialDelayMs int  `json:"initialDelayMs,omitempty"`
	MaxDelayMs     int  `json:"maxDelayMs,omitempty"`
}

// ProviderConfig configures an alternate synthesis backend.
type ProviderConfig struct {
	APIKey string  `json:"apiKey,omitempty"`
	Voice  string  `json:"voice,omitempty"`
	Model  string  `json:"model,omitempty"`
	Format string  `json:"format,omitempty"`
	Speed  float64 `json:"speed,omitempty"`

	// Amazon Polly options
	Region     string `json:"region,omitempty"`
	Engine     string `json:"engine,omitempty"`
	SampleRate string `json:"sampleRate,omitempty"`

	// Google Cloud options
	ProjectID string `json:"projectId,omitempty"`
	Language  string `json:"language,omitempty"`

	// ElevenLabs voice settings
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarityBoost,omitempty"`
}

// Loader finds and reads config files.
type Loader struct {
	projectPath string
	globalPath  string
}

// NewLoader creates a loader for .speechstream/config.json in the project
// and home directories.
func NewLoader() *Loader {
	homeDir, _ := os.UserHomeDir()
	return &Loader{
		projectPath: filepath.Join(DirName, FileName),
		globalPath:  filepath.Join(homeDir, DirName, FileName),
	}
}

// GlobalPath is where the user-wide config lives.
func (l *Loader) GlobalPath() string { return l.globalPath }

// Load reads the project config, falling back to the global one, then fills
// unset service credentials from the environment. It never returns nil.
func (l *Loader) Load(workDir string) (*File, error) {
	projectConfigPath := filepath.Join(workDir, l.projectPath)
	cfg, err := l.loadFromFile(projectConfigPath)
	switch {
	case err == nil:
		log.Debug().Str("path", projectConfigPath).Msg("Loaded project config")
	case !os.IsNotExist(err):
		return nil, err
	default:
		cfg, err = l.loadFromFile(l.globalPath)
		switch {
		case err == nil:
			log.Debug().Str("path", l.globalPath).Msg("Loaded global config")
		case !os.IsNotExist(err):
			return nil, err
		default:
			log.Debug().Msg("No config file found")
			cfg = &File{}
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFromPath loads a specific file. Paths must not traverse upwards and
// must name a config.json file.
func (l *Loader) LoadFromPath(path string) (*File, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}
	cfg, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func validateConfigPath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("invalid config path: path traversal not allowed")
	}
	if filepath.Base(filepath.Clean(path)) != FileName {
		return fmt.Errorf("invalid config path: must be a %s file", FileName)
	}
	return nil
}

func (l *Loader) loadFromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := expandEnvVars(string(data))

	var cfg File
	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	checkFilePermissions(path)
	return &cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or nothing.
func expandEnvVars(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		// Variable names can hint at secrets; keep them out of logs.
		log.Debug().Msg("Referenced environment variable not set in config")
		return ""
	})
}

func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		log.Warn().
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Msg("Config file may contain secrets but has permissive permissions. Consider: chmod 600")
	}
}

func (c *File) applyEnv() {
	if c.Speech.Key == "" {
		c.Speech.Key = os.Getenv(EnvKey)
	}
	if c.Speech.Region == "" {
		c.Speech.Region = os.Getenv(EnvRegion)
	}
}

// GetProviderConfig returns the named backend's settings, or nil.
func (c *File) GetProviderConfig(name string) *ProviderConfig {
	if c == nil || c.Providers == nil {
		return nil
	}
	if p, ok := c.Providers[name]; ok {
		return &p
	}
	return nil
}

// GetEffectiveProvider returns explicit if set, else the configured default.
func (c *File) GetEffectiveProvider(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if c != nil {
		return c.DefaultProvider
	}
	return ""
}

// Builder returns a parameters builder seeded from the preset and overrides.
// Voice and text are left to the caller.
func (s SpeechConfig) Builder() (*speech.StreamingParametersBuilder, error) {
	b, err := speech.Preset(s.Preset)
	if err != nil {
		return nil, err
	}
	format := s.Format
	if format == "" {
		format = speech.DefaultFormat
	}
	b.AudioFormat(format)
	if s.Rate != 0 {
		b.Rate(s.Rate)
	}
	if s.Style != "" {
		b.Style(s.Style)
	}
	if s.Role != "" {
		b.Role(s.Role)
	}
	if s.ChunkSize != "" {
		cs, err := speech.ParseChunkSize(s.ChunkSize)
		if err != nil {
			return nil, err
		}
		b.PreferredChunkSize(cs)
	}
	if s.BufferStrategy != "" {
		bs, err := speech.ParseBufferStrategy(s.BufferStrategy)
		if err != nil {
			return nil, err
		}
		b.BufferStrategy(bs)
	}
	if s.MaxLatencyMs != nil {
		b.MaxLatency(time.Duration(*s.MaxLatencyMs) * time.Millisecond)
	}
	if s.Progress != nil {
		b.EnableProgressTracking(*s.Progress)
	}
	return b, nil
}

// Policy converts the retry settings, starting from retry.DefaultPolicy.
func (r RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	if r.MaxRetries != nil {
		p.MaxRetries = *r.MaxRetries
	}
	if r.InitialDelayMs > 0 {
		p.InitialDelay = time.Duration(r.InitialDelayMs) * time.Millisecond
	}
	if r.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(r.MaxDelayMs) * time.Millisecond
	}
	return p
}

// Validate returns every problem found; an empty result means usable.
func (c *File) Validate() []string {
	var errs []string
	if c == nil {
		return errs
	}

	s := c.Speech
	if s.Key == "" {
		errs = append(errs, fmt.Sprintf("speech: key is required (use ${%s} for env var)", EnvKey))
	}
	if s.Region == "" && s.Endpoint == "" {
		errs = append(errs, fmt.Sprintf("speech: region or endpoint is required (or set %s)", EnvRegion))
	}
	if s.Format != "" && !speech.IsKnownFormat(s.Format) {
		errs = append(errs, fmt.Sprintf("speech: unknown format '%s'", s.Format))
	}
	if s.Rate != 0 && (s.Rate < speech.MinRate || s.Rate > speech.MaxRate) {
		errs = append(errs, fmt.Sprintf("speech: rate must be between %.1f and %.1f", speech.MinRate, speech.MaxRate))
	}
	if _, err := speech.Preset(s.Preset); err != nil {
		errs = append(errs, fmt.Sprintf("speech: unknown preset '%s'", s.Preset))
	}
	if _, err := speech.ParseChunkSize(s.ChunkSize); err != nil {
		errs = append(errs, fmt.Sprintf("speech: unknown chunkSize '%s'", s.ChunkSize))
	}
	if _, err := speech.ParseBufferStrategy(s.BufferStrategy); err != nil {
		errs = append(errs, fmt.Sprintf("speech: unknown bufferStrategy '%s'", s.BufferStrategy))
	}
	if s.MaxLatencyMs != nil && time.Duration(*s.MaxLatencyMs)*time.Millisecond < speech.MinMaxLatency {
		errs = append(errs, fmt.Sprintf("speech: maxLatencyMs must be at least %d", speech.MinMaxLatency.Milliseconds()))
	}

	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		errs = append(errs, "retry: maxRetries must not be negative")
	}

	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p := c.Providers[name]
		errs = append(errs, validateProviderConfig(name, &p)...)
	}
	return errs
}

func validateProviderConfig(name string, p *ProviderConfig) []string {
	var errs []string
	switch name {
	case "openai":
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("%s: apiKey is required (use ${OPENAI_API_KEY} for env var)", name))
		}
	case "polly":
		validRegions := []string{"us-east-1", "us-west-2", "eu-west-1", "ap-northeast-1", "ap-southeast-1"}
		if p.Region != "" && !slices.Contains(validRegions, p.Region) {
			errs = append(errs, fmt.Sprintf("%s: region '%s' may not be valid", name, p.Region))
		}
	case "elevenlabs":
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("%s: apiKey is required (use ${ELEVENLABS_API_KEY} for env var)", name))
		}
		if p.Stability < 0 || p.Stability > 1 || p.SimilarityBoost < 0 || p.SimilarityBoost > 1 {
			errs = append(errs, fmt.Sprintf("%s: stability and similarityBoost must be between 0 and 1", name))
		}
	case "gcp":
		if p.Language != "" && !strings.Contains(p.Language, "-") {
			errs = append(errs, fmt.Sprintf("%s: language '%s' should look like en-US", name, p.Language))
		}
	default:
		errs = append(errs, fmt.Sprintf("%s: unknown provider", name))
	}
	if p.Speed != 0 && (p.Speed < 0.25 || p.Speed > 4.0) {
		errs = append(errs, fmt.Sprintf("%s: speed must be between 0.25 and 4.0", name))
	}
	return errs
}

// MaskSecrets returns a copy safe to display.
func (c *File) MaskSecrets() *File {
	if c == nil {
		return nil
	}
	masked := *c
	masked.Speech.Key = maskSecret(c.Speech.Key)
	masked.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		p.APIKey = maskSecret(p.APIKey)
		masked.Providers[name] = p
	}
	return &masked
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return fmt.Sprintf("[set, %d chars]", len(s))
}

// GenerateExampleConfig returns an example config file.
func GenerateExampleConfig() string {
	maxRetries := 3
	example := File{
		Speech: SpeechConfig{
			Key:            "${" + EnvKey + "}",
			Region:         "eastus",
			Voice:          "en-US-JennyNeural",
			Format:         speech.DefaultFormat,
			Rate:           1.0,
			Preset:         "balanced",
			ChunkSize:      "medium",
			BufferStrategy: "balanced",
		},
		Retry: RetryConfig{
			MaxRetries:     &maxRetries,
			InitialDelayMs: 500,
			MaxDelayMs:     10000,
		},
		DefaultProvider: "speech",
		Providers: map[string]ProviderConfig{
			"openai": {
				APIKey: "${OPENAI_API_KEY}",
				Model:  "tts-1",
				Voice:  "nova",
				Speed:  1.0,
				Format: "mp3",
			},
			"elevenlabs": {
				APIKey:          "${ELEVENLABS_API_KEY}",
				Model:           "eleven_multilingual_v2",
				Voice:           "21m00Tcm4TlvDq8ikWAM",
				Stability:       0.5,
				SimilarityBoost: 0.75,
			},
			"polly": {
				Region:     "us-east-1",
				Voice:      "Joanna",
				Engine:     "neural",
				SampleRate: "22050",
			},
			"gcp": {
				ProjectID: "${GOOGLE_CLOUD_PROJECT}",
				Voice:     "en-US-Neural2-F",
				Language:  "en-US",
			},
		},
	}

	data, _ := json.MarshalIndent(example, "", "  ")
	return string(data)
}
