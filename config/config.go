// Package config loads the sketchbook server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/homedir"
	"sigs.k8s.io/yaml"
)

const (
	DefaultPort          = 8000
	DefaultSketchbookDir = "blockly-sketchbook"

	// ConfigPathEnv names the optional YAML configuration file.
	ConfigPathEnv = "SKETCHBOOK_CONFIG"
)

// DefaultManifest is the list of toolchain files copied into every build workspace.
var DefaultManifest = []string{
	"build.sh",
	"pins_arduino.c",
	"pins_arduino.h",
	"servo.c",
	"servo.h",
	"servo_asm.S",
	"wiring.h",
	"wiring_digital.c",
	"avr-thread.h",
	"libavr-thread.a",
}

// DefaultCodePlaceholder is the token of main_program.cpp replaced by the uploaded code.
var DefaultCodePlaceholder = strings.Repeat("@", 35)

type ServerConfig struct {
	Host            string          `json:"host"`
	Port            int             `json:"port"`
	MaxFormBytes    int64           `json:"maxFormBytes"`
	ShutdownTimeout metav1.Duration `json:"shutdownTimeout"`
}

type SketchbookConfig struct {
	Dir string `json:"dir"`
	// when set, a save with isNew=true fails if the sketch already exists
	RejectOverwriteOnNew bool `json:"rejectOverwriteOnNew"`
}

type AssetsConfig struct {
	Root         string `json:"root"`
	RootRedirect string `json:"rootRedirect"`
	// extra extension to content type entries, e.g. ".svg": "image/svg+xml"
	MimeTypes map[string]string `json:"mimeTypes"`
}

type FormsConfig struct {
	LoadForm     string `json:"loadForm"`
	SaveForm     string `json:"saveForm"`
	Placeholder  string `json:"placeholder"`
	ItemTemplate string `json:"itemTemplate"`
}

type BuildConfig struct {
	ToolchainDir    string            `json:"toolchainDir"`
	Manifest        []string          `json:"manifest"`
	TemplateFile    string            `json:"templateFile"`
	CodePlaceholder string            `json:"codePlaceholder"`
	Command         []string          `json:"command"`
	Timeout         metav1.Duration   `json:"timeout"`
	MaxOutput       resource.Quantity `json:"maxOutput"`
	WorkspaceDir    string            `json:"workspaceDir"`
	WorkspacePrefix string            `json:"workspacePrefix"`
	KeepWorkspaces  bool              `json:"keepWorkspaces"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Config holds all server configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Sketchbook SketchbookConfig `json:"sketchbook"`
	Assets     AssetsConfig     `json:"assets"`
	Forms      FormsConfig      `json:"forms"`
	Build      BuildConfig      `json:"build"`
	Logging    LoggingConfig    `json:"logging"`
}

// Address returns the listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Default returns the built-in configuration: port 8000, ~/blockly-sketchbook, ./avr/code.
func Default() *Config {
	home := homedir.HomeDir()
	if home == "" {
		home = "."
	}
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            DefaultPort,
			MaxFormBytes:    10 << 20,
			ShutdownTimeout: metav1.Duration{Duration: 5 * time.Second},
		},
		Sketchbook: SketchbookConfig{
			Dir: filepath.Join(home, DefaultSketchbookDir),
		},
		Assets: AssetsConfig{
			Root:         "blockly",
			RootRedirect: "/demos/code/index.html",
		},
		Forms: FormsConfig{
			LoadForm:    "load_form",
			SaveForm:    "save_form",
			Placeholder: "@@@",
		},
		Build: BuildConfig{
			ToolchainDir:    filepath.Join("avr", "code"),
			Manifest:        append([]string(nil), DefaultManifest...),
			TemplateFile:    "main_program.cpp",
			CodePlaceholder: DefaultCodePlaceholder,
			Command:         []string{"bash", "build.sh"},
			Timeout:         metav1.Duration{Duration: 2 * time.Minute},
			MaxOutput:       resource.MustParse("1Mi"),
			WorkspaceDir:    "",
			WorkspacePrefix: "blockly-avr-",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the configuration: defaults, then the YAML file at path (if any),
// then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	if err := loadEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv loads the configuration file named by SKETCHBOOK_CONFIG.
func FromEnv() (*Config, error) {
	return Load(os.Getenv(ConfigPathEnv))
}

// Validate checks the values that would otherwise fail late, on the first request.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Server.MaxFormBytes <= 0 {
		return fmt.Errorf("server.maxFormBytes must be positive")
	}
	if c.Sketchbook.Dir == "" {
		return fmt.Errorf("sketchbook.dir is required")
	}
	if c.Forms.Placeholder == "" {
		return fmt.Errorf("forms.placeholder is required")
	}
	if len(c.Build.Command) == 0 || c.Build.Command[0] == "" {
		return fmt.Errorf("build.command is required")
	}
	if c.Build.Timeout.Duration <= 0 {
		return fmt.Errorf("build.timeout must be positive")
	}
	if c.Build.MaxOutput.Value() <= 0 {
		return fmt.Errorf("build.maxOutput must be positive")
	}
	if c.Build.CodePlaceholder == "" {
		return fmt.Errorf("build.codePlaceholder is required")
	}
	return nil
}

func loadEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SKETCHBOOK_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SKETCHBOOK_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SKETCHBOOK_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("SKETCHBOOK_DIR"); v != "" {
		cfg.Sketchbook.Dir = v
	}
	if v := os.Getenv("SKETCHBOOK_ASSETS_DIR"); v != "" {
		cfg.Assets.Root = v
	}
	if v := os.Getenv("SKETCHBOOK_TOOLCHAIN_DIR"); v != "" {
		cfg.Build.ToolchainDir = v
	}
	if v := os.Getenv("SKETCHBOOK_BUILD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SKETCHBOOK_BUILD_TIMEOUT %q: %w", v, err)
		}
		cfg.Build.Timeout = metav1.Duration{Duration: d}
	}
	if v := os.Getenv("SKETCHBOOK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SKETCHBOOK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}
