package config

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/assetpipe/internal/errors"
)

const (
	// DefaultSource is the default source root.
	DefaultSource = "src"

	// DefaultDest is the default destination root.
	DefaultDest = "dist"

	// DefaultPort is the default development server port.
	DefaultPort = 3000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultWatchDelay is how long the watcher waits for a burst of
	// events on one asset kind to settle before queuing a rebuild.
	DefaultWatchDelay = 200 * time.Millisecond
)

// ConfigFileNames are the file names Load looks for, in order.
var ConfigFileNames = []string{"assetpipe.json", "assetpipe.yaml", "assetpipe.yml"}

// DefaultBrowsers is the default browser support matrix for stylesheets.
var DefaultBrowsers = []string{"chrome58", "edge16", "firefox57", "ie11", "ios10", "safari10"}

// AssetKind names one class of source asset.
type AssetKind string

const (
	KindStyles  AssetKind = "styles"
	KindMarkup  AssetKind = "markup"
	KindScripts AssetKind = "scripts"
	KindImages  AssetKind = "images"
	KindVideo   AssetKind = "video"
)

// Kinds lists every asset kind in canonical order. The watcher uses this
// order to break ties when a path matches more than one glob.
var Kinds = []AssetKind{KindStyles, KindMarkup, KindScripts, KindImages, KindVideo}

// Valid reports whether k is a known asset kind.
func (k AssetKind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// PathConfig maps an asset kind to its source glob and destination directory.
type PathConfig struct {
	// Source is a slash-separated glob relative to the project directory.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Dest is the destination directory relative to the project directory.
	Dest string `json:"dest,omitempty" yaml:"dest,omitempty"`
}

// Config represents the complete assetpipe configuration.
type Config struct {
	// Source is the source root. It must exist at startup.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Dest is the destination root, removed by the clean task.
	Dest string `json:"dest,omitempty" yaml:"dest,omitempty"`

	// Paths maps asset kinds to globs and destinations.
	Paths map[AssetKind]PathConfig `json:"paths,omitempty" yaml:"paths,omitempty"`

	// Styles configures the stylesheet build.
	Styles StylesConfig `json:"styles,omitempty" yaml:"styles,omitempty"`

	// Scripts configures the script bundle.
	Scripts ScriptsConfig `json:"scripts,omitempty" yaml:"scripts,omitempty"`

	// Images configures image compression.
	Images ImagesConfig `json:"images,omitempty" yaml:"images,omitempty"`

	// Dev configures the watcher and development server.
	Dev DevConfig `json:"dev,omitempty" yaml:"dev,omitempty"`

	// Notify configures build notifications.
	Notify NotifyConfig `json:"notify,omitempty" yaml:"notify,omitempty"`

	// Publish configures uploads of the destination tree.
	Publish PublishConfig `json:"publish,omitempty" yaml:"publish,omitempty"`

	// dir is the project directory.
	dir string

	// configPath stores the path where the config was loaded from.
	configPath string
}

// StylesConfig contains stylesheet build settings.
type StylesConfig struct {
	// Browsers is the support matrix used for vendor prefixing,
	// as engine+version strings (e.g. "ie11", "safari10").
	Browsers []string `json:"browsers,omitempty" yaml:"browsers,omitempty"`

	// SourceMaps writes <name>.css.map next to each stylesheet.
	SourceMaps bool `json:"sourceMaps,omitempty" yaml:"sourceMaps,omitempty"`

	// IncludePaths are extra Sass load paths relative to the project.
	IncludePaths []string `json:"includePaths,omitempty" yaml:"includePaths,omitempty"`

	// SassBinary overrides the Dart Sass binary location.
	SassBinary string `json:"sassBinary,omitempty" yaml:"sassBinary,omitempty"`
}

// ScriptsConfig contains script bundle settings.
type ScriptsConfig struct {
	// Entry is the bundle entry point relative to the project.
	Entry string `json:"entry,omitempty" yaml:"entry,omitempty"`

	// Output is the bundle file name inside the scripts destination.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// Target is the ECMAScript level to transpile to (e.g. "es2015").
	// esbuild cannot lower syntax to ES5, so "es5" fails on any ES2015
	// syntax and the default ships ES2015 even when styles.browsers
	// lists ie11. Transpile separately if IE11 must run the bundle.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

// QualityRange bounds lossy PNG quantization, both in [0, 1].
type QualityRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// ImagesConfig contains image compression settings.
type ImagesConfig struct {
	// JPEGQuality is the JPEG re-encode quality (1-100).
	JPEGQuality int `json:"jpegQuality,omitempty" yaml:"jpegQuality,omitempty"`

	// PNGQuality is the accepted PNG quality range.
	PNGQuality QualityRange `json:"pngQuality,omitempty" yaml:"pngQuality,omitempty"`
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Port is the port to run the dev server on.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// OpenBrowser opens the browser automatically on start.
	OpenBrowser bool `json:"openBrowser,omitempty" yaml:"openBrowser,omitempty"`

	// HotReload enables the reload broadcast and client injection.
	HotReload bool `json:"hotReload,omitempty" yaml:"hotReload,omitempty"`

	// Delay is the watcher settle delay (Go duration syntax).
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// NotifyConfig contains notification settings.
type NotifyConfig struct {
	// Desktop enables OS desktop notifications.
	Desktop bool `json:"desktop,omitempty" yaml:"desktop,omitempty"`
}

// PublishConfig contains S3 publish settings.
type PublishConfig struct {
	Bucket       string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix       string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region       string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint     string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	PathStyle    bool   `json:"pathStyle,omitempty" yaml:"pathStyle,omitempty"`
	CacheControl string `json:"cacheControl,omitempty" yaml:"cacheControl,omitempty"`
	Concurrency  int    `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	cfg := &Config{
		Source: DefaultSource,
		Dest:   DefaultDest,
		Styles: StylesConfig{
			Browsers:   slices.Clone(DefaultBrowsers),
			SourceMaps: true,
		},
		Scripts: ScriptsConfig{
			Output: "application.min.js",
			Target: "es2015",
		},
		Images: ImagesConfig{
			JPEGQuality: 80,
			PNGQuality:  QualityRange{Min: 0.65, Max: 0.8},
		},
		Dev: DevConfig{
			Port:        DefaultPort,
			Host:        DefaultHost,
			OpenBrowser: true,
			HotReload:   true,
			Delay:       DefaultWatchDelay.String(),
		},
		Notify: NotifyConfig{
			Desktop: true,
		},
		Publish: PublishConfig{
			CacheControl: "public, max-age=300",
			Concurrency:  8,
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the specified project directory.
// A missing configuration file is not an error: defaults apply.
func Load(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.New("E100").Wrap(err)
	}

	if err := loadDotEnv(absDir); err != nil {
		return nil, err
	}

	for _, name := range ConfigFileNames {
		p := filepath.Join(absDir, name)
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}

	cfg := New()
	cfg.dir = absDir
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads configuration from the specified file path. The format
// is picked from the extension: .yaml/.yml or JSON otherwise.
func LoadFile(p string) (*Config, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.New("E100").Wrap(err)
	}

	// Root-derived defaults are recomputed after decoding so a custom
	// "source" or "dest" moves them too.
	cfg := New()
	cfg.Paths = make(map[AssetKind]PathConfig)
	cfg.Scripts.Entry = ""

	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New("E100").
			WithDetail("Failed to parse " + filepath.Base(p) + ": " + err.Error()).
			WithSuggestion("Check the file syntax")
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, errors.New("E100").Wrap(err)
	}
	cfg.configPath = abs
	cfg.dir = filepath.Dir(abs)
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// LoadFromWorkingDir loads configuration from the current working directory.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.New("E100").Wrap(err)
	}
	return Load(wd)
}

func loadDotEnv(dir string) error {
	p := filepath.Join(dir, ".env")
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	if err := godotenv.Load(p); err != nil {
		return errors.New("E100").
			WithDetail("Failed to read .env: " + err.Error())
	}
	return nil
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.Dest == "" {
		c.Dest = DefaultDest
	}

	defaults := c.defaultPaths()
	if c.Paths == nil {
		c.Paths = make(map[AssetKind]PathConfig, len(defaults))
	}
	for _, kind := range Kinds {
		pc := c.Paths[kind]
		if pc.Source == "" {
			pc.Source = defaults[kind].Source
		}
		if pc.Dest == "" {
			pc.Dest = defaults[kind].Dest
		}
		pc.Source = c.projectGlob(pc.Source)
		c.Paths[kind] = pc
	}

	if len(c.Styles.Browsers) == 0 {
		c.Styles.Browsers = slices.Clone(DefaultBrowsers)
	}
	if c.Scripts.Entry == "" {
		c.Scripts.Entry = path.Join(c.Source, "js", "application.js")
	}
	if c.Scripts.Output == "" {
		c.Scripts.Output = "application.min.js"
	}
	if c.Scripts.Target == "" {
		c.Scripts.Target = "es2015"
	}
	if c.Images.JPEGQuality == 0 {
		c.Images.JPEGQuality = 80
	}
	if c.Images.PNGQuality == (QualityRange{}) {
		c.Images.PNGQuality = QualityRange{Min: 0.65, Max: 0.8}
	}
	if c.Dev.Port == 0 {
		c.Dev.Port = DefaultPort
	}
	if c.Dev.Host == "" {
		c.Dev.Host = DefaultHost
	}
	if c.Dev.Delay == "" {
		c.Dev.Delay = DefaultWatchDelay.String()
	}
	if c.Publish.Concurrency == 0 {
		c.Publish.Concurrency = 8
	}
}

// projectGlob rewrites pattern as a clean slash path relative to the
// project directory, the form doublestar matches against os.DirFS.
// Patterns that end up outside the project are rejected by Validate.
func (c *Config) projectGlob(pattern string) string {
	if pattern == "" {
		return pattern
	}
	if filepath.IsAbs(pattern) {
		rel, err := filepath.Rel(c.Dir(), pattern)
		if err != nil {
			return filepath.ToSlash(pattern)
		}
		pattern = rel
	}
	return path.Clean(filepath.ToSlash(pattern))
}

func (c *Config) defaultPaths() map[AssetKind]PathConfig {
	src, dst := c.Source, c.Dest
	return map[AssetKind]PathConfig{
		KindStyles:  {Source: path.Join(src, "scss", "**", "*.scss"), Dest: path.Join(dst, "css")},
		KindMarkup:  {Source: path.Join(src, "*.html"), Dest: dst},
		KindScripts: {Source: path.Join(src, "js", "*.js"), Dest: path.Join(dst, "js")},
		KindImages:  {Source: path.Join(src, "images", "*"), Dest: path.Join(dst, "images")},
		KindVideo:   {Source: path.Join(src, "video", "*"), Dest: path.Join(dst, "video")},
	}
}

// applyEnv applies ASSETPIPE_* environment overrides.
func (c *Config) applyEnv() error {
	if v := os.Getenv("ASSETPIPE_HOST"); v != "" {
		c.Dev.Host = v
	}
	if v := os.Getenv("ASSETPIPE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("E103").
				WithDetail(fmt.Sprintf("ASSETPIPE_PORT=%q is not a number", v))
		}
		c.Dev.Port = port
	}
	if v := os.Getenv("ASSETPIPE_PUBLISH_BUCKET"); v != "" {
		c.Publish.Bucket = v
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return errors.New("E103").
			WithDetail("dev.port must be between 0 and 65535")
	}
	if _, err := time.ParseDuration(c.Dev.Delay); err != nil {
		return errors.New("E103").
			WithDetail(fmt.Sprintf("dev.delay %q is not a duration", c.Dev.Delay))
	}
	if q := c.Images.JPEGQuality; q < 1 || q > 100 {
		return errors.New("E103").
			WithDetail("images.jpegQuality must be between 1 and 100")
	}
	if r := c.Images.PNGQuality; r.Min < 0 || r.Max > 1 || r.Min > r.Max {
		return errors.New("E103").
			WithDetail("images.pngQuality must satisfy 0 <= min <= max <= 1")
	}
	for kind, pc := range c.Paths {
		if !kind.Valid() {
			return errors.New("E103").
				WithDetail(fmt.Sprintf("unknown asset kind %q in paths", kind)).
				WithSuggestion("Use one of: styles, markup, scripts, images, video")
		}
		if !doublestar.ValidatePattern(pc.Source) {
			return errors.New("E103").
				WithDetail(fmt.Sprintf("paths.%s.source %q is not a valid glob", kind, pc.Source))
		}
		if !fs.ValidPath(c.GlobBase(kind)) {
			return errors.New("E103").
				WithDetail(fmt.Sprintf("paths.%s.source %q is outside the project directory", kind, pc.Source)).
				WithSuggestion("Use a glob relative to " + c.Dir())
		}
	}
	if _, err := ParseBrowsers(c.Styles.Browsers); err != nil {
		return errors.New("E103").
			WithDetail(fmt.Sprintf("styles.browsers: %v", err)).
			WithSuggestion("Use entries like \"chrome58\", \"safari11\" or \"ie11\"")
	}
	if !ValidScriptTarget(c.Scripts.Target) {
		return errors.New("E103").
			WithDetail(fmt.Sprintf("scripts.target %q is not supported", c.Scripts.Target)).
			WithSuggestion("Use one of es5, es2015 ... es2022 or esnext")
	}
	return nil
}

// CheckSources verifies the source root exists. A failure here is a
// startup error: nothing is built or served.
func (c *Config) CheckSources() error {
	root := c.SourceRoot()
	st, err := os.Stat(root)
	if err != nil || !st.IsDir() {
		return errors.New("E101").
			WithDetail("Source directory not found: " + root).
			WithSuggestion("Create " + c.Source + "/ or set \"source\" in assetpipe.json")
	}
	return nil
}

// Path returns the glob and destination for an asset kind.
func (c *Config) Path(kind AssetKind) PathConfig {
	return c.Paths[kind]
}

// Dir returns the project directory.
func (c *Config) Dir() string {
	if c.dir == "" {
		wd, _ := os.Getwd()
		return wd
	}
	return c.dir
}

// SetDir sets the project directory. Tests and embedders use it with New.
func (c *Config) SetDir(dir string) {
	c.dir = dir
}

// ConfigPath returns the path the config was loaded from, if any.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// SourceRoot returns the absolute source root.
func (c *Config) SourceRoot() string {
	return c.resolve(c.Source)
}

// DestRoot returns the absolute destination root.
func (c *Config) DestRoot() string {
	return c.resolve(c.Dest)
}

// DestDir returns the absolute destination directory for an asset kind.
func (c *Config) DestDir(kind AssetKind) string {
	return c.resolve(c.Paths[kind].Dest)
}

// GlobBase returns the static directory prefix of an asset kind's glob,
// slash-separated and relative to the project ("src/scss" for
// "src/scss/**/*.scss"). Outputs keep their path relative to it.
func (c *Config) GlobBase(kind AssetKind) string {
	base, _ := doublestar.SplitPattern(c.Paths[kind].Source)
	return base
}

// ScriptEntry returns the absolute path of the script entry point.
func (c *Config) ScriptEntry() string {
	return c.resolve(c.Scripts.Entry)
}

// WatchDelay returns the parsed watcher settle delay.
func (c *Config) WatchDelay() time.Duration {
	d, err := time.ParseDuration(c.Dev.Delay)
	if err != nil {
		return DefaultWatchDelay
	}
	return d
}

// DevAddress returns the address string for the dev server.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

// DevURL returns the full URL for the dev server.
func (c *Config) DevURL() string {
	return "http://" + c.DevAddress()
}

// Rel returns p relative to the project directory, slash-separated.
// Paths outside the project are returned unchanged.
func (c *Config) Rel(p string) string {
	rel, err := filepath.Rel(c.Dir(), p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

func (c *Config) resolve(p string) string {
	if p == "" {
		return c.Dir()
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Dir(), filepath.FromSlash(p))
}
