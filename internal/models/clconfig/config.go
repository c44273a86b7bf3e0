package clconfig

import (
	"errors"
	"fmt"
	"log/syslog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxUploadSize = 10 * 1024 * 1024
	DefaultGeoTimeout    = 2 * time.Second
	DefaultViewWindow    = 5 * time.Minute
	DefaultStealthWindow = time.Minute
)

type Config struct {
	TrustedProxies  []string       `yaml:"trustedproxies"`
	TrustedPlatform string         `yaml:"trustedplatform"`
	Production      bool           `yaml:"production"`
	PublicURL       string         `yaml:"publicurl"`
	UploadPath      string         `yaml:"uploadpath"`
	MaxUploadSize   int64          `yaml:"maxuploadsize"`
	Listen          ListenConfig   `yaml:"listen"`
	Logger          LoggerConfig   `yaml:"logger"`
	GeoIP           GeoIPConfig    `yaml:"geoip"`
	Tracking        TrackingConfig `yaml:"tracking"`
	Stats           StatsConfig    `yaml:"stats"`
}

type ListenConfig struct {
	Website string `yaml:"website"`
	Metrics string `yaml:"metrics"`
}

type GeoIPConfig struct {
	CityDB   string         `yaml:"citydb"`
	ASNDB    string         `yaml:"asndb"`
	External ExternalConfig `yaml:"external"`
}

type ExternalConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"baseurl"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type TrackingConfig struct {
	ViewWindow    time.Duration `yaml:"viewwindow"`
	StealthWindow time.Duration `yaml:"stealthwindow"`
}

type StatsConfig struct {
	Enabled bool        `yaml:"enabled"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	Db   int    `yaml:"db"`
}

type LoggerConfig struct {
	Level  string             `yaml:"level"`
	File   LoggerFileConfig   `yaml:"file"`
	Syslog LoggerSyslogConfig `yaml:"syslog"`
}

type LoggerFileConfig struct {
	Enable     bool   `yaml:"enable"`
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxsize"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAge     int    `yaml:"maxage"`
	Compress   bool   `yaml:"compress"`
}

type LoggerSyslogConfig struct {
	Enable   bool            `yaml:"enable"`
	Protocol string          `yaml:"protocol"`
	Address  string          `yaml:"address"`
	Tag      string          `yaml:"tag"`
	Priority syslog.Priority `yaml:"priority"`
}

func CreateExampleConfig(filename string) (string, error) {
	example := &Config{
		Production:    false,
		PublicURL:     "http://localhost:8080",
		UploadPath:    "./uploads",
		MaxUploadSize: DefaultMaxUploadSize,
		Logger: LoggerConfig{
			Level: "info",
		},
		Listen: ListenConfig{
			Website: "0.0.0.0:8080",
			Metrics: "127.0.0.1:9090",
		},
		GeoIP: GeoIPConfig{
			External: ExternalConfig{
				Enabled: true,
				BaseURL: "https://ipinfo.io",
				Timeout: DefaultGeoTimeout,
			},
		},
		Tracking: TrackingConfig{
			ViewWindow:    DefaultViewWindow,
			StealthWindow: DefaultStealthWindow,
		},
		Stats: StatsConfig{
			Enabled: false,
			Redis:   RedisConfig{Addr: "127.0.0.1:6379"},
		},
	}

	if filename == "/etc/" {
		example.Listen.Website = "127.0.0.1:8000"
		example.Production = true
		example.UploadPath = "/var/lib/littletrack/uploads"
		example.GeoIP.CityDB = "/var/lib/littletrack/GeoLite2-City.mmdb"
		example.GeoIP.ASNDB = "/var/lib/littletrack/GeoLite2-ASN.mmdb"
		example.Logger.File = LoggerFileConfig{
			Enable:     true,
			Path:       "/var/log/littletrack/littletrack.log",
			MaxSize:    100,
			MaxBackups: 30,
			MaxAge:     7,
			Compress:   true,
		}
		filename = "/etc/littletrack/config.yaml"
	}

	return filename, WriteConfigYaml(filename, example)
}

func WriteConfigYaml(filename string, conf *Config) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// Charger la configuration YAML
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("impossible de lire le fichier %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("erreur de parsing YAML: %w", err)
	}

	return &config, nil
}

// ApplyEnv charge un éventuel fichier .env puis applique les variables
// PORT, PUBLIC_URL et GEOIP_TOKEN par-dessus le fichier YAML
func ApplyEnv(config *Config, envFiles ...string) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	if port := os.Getenv("PORT"); port != "" {
		host, _, err := net.SplitHostPort(config.Listen.Website)
		if err != nil {
			host = "0.0.0.0"
		}
		config.Listen.Website = net.JoinHostPort(host, port)
	}
	if url := os.Getenv("PUBLIC_URL"); url != "" {
		config.PublicURL = url
	}
	if token := os.Getenv("GEOIP_TOKEN"); token != "" {
		config.GeoIP.External.Token = token
	}
}

// Validate complète les valeurs par défaut et rejette une configuration inutilisable
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen.Website) == "" {
		return errors.New("listen.website est obligatoire")
	}
	if c.UploadPath == "" {
		c.UploadPath = "./uploads"
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = DefaultMaxUploadSize
	}
	if c.Tracking.ViewWindow <= 0 {
		c.Tracking.ViewWindow = DefaultViewWindow
	}
	if c.Tracking.StealthWindow <= 0 {
		c.Tracking.StealthWindow = DefaultStealthWindow
	}
	if c.GeoIP.External.Timeout <= 0 {
		c.GeoIP.External.Timeout = DefaultGeoTimeout
	}
	if c.GeoIP.External.BaseURL == "" {
		c.GeoIP.External.BaseURL = "https://ipinfo.io"
	}
	if c.PublicURL == "" {
		c.PublicURL = "http://" + c.Listen.Website
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	if c.Stats.Enabled && c.Stats.Redis.Addr == "" {
		return errors.New("stats.redis.addr est obligatoire quand stats est activé")
	}
	return nil
}

func CreateExample(shouldCreateExample bool, configFile string) {
	// Handle example creation
	if shouldCreateExample {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		os.Exit(1)
	}

	_, err := os.Stat(configFile)
	if err != nil && os.IsNotExist(err) {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
	}
}

func handleExampleCreation(filename string) error {
	if filename == "" {
		filename = "littletrack.yaml"
	}
	filename, err := CreateExampleConfig(filename)
	if err != nil {
		return fmt.Errorf("erreur création exemple: %w", err)
	}

	fmt.Printf("✅ Fichier exemple créé: %s\n", filename)
	return nil
}

func DisplayConfiguration(config *Config, version string) {
	logPrintf("Littletrack version %s", version)

	logPrintf("Mode Production %v", config.Production)
	logPrintf("URL publique %s", config.PublicURL)
	logPrintf("Dossier des images %s (max %d Mo)", config.UploadPath, config.MaxUploadSize/(1024*1024))
	logPrintf("Fenêtres de corrélation vue %s, téléchargement %s", config.Tracking.ViewWindow, config.Tracking.StealthWindow)

	logPrintf("Géolocalisation")
	if config.GeoIP.CityDB != "" {
		logPrintf("  • Base City %s", config.GeoIP.CityDB)
	}
	if config.GeoIP.ASNDB != "" {
		logPrintf("  • Base ASN %s", config.GeoIP.ASNDB)
	}
	if config.GeoIP.External.Enabled {
		logPrintf("  • Service externe %s (timeout %s)", config.GeoIP.External.BaseURL, config.GeoIP.External.Timeout)
	} else {
		logPrintf("  • Service externe désactivé")
	}

	if config.Stats.Enabled {
		logPrintf("Statistiques activées")
		logPrintf("  • Redis addr %s db %d", config.Stats.Redis.Addr, config.Stats.Redis.Db)
	} else {
		logPrintf("Statistiques désactivées")
	}

	if config.Listen.Metrics != "" {
		logPrintf("Métriques sur %s", config.Listen.Metrics)
	}

	// Logger
	logPrintf("Logger en level %s", config.Logger.Level)
	if config.Logger.File.Enable {
		logPrintf("  Log en fichier activé")
		logPrintf("  • Path %s", config.Logger.File.Path)
		logPrintf("  • Max size %d", config.Logger.File.MaxSize)
		logPrintf("  • Max age %d", config.Logger.File.MaxAge)
		logPrintf("  • Max backup %d", config.Logger.File.MaxBackups)
		logPrintf("  • Compression %v", config.Logger.File.Compress)
	} else {
		logPrintf("  Log en fichier désactivé")
	}
	if config.Logger.Syslog.Enable {
		logPrintf("  Log en syslog activé")
		logPrintf("  • Protocol %s", config.Logger.Syslog.Protocol)
		logPrintf("  • Address %s", config.Logger.Syslog.Address)
		logPrintf("  • Tag %s", config.Logger.Syslog.Tag)
		logPrintf("  • Priority %v", config.Logger.Syslog.Priority)
	} else {
		logPrintf("  Log en syslog désactivé")
	}
}

// Info logue avec printf
func logPrintf(format string, a ...any) {
	log.Info().Msg(fmt.Sprintf(format, a...))
}
