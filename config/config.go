package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-notify/seen"
)

const (
	DestinationDiscord = "discord"
	DestinationSlack   = "slack"

	defaultNVDURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"
)

var destinations = []string{DestinationDiscord, DestinationSlack}

type Config struct {
	Destination  string
	DiscordToken string
	SlackToken   string
	ChannelID    string
	PollInterval time.Duration
	MinCVSS      float64
	NVDAPIKey    string
	NVDURL       string
	LogLevel     string
	Host         string
	Port         int
	SeenFile     string
}

// Load reads .env, an optional config file and the environment into v.
// Environment variables use the upper-cased key with dots replaced by underscores,
// e.g. discord.token is DISCORD_TOKEN.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("destination", DestinationDiscord)
	v.SetDefault("poll_interval", 120)
	v.SetDefault("min_cvss", 5.0)
	v.SetDefault("nvd.url", defaultNVDURL)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("seen_file", seen.DefaultFile)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, xerrors.Errorf("unable to read config file %s: %w", cfgFile, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("vuln-notify")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !xerrors.As(err, &notFound) {
				return Config{}, xerrors.Errorf("unable to read config file: %w", err)
			}
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		slog.Debug("Using config file", "path", used)
	}

	c := Config{
		Destination:  strings.ToLower(v.GetString("destination")),
		DiscordToken: v.GetString("discord.token"),
		SlackToken:   v.GetString("slack.token"),
		ChannelID:    v.GetString("channel_id"),
		PollInterval: time.Duration(v.GetInt("poll_interval")) * time.Second,
		MinCVSS:      v.GetFloat64("min_cvss"),
		NVDAPIKey:    v.GetString("nvd.api_key"),
		NVDURL:       v.GetString("nvd.url"),
		LogLevel:     v.GetString("log_level"),
		Host:         v.GetString("host"),
		Port:         v.GetInt("port"),
		SeenFile:     v.GetString("seen_file"),
	}
	return c, nil
}

// Validate checks the settings needed to run the bot.
func (c Config) Validate() error {
	if !slices.Contains(destinations, c.Destination) {
		return xerrors.Errorf("unknown destination %q (want one of %s)", c.Destination, strings.Join(destinations, ", "))
	}
	if c.Token() == "" {
		return xerrors.Errorf("missing %s token", c.Destination)
	}
	if c.ChannelID == "" {
		return xerrors.New("missing channel ID")
	}
	if c.PollInterval <= 0 {
		return xerrors.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.MinCVSS < 0 || c.MinCVSS > 10 {
		return xerrors.Errorf("minimum CVSS must be within [0, 10], got %v", c.MinCVSS)
	}
	if c.Port < 0 || c.Port > 65535 {
		return xerrors.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// Token returns the credential of the selected destination.
func (c Config) Token() string {
	if c.Destination == DestinationSlack {
		return c.SlackToken
	}
	return c.DiscordToken
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) String() string {
	return fmt.Sprintf("destination=%s channel=%s interval=%s min_cvss=%.1f nvd_api_key=%t addr=%s seen_file=%s",
		c.Destination, c.ChannelID, c.PollInterval, c.MinCVSS, c.NVDAPIKey != "", c.Addr(), c.SeenFile)
}
