package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const DefaultSourceURL string = "https://www3.hkexnews.hk/sdw/search/searchsdw.aspx"
const DefaultUserAgent string = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Config struct {
	SourceURL   string   `toml:"source_url"`
	UserAgent   string   `toml:"user_agent"`
	HTTPTimeout Duration `toml:"http_timeout"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"` // json or console
	} `toml:"log"`

	ListenAddr  string  `toml:"listen_addr"`
	ArchivePath string  `toml:"archive_path"`
	TopN        int     `toml:"top_n"`
	Threshold   float64 `toml:"threshold"` // percent, 1 means 1%
}

// Duration lets TOML files spell timeouts as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() *Config {
	c := &Config{
		SourceURL:  DefaultSourceURL,
		UserAgent:  DefaultUserAgent,
		ListenAddr: ":8050",
		TopN:       10,
		Threshold:  1,
	}
	c.Log.Level = "info"
	c.Log.Format = "json"
	return c
}

// Load builds the configuration from defaults, an optional TOML file, a .env
// file and finally the process environment. Later sources win.
func Load(path string) (*Config, error) {
	c := Default()

	if path == "" {
		path = os.Getenv("CCASS_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	// a missing .env is normal outside development
	_ = godotenv.Load()

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CCASS_SOURCE_URL"); v != "" {
		c.SourceURL = v
	}
	if v := os.Getenv("CCASS_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("CCASS_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CCASS_HTTP_TIMEOUT: %w", err)
		}
		c.HTTPTimeout.Duration = d
	}
	if v := os.Getenv("CCASS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CCASS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("CCASS_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("CCASS_ARCHIVE"); v != "" {
		c.ArchivePath = v
	}
	if v := os.Getenv("CCASS_TOP_N"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CCASS_TOP_N: %w", err)
		}
		c.TopN = n
	}
	if v := os.Getenv("CCASS_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CCASS_THRESHOLD: %w", err)
		}
		c.Threshold = f
	}
	return nil
}

func (c *Config) Validate() error {
	if c.SourceURL == "" {
		return fmt.Errorf("missing source url")
	}
	if c.HTTPTimeout.Duration < 0 {
		return fmt.Errorf("http timeout must not be negative, got %s", c.HTTPTimeout)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("threshold must not be negative, got %v", c.Threshold)
	}
	return nil
}
