package database

import (
	"fmt"
	"net/url"
	"strings"
)

// Config holds database connection settings. URL, when set, wins over the
// discrete fields.
type Config struct {
	URL            string `yaml:"url" envconfig:"DATABASE_URL"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// URLString returns a postgres:// URL usable by both lib/pq and migrate.
func (c Config) URLString() string {
	if u := strings.TrimSpace(c.URL); u != "" {
		return u
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	return u.String()
}

// Target describes the database for logs without credentials.
func (c Config) Target() string {
	if u, err := url.Parse(c.URLString()); err == nil && u.Host != "" {
		return u.Host + u.Path
	}
	return fmt.Sprintf("%s:%s/%s", c.Host, c.Port, c.Name)
}
