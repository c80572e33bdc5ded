// Package config loads per-service configuration from environment
// variables. Each service has its own prefix (TRADES_, CANDLES_,
// TECHNICAL_INDICATORS_, PREDICTIONS_); prefixed variables win over
// bare ones so a shared compose file can set REDIS_ADDR once and
// override it per service where needed.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

var (
	appNameRe  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	hostPortRe = regexp.MustCompile(`^[a-zA-Z0-9.-]*:\d+$`)
	topicRe    = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	tableRe    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

// Base holds the settings every service shares.
type Base struct {
	AppName   string
	Debug     bool
	LogLevel  string
	LogFormat string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MetricsAddr string
}

// Validate checks the shared settings. Returns the first violation.
func (b *Base) Validate() error {
	if l := len(b.AppName); l < 1 || l > 100 {
		return fmt.Errorf("app name must be 1-100 chars, got %d", l)
	}
	if !appNameRe.MatchString(b.AppName) {
		return fmt.Errorf("app name %q contains invalid characters", b.AppName)
	}
	switch strings.ToUpper(b.LogLevel) {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
	default:
		return fmt.Errorf("log level %q not one of DEBUG/INFO/WARNING/ERROR/CRITICAL", b.LogLevel)
	}
	switch strings.ToLower(b.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("log format %q not one of json/text", b.LogFormat)
	}
	if err := validateHostPort("redis addr", b.RedisAddr); err != nil {
		return err
	}
	if b.RedisDB < 0 {
		return fmt.Errorf("redis db must be >= 0, got %d", b.RedisDB)
	}
	if b.MetricsAddr == "" {
		return fmt.Errorf("metrics addr must not be empty")
	}
	return nil
}

// WarnIfProdDebug logs a warning when an app that looks like a
// production deployment runs with a chatty log level.
func (b *Base) WarnIfProdDebug() {
	level := strings.ToUpper(b.LogLevel)
	if strings.Contains(strings.ToLower(b.AppName), "prod") && (level == "DEBUG" || level == "INFO") {
		log.Printf("[config] app %q looks like production but log level is %s", b.AppName, level)
	}
}

func validateHostPort(what, addr string) error {
	if !hostPortRe.MatchString(addr) {
		return fmt.Errorf("%s %q is not host:port", what, addr)
	}
	portStr := addr[strings.LastIndex(addr, ":")+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%s %q has invalid port", what, addr)
	}
	return nil
}

func validateTopic(what, name string) error {
	if l := len(name); l < 1 || l > 255 {
		return fmt.Errorf("%s must be 1-255 chars, got %d", what, l)
	}
	if !topicRe.MatchString(name) {
		return fmt.Errorf("%s %q contains invalid characters", what, name)
	}
	if name[0] == '.' || name[0] == '_' {
		return fmt.Errorf("%s %q must not start with '.' or '_'", what, name)
	}
	return nil
}

func validateGroup(what, name string) error {
	if err := validateTopic(what, name); err != nil {
		return err
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("%s %q must not contain dots", what, name)
	}
	return nil
}

func validateMode(mode string) error {
	switch mode {
	case "live", "historical":
		return nil
	}
	return fmt.Errorf("processing mode %q not one of live/historical", mode)
}

// parsePeriodList parses "7,14,21,60" into a deduplicated, sorted
// slice of positive ints.
func parsePeriodList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	periods := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid period value %q", p)
		}
		periods = append(periods, n)
	}
	if len(periods) == 0 {
		return nil, fmt.Errorf("period list %q is empty", s)
	}
	periods = lo.Uniq(periods)
	sort.Ints(periods)
	return periods, nil
}

// parseList splits a comma-separated string, trimming blanks.
func parseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// env reads prefixed variables with bare-name fallback.
type env struct {
	prefix string
}

func (e env) get(key, fallback string) string {
	if v := os.Getenv(e.prefix + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (e env) getInt(key string, fallback int) int {
	v := e.get(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("[config] %s%s: not an integer: %q", e.prefix, key, v)
	}
	return n
}

func (e env) getBool(key string, fallback bool) bool {
	v := e.get(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		log.Fatalf("[config] %s%s: not a bool: %q", e.prefix, key, v)
	}
	return b
}

func (e env) base(appName, metricsAddr string) Base {
	return Base{
		AppName:       e.get("APP_NAME", appName),
		Debug:         e.getBool("DEBUG", false),
		LogLevel:      e.get("LOG_LEVEL", "INFO"),
		LogFormat:     e.get("LOG_FORMAT", "json"),
		RedisAddr:     e.get("REDIS_ADDR", "localhost:6379"),
		RedisPassword: e.get("REDIS_PASSWORD", ""),
		RedisDB:       e.getInt("REDIS_DB", 0),
		MetricsAddr:   e.get("METRICS_ADDR", metricsAddr),
	}
}

func fatalInvalid(service string, err error) {
	if err != nil {
		log.Fatalf("[config] %s: %v", service, err)
	}
}
