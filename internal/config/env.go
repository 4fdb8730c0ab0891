package config

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	name   string
	target func(*Config) *string
}

// envBindings is the single table of named values resolvable from the
// environment.
var envBindings = []envBinding{
	{"TELEGRAM_TOKEN", func(c *Config) *string { return &c.Telegram.Token }},
	{"DISCORD_TOKEN", func(c *Config) *string { return &c.Discord.Token }},
	{"ANTHROPIC_API_KEY", func(c *Config) *string { return &c.LLM.APIKey }},
	{"LLM_MODEL", func(c *Config) *string { return &c.LLM.Model }},
	{"YTDLP_TMP_DIR", func(c *Config) *string { return &c.Media.TmpDir }},
	{"LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }},
	{"LOG_OUTPUT", func(c *Config) *string { return &c.Logging.Output }},
	{"METRICS_ADDR", func(c *Config) *string { return &c.Metrics.Addr }},
}

// Resolve returns the value for name from the environment variable itself,
// or from the file named by name+"_FILE".
func Resolve(name string, lookup LookupFunc) (string, bool) {
	if v, ok := lookup(name); ok {
		return v, true
	}
	path, ok := lookup(name + "_FILE")
	if !ok || path == "" {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("Cannot read %s_FILE %s: %v", name, path, err)
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func applyEnv(cfg *Config, lookup LookupFunc) {
	for _, b := range envBindings {
		if v, ok := Resolve(b.name, lookup); ok {
			*b.target(cfg) = v
		}
	}
	if v, ok := Resolve("PROXY_URLS", lookup); ok {
		cfg.Media.Proxies = SplitProxies(v)
	}
}

// SplitProxies parses a semicolon separated proxy list, dropping empty
// entries.
func SplitProxies(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
