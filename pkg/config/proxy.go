package config

import "time"

// FileConfig is the root of mcp-proxy.toml, matching the shape in the
// external interfaces section verbatim plus the policy/catalog tables this
// component adds to carry the Policy Engine and Tool Catalog's own
// configuration through the same file.
type FileConfig struct {
	Proxy  ProxySection  `toml:"proxy"`
	Policy PolicySection `toml:"policy"`
}

// ProxySection is the [proxy] table.
type ProxySection struct {
	Enable         bool             `toml:"enable"`
	Port           int              `toml:"port"`
	Transport      string           `toml:"transport"`
	MaxConnections int              `toml:"max_connections"`
	Upstreams      []UpstreamConfig `toml:"upstreams"`
	Security       SecurityConfig   `toml:"security"`
	Catalog        CatalogConfig    `toml:"catalog"`
}

// UpstreamConfig is one [[proxy.upstreams]] entry. Exactly one of URL or
// Command is expected to be set, depending on Transport.
type UpstreamConfig struct {
	Name                string   `toml:"name"`
	Transport           string   `toml:"transport"`
	URL                 string   `toml:"url,omitempty"`
	Command             string   `toml:"command,omitempty"`
	Args                []string `toml:"args,omitempty"`
	Priority            int      `toml:"priority,omitempty"`
	HealthCheckInterval Duration `toml:"health_check_interval,omitempty"`
	Tools               []string `toml:"tools,omitempty"`
}

// SecurityConfig is the [proxy.security] table.
type SecurityConfig struct {
	LogRequests        bool     `toml:"log_requests"`
	LogResponses       bool     `toml:"log_responses"`
	RedactPatterns     []string `toml:"redact_patterns"`
	RateLimitPerMinute float64  `toml:"rate_limit_per_minute"`
}

// CatalogConfig is the [proxy.catalog] table, configuring the Tool
// Catalog's conflict-resolution strategy.
type CatalogConfig struct {
	Strategy   string         `toml:"strategy"` // "auto_prefix" | "reject" | "priority_override"
	Priorities map[string]int `toml:"priorities,omitempty"`
}

// PolicySection is the [policy] table plus its [[policy.rules]] array.
type PolicySection struct {
	ApprovalMode string       `toml:"approval_mode"` // "auto" | "ask" | "deny"
	Rules        []RuleConfig `toml:"rules"`
}

// RuleConfig is one [[policy.rules]] entry, the on-disk form of policy.Rule.
type RuleConfig struct {
	Name        string `toml:"name"`
	ToolPattern string `toml:"tool_pattern"`
	ArgPattern  string `toml:"arg_pattern,omitempty"`
	Action      string `toml:"action"` // "allow" | "deny" | "ask_user" | "dry_run_first"
	Priority    int    `toml:"priority,omitempty"`
	Reason      string `toml:"reason,omitempty"`
}

// Duration parses TOML string values ("15s", "1m") into a time.Duration,
// the same ${VAR}-friendly textual form the rest of the config file uses
// rather than a raw nanosecond integer.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler, which BurntSushi/toml
// uses for any string-typed TOML value assigned to a non-string Go field.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }
