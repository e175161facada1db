package config

import (
	"fmt"
	"path/filepath"
	"regexp"
)

var validActions = map[string]bool{
	"allow": true, "deny": true, "ask_user": true, "dry_run_first": true,
}

var validTransports = map[string]bool{
	"stdio": true, "http": true, "sse": true,
}

// Validate checks cross-references and syntax across the whole file,
// returning every problem found rather than stopping at the first one.
func (f *FileConfig) Validate() error {
	var errs []*ValidationError

	upstreamNames := make(map[string]bool, len(f.Proxy.Upstreams))
	for _, u := range f.Proxy.Upstreams {
		if u.Name == "" {
			errs = append(errs, &ValidationError{Component: "upstream", ID: "(unnamed)", Field: "name", Err: fmt.Errorf("required")})
			continue
		}
		upstreamNames[u.Name] = true
		if !validTransports[u.Transport] {
			errs = append(errs, &ValidationError{Component: "upstream", ID: u.Name, Field: "transport", Err: fmt.Errorf("unknown transport %q", u.Transport)})
		}
		if u.Transport == "stdio" && u.Command == "" {
			errs = append(errs, &ValidationError{Component: "upstream", ID: u.Name, Field: "command", Err: fmt.Errorf("required for stdio transport")})
		}
		if (u.Transport == "http" || u.Transport == "sse") && u.URL == "" {
			errs = append(errs, &ValidationError{Component: "upstream", ID: u.Name, Field: "url", Err: fmt.Errorf("required for %s transport", u.Transport)})
		}
	}

	for upstream := range f.Proxy.Catalog.Priorities {
		if !upstreamNames[upstream] {
			errs = append(errs, &ValidationError{Component: "catalog.priorities", ID: upstream, Err: fmt.Errorf("%w: not declared in proxy.upstreams", ErrUpstreamNotFound)})
		}
	}

	for _, rule := range f.Policy.Rules {
		if rule.Name == "" {
			errs = append(errs, &ValidationError{Component: "policy_rule", ID: "(unnamed)", Field: "name", Err: fmt.Errorf("required")})
			continue
		}
		if _, err := filepath.Match(rule.ToolPattern, "probe"); err != nil {
			errs = append(errs, &ValidationError{Component: "policy_rule", ID: rule.Name, Field: "tool_pattern", Err: err})
		}
		if rule.ArgPattern != "" {
			if _, err := regexp.Compile(rule.ArgPattern); err != nil {
				errs = append(errs, &ValidationError{Component: "policy_rule", ID: rule.Name, Field: "arg_pattern", Err: err})
			}
		}
		if !validActions[rule.Action] {
			errs = append(errs, &ValidationError{Component: "policy_rule", ID: rule.Name, Field: "action", Err: fmt.Errorf("unknown action %q", rule.Action)})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &AggregateError{Errors: errs}
}
