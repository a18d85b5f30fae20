package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// paramFlags collects repeated -param key=value flags.
type paramFlags struct {
	m map[string]string
}

func (p *paramFlags) String() string {
	if p == nil || len(p.m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p.m))
	for k, v := range p.m {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (p *paramFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("want key=value, got %q", s)
	}
	if p.m == nil {
		p.m = make(map[string]string)
	}
	p.m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	return nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			out = append(out, strings.ToUpper(sym))
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
