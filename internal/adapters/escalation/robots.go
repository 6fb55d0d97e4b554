// Package escalation scores suspicious request metadata through an ordered
// pipeline of signals (frequency, heuristics, classifier, reputation, LLM)
// and hands malicious verdicts to the enforcement service.
package escalation

import (
	"bufio"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// RobotsRules holds the global Disallow rules from the site's robots.txt.
// A request into a disallowed path is a strong bot signal: humans do not
// browse paths only crawlers know to avoid.
type RobotsRules struct {
	disallowed []string
}

// LoadRobotsRules parses Disallow lines under `User-agent: *`. A missing
// file disables path checking rather than failing startup.
func LoadRobotsRules(path string) *RobotsRules {
	rules := &RobotsRules{}
	if path == "" {
		return rules
	}
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("file", path).Msg("Failed to read robots.txt")
		} else {
			log.Warn().Str("file", path).Msg("robots.txt not found, path checking disabled")
		}
		return rules
	}
	defer f.Close()

	globalSection := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "user-agent":
			globalSection = value == "*"
		case "disallow":
			if globalSection && value != "" && value != "/" {
				rules.disallowed = append(rules.disallowed, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Str("file", path).Msg("Error scanning robots.txt")
	}
	log.Info().Int("rules", len(rules.disallowed)).Str("file", path).Msg("Loaded robots.txt Disallow rules")
	return rules
}

// Disallowed reports whether the path falls under any global Disallow rule.
func (r *RobotsRules) Disallowed(path string) bool {
	if r == nil || len(r.disallowed) == 0 || path == "" {
		return false
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	lower := strings.ToLower(path)
	for _, prefix := range r.disallowed {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Count returns the number of loaded rules.
func (r *RobotsRules) Count() int {
	return len(r.disallowed)
}
