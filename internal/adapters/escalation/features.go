package escalation

import (
	"math"
	"strings"

	"github.com/xoelrdgz/webtrap/internal/domain"
	"github.com/xoelrdgz/webtrap/pkg/uamatch"
)

// Feature names shared between extraction and the persisted model artifact.
// The artifact lists the features it was trained on by these names; anything
// it does not mention is ignored at inference time.
const (
	featReqRate        = "req_rate_window"
	featTimeSinceLast  = "time_since_last_sec"
	featUALength       = "ua_length"
	featUAEntropy      = "ua_entropy"
	featUAKnownBad     = "ua_is_known_bad"
	featUAKnownBenign  = "ua_is_known_benign"
	featUAEmpty        = "ua_is_empty"
	featPathDepth      = "path_depth"
	featPathLength     = "path_length"
	featPathRoot       = "path_is_root"
	featPathDisallowed = "path_disallowed"
	featQueryParams    = "query_param_count"
	featHasAcceptLang  = "has_accept_language"
	featGenericAccept  = "accept_is_generic"
	featHasReferer     = "referer_present"
	featHourOfDay      = "hour_of_day"
)

// FeatureExtractor turns request metadata into the fixed vector consumed by
// the classifier step. The bad/benign matchers and robots rules are shared
// with the heuristic step so both see the same signals.
type FeatureExtractor struct {
	bad    *uamatch.Matcher
	benign *uamatch.Matcher
	robots *RobotsRules
}

// NewFeatureExtractor shares the heuristic step's matchers and rules with
// the classifier so both stages score against the same lists.
func NewFeatureExtractor(bad, benign *uamatch.Matcher, robots *RobotsRules) *FeatureExtractor {
	return &FeatureExtractor{bad: bad, benign: benign, robots: robots}
}

func (fe *FeatureExtractor) extract(meta *domain.RequestMetadata) map[string]float64 {
	features := make(map[string]float64, 16)

	ua := meta.UserAgent
	features[featUALength] = float64(len(ua))
	features[featUAEntropy] = shannonEntropy(ua)
	features[featUAEmpty] = boolFeature(strings.TrimSpace(ua) == "")
	features[featUAKnownBad] = boolFeature(fe.bad.Matches(ua))
	features[featUAKnownBenign] = boolFeature(fe.benign.Matches(ua))

	path := meta.Path
	features[featPathDepth] = float64(strings.Count(path, "/"))
	features[featPathLength] = float64(len(path))
	features[featPathRoot] = boolFeature(path == "/")
	features[featPathDisallowed] = boolFeature(fe.robots.Disallowed(path))

	features[featQueryParams] = float64(queryParamCount(meta.Query))
	features[featHasAcceptLang] = boolFeature(meta.Header("accept-language") != "")
	features[featGenericAccept] = boolFeature(meta.Header("accept") == "*/*")
	features[featHasReferer] = boolFeature(meta.Referer != "" && meta.Referer != "-")
	features[featHourOfDay] = float64(meta.Timestamp.UTC().Hour())

	if meta.Frequency != nil {
		features[featReqRate] = float64(meta.Frequency.Count)
		features[featTimeSinceLast] = meta.Frequency.SinceLast
	} else {
		features[featTimeSinceLast] = -1
	}
	return features
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func queryParamCount(query string) int {
	if query == "" {
		return 0
	}
	return strings.Count(query, "&") + 1
}

// shannonEntropy measures byte-level entropy of the User-Agent. Genuine
// browser strings sit in a narrow band; randomized or templated bot agents
// fall outside it.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	entropy := 0.0
	n := float64(len(s))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
