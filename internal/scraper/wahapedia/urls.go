// Package wahapedia implements the scraper.Service contract against the
// Wahapedia rules wiki: versioned URL resolution, faction-code
// normalization, and the six extraction stages.
package wahapedia

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// DefaultBaseURL is the fixed upstream host.
const DefaultBaseURL = "https://wahapedia.ru"

// versionPaths maps abstract game-version identifiers to upstream path
// segments. The table is closed; unknown identifiers fall back to
// defaultVersionPath so extraction stays resilient to unlisted versions.
var versionPaths = map[string]string{
	"10th": "wh40k10ed",
	"9th":  "wh40k9ed",
	"8th":  "wh40k8ed",
}

// DefaultVersionID is the version targeted when the configured id is not in
// the table.
const DefaultVersionID = "10th"

const defaultVersionPath = "wh40k10ed"

// KnownVersion reports whether versionID has a mapped upstream path.
func KnownVersion(versionID string) bool {
	_, ok := versionPaths[versionID]
	return ok
}

// sectionAnchors is the closed registry of named page-section fragments.
// Unknown section names pass through as literal anchors rather than failing,
// to tolerate upstream naming drift.
var sectionAnchors = map[string]string{
	"army_rules":      "Army-Rules",
	"detachments":     "Detachment-Rules",
	"enhancements":    "Enhancements",
	"stratagems":      "Stratagems",
	"wargear_options": "Wargear-Options",
}

// irregularCodes maps display names whose codes the generic transform would
// not produce, or that are checked often enough to warrant a direct hit.
var irregularCodes = map[string]string{
	"T'au Empire":         "t-au-empire",
	"Emperor's Children":  "emperor-s-children",
	"Adeptus Astartes":    "space-marines",
	"Astra Militarum":     "astra-militarum",
	"Chaos Space Marines": "chaos-space-marines",
}

// knownFactionCodes is the 10th-edition roster used for validation.
var knownFactionCodes = map[string]bool{
	"adepta-sororitas":       true,
	"adeptus-custodes":       true,
	"adeptus-mechanicus":     true,
	"aeldari":                true,
	"agents-of-the-imperium": true,
	"astra-militarum":        true,
	"black-templars":         true,
	"blood-angels":           true,
	"chaos-daemons":          true,
	"chaos-knights":          true,
	"chaos-space-marines":    true,
	"dark-angels":            true,
	"death-guard":            true,
	"deathwatch":             true,
	"drukhari":               true,
	"emperor-s-children":     true,
	"genestealer-cults":      true,
	"grey-knights":           true,
	"imperial-knights":       true,
	"leagues-of-votann":      true,
	"necrons":                true,
	"orks":                   true,
	"space-marines":          true,
	"space-wolves":           true,
	"t-au-empire":            true,
	"thousand-sons":          true,
	"tyranids":               true,
	"world-eaters":           true,
}

// urlPatterns maps abstract pattern names to version-relative path templates.
// Placeholders are named and filled from params in BuildURL.
var urlPatterns = map[string]string{
	"quick_start":        "the-rules/quick-start-guide/",
	"core_rules":         "the-rules/core-rules/",
	"army_lists":         "army-lists/",
	"faction":            "factions/{faction_code}",
	"faction_datasheets": "factions/{faction_code}/datasheets.html",
	"faction_stratagems": "factions/{faction_code}/stratagems",
}

// URLResolver maps (version, entity code, section) tuples to concrete
// upstream URLs. Resolved URLs are memoized for the resolver's lifetime.
type URLResolver struct {
	baseURL     string
	versionID   string
	versionPath string

	mu    sync.Mutex
	cache map[string]string
}

// NewURLResolver builds a resolver for one game version. An empty baseURL
// uses DefaultBaseURL; an unknown versionID falls back to the default path.
func NewURLResolver(baseURL, versionID string) *URLResolver {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	path, ok := versionPaths[versionID]
	if !ok {
		path = defaultVersionPath
	}
	return &URLResolver{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		versionID:   versionID,
		versionPath: path,
		cache:       make(map[string]string),
	}
}

// VersionPath returns the version-specific path segment.
func (r *URLResolver) VersionPath() string {
	return r.versionPath
}

// BaseURL returns the upstream host the resolver was built with.
func (r *URLResolver) BaseURL() string {
	return r.baseURL
}

// BuildURL resolves a named pattern with params into a fully-qualified URL.
// It returns an error for unknown patterns or missing placeholders.
func (r *URLResolver) BuildURL(pattern string, params map[string]string) (string, error) {
	key := cacheKey(pattern, params)
	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	template, ok := urlPatterns[pattern]
	if !ok {
		return "", fmt.Errorf("unknown url pattern %q", pattern)
	}
	path := template
	for name, value := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", value)
	}
	if strings.Contains(path, "{") {
		return "", fmt.Errorf("pattern %q has unresolved placeholders in %q", pattern, path)
	}
	resolved := fmt.Sprintf("%s/%s/%s", r.baseURL, r.versionPath, path)

	r.mu.Lock()
	r.cache[key] = resolved
	r.mu.Unlock()
	return resolved, nil
}

// QuickStartURL returns the quick-start-guide page, which carries the
// faction dropdown.
func (r *URLResolver) QuickStartURL() string {
	u, _ := r.BuildURL("quick_start", nil)
	return u
}

// FactionURL returns the main page for one faction code.
func (r *URLResolver) FactionURL(factionCode string) string {
	u, _ := r.BuildURL("faction", map[string]string{"faction_code": factionCode})
	return u
}

// FactionDatasheetsURL returns the datasheets page for one faction code.
func (r *URLResolver) FactionDatasheetsURL(factionCode string) string {
	u, _ := r.BuildURL("faction_datasheets", map[string]string{"faction_code": factionCode})
	return u
}

// FactionSectionURL returns the faction page with a named section anchor
// appended. Unknown sections become literal anchors.
func (r *URLResolver) FactionSectionURL(factionCode, section string) string {
	return r.FactionURL(factionCode) + "#" + SectionAnchor(section)
}

// UnitDatasheetURL returns the faction datasheets page anchored at one unit.
func (r *URLResolver) UnitDatasheetURL(factionCode, unitCode string) string {
	return r.FactionDatasheetsURL(factionCode) + "#" + unitCode
}

// SearchURL returns the upstream search page for a free-text query.
func (r *URLResolver) SearchURL(query string) string {
	return fmt.Sprintf("%s/%s/search?q=%s", r.baseURL, r.versionPath, url.QueryEscape(query))
}

// SectionAnchor resolves a named section to its page anchor. Unknown names
// pass through unchanged.
func SectionAnchor(section string) string {
	if anchor, ok := sectionAnchors[section]; ok {
		return anchor
	}
	return section
}

// SectionAnchors returns the registry's section names, sorted.
func SectionAnchors() []string {
	names := make([]string, 0, len(sectionAnchors))
	for name := range sectionAnchors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeFactionCode turns a faction display name into its URL-safe code:
// first the irregular-case table, then the generic NormalizeCode transform.
func NormalizeFactionCode(name string) string {
	trimmed := strings.TrimSpace(name)
	if code, ok := irregularCodes[trimmed]; ok {
		return code
	}
	return NormalizeCode(trimmed)
}

// NormalizeCode lowercases a display name and collapses whitespace and
// punctuation runs into single hyphens. The transform is idempotent.
func NormalizeCode(name string) string {
	trimmed := strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(trimmed))
	pendingHyphen := false
	for _, r := range strings.ToLower(trimmed) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		default:
			pendingHyphen = true
		}
	}
	return b.String()
}

// ValidFactionCode reports whether code is in the known roster.
func ValidFactionCode(code string) bool {
	return knownFactionCodes[code]
}

// FactionCodeFromURL extracts the code segment following "factions" in an
// upstream URL path, or "" when absent.
func FactionCodeFromURL(rawURL string) string {
	parts := strings.Split(strings.TrimSuffix(rawURL, "/"), "/")
	for i, part := range parts {
		if part == "factions" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// ClearCache invalidates every memoized URL.
func (r *URLResolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]string)
}

func cacheKey(pattern string, params map[string]string) string {
	if len(params) == 0 {
		return pattern
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(pattern)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
