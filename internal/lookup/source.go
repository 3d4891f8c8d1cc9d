// Package lookup talks to the faction websites: a cheap search request that
// yields a detail page address, and an expensive detail page fetch.
package lookup

import (
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/falconcharade/nativesys/internal/extract"
)

// Source describes one upstream faction website.
type Source struct {
	Name string `yaml:"name"`
	// BaseURL is the site root used to resolve relative detail links.
	BaseURL string `yaml:"base_url"`
	// SearchPath is appended to BaseURL; "{q}" is replaced with the
	// query-escaped faction name.
	SearchPath string `yaml:"search_path"`
	// DetailPattern matches links to faction detail pages.
	DetailPattern string `yaml:"detail_pattern"`
	// LocationLabels are tried in order to find the home system.
	LocationLabels []string `yaml:"location_labels"`
	FlagLabels     []string `yaml:"flag_labels"`
	// LocationTag names the location in log comments, e.g. Origin.
	LocationTag string `yaml:"location_tag"`
	// Generator and Note go into the output header.
	Generator string `yaml:"generator"`
	Note      string `yaml:"note"`
	// Pacing overrides the global defaults for this site.
	Pacing Pacing `yaml:"pacing"`
}

// Pacing holds a site's preferred timeouts and delays. Zero fields leave
// the global default in place; explicit flags, env and config always win.
type Pacing struct {
	SearchTimeout  time.Duration `yaml:"search_timeout"`
	DetailsTimeout time.Duration `yaml:"details_timeout"`
	SearchRetries  int           `yaml:"search_retries"`
	HardDeadline   time.Duration `yaml:"hard_deadline"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	Delay          time.Duration `yaml:"delay"`
}

// Settings returns the non-zero fields keyed by config key.
func (p Pacing) Settings() map[string]any {
	out := make(map[string]any)
	set := func(key string, d time.Duration) {
		if d > 0 {
			out[key] = d
		}
	}
	set("lookup.search_timeout", p.SearchTimeout)
	set("lookup.details_timeout", p.DetailsTimeout)
	set("resolve.hard_deadline", p.HardDeadline)
	set("resolve.retry_backoff", p.RetryBackoff)
	set("run.delay", p.Delay)
	if p.SearchRetries > 0 {
		out["lookup.search_retries"] = p.SearchRetries
	}
	return out
}

// Builtin source definitions.
var (
	Inara = Source{
		Name:           "inara",
		BaseURL:        "https://inara.cz",
		SearchPath:     "/elite/minorfaction/?search={q}",
		DetailPattern:  `/elite/minorfaction/\d+/?`,
		LocationLabels: []string{"Origin", "Home system"},
		FlagLabels:     []string{"Player minor faction"},
		LocationTag:    "Origin",
		Generator:      "nativesys (Inara-based, player-aware if available)",
		Note:           "Incremental output; safe to resume. Origin field on INARA is treated as Native System.",
		Pacing: Pacing{
			SearchTimeout:  25 * time.Second,
			DetailsTimeout: 60 * time.Second,
			SearchRetries:  3,
			HardDeadline:   120 * time.Second,
			RetryBackoff:   1100 * time.Millisecond,
			Delay:          2 * time.Second,
		},
	}
	EDSM = Source{
		Name:           "edsm",
		BaseURL:        "https://www.edsm.net",
		SearchPath:     "/en/search/factions/index/name/{q}",
		DetailPattern:  `/en/faction/id/\d+/name/`,
		LocationLabels: []string{"Home system"},
		FlagLabels:     []string{"Player faction"},
		LocationTag:    "System",
		Generator:      "nativesys (EDSM-based, player-aware)",
		Note:           "This file is written incrementally; safe to resume after interruption.",
		Pacing: Pacing{
			SearchTimeout:  25 * time.Second,
			DetailsTimeout: 75 * time.Second,
			SearchRetries:  4,
			HardDeadline:   150 * time.Second,
			RetryBackoff:   1200 * time.Millisecond,
			Delay:          400 * time.Millisecond,
		},
	}
)

var builtin = map[string]Source{
	Inara.Name: Inara,
	EDSM.Name:  EDSM,
}

// Builtin returns the names of the built-in sources.
func Builtin() []string {
	out := make([]string, 0, len(builtin))
	for name := range builtin {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Fields returns the labels the extractor looks for on detail pages.
func (s Source) Fields() extract.FieldSet {
	return extract.FieldSet{Location: s.LocationLabels, Flag: s.FlagLabels}
}

// SearchURL returns the search address for a faction name.
func (s Source) SearchURL(name string) string {
	return strings.TrimRight(s.BaseURL, "/") + strings.ReplaceAll(s.SearchPath, "{q}", url.QueryEscape(name))
}

// Validate checks that the definition can drive a client.
func (s Source) Validate() error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "name is required")
	}
	if u, err := url.Parse(s.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "base_url must be an absolute URL")
	}
	if !strings.Contains(s.SearchPath, "{q}") {
		errs = append(errs, "search_path must contain {q}")
	}
	if _, err := regexp.Compile(s.DetailPattern); err != nil || s.DetailPattern == "" {
		errs = append(errs, "detail_pattern must be a valid regular expression")
	}
	if len(s.LocationLabels) == 0 {
		errs = append(errs, "location_labels must not be empty")
	}
	p := s.Pacing
	if p.SearchTimeout < 0 || p.DetailsTimeout < 0 || p.HardDeadline < 0 ||
		p.RetryBackoff < 0 || p.Delay < 0 || p.SearchRetries < 0 {
		errs = append(errs, "pacing values must not be negative")
	}
	if len(errs) > 0 {
		return eris.Errorf("lookup: source %q: %s", s.Name, strings.Join(errs, "; "))
	}
	return nil
}

type sourceFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads source definitions from a YAML file of the form
//
//	sources:
//	  - name: mysite
//	    base_url: https://example.org
//	    ...
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: read source file")
	}
	var f sourceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "lookup: parse source file")
	}
	if len(f.Sources) == 0 {
		return nil, eris.Errorf("lookup: no sources defined in %s", path)
	}
	for i := range f.Sources {
		s := &f.Sources[i]
		if s.LocationTag == "" {
			s.LocationTag = "Location"
		}
		if s.Generator == "" {
			s.Generator = "nativesys (" + s.Name + ")"
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Sources, nil
}

// Select picks a source by name. When file is set the definitions in it
// take precedence over the built-ins; an empty name then selects the file's
// first source.
func Select(name, file string) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if file != "" {
		sources, err := LoadSources(file)
		if err != nil {
			return Source{}, err
		}
		if name == "" {
			return sources[0], nil
		}
		for _, s := range sources {
			if strings.EqualFold(s.Name, name) {
				return s, nil
			}
		}
	}
	if s, ok := builtin[name]; ok {
		return s, nil
	}
	return Source{}, eris.Errorf("lookup: unknown source %q (built-in: %s)", name, strings.Join(Builtin(), ", "))
}
