package collect

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"horse.fit/newstoss/internal/db"
)

// FeedFile is the YAML feed list:
//
//	sources:
//	  - name: Yonhap
//	    country: KR
//	    language: ko
//	    rss_url: https://example.com/rss.xml
type FeedFile struct {
	Sources []FeedEntry `yaml:"sources"`
}

type FeedEntry struct {
	Name     string `yaml:"name"`
	Country  string `yaml:"country"`
	Language string `yaml:"language"`
	RSSURL   string `yaml:"rss_url"`
	Active   *bool  `yaml:"active"`
}

// LoadFeeds reads and validates a feed list. Entries default to active.
func LoadFeeds(path string) ([]db.SourceInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed list: %w", err)
	}
	defer f.Close()

	var file FeedFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode feed list %s: %w", path, err)
	}
	return file.Inputs()
}

// Inputs converts the entries to store rows. Repeated rss_url values are an
// error.
func (f FeedFile) Inputs() ([]db.SourceInput, error) {
	inputs := make([]db.SourceInput, 0, len(f.Sources))
	seen := make(map[string]int, len(f.Sources))
	for i, entry := range f.Sources {
		url := strings.TrimSpace(entry.RSSURL)
		if url == "" {
			return nil, fmt.Errorf("feed %d: rss_url is required", i)
		}
		if first, dup := seen[url]; dup {
			return nil, fmt.Errorf("feed %d: rss_url %q repeats feed %d", i, url, first)
		}
		seen[url] = i

		country := strings.ToUpper(strings.TrimSpace(entry.Country))
		if len(country) != 2 {
			return nil, fmt.Errorf("feed %d (%s): country must be a two-letter code, got %q", i, url, entry.Country)
		}
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("feed %d (%s): name is required", i, url)
		}

		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		inputs = append(inputs, db.SourceInput{
			Name:        name,
			CountryCode: country,
			Language:    strings.ToLower(strings.TrimSpace(entry.Language)),
			RSSURL:      url,
			IsActive:    active,
		})
	}
	return inputs, nil
}
