package calendar

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileEntry struct {
	Date string `yaml:"date"`
	Open bool   `yaml:"open"`
}

// LoadFile reads market calendar rows from a YAML file: a list of
// {date: YYYY-MM-DD, open: bool} entries. Weekends do not need to be listed;
// the weekday fallback already closes them.
func LoadFile(path string) ([]Day, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar file %s: %w", path, err)
	}

	var entries []fileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse calendar file %s: %w", path, err)
	}

	days := make([]Day, 0, len(entries))
	for _, e := range entries {
		date, err := ParseDate(e.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q in calendar file: %w", e.Date, err)
		}
		days = append(days, Day{Date: date, Open: e.Open})
	}
	return days, nil
}
