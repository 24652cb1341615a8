// Package jobs loads crawl job lists from pipe-delimited text or YAML files.
package jobs

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/listings-crawler/internal/model"
)

// DefaultMaxItems is the cap used when a job does not give one.
const DefaultMaxItems = 50

// Parse reads one job per line in the form keyword|location|maxItems.
// Blank lines and lines starting with # are skipped. maxItems falls back to
// defaultMax when absent or not a number; 0 means unbounded.
func Parse(r io.Reader, defaultMax int) ([]*model.Job, error) {
	if defaultMax < 0 {
		defaultMax = DefaultMaxItems
	}

	var out []*model.Job
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
			zap.L().Warn("jobs: skipping malformed line", zap.Int("line", lineNo), zap.String("text", line))
			continue
		}

		maxItems := defaultMax
		if len(parts) > 2 {
			if n, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil && n >= 0 {
				maxItems = n
			}
		}

		out = append(out, &model.Job{
			ID:       len(out) + 1,
			Keyword:  strings.TrimSpace(parts[0]),
			Location: strings.TrimSpace(parts[1]),
			MaxItems: maxItems,
			Status:   model.JobStatusPending,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "jobs: scan")
	}
	return out, nil
}

type yamlFile struct {
	Jobs []yamlJob `yaml:"jobs"`
}

type yamlJob struct {
	Keyword  string `yaml:"keyword"`
	Location string `yaml:"location"`
	MaxItems *int   `yaml:"max_items"`
}

// ParseYAML reads a document with a top-level jobs list.
func ParseYAML(data []byte, defaultMax int) ([]*model.Job, error) {
	if defaultMax < 0 {
		defaultMax = DefaultMaxItems
	}

	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "jobs: parse yaml")
	}

	out := make([]*model.Job, 0, len(f.Jobs))
	for i, j := range f.Jobs {
		if strings.TrimSpace(j.Keyword) == "" {
			zap.L().Warn("jobs: skipping entry without keyword", zap.Int("index", i))
			continue
		}
		maxItems := defaultMax
		if j.MaxItems != nil && *j.MaxItems >= 0 {
			maxItems = *j.MaxItems
		}
		out = append(out, &model.Job{
			ID:       len(out) + 1,
			Keyword:  strings.TrimSpace(j.Keyword),
			Location: strings.TrimSpace(j.Location),
			MaxItems: maxItems,
			Status:   model.JobStatusPending,
		})
	}
	return out, nil
}

// Load reads a job file. .yaml and .yml files are parsed as YAML, anything
// else as pipe-delimited text.
func Load(path string, defaultMax int) ([]*model.Job, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "jobs: read %s", path)
		}
		return ParseYAML(data, defaultMax)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "jobs: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return Parse(f, defaultMax)
	}
}
