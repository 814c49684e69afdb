package cleanup

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"goflare.io/pixcache/internal/models"
	"goflare.io/pixcache/internal/storage"
)

type policy struct {
	models.RetentionPolicy
	re *regexp.Regexp
}

func compile(p models.RetentionPolicy) (*policy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("retention policy name cannot be empty")
	}
	if p.MaxAgeDays < 0 || p.MaxSize < 0 || p.PreserveCount < 0 {
		return nil, fmt.Errorf("retention policy %s: limits cannot be negative", p.Name)
	}
	compiled := &policy{RetentionPolicy: p}
	if p.Pattern != "" {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("retention policy %s: invalid pattern: %w", p.Name, err)
		}
		compiled.re = re
	}
	return compiled, nil
}

// selectFiles picks the files this policy removes, oldest first. claimed
// holds files already selected by earlier policies of the same run.
func (p *policy) selectFiles(files []storage.FileEntry, claimed map[string]struct{}, now time.Time) []storage.FileEntry {
	cutoff := now.Add(-time.Duration(p.MaxAgeDays) * 24 * time.Hour)

	candidates := make([]storage.FileEntry, 0, len(files))
	for _, f := range files {
		if _, ok := claimed[f.Name]; ok {
			continue
		}
		if p.re != nil && !p.re.MatchString(f.Name) {
			continue
		}
		if p.MaxAgeDays > 0 && !f.ModTime.Before(cutoff) {
			continue
		}
		candidates = append(candidates, f)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ModTime.Before(candidates[j].ModTime)
	})

	if p.PreserveCount > 0 {
		if len(candidates) <= p.PreserveCount {
			return nil
		}
		candidates = candidates[:len(candidates)-p.PreserveCount]
	}

	if p.MaxSize > 0 {
		var total int64
		for i, f := range candidates {
			if total+f.Size > p.MaxSize {
				return candidates[:i]
			}
			total += f.Size
		}
	}
	return candidates
}
