package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapreport/pkg/core"
)

// GroupKey selects how results are grouped: "error", "meta.<field>" or ""
// for no grouping.
type GroupKey string

// GroupByError groups failed attempts by error message.
const GroupByError GroupKey = "error"

// imageMismatchLabel is the group label for attempts with a pixel mismatch.
const imageMismatchLabel = "image comparison failed"

// ParseGroupKey validates a group key.
func ParseGroupKey(s string) (GroupKey, error) {
	switch {
	case s == "", s == string(GroupByError):
		return GroupKey(s), nil
	case strings.HasPrefix(s, "meta.") && len(s) > len("meta."):
		return GroupKey(s), nil
	default:
		return "", fmt.Errorf("unknown group key %q (valid: error, meta.<field>)", s)
	}
}

type groupCache struct {
	gen    uint64
	key    GroupKey
	valid  bool
	groups []core.Group
}

// SetGroupBy changes the grouping key.
func (e *Engine) SetGroupBy(key GroupKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groupBy = key
}

// Groups returns the current groups, largest first. The result is cached
// until the tree or the key changes; callers must not modify it.
func (e *Engine) Groups() []core.Group {
	e.mu.Lock()
	defer e.mu.Unlock()

	gen := e.tree.Generation()
	if e.groups.valid && e.groups.gen == gen && e.groups.key == e.groupBy {
		return e.groups.groups
	}
	groups := e.computeGroups(e.groupBy)
	e.groups = groupCache{gen: gen, key: e.groupBy, valid: true, groups: groups}
	return groups
}

func (e *Engine) computeGroups(key GroupKey) []core.Group {
	if key == "" {
		return nil
	}

	byLabel := make(map[string]*core.Group)
	var order []string
	seenBrowser := make(map[string]map[string]bool)

	for _, browserID := range e.tree.BrowserIDs() {
		b, _ := e.tree.Browser(browserID)
		for _, resultID := range b.ResultIDs {
			r, ok := e.tree.Result(resultID)
			if !ok {
				continue
			}
			for _, label := range e.labelsFor(key, r) {
				g, ok := byLabel[label]
				if !ok {
					g = &core.Group{ID: string(key) + " " + label, Key: string(key), Label: label}
					byLabel[label] = g
					seenBrowser[label] = make(map[string]bool)
					order = append(order, label)
				}
				g.ResultIDs = append(g.ResultIDs, resultID)
				if !seenBrowser[label][browserID] {
					seenBrowser[label][browserID] = true
					g.BrowserIDs = append(g.BrowserIDs, browserID)
				}
			}
		}
	}

	out := make([]core.Group, 0, len(order))
	for _, label := range order {
		out = append(out, *byLabel[label])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].ResultIDs) != len(out[j].ResultIDs) {
			return len(out[i].ResultIDs) > len(out[j].ResultIDs)
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// labelsFor returns the distinct group labels one attempt belongs to.
func (e *Engine) labelsFor(key GroupKey, r *core.Result) []string {
	if field, ok := strings.CutPrefix(string(key), "meta."); ok {
		if v := r.Meta[field]; v != "" {
			return []string{v}
		}
		return nil
	}

	var labels []string
	add := func(label string) {
		for _, l := range labels {
			if l == label {
				return
			}
		}
		labels = append(labels, label)
	}
	for _, imgID := range r.ImageIDs {
		img, ok := e.tree.Image(imgID)
		if !ok {
			continue
		}
		if img.ErrorKind == core.ImageErrorPixelMismatch {
			add(imageMismatchLabel)
		} else if img.Error != nil && img.Error.Message != "" {
			add(firstLine(img.Error.Message))
		}
	}
	if r.Error != nil && r.Error.Message != "" {
		add(firstLine(r.Error.Message))
	}
	return labels
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
