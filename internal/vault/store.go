package vault

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"lifeflow/internal/fsutil"
	appLog "lifeflow/internal/log"
	"lifeflow/internal/model"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// Save writes s to its story file and makes sure the root document links
// it by file basename. The file is <id>.md, or <name>.md for a new story;
// when that name is not a usable file name the URL-escaped form is used.
// Keys lifeflow does not manage, and leading comment lines, are preserved
// on rewrite.
//
// The returned story carries the file basename as its ID.
func (v *Vault) Save(ctx context.Context, s model.Story) (model.Story, error) {
	if err := ctx.Err(); err != nil {
		return s, err
	}
	if err := model.ValidateID(s.ID); err != nil {
		return s, err
	}
	if err := os.MkdirAll(v.dir, 0o755); err != nil {
		return s, err
	}

	base := s.ID
	if base == "" {
		base = s.Name
	}
	if base == "" {
		base = "unnamed-story"
	}

	path, ok := v.resolve(base)
	if !ok {
		path = filepath.Join(v.dir, base+".md")
		if strings.ContainsAny(base, `/\:*?"<>|`) {
			path = filepath.Join(v.dir, url.PathEscape(base)+".md")
		}
	}
	if !v.contains(path) {
		return s, fmt.Errorf("%w: %q", model.ErrInvalidID, base)
	}

	existing, err := os.ReadFile(path)
	if err != nil && !isNotExist(err) {
		return s, err
	}

	body, err := rewriteStory(string(existing), s)
	if err != nil {
		return s, fmt.Errorf("encode story: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, []byte(body), 0o644, 0o755); err != nil {
		return s, err
	}

	s.ID = strings.TrimSuffix(filepath.Base(path), ".md")
	if err := v.updateRoot(s.ID, true); err != nil {
		return s, fmt.Errorf("update entry file: %w", err)
	}

	appLog.Info("vault story saved", "id", s.ID, "path", path)
	return s, nil
}

// Delete removes every link to s (by ID, else by name) from the root
// document. The story file itself stays on disk.
func (v *Vault) Delete(ctx context.Context, s model.Story) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.ID
	if target == "" {
		target = s.Name
	}
	if err := v.updateRoot(target, false); err != nil {
		return fmt.Errorf("update entry file: %w", err)
	}
	appLog.Info("vault story unlinked", "id", s.ID, "name", s.Name)
	return nil
}

func (v *Vault) updateRoot(target string, add bool) error {
	if target == "" {
		return nil
	}

	data, err := os.ReadFile(v.entryFile)
	if err != nil && !isNotExist(err) {
		return err
	}
	content := string(data)
	linkRe := regexp.MustCompile(`\[\[` + regexp.QuoteMeta(target) + `(?:\|[^\]]+)?\]\]`)

	if add {
		if linkRe.MatchString(content) {
			return nil
		}
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += "[[" + target + "]]\n"
	} else {
		content = linkRe.ReplaceAllString(content, "")
		content = blankRunRe.ReplaceAllString(content, "\n\n")
		content = strings.TrimRight(content, " \t\n") + "\n"
	}

	return fsutil.WriteFileAtomic(v.entryFile, []byte(content), 0o644, 0o755)
}

// rewriteStory merges s into an existing story document. Leading comment
// lines move to the top, unknown keys survive, and empty address fields
// are removed.
func rewriteStory(existing string, s model.Story) (string, error) {
	var comments, rest []string
	for _, line := range strings.Split(string(normalizeNewlines([]byte(existing))), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			comments = append(comments, line)
		} else {
			rest = append(rest, line)
		}
	}

	doc := map[string]any{}
	if _, err := toml.Decode(quoteWikilinks(strings.Join(rest, "\n")), &doc); err != nil {
		appLog.Warn("vault story not TOML; rewriting from scratch", "name", s.Name, "err", err)
		doc = map[string]any{}
	}

	detail, _ := doc["detail"].(map[string]any)
	if detail == nil {
		detail = map[string]any{}
	}
	doc["name"] = s.Name
	detail["start_time"] = s.StartTime
	detail["end_time"] = s.EndTime
	detail["description"] = s.Description

	addr, _ := detail["address"].(map[string]any)
	if addr == nil {
		addr = map[string]any{}
	}
	mergeAddress(addr, s.Address)
	if len(addr) > 0 {
		detail["address"] = addr
	} else {
		delete(detail, "address")
	}
	doc["detail"] = detail

	var buf bytes.Buffer
	if len(comments) > 0 {
		buf.WriteString(strings.Join(comments, "\n"))
		buf.WriteString("\n\n")
	}
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return "", err
	}
	return dequoteWikilinks(buf.String()), nil
}

func mergeAddress(dst map[string]any, a *model.Address) {
	if a == nil {
		a = &model.Address{}
	}
	set := func(key string, v any, keep bool) {
		if keep {
			dst[key] = v
		} else {
			delete(dst, key)
		}
	}
	set("name", a.Name, a.Name != "")
	set("address", a.Address, a.Address != "")
	set("coordinate_system", a.CoordinateSystem, a.CoordinateSystem != "")
	if a.Longitude != nil {
		set("longitude", *a.Longitude, true)
	} else {
		delete(dst, "longitude")
	}
	if a.Latitude != nil {
		set("latitude", *a.Latitude, true)
	} else {
		delete(dst, "latitude")
	}
}
