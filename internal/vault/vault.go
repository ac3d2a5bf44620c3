// Package vault reads and writes the on-disk story collection: a root
// markdown document whose [[wikilinks]] name one TOML story file each.
package vault

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"lifeflow/internal/fsutil"
	appLog "lifeflow/internal/log"
	"lifeflow/internal/model"
)

// ErrInvalidEntry is returned when the root document is not a lifeflow root.
var ErrInvalidEntry = errors.New("vault: entry file is not a lifeflow root")

var (
	wikilinkRe = regexp.MustCompile(`\[\[[^\]]+\]\]`)
	// quotedLinkRe matches a wikilink wrapped in matching quotes.
	quotedLinkRe = regexp.MustCompile(`(["'])\[\[[^\]]+\]\]["']`)
)

// Vault is a root document plus the directory holding its story files.
type Vault struct {
	entryFile string
	dir       string
}

// New returns a Vault rooted at entryFile. Story files live next to it.
func New(entryFile string) *Vault {
	return &Vault{
		entryFile: entryFile,
		dir:       filepath.Dir(entryFile),
	}
}

// Dir is the directory that holds the story files.
func (v *Vault) Dir() string { return v.dir }

// EntryFile is the path of the root document.
func (v *Vault) EntryFile() string { return v.entryFile }

// IsValidEntry reports whether the root document's TOML header declares
// type = "root" and lists lifeflow in renders. The header ends at the
// first blank line or the first line starting with "[[".
func (v *Vault) IsValidEntry() (bool, error) {
	data, err := os.ReadFile(v.entryFile)
	if err != nil {
		return false, err
	}

	var header []string
	sc := bufio.NewScanner(bytes.NewReader(normalizeNewlines(data)))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "[[") {
			break
		}
		header = append(header, line)
	}

	var parsed map[string]any
	if _, err := toml.Decode(strings.Join(header, "\n"), &parsed); err != nil {
		appLog.Debug("vault entry header not TOML", "path", v.entryFile, "err", err)
		return false, nil
	}

	typ, _ := parsed["type"].(string)
	if !strings.EqualFold(typ, "root") {
		return false, nil
	}

	var renders []string
	switch r := parsed["renders"].(type) {
	case string:
		renders = []string{r}
	case []any:
		for _, x := range r {
			renders = append(renders, fmt.Sprint(x))
		}
	}
	for _, r := range renders {
		if strings.Contains(strings.ToLower(r), "lifeflow") {
			return true, nil
		}
	}
	return false, nil
}

const defaultRoot = "type = \"root\"\nrenders = [\"lifeflow\"]\n\n"

// Init creates an empty root document, and its directory, when the entry
// file does not exist yet. An existing file is left alone.
func (v *Vault) Init() error {
	if _, err := os.Stat(v.entryFile); err == nil {
		return nil
	} else if !isNotExist(err) {
		return err
	}
	appLog.Info("creating vault root", "path", v.entryFile)
	return fsutil.WriteFileAtomic(v.entryFile, []byte(defaultRoot), 0o644, 0o755)
}

// Links returns the targets of every [[target|alias]] link in the root
// document, in document order.
func (v *Vault) Links() ([]string, error) {
	data, err := os.ReadFile(v.entryFile)
	if err != nil {
		return nil, err
	}
	return extractLinks(string(data)), nil
}

func extractLinks(content string) []string {
	var targets []string
	for _, m := range wikilinkRe.FindAllString(content, -1) {
		inner := strings.TrimSuffix(strings.TrimPrefix(m, "[["), "]]")
		target := strings.TrimSpace(strings.SplitN(inner, "|", 2)[0])
		if target != "" {
			targets = append(targets, target)
		}
	}
	return targets
}

// Load implements timeline.Source.
func (v *Vault) Load(ctx context.Context) ([]model.Story, error) {
	return v.LoadAll(ctx)
}

// LoadAll reads every linked story in root document order. Links that do
// not resolve to a file and files that are not valid TOML are logged and
// skipped. A story that fails time validation is kept; the ordering engine
// tolerates dirty values.
func (v *Vault) LoadAll(ctx context.Context) ([]model.Story, error) {
	targets, err := v.Links()
	if err != nil {
		return nil, fmt.Errorf("read entry file: %w", err)
	}

	stories := make([]model.Story, 0, len(targets))
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, ok := v.resolve(target)
		if !ok {
			appLog.Warn("vault link does not resolve", "target", target)
			continue
		}

		s, err := readStory(path)
		if err != nil {
			appLog.Error("vault story parse failed", err, "path", path)
			continue
		}
		if s.Name == "" {
			s.Name = target
		}
		if err := s.Validate(); err != nil {
			appLog.Warn("vault story failed validation", "path", path, "err", err)
		}
		stories = append(stories, s)
	}

	appLog.Info("vault load completed", "entry", v.entryFile, "links", len(targets), "stories", len(stories))
	return stories, nil
}

// resolve maps a link target to an existing story file: <dir>/<target>.md,
// then the URL-escaped name that Save falls back to. Only files directly
// inside the vault directory are considered.
func (v *Vault) resolve(target string) (string, bool) {
	name := strings.TrimSuffix(target, ".md")
	for _, candidate := range []string{name, url.PathEscape(name)} {
		p := filepath.Join(v.dir, candidate+".md")
		if !v.contains(p) {
			continue
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// contains reports whether path names a file directly inside the vault
// directory.
func (v *Vault) contains(path string) bool {
	return filepath.Dir(filepath.Clean(path)) == filepath.Clean(v.dir)
}

// storyFile is the lifeflow view of a story document.
type storyFile struct {
	Name   string         `toml:"name"`
	Detail map[string]any `toml:"detail"`
}

func readStory(path string) (model.Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Story{}, err
	}

	var sf storyFile
	if _, err := toml.Decode(quoteWikilinks(string(data)), &sf); err != nil {
		return model.Story{}, err
	}

	s := model.Story{
		ID:          strings.TrimSuffix(filepath.Base(path), ".md"),
		Name:        sf.Name,
		StartTime:   stringField(sf.Detail, "start_time"),
		EndTime:     stringField(sf.Detail, "end_time"),
		Description: stringField(sf.Detail, "description"),
	}
	if addr, ok := sf.Detail["address"].(map[string]any); ok {
		s.Address = decodeAddress(addr)
	}
	return s, nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// decodeAddress accepts coordinates as TOML numbers or numeric strings;
// anything else leaves the coordinate unset.
func decodeAddress(m map[string]any) *model.Address {
	a := &model.Address{
		Name:             stringField(m, "name"),
		Address:          stringField(m, "address"),
		CoordinateSystem: stringField(m, "coordinate_system"),
		Longitude:        floatField(m, "longitude"),
		Latitude:         floatField(m, "latitude"),
	}
	return a
}

func floatField(m map[string]any, key string) *float64 {
	var f float64
	switch v := m[key].(type) {
	case float64:
		f = v
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

// quoteWikilinks wraps bare [[...]] values in double quotes so story files
// that reference other notes still parse as TOML.
func quoteWikilinks(content string) string {
	content = string(normalizeNewlines([]byte(content)))
	locs := wikilinkRe.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return content
	}

	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		b.WriteString(content[prev:start])
		var before, after byte
		if start > 0 {
			before = content[start-1]
		}
		if end < len(content) {
			after = content[end]
		}
		quoted := (before == '"' && after == '"') || (before == '\'' && after == '\'')
		if quoted {
			b.WriteString(content[start:end])
		} else {
			b.WriteString(`"` + content[start:end] + `"`)
		}
		prev = end
	}
	b.WriteString(content[prev:])
	return b.String()
}

// dequoteWikilinks undoes quoteWikilinks.
func dequoteWikilinks(content string) string {
	return quotedLinkRe.ReplaceAllStringFunc(content, func(m string) string {
		return m[1 : len(m)-1]
	})
}

func normalizeNewlines(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
