// Package catalog is the static program → document table used for source
// filtering and for citing the right syllabus in negative coverage answers.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultYAML []byte

type catalogFile struct {
	Programs  []Program `yaml:"programs"`
	Universal []string  `yaml:"universal"`
}

// Program is one curriculum program and the documents that belong to it
type Program struct {
	ID        string   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Aliases   []string `yaml:"aliases" json:"aliases"`
	Documents []string `yaml:"documents" json:"documents"`
}

type matcher struct {
	program string
	re      *regexp.Regexp
}

// Catalog is immutable after construction and safe for concurrent use
type Catalog struct {
	programs  map[string]Program
	order     []string
	universal []string
	matchers  []matcher
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
	defaultCatalogErr  error
)

// Default returns the catalog embedded in the binary
func Default() (*Catalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = Parse(defaultYAML)
	})
	return defaultCatalog, defaultCatalogErr
}

// Load reads a catalog YAML file. An empty path returns the embedded default.
func Load(filePath string) (*Catalog, error) {
	if filePath == "" {
		return Default()
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(file.Programs, file.Universal)
}

func New(programs []Program, universal []string) (*Catalog, error) {
	c := &Catalog{
		programs:  make(map[string]Program, len(programs)),
		universal: append([]string(nil), universal...),
	}
	for _, p := range programs {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog: program without id")
		}
		if len(p.Documents) == 0 {
			return nil, fmt.Errorf("catalog: program %s has no documents", p.ID)
		}
		if _, dup := c.programs[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate program %s", p.ID)
		}
		c.programs[p.ID] = p
		c.order = append(c.order, p.ID)

		names := append([]string{p.ID, p.Name}, p.Aliases...)
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("catalog: alias %q: %w", name, err)
			}
			c.matchers = append(c.matchers, matcher{program: p.ID, re: re})
		}
	}
	return c, nil
}

// Programs lists every program in catalog order
func (c *Catalog) Programs() []Program {
	out := make([]Program, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.programs[id])
	}
	return out
}

func (c *Catalog) Program(id string) (Program, bool) {
	p, ok := c.programs[id]
	return p, ok
}

// CanonicalDocument is the first listed document of a program, empty when unknown
func (c *Catalog) CanonicalDocument(programID string) string {
	p, ok := c.programs[programID]
	if !ok {
		return ""
	}
	return p.Documents[0]
}

func (c *Catalog) UniversalDocuments() []string {
	return append([]string(nil), c.universal...)
}

// DetectPrograms returns the programs named in text, in catalog order
func (c *Catalog) DetectPrograms(text string) []string {
	found := map[string]bool{}
	for _, m := range c.matchers {
		if !found[m.program] && m.re.MatchString(text) {
			found[m.program] = true
		}
	}
	out := make([]string, 0, len(found))
	for _, id := range c.order {
		if found[id] {
			out = append(out, id)
		}
	}
	return out
}

// Known drops identifiers the catalog does not know, keeping order
func (c *Catalog) Known(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(strings.ToLower(id))
		if _, ok := c.programs[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// SourcesFor lists the documents of the given programs plus every universal document
func (c *Catalog) SourcesFor(programIDs []string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(doc string) {
		if !seen[doc] {
			seen[doc] = true
			out = append(out, doc)
		}
	}
	for _, id := range programIDs {
		for _, doc := range c.programs[id].Documents {
			add(doc)
		}
	}
	for _, doc := range c.universal {
		add(doc)
	}
	return out
}

// IsUniversal reports whether a retrieved source is one of the universal documents
func (c *Catalog) IsUniversal(source string) bool {
	for _, doc := range c.universal {
		if SameDocument(source, doc) {
			return true
		}
	}
	return false
}

// ProgramOf returns the program a retrieved source belongs to
func (c *Catalog) ProgramOf(source string) (string, bool) {
	for _, id := range c.order {
		for _, doc := range c.programs[id].Documents {
			if SameDocument(source, doc) {
				return id, true
			}
		}
	}
	return "", false
}

// BelongsTo reports whether source is one of the documents of any listed program
func (c *Catalog) BelongsTo(source string, programIDs []string) bool {
	for _, id := range programIDs {
		for _, doc := range c.programs[id].Documents {
			if SameDocument(source, doc) {
				return true
			}
		}
	}
	return false
}

// AllDocuments lists every known document name, sorted
func (c *Catalog) AllDocuments() []string {
	docs := c.SourcesFor(c.order)
	sort.Strings(docs)
	return docs
}

// SameDocument compares a retrieved source identifier with a catalog document
// name. Matching ignores case and the path around the file name; a page or
// section suffix on the source still matches.
func SameDocument(source, document string) bool {
	s, d := normalize(source), normalize(document)
	if s == "" || d == "" {
		return false
	}
	return s == d || strings.HasPrefix(s, d+"#") || strings.HasPrefix(s, d+":")
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if i := strings.IndexAny(name, "#:"); i > 0 {
		head, tail := name[:i], name[i:]
		return strings.TrimSuffix(head, path.Ext(head)) + tail
	}
	return strings.TrimSuffix(name, path.Ext(name))
}
