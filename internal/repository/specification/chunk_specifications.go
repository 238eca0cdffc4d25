package specification

import (
	"strings"

	"gorm.io/gorm"
)

// BySources keeps chunks whose source is one of Sources. Matching is case
// insensitive; an empty list matches everything.
type BySources struct {
	Sources []string
}

func (s BySources) Apply(db *gorm.DB) *gorm.DB {
	if len(s.Sources) == 0 {
		return db
	}
	lowered := make([]string, len(s.Sources))
	for i, src := range s.Sources {
		lowered[i] = strings.ToLower(src)
	}
	return db.Where("LOWER(source) IN ?", lowered)
}
