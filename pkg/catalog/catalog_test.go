package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, c.Programs())
	assert.Equal(t, "cloud-engineering-syllabus.pdf", c.CanonicalDocument("cloud-engineering"))
	assert.Empty(t, c.CanonicalDocument("basket-weaving"))
	assert.Contains(t, c.UniversalDocuments(), "student-handbook.pdf")
}

func TestDetectPrograms(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	tests := []struct {
		text string
		want []string
	}{
		{"Does the Cloud Engineering program cover Kubernetes?", []string{"cloud-engineering"}},
		{"compare data science and cybersecurity", []string{"data-science", "cybersecurity"}},
		{"how long is the html course", []string{}},
		{"what are the admission requirements", []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.DetectPrograms(tt.text), tt.text)
	}
}

func TestSameDocument(t *testing.T) {
	tests := []struct {
		source, doc string
		want        bool
	}{
		{"cloud-engineering-syllabus.pdf", "cloud-engineering-syllabus.pdf", true},
		{"corpus/Cloud-Engineering-Syllabus.PDF", "cloud-engineering-syllabus.pdf", true},
		{"cloud-engineering-syllabus.pdf#page=4", "cloud-engineering-syllabus.pdf", true},
		{"cloud-engineering-syllabus", "cloud-engineering-syllabus.pdf", true},
		{"cloud-engineering-labs.pdf", "cloud-engineering-syllabus.pdf", false},
		{"", "cloud-engineering-syllabus.pdf", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SameDocument(tt.source, tt.doc), tt.source)
	}
}

func TestSourceClassification(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.True(t, c.IsUniversal("docs/student-handbook.pdf"))
	assert.False(t, c.IsUniversal("data-science-syllabus.pdf"))

	program, ok := c.ProgramOf("data-science-projects.pdf")
	require.True(t, ok)
	assert.Equal(t, "data-science", program)

	assert.True(t, c.BelongsTo("cybersecurity-labs.pdf", []string{"cybersecurity"}))
	assert.False(t, c.BelongsTo("cybersecurity-labs.pdf", []string{"data-science"}))

	sources := c.SourcesFor([]string{"cybersecurity"})
	assert.Equal(t, []string{"cybersecurity-syllabus.pdf", "cybersecurity-labs.pdf",
		"student-handbook.pdf", "certification-guide.pdf", "admissions-requirements.pdf"}, sources)
}

func TestKnownDropsUnknownIDs(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.Equal(t, []string{"data-science"}, c.Known([]string{"Data-Science", "astrology", "data-science"}))
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	_, err := Parse([]byte("programs:\n  - id: x\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("programs:\n  - id: x\n    documents: [a.pdf]\n  - id: x\n    documents: [b.pdf]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("programs: [oops"))
	assert.Error(t, err)
}
