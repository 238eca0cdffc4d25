package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"curriculum-qa-be/pkg/rag/graph"
	"curriculum-qa-be/pkg/rag/pipeline"
	"curriculum-qa-be/pkg/rag/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"question", "watch", "ingest"}, names)
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"syllabus.md", "handbook.TXT", "logo.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	files, err := collectFiles([]string{dir})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "syllabus.md"),
		filepath.Join(dir, "handbook.TXT"),
	}, files)

	_, err = collectFiles([]string{filepath.Join(dir, "nested")})
	assert.Error(t, err)
}

func TestPrintAnswer(t *testing.T) {
	var out bytes.Buffer
	printAnswer(&out, &pipeline.Answer{
		Text:      "The program runs for 12 weeks.",
		Citations: []string{"cloud-engineering-syllabus.pdf"},
		Intent:    state.IntentDuration,
		Programs:  []string{"cloud-engineering"},
		Path:      state.PathVerified,
		Took:      1500 * time.Millisecond,
		Trace: []graph.Step{
			{Stage: "understand", Next: "retrieve", Took: time.Millisecond},
			{Stage: "verify", Next: "finalize", Degraded: true},
		},
	}, true)

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "The program runs for 12 weeks.\n"))
	assert.Contains(t, text, "path=verified")
	assert.Contains(t, text, "sources: cloud-engineering-syllabus.pdf")
	assert.Contains(t, text, "degraded")
}
