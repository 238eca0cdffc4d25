package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"curriculum-qa-be/internal/repository/unitofwork"
	"curriculum-qa-be/pkg/catalog"
	"curriculum-qa-be/pkg/embedding"
	"curriculum-qa-be/pkg/ingest"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	ingestCommandUse   = "ingest <file|dir>..."
	ingestCommandShort = "Split, embed and store curriculum documents (.md and .txt) in pgvector"

	workersFlagName  = "workers"
	workersFlagUsage = "concurrent embedding requests per document"
	sizeFlagName     = "chunk-size"
	sizeFlagUsage    = "maximum chunk length in characters"
	overlapFlagName  = "chunk-overlap"
	overlapFlagUsage = "characters shared by consecutive windows of a long paragraph"
	listFlagName     = "list"
	listFlagUsage    = "print the stored chunk count of every catalog document"
	showFlagName     = "show"
	showFlagUsage    = "print the stored chunks of one document"
)

var ingestExtensions = map[string]bool{".md": true, ".txt": true}

type ingestOptions struct {
	workers int
	size    int
	overlap int
	list    bool
	show    string
}

func newIngestCommand(root *rootOptions) *cobra.Command {
	defaults := ingest.DefaultSplitter()
	options := &ingestOptions{}

	command := &cobra.Command{
		Use:   ingestCommandUse,
		Short: ingestCommandShort,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestCommand(cmd, *root, *options, args)
		},
	}
	command.Flags().IntVar(&options.workers, workersFlagName, 4, workersFlagUsage)
	command.Flags().IntVar(&options.size, sizeFlagName, defaults.Size, sizeFlagUsage)
	command.Flags().IntVar(&options.overlap, overlapFlagName, defaults.Overlap, overlapFlagUsage)
	command.Flags().BoolVar(&options.list, listFlagName, false, listFlagUsage)
	command.Flags().StringVar(&options.show, showFlagName, "", showFlagUsage)

	return command
}

func runIngestCommand(command *cobra.Command, root rootOptions, options ingestOptions, args []string) error {
	if len(args) == 0 && !options.list && options.show == "" {
		return errors.New("give at least one file or directory, or --list / --show")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("ingest needs DB_CONNECTION_STRING")
	}

	cat := catalog.Default
	if cfg.Pipeline.CatalogFile != "" {
		cat = func() (*catalog.Catalog, error) { return catalog.Load(cfg.Pipeline.CatalogFile) }
	}
	programs, err := cat()
	if err != nil {
		return err
	}

	ingester := ingest.NewIngester(
		embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.EmbeddingModel),
		unitofwork.NewRepositoryFactory(db),
		programs,
		ingest.Splitter{Size: options.size, Overlap: options.overlap},
		options.workers,
		newLogger(cfg, root.verbose),
	)
	out := command.OutOrStdout()

	if options.show != "" {
		chunks, err := ingester.Chunks(command.Context(), ingester.SourceName(options.show))
		if err != nil {
			return err
		}
		for _, c := range chunks {
			color.New(color.FgCyan).Fprintf(out, "--- %s #%d (%s)\n", c.Source, c.ChunkIndex, c.Program)
			fmt.Fprintln(out, c.Content)
		}
		return nil
	}
	if options.list {
		return printInventory(command, ingester)
	}

	files, err := collectFiles(args)
	if err != nil {
		return err
	}

	failed := 0
	for _, file := range files {
		text, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		source := ingester.SourceName(filepath.Base(file))
		n, err := ingester.IngestDocument(command.Context(), source, string(text))
		if err != nil {
			failed++
			color.New(color.FgRed).Fprintf(out, "✗ %s: %v\n", file, err)
			continue
		}
		color.New(color.FgGreen).Fprintf(out, "✓ %s -> %s (%d chunks)\n", file, source, n)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(files))
	}
	return nil
}

func printInventory(command *cobra.Command, ingester *ingest.Ingester) error {
	counts, err := ingester.Inventory(command.Context())
	if err != nil {
		return err
	}
	docs := make([]string, 0, len(counts))
	for doc := range counts {
		docs = append(docs, doc)
	}
	sort.Strings(docs)

	out := command.OutOrStdout()
	for _, doc := range docs {
		line := fmt.Sprintf("%-40s %6d", doc, counts[doc])
		if counts[doc] == 0 {
			color.New(color.FgYellow).Fprintln(out, line+"  (missing)")
			continue
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// collectFiles expands directories (non-recursively) into their text documents
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !ingestExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			files = append(files, filepath.Join(arg, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no .md or .txt documents found")
	}
	return files, nil
}
