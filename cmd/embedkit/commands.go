package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/embedkit/internal/cli"
	"github.com/hyperjump/embedkit/internal/extract"
	"github.com/hyperjump/embedkit/internal/service"
	"github.com/hyperjump/embedkit/internal/vector"
	"github.com/hyperjump/embedkit/internal/watcher"
)

// defaultMaintenanceSchedule is used by "maintain" when the config sets none.
const defaultMaintenanceSchedule = "@hourly"

// inputTexts returns the texts to embed: stdin as a single text, or each argument.
func inputTexts(args []string, stdin io.Reader, readStdin bool) ([]string, error) {
	if readStdin {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		text := strings.TrimRight(string(data), "\r\n")
		if text == "" {
			return nil, fmt.Errorf("stdin is empty")
		}
		return []string{text}, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no text given: pass arguments or --stdin")
	}
	return args, nil
}

func newEmbedCmd(a *app) *cobra.Command {
	var readStdin bool
	var output string
	cmd := &cobra.Command{
		Use:   "embed [text...]",
		Short: "Embed text, using the cache when possible",
		Long: `Embed each argument (or all of stdin with --stdin) and print the vectors.

Examples:
  embedkit embed "hello world" "goodbye world"
  cat notes.txt | embedkit embed --stdin --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			texts, err := inputTexts(args, cmd.InOrStdin(), readStdin)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return a.withService(ctx, nil, func(svc *service.Service) error {
				results, err := svc.EmbedBatch(ctx, texts)
				if err != nil {
					return err
				}
				out := make([]cli.EmbedOutput, len(results))
				for i, res := range results {
					out[i] = cli.NewEmbedOutput(texts[i], res)
				}
				return cli.WriteEmbedResults(cmd.OutOrStdout(), out, cli.OutputFormat(output))
			})
		},
	}
	cmd.Flags().BoolVar(&readStdin, "stdin", false, "read the text to embed from stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json, jsonl")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, nil, func(svc *service.Service) error {
				st, err := svc.Stats(ctx)
				if err != nil {
					return err
				}
				return cli.WriteStats(cmd.OutOrStdout(), st, cli.OutputFormat(output))
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json")
	return cmd
}

func newEvictCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "evict",
		Short: "Delete expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, nil, func(svc *service.Service) error {
				n, err := svc.EvictExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Evicted %d expired entries\n", n)
				return nil
			})
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, nil, func(svc *service.Service) error {
				if err := svc.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
				return nil
			})
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every live cache entry as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, nil, func(svc *service.Service) error {
				entries, err := svc.GetAllEmbeddings(ctx)
				if err != nil {
					return err
				}
				return cli.WriteEntries(cmd.OutOrStdout(), entries, cli.OutputFormat(output))
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "jsonl", "output format: json, jsonl")
	return cmd
}

func newSimilarCmd(a *app) *cobra.Command {
	var k int
	var index, output string
	cmd := &cobra.Command{
		Use:   "similar <text>",
		Short: "List cached entries nearest to text",
		Long: `Embed text and list the k nearest cached entries by cosine similarity. Entries are
identified by the SHA-256 of their text.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			text := strings.Join(args, " ")
			return a.withService(ctx, nil, func(svc *service.Service) error {
				results, err := svc.Similar(ctx, text, k, vector.IndexType(index))
				if err != nil {
					return err
				}
				return cli.WriteSimilar(cmd.OutOrStdout(), results, cli.OutputFormat(output))
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 5, "number of results")
	cmd.Flags().StringVar(&index, "index", string(vector.IndexTypeMemory), "index type: memory, hnsw")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json, jsonl")
	return cmd
}

// matchFiles expands glob patterns (with ** support) into a de-duplicated list of
// regular files.
func matchFiles(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	return files, nil
}

// fileResult counts how a file's chunks were served.
type fileResult struct {
	embedded int
	cached   int
}

// embedFile converts path to text, splits it with chunker and embeds every chunk. Blank
// files produce an empty result.
func embedFile(ctx context.Context, svc *service.Service, chunker *extract.Chunker, path string) (fileResult, error) {
	var fr fileResult
	text, err := extract.File(path)
	if err != nil {
		return fr, err
	}
	for _, chunk := range chunker.Split(text) {
		res, err := svc.Embed(ctx, chunk)
		if err != nil {
			return fr, err
		}
		if res.FromCache {
			fr.cached++
		} else {
			fr.embedded++
		}
	}
	return fr, nil
}

func newWarmCmd(a *app) *cobra.Command {
	var watch bool
	var chunkSize, chunkOverlap int
	cmd := &cobra.Command{
		Use:   "warm <glob...>",
		Short: "Embed the contents of matching files into the cache",
		Long: `Embed the text of every file matching the given patterns. Patterns support **.
PDF, Office and OpenDocument files are converted to plain text first. With --chunk-size
each file is embedded as overlapping windows of that many words.

Examples:
  embedkit warm "docs/**/*.md" README.md
  embedkit warm --chunk-size 100 --watch "notes/**/*.txt"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := matchFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 && !watch {
				fmt.Fprintln(cmd.OutOrStdout(), "No files matched")
				return nil
			}
			chunker := extract.NewChunker(chunkSize, chunkOverlap)
			ctx := cmd.Context()
			return a.withService(ctx, nil, func(svc *service.Service) error {
				if err := svc.Initialize(ctx); err != nil {
					return err
				}
				bar := progressbar.NewOptions(len(files),
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionEnableColorCodes(true),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWidth(40),
					progressbar.OptionSetDescription("Embedding files"),
				)
				var total fileResult
				var failed int
				for _, path := range files {
					fr, err := embedFile(ctx, svc, chunker, path)
					total.embedded += fr.embedded
					total.cached += fr.cached
					if err != nil {
						failed++
						a.logger.Warn("warm file failed", zap.String("path", path), zap.Error(err))
						if ctx.Err() != nil {
							return ctx.Err()
						}
					}
					_ = bar.Add(1)
				}
				_ = bar.Finish()
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d embedded, %d already cached, %d files failed\n", total.embedded, total.cached, failed)
				if !watch {
					return nil
				}
				return watchFiles(ctx, a, svc, chunker, args)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and embed matching files as they change")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "words per chunk; 0 embeds each file whole")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 20, "words shared by consecutive chunks")
	return cmd
}

// watchFiles embeds files matching patterns whenever they change, until ctx is done.
func watchFiles(ctx context.Context, a *app, svc *service.Service, chunker *extract.Chunker, patterns []string) error {
	w := watcher.New(patterns, func(path string) {
		fr, err := embedFile(ctx, svc, chunker, path)
		if err != nil {
			a.logger.Warn("embed changed file failed", zap.String("path", path), zap.Error(err))
			return
		}
		a.logger.Info("embedded changed file", zap.String("path", path),
			zap.Int("embedded", fr.embedded), zap.Int("cached", fr.cached))
	}, watcher.WithLogger(a.logger))
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Stop()
	a.logger.Info("watching for changes", zap.Strings("roots", watcher.Roots(patterns)))
	<-ctx.Done()
	return nil
}

func newMaintainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run scheduled cache maintenance until interrupted",
		Long: `Evict expired entries once, then keep evicting on maintenance.schedule
(default "@hourly") until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			schedule := a.cfg.Maintenance.Schedule
			if schedule == "" {
				schedule = defaultMaintenanceSchedule
			}
			setSchedule := func(o *service.Options) { o.MaintenanceSchedule = schedule }
			return a.withService(ctx, setSchedule, func(svc *service.Service) error {
				n, err := svc.EvictExpired(ctx)
				if err != nil {
					return err
				}
				a.logger.Info("maintenance started", zap.String("schedule", schedule), zap.Int64("evicted", n))
				<-ctx.Done()
				a.logger.Info("maintenance stopped")
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "embedkit version %s\n", version)
		},
	}
}
