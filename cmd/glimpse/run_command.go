package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"glimpse/internal/batch"
	"glimpse/internal/config"
	"glimpse/internal/history"
	"glimpse/internal/logging"
	"glimpse/internal/prompts"
	"glimpse/internal/results"
)

const lockFileName = "glimpse.lock"

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		recursive    bool
		prompt       string
		preset       string
		prefix       string
		device       string
		quantization string
		modelName    string
		engineName   string
		formats      []string
		output       string
		cacheImages  bool
		noProgress   bool
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "run <directory>",
		Short: "Caption every image in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("prompt") && flags.Changed("preset") {
				return errors.New("specify only one of --prompt or --preset")
			}
			if flags.Changed("recursive") {
				cfg.Processing.Recursive = recursive
			}
			if flags.Changed("prompt") {
				cfg.Inference.Prompt = prompt
			}
			if flags.Changed("preset") {
				p, ok := prompts.Lookup(preset)
				if !ok {
					return fmt.Errorf("unknown preset %q (see `glimpse prompts`)", preset)
				}
				cfg.Inference.Prompt = p.Prompt
			}
			if flags.Changed("prefix") {
				cfg.Inference.Prefix = prefix
			}
			if flags.Changed("device") {
				cfg.Model.Device = device
			}
			if flags.Changed("quantization") {
				cfg.Model.Quantization = quantization
			}
			if flags.Changed("model") {
				cfg.Model.Name = modelName
			}
			if flags.Changed("engine") {
				cfg.Model.Engine = engineName
			}
			if flags.Changed("formats") {
				cfg.Export.Formats = formats
			}
			if flags.Changed("output") {
				expanded, err := config.ExpandPath(output)
				if err != nil {
					return err
				}
				cfg.Export.OutputDirectory = expanded
			}
			if flags.Changed("cache-images") {
				cfg.Processing.CacheResizedImages = cacheImages
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			showProgress := !noProgress && isatty.IsTerminal(os.Stderr.Fd())

			logger, err := newRunLogger(cfg, showProgress)
			if err != nil {
				return err
			}

			lock := flock.New(filepath.Join(cfg.Paths.DataDir, lockFileName))
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire run lock: %w", err)
			}
			if !locked {
				return errors.New("another captioning run is already active")
			}
			defer func() {
				_ = lock.Unlock()
			}()

			store, err := history.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runner := batch.New(cfg, store, logger)

			var bar *progressbar.ProgressBar
			req := batch.Request{
				Directory: args[0],
				Force:     force,
				OnProgress: func(index, total int, filename string) {
					if !showProgress {
						return
					}
					if bar == nil {
						bar = newRunProgressBar(total)
					}
					bar.Describe(truncate(filename, 28))
				},
				OnCaption: func(results.CaptionRecord) {
					if bar != nil {
						_ = bar.Add(1)
					}
				},
				OnFailure: func(results.ErrorRecord) {
					// Validation and load failures fire before the bar exists.
					if bar != nil {
						_ = bar.Add(1)
					}
				},
			}

			rep, runErr := runner.Run(runCtx, req)
			if bar != nil {
				_ = bar.Exit()
			}
			if runErr != nil {
				return runErr
			}

			printRunReport(cmd.OutOrStdout(), rep)
			if rep.Summary.Cancelled {
				fmt.Fprintln(cmd.OutOrStdout(), "Run cancelled; partial results were exported")
				return context.Canceled
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Scan subdirectories for images")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt sent to the model for every image")
	cmd.Flags().StringVar(&preset, "preset", "", "Named prompt preset (see `glimpse prompts`)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Text prepended verbatim to every caption")
	cmd.Flags().StringVar(&device, "device", "", "Device policy: auto, cpu, or gpu")
	cmd.Flags().StringVar(&quantization, "quantization", "", "Quantization policy: auto, none, 8bit, or 4bit")
	cmd.Flags().StringVar(&modelName, "model", "", "Model name to caption with")
	cmd.Flags().StringVar(&engineName, "engine", "", "Captioning engine: ollama or openai")
	cmd.Flags().StringSliceVar(&formats, "formats", nil, "Export formats: txt_individual, csv, json, txt_batch")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory that receives the run output")
	cmd.Flags().BoolVar(&cacheImages, "cache-images", false, "Keep resized images next to the exports")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the disk space gate for uncached models")

	return cmd
}

// newRunLogger keeps the console quiet while the progress bar owns the
// terminal; log lines still reach the file sink.
func newRunLogger(cfg *config.Config, progressActive bool) (*slog.Logger, error) {
	if !progressActive {
		return logging.NewFromConfig(cfg)
	}
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "glimpse.log")},
	})
}

func newRunProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("captioning"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)
}
