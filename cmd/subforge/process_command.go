package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"subforge/internal/config"
	"subforge/internal/media"
	"subforge/internal/pipeline"
	"subforge/internal/queue"
	"subforge/internal/scheduler"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var languageFlag string
	var concurrencyFlag int

	cmd := &cobra.Command{
		Use:   "process <file> [file...]",
		Short: "Transcribe media files and write SRT subtitles next to them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				if err := cfg.ValidateForProcessing(); err != nil {
					return err
				}
				logger := ctx.newLogger(cfg)
				out := cmd.OutOrStdout()

				language := strings.TrimSpace(languageFlag)
				if language == "" {
					language = cfg.Subtitles.Language
				}
				if concurrencyFlag > 0 {
					cfg.Scheduler.MaxConcurrent = concurrencyFlag
				}

				extractor := media.NewExtractor(cfg.FFmpeg.FFmpegBinary, cfg.FFmpeg.FFprobeBinary, logger)
				if err := extractor.Preflight(); err != nil {
					return err
				}

				runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				if reset, err := store.ResetStuckProcessing(runCtx); err != nil {
					return err
				} else if reset > 0 {
					fmt.Fprintf(out, "Requeued %d interrupted job(s)\n", reset)
				}

				items := make([]*queue.Item, 0, len(args))
				for _, arg := range args {
					path, err := config.ExpandPath(arg)
					if err != nil {
						return err
					}
					if _, err := os.Stat(path); err != nil {
						return fmt.Errorf("media file %s: %w", arg, err)
					}
					item, err := store.NewItem(runCtx, path, language)
					if err != nil {
						return err
					}
					items = append(items, item)
				}

				cacheStore, err := ctx.openCache(cfg, logger)
				if err != nil {
					return err
				}
				cacheStore.Start(runCtx)
				defer cacheStore.Stop()

				sched := scheduler.New(cfg, store, logger)
				runner := pipeline.New(cfg, store, cacheStore, logger,
					pipeline.WithProgressFunc(sched.PublishProgress))

				consumerStop := make(chan struct{})
				consumerDone := make(chan struct{})
				go func() {
					defer close(consumerDone)
					printEvents(out, sched, stdoutIsTerminal(), consumerStop)
				}()
				go func() {
					<-runCtx.Done()
					sched.CancelAll()
				}()

				summary, err := sched.Run(runCtx, runner, items)
				close(consumerStop)
				<-consumerDone
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "Processed %d file(s): %d completed, %d failed, %d cancelled\n",
					summary.Total, summary.Completed, summary.Failed, summary.Cancelled)
				if summary.Failed > 0 {
					return fmt.Errorf("%d job(s) failed; run `subforge queue list` for details", summary.Failed)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Subtitle language code (defaults to the configured language)")
	cmd.Flags().IntVar(&concurrencyFlag, "concurrency", 0, "Maximum concurrent jobs (defaults to the configured limit)")
	return cmd
}

// printEvents mirrors the batch event stream to the console. Progress lines
// are only worth printing on an interactive terminal; completions and
// failures always surface. The loop exits once the batch is done and the
// buffered events have drained.
func printEvents(out io.Writer, sched *scheduler.Scheduler, interactive bool, stop <-chan struct{}) {
	handle := func(event scheduler.Event) bool {
		switch event.Kind {
		case scheduler.EventProgress:
			if interactive {
				fmt.Fprintf(out, "  job %d: %3d%% %s\n", event.ItemID, event.Percent, event.Message)
			}
		case scheduler.EventCompleted:
			fmt.Fprintf(out, "job %d: wrote %s\n", event.ItemID, event.Artifact)
		case scheduler.EventFailed:
			fmt.Fprintf(out, "job %d: failed: %s\n", event.ItemID, event.Message)
		case scheduler.EventBatchDone:
			return false
		}
		return true
	}

	for {
		select {
		case event := <-sched.Events():
			if !handle(event) {
				return
			}
		case <-stop:
			for {
				select {
				case event := <-sched.Events():
					if !handle(event) {
						return
					}
				default:
					return
				}
			}
		}
	}
}
