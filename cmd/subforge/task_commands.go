package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"subforge/internal/logging"
	"subforge/internal/task"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "generate <url-or-video-file>",
		Short: "Generate subtitles for a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := task.Input{TargetLang: lang}
			if strings.Contains(args[0], "://") {
				input.URL = args[0]
			} else {
				input.FilePath = args[0]
			}
			return runTask(ctx, cmd, task.KindGenerate, input)
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Translate subtitles into this language")
	return cmd
}

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "translate <subtitle-file>",
		Short: "Translate an existing SRT file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(ctx, cmd, task.KindTranslate, task.Input{
				SubtitlePath: args[0],
				TargetLang:   lang,
			})
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Target language (required)")
	_ = cmd.MarkFlagRequired("lang")
	return cmd
}

func newBurnCommand(ctx *commandContext) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "burn <video-file>",
		Short: "Burn generated subtitles into a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(ctx, cmd, task.KindBurn, task.Input{
				FilePath:   args[0],
				TargetLang: lang,
			})
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Translate subtitles into this language")
	return cmd
}

// runTask executes one task in-process and follows its progress until
// it settles. Ctrl-C requests cooperative cancellation.
func runTask(ctx *commandContext, cmd *cobra.Command, kind task.Kind, input task.Input) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	services, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer services.close()

	created, err := services.executor.Submit(kind, input)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots, unsubscribe := services.broadcaster.Subscribe(created.ID)
	defer unsubscribe()

	out := cmd.OutOrStdout()
	interactive := isatty.IsTerminal(os.Stdout.Fd())
	lastStage := ""
	cancelRequested := false
	for {
		select {
		case <-runCtx.Done():
			if !cancelRequested {
				cancelRequested = true
				fmt.Fprintln(out, "\ncancelling...")
				_ = services.executor.Cancel(created.ID)
			}
		case snap, open := <-snapshots:
			if !open {
				return reportResult(cmd, services, created.ID)
			}
			if interactive {
				fmt.Fprintf(out, "\r%-12s %5.1f%%", snap.StageLabel, snap.Progress)
			} else if snap.StageLabel != lastStage {
				fmt.Fprintf(out, "%s (%.0f%%)\n", snap.StageLabel, snap.Progress)
			}
			lastStage = snap.StageLabel
		}
	}
}

func reportResult(cmd *cobra.Command, services *stack, id string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	final, err := services.registry.Get(id)
	if err != nil {
		return err
	}
	switch final.Status {
	case task.StatusCompleted:
		fmt.Fprintf(out, "done: %s\n", final.OutputPath)
		return nil
	case task.StatusCancelled:
		fmt.Fprintln(out, "cancelled")
		return nil
	default:
		if final.Err != nil {
			return fmt.Errorf("task failed (%s): %s", final.Err.Kind, final.Err.Message)
		}
		return fmt.Errorf("task finished in unexpected state %s", final.Status)
	}
}
