// Command translated runs the live conversation assistant: it captures
// microphone audio over a websocket, segments speech, and merges
// transcription, diarization, speaker identity, and translation into a
// rolling bilingual transcript.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/live-translate-lab/internal/api"
	"github.com/live-translate-lab/internal/app"
	"github.com/live-translate-lab/internal/config"
	"github.com/live-translate-lab/internal/logging"
	"github.com/live-translate-lab/internal/metrics"
)

var cfg *config.Config

func main() {
	root := &cobra.Command{
		Use:   "translated",
		Short: "Live bilingual conversation assistant",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; the environment wins either way
			_ = godotenv.Load()
			logging.Init()
			cfg = config.Load()
			return cfg.Validate()
		},
		SilenceUsage: true,
	}
	root.AddCommand(listenCmd(), enrollCmd(), speakersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Capture audio and produce the live transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logging.Sync()

			var met *metrics.Metrics
			if cfg.MetricsAddr != "" {
				met = metrics.New(nil)
				go func() {
					if err := metrics.Serve(cfg.MetricsAddr); err != nil {
						logging.Errorw("metrics server failed", "err", err)
					}
				}()
			}

			a, err := app.New(cfg, met)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.SpeakerAPIAddr != "" {
				srv := api.NewServer(a.Registry(), a.Extractor())
				go func() {
					if err := srv.ListenAndServe(ctx, cfg.SpeakerAPIAddr); err != nil {
						logging.Errorw("speaker api server failed", "err", err)
					}
				}()
			}

			return a.Listen(ctx)
		},
	}
}

func enrollCmd() *cobra.Command {
	var (
		name     string
		primary  bool
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Record a voice sample and register the speaker",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logging.Sync()
			a, err := app.New(cfg, nil)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Recording %s of audio for %q, speak now...\n", duration, name)
			id, err := a.Enroll(ctx, name, primary, duration)
			if err != nil {
				return err
			}
			fmt.Printf("Enrolled %q as %s\n", name, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the speaker")
	cmd.Flags().BoolVar(&primary, "primary", false, "register as the device owner")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "length of the voice sample")
	cmd.MarkFlagRequired("name")
	return cmd
}

func speakersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speakers",
		Short: "Manage the enrolled speaker registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List enrolled speakers",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := app.New(cfg, nil)
				if err != nil {
					return err
				}
				list := a.Registry().List()
				if len(list) == 0 {
					fmt.Println("no speakers enrolled")
					return nil
				}
				for _, s := range list {
					marker := ""
					if s.IsUser {
						marker = " (you)"
					}
					fmt.Printf("%s\t%s%s\n", s.ID, s.Name, marker)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <speaker-id>",
			Short: "Remove a speaker and their voiceprint",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := app.New(cfg, nil)
				if err != nil {
					return err
				}
				if err := a.Registry().Delete(args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <speaker-id> <new-name>",
			Short: "Change a speaker's display name",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := app.New(cfg, nil)
				if err != nil {
					return err
				}
				if err := a.Registry().Rename(args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("Renamed %s to %q\n", args[0], args[1])
				return nil
			},
		},
	)
	return cmd
}
