package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"milhao-quiz-service/internal/app"
	"milhao-quiz-service/internal/config"
	"milhao-quiz-service/internal/domain"
	"milhao-quiz-service/internal/logging"
	"milhao-quiz-service/internal/progress"
)

// NewImportCmd loads a JSON or YAML question export into the configured bank.
func NewImportCmd(configPath *string) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import questions from a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logging.Init(cfg.Log.Level, cfg.Log.Pretty)
			if cfg.Postgres.URL == "" {
				log.Warn().Msg("postgres not configured; questions are imported into memory and discarded on exit")
			} else if err := runMigrations(cmd.Context(), cfg, log); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			questions, err := app.DecodeQuestions(f, args[0])
			if err != nil {
				return err
			}

			cfg.Questions.SeedFile = ""
			svc, err := buildServices(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := importWithProgress(cmd.Context(), svc.bank, questions, batch, cmd.OutOrStdout(), log)
			for _, p := range report.Problems {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s\n", p)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d questions\n", report.Imported, report.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 50, "questions saved per batch")
	return cmd
}

// importWithProgress runs one import and prints its progress events as they arrive.
func importWithProgress(ctx context.Context, bank app.QuestionBank, questions []domain.Question, batch int, out io.Writer, log zerolog.Logger) (app.ImportReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	const user = "cli"
	hub := progress.NewHub()
	events, cancel := hub.Subscribe(user)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			fmt.Fprintf(out, "[%3d%%] %s\n", ev.Percent, ev.Message)
			if ev.Kind != domain.ProgressUpdate {
				return
			}
		}
	}()

	report, err := app.NewImportService(bank, hub, log, batch).Run(ctx, user, "cli-import", questions)
	<-printed
	cancel()
	return report, err
}
