package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mchmarny/riskscore/pkg/data"
	"github.com/urfave/cli/v3"
)

const flagYes = "yes"

func resetCmd() *cli.Command {
	return &cli.Command{
		Name:            "reset",
		Usage:           "Delete all journal decisions",
		HideHelpCommand: true,
		Action:          cmdReset,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagYes,
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
		},
	}
}

func cmdReset(_ context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	out := writer(cmd)

	db, err := openJournal(cfg.Config)
	if err != nil {
		return err
	}
	if db == nil {
		return errJournalDisabled
	}
	defer db.Close()

	if !cmd.Bool(flagYes) {
		fmt.Fprintf(out, "This will permanently delete all decisions in %s\n", db.Driver())
		fmt.Fprint(out, "Are you sure? [y/N]: ")

		answer, err := bufio.NewReader(reader(cmd)).ReadString('\n')
		if err != nil && answer == "" {
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	n, err := data.DeleteDecisions(db)
	if err != nil {
		return fmt.Errorf("deleting decisions: %w", err)
	}

	slog.Info("journal reset", "deleted", n)
	fmt.Fprintln(out, "Reset complete.")
	return nil
}
