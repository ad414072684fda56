package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/mchmarny/riskscore/pkg/data"
	"github.com/urfave/cli/v3"
)

const (
	flagLimit   = "limit"
	flagSummary = "summary"
)

var errJournalDisabled = errors.New("journal is disabled, set --journal or journal in config")

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:   "history",
		Usage:  "List the most recent journal decisions",
		Action: cmdHistory,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    flagLimit,
				Aliases: []string{"n"},
				Usage:   "Maximum number of decisions to list",
				Value:   data.ListLimitDefault,
			},
			&cli.BoolFlag{
				Name:  flagSummary,
				Usage: "Print decision counts instead of the list",
			},
		},
	}
}

func cmdHistory(_ context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)

	db, err := openJournal(cfg.Config)
	if err != nil {
		return err
	}
	if db == nil {
		return errJournalDisabled
	}
	defer db.Close()

	if cmd.Bool(flagSummary) {
		state, err := data.GetDataState(db)
		if err != nil {
			return fmt.Errorf("getting journal state: %w", err)
		}
		return encode(writer(cmd), cfg.Format, state)
	}

	list, err := data.ListDecisions(db, int(cmd.Int(flagLimit)))
	if err != nil {
		return fmt.Errorf("listing decisions: %w", err)
	}
	return encode(writer(cmd), cfg.Format, list)
}
