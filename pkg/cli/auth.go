package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/mchmarny/riskscore/pkg/auth"
	"github.com/urfave/cli/v3"
)

const (
	flagToken  = "token"
	flagDelete = "delete"
)

func authCmd() *cli.Command {
	return &cli.Command{
		Name:            "auth",
		HideHelpCommand: true,
		Usage:           "Store the artifact registry token in the OS keychain",
		Action:          cmdAuth,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagToken,
				Usage: "Registry token (prompted for when not set)",
			},
			&cli.BoolFlag{
				Name:  flagDelete,
				Usage: "Delete the stored token",
			},
		},
	}
}

func cmdAuth(_ context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	store := &auth.TokenStore{Dir: cfg.HomeDir}
	out := writer(cmd)

	if cmd.Bool(flagDelete) {
		if err := store.DeleteToken(); err != nil {
			return fmt.Errorf("deleting token: %w", err)
		}
		fmt.Fprintln(out, "Token deleted")
		return nil
	}

	token := cmd.String(flagToken)
	if token == "" {
		fmt.Fprint(out, "Paste the artifact registry token: ")
		line, err := bufio.NewReader(reader(cmd)).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading user input: %w", err)
		}
		token = strings.TrimSpace(line)
	}

	if err := store.SaveToken(token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}

	fmt.Fprintln(out, "Token saved")
	return nil
}
