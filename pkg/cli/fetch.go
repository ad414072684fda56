package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mchmarny/riskscore/pkg/auth"
	"github.com/mchmarny/riskscore/pkg/model"
	"github.com/mchmarny/riskscore/pkg/net"
	"github.com/urfave/cli/v3"
)

const flagURL = "url"

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:   "fetch",
		Usage:  "Download the artifact set into the artifacts directory",
		Action: cmdFetch,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagURL,
				Usage: "Base URL of the artifact set (default: artifact_url from config)",
			},
		},
	}
}

func cmdFetch(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)

	url := cfg.ArtifactURL
	if cmd.IsSet(flagURL) {
		url = cmd.String(flagURL)
	}

	paths, err := fetchArtifacts(ctx, cfg, url)
	if err != nil {
		return err
	}
	return encode(writer(cmd), cfg.Format, paths)
}

// fetchArtifacts downloads the artifact set from url and verifies it loads.
func fetchArtifacts(ctx context.Context, cfg *appConfig, url string) ([]string, error) {
	if url == "" {
		return nil, errors.New("artifact URL required (--url, RISKSCORE_ARTIFACT_URL, or artifact_url in config)")
	}

	store := &auth.TokenStore{Dir: cfg.HomeDir}
	token, err := store.GetToken()
	if err != nil && !errors.Is(err, auth.ErrNoToken) {
		return nil, fmt.Errorf("getting registry token: %w", err)
	}

	client, err := net.GetClient(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	paths, err := net.FetchArtifacts(ctx, client, url, cfg.Artifacts, model.ArtifactFiles)
	if err != nil {
		return nil, fmt.Errorf("fetching artifacts: %w", err)
	}

	if _, err := model.Load(ctx, cfg.Artifacts); err != nil {
		return nil, fmt.Errorf("verifying fetched artifacts: %w", err)
	}

	slog.Info("artifacts fetched", "url", url, "dir", cfg.Artifacts, "files", len(paths), "authenticated", token != "")
	return paths, nil
}
