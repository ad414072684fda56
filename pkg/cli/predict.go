package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mchmarny/riskscore/pkg/chart"
	"github.com/mchmarny/riskscore/pkg/features"
	"github.com/mchmarny/riskscore/pkg/scoring"
	"github.com/urfave/cli/v3"
)

const (
	stdinPath = "-"

	flagFile  = "file"
	flagChart = "chart"
	flagForme = "forme"
)

func rowFileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     flagFile,
		Aliases:  []string{"f"},
		Usage:    "JSON file with the row or a {\"data\": row} body ('-' reads stdin)",
		Required: true,
	}
}

func predictCmd() *cli.Command {
	return &cli.Command{
		Name:   "predict",
		Usage:  "Score one feature row with the local artifact set",
		Action: cmdPredict,
		Flags: []cli.Flag{
			rowFileFlag(),
		},
	}
}

func explainCmd() *cli.Command {
	return &cli.Command{
		Name:   "explain",
		Usage:  "Print or chart the feature attributions of one row",
		Action: cmdExplain,
		Flags: []cli.Flag{
			rowFileFlag(),
			&cli.StringFlag{
				Name:  flagChart,
				Usage: "Write the attribution chart to this PNG file instead of printing the table",
			},
			&cli.StringFlag{
				Name:  flagForme,
				Usage: "Chart style [waterfall, bar]",
				Value: string(chart.StyleWaterfall),
			},
		},
	}
}

func cmdPredict(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)

	row, err := readRowFile(cmd, cmd.String(flagFile))
	if err != nil {
		return err
	}

	svc, err := loadService(ctx, cfg.Config)
	if err != nil {
		return err
	}

	p, err := svc.Predict(row)
	if err != nil {
		return fmt.Errorf("predicting: %w", err)
	}

	return encode(writer(cmd), cfg.Format, p)
}

func cmdExplain(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)

	row, err := readRowFile(cmd, cmd.String(flagFile))
	if err != nil {
		return err
	}

	svc, err := loadService(ctx, cfg.Config)
	if err != nil {
		return err
	}

	exp, err := svc.Explain(row)
	if err != nil {
		return fmt.Errorf("explaining: %w", err)
	}

	out := cmd.String(flagChart)
	if out == "" {
		return encode(writer(cmd), cfg.Format, exp)
	}

	style := chart.ParseStyle(cmd.String(flagForme))
	var buf bytes.Buffer
	if err := chart.Render(&buf, style, exp.BaseValue, toBars(exp.Attributions)); err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing chart %s: %w", out, err)
	}
	slog.Info("chart written", "path", out, "style", style)
	return nil
}

func readRowFile(cmd *cli.Command, path string) (features.Row, error) {
	var (
		b   []byte
		err error
	)
	if path == stdinPath {
		b, err = io.ReadAll(reader(cmd))
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading row %s: %w", path, err)
	}
	return readRow(b)
}

// readRow accepts the request body shape ({"data": row}) or the bare row.
func readRow(b []byte) (features.Row, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err == nil {
		if _, ok := probe["data"]; ok && len(probe) == 1 {
			return scoring.DecodeRequest(bytes.NewReader(b))
		}
	}
	row, err := features.ParseRow(b)
	if err != nil {
		return nil, fmt.Errorf("parsing row: %w", err)
	}
	return row, nil
}
