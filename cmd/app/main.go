package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/xhsdl/internal"
	"github.com/starford/xhsdl/internal/apperr"
	pkgconfig "github.com/starford/xhsdl/pkg/config"
)

var version = "dev"

func openApp(cmd *cli.Command) (*internal.App, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	app, err := internal.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("app init error: %w", err)
	}
	return app, nil
}

// shareText joins the positional arguments, or reads stdin when there are
// none and it is not a terminal.
func shareText(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() > 0 {
		return strings.Join(cmd.Args().Slice(), " "), nil
	}
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return "", fmt.Errorf("%w: share text required as argument or on stdin", apperr.ErrInvalidInput)
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Print the result as JSON"}
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func collect(ctx context.Context, cmd *cli.Command) error {
	text, err := shareText(cmd)
	if err != nil {
		return err
	}
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	media, err := app.Pipeline.Collect(ctx, text)
	if err != nil {
		return err
	}
	return printJSON(stdout(cmd), media)
}

func download(ctx context.Context, cmd *cli.Command) error {
	text, err := shareText(cmd)
	if err != nil {
		return err
	}
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	out := stdout(cmd)
	res, err := app.Download(ctx, text, out)
	if errors.Is(err, apperr.ErrNoMediaFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return printJSON(out, res)
	}
	return nil
}

func describe(ctx context.Context, cmd *cli.Command) error {
	text, err := shareText(cmd)
	if err != nil {
		return err
	}
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	desc, err := app.Pipeline.Describe(ctx, text)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout(cmd), desc)
	return err
}

func history(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	entries, total, err := app.Ledger.List(ctx, int(cmd.Int("limit")), int(cmd.Int("offset")))
	if err != nil {
		return err
	}
	out := stdout(cmd)
	if cmd.Bool("json") {
		return printJSON(out, map[string]any{"total": total, "entries": entries})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SAVED\tTYPE\tPOST\tPATH\tTITLE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.SavedAt.Local().Format("2006-01-02 15:04"), e.MediaType, e.PostID, e.LibraryPath, e.Title)
	}
	fmt.Fprintf(tw, "\n%d of %d\n", len(entries), total)
	return tw.Flush()
}

func prefsShow(_ context.Context, cmd *cli.Command) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	return printJSON(stdout(cmd), app.Prefs.Current())
}

func prefsSet(_ context.Context, cmd *cli.Command) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	p := app.Prefs.Current()
	if cmd.IsSet("enabled") {
		p.Enabled = cmd.Bool("enabled")
	}
	if cmd.IsSet("template") {
		p.Template = cmd.String("template")
	}
	if err := app.Prefs.Set(p); err != nil {
		return err
	}
	return printJSON(stdout(cmd), app.Prefs.Current())
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.ServeMCP(ctx); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "xhsdl",
		Usage:   "Save images and videos from Xiaohongshu share text into a local media library",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "collect",
				Usage:     "List the media the share text links to without downloading",
				ArgsUsage: "[share text]",
				Action:    collect,
			},
			{
				Name:      "download",
				Usage:     "Download every image and video the share text links to",
				ArgsUsage: "[share text]",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    download,
			},
			{
				Name:      "describe",
				Usage:     "Print the note descriptions the share text links to",
				ArgsUsage: "[share text]",
				Action:    describe,
			},
			{
				Name:  "history",
				Usage: "List previously saved media",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum entries to show"},
					&cli.IntFlag{Name: "offset", Usage: "Entries to skip"},
					jsonFlag(),
				},
				Action: history,
			},
			{
				Name:  "prefs",
				Usage: "Show or change file naming preferences",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Print the current preferences",
						Action: prefsShow,
					},
					{
						Name:  "set",
						Usage: "Update the preferences",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "enabled", Usage: "Use the naming template"},
							&cli.StringFlag{Name: "template", Usage: "Naming template, e.g. {username}_{title}_{index}"},
						},
						Action: prefsSet,
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the pipeline as MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
