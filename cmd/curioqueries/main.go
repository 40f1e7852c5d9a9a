package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"curioqueries/internal/config"
	"curioqueries/internal/logging"
	"curioqueries/internal/tui"
)

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("curioqueries: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "curioqueries",
		Usage: "Ask questions about your documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file (uses ./config.yaml or ~/.config/curioqueries/config.yaml if not provided)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); overrides the config",
			},
		},
		ArgsUsage: "[files...]",
		Action:    uiCommand,
		Commands: []*cli.Command{
			{
				Name:      "ui",
				Usage:     "Start the terminal UI, optionally uploading files",
				ArgsUsage: "[files...]",
				Action:    uiCommand,
			},
			{
				Name:      "ask",
				Usage:     "Print the ranked answers to a question",
				ArgsUsage: "files...",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "question",
						Aliases:  []string{"q"},
						Usage:    "Question to ask",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of answers to print (0 uses answers.top_k from the config)",
					},
				},
			},
			{
				Name:      "extract",
				Usage:     "Print the plain text extracted from files",
				ArgsUsage: "files...",
				Action:    extractCommand,
			},
			{
				Name:   "formats",
				Usage:  "List supported document formats",
				Action: formatsCommand,
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	var cfg *config.AppConfig
	var err error
	if path := c.String("config"); path == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

// setup loads config and builds the components. The TUI must not log to the terminal.
func setup(c *cli.Context, forTerminalUI bool) (*components, *zap.Logger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	var logger *zap.Logger
	if forTerminalUI {
		logger, err = logging.ForTerminalUI(cfg.Log.Level, cfg.Log.File)
	} else {
		logger, err = logging.New(cfg.Log.Level, cfg.Log.File)
	}
	if err != nil {
		return nil, nil, err
	}
	comps, err := build(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return comps, logger, nil
}

func uiCommand(c *cli.Context) error {
	comps, logger, err := setup(c, true)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer comps.close()

	m := tui.New(c.Context, comps.service, tui.Options{
		Files:   c.Args().Slice(),
		Formats: comps.registry.SupportedFormats(),
	})
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	return nil
}

func askCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("ask needs at least one file")
	}
	comps, logger, err := setup(c, false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer comps.close()

	docs, _, err := comps.service.Load(c.Context, c.Args().Slice())
	if err != nil {
		return err
	}
	question := c.String("question")
	answers, err := comps.service.Ask(c.Context, docs, question, c.Int("top-k"))
	if err != nil {
		return err
	}

	w := c.App.Writer
	if len(answers) == 0 {
		fmt.Fprintf(w, "No answer found for %q\n", strings.TrimSpace(question))
		return nil
	}
	for i, a := range answers {
		fmt.Fprintf(w, "%d. %s\n", i+1, a.Text)
		fmt.Fprintf(w, "   score %.4f  %s  bytes %d-%d\n", a.Score, a.DocumentName, a.Start, a.End)
	}
	return nil
}

func extractCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("extract needs at least one file")
	}
	comps, logger, err := setup(c, false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer comps.close()

	docs, _, err := comps.service.Load(c.Context, c.Args().Slice())
	if err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Fprintf(c.App.Writer, "== %s (%s) ==\n%s\n", d.Name, d.Format, d.Content)
	}
	return nil
}

func formatsCommand(c *cli.Context) error {
	for _, ext := range extractFormats() {
		fmt.Fprintln(c.App.Writer, ext)
	}
	return nil
}
