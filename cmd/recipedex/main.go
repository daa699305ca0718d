package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/config"
	logpkg "github.com/kailas-cloud/recipedex/internal/logger"
	"github.com/kailas-cloud/recipedex/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "recipedex:", err)
		os.Exit(1)
	}
}

// cliState carries what Before prepares for the commands.
type cliState struct {
	env    string
	cfg    config.Config
	logger *zap.Logger
}

func newApp() *cli.App {
	st := &cliState{}
	return &cli.App{
		Name:    "recipedex",
		Usage:   "Rank catalog recipes against a free-text request with nutrition constraints",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Environment; selects config/<env>.yaml (local, dev, docker, prod)",
				EnvVars: []string{"ENV"},
				Value:   "local",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a config file; overrides --env lookup",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
		},
		Before: st.setup,
		After:  st.teardown,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: st.serveCommand,
			},
			{
				Name:   "retrieve",
				Usage:  "Rank recipes for a message",
				Action: st.retrieveCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "constraint",
						Aliases: []string{"C"},
						Usage:   "Nutrition constraint as kind=value, e.g. max_kcal=600 (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:    "pref",
						Aliases: []string{"p"},
						Usage:   "Dietary preference flag: vegan, vegetarian, no_pork, gluten_free, lactose_free",
					},
					&cli.StringSliceFlag{
						Name:  "cuisine",
						Usage: "Restrict to recipes tagged with this cuisine (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "require",
						Usage: "Ingredient that must appear in the recipe (repeatable)",
					},
					&cli.IntFlag{
						Name:  "servings",
						Usage: "Number of servings",
					},
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of results; 0 uses the configured default",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the response as JSON",
					},
				},
			},
			{
				Name:   "index",
				Usage:  "Embed every catalog recipe that has no fresh cache entry",
				Action: st.indexCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Recompute every embedding",
					},
				},
			},
			{
				Name:      "refresh",
				Usage:     "Recompute the embedding of one recipe",
				ArgsUsage: "<recipe-id>",
				Action:    st.refreshCommand,
			},
			{
				Name:      "forget",
				Usage:     "Drop the cached embedding of one recipe",
				ArgsUsage: "<recipe-id>",
				Action:    st.forgetCommand,
			},
			{
				Name:   "clear",
				Usage:  "Remove every cached embedding",
				Action: st.clearCommand,
			},
			{
				Name:   "count",
				Usage:  "Print the number of cached recipe embeddings",
				Action: st.countCommand,
			},
		},
	}
}

func (st *cliState) setup(c *cli.Context) error {
	st.env = c.String("env")

	var err error
	if path := c.String("config"); path != "" {
		st.cfg, err = config.LoadFile(path)
	} else {
		st.cfg, err = config.Load(st.env)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := st.cfg.Logging.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	st.logger, err = logpkg.NewLogger(st.env, level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

func (st *cliState) teardown(_ *cli.Context) error {
	if st.logger != nil {
		_ = st.logger.Sync()
	}
	return nil
}
