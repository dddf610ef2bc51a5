package terminal

import (
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"os"
	"strings"

	"screenfill/infrastructure/config"
	"screenfill/infrastructure/record"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile   string
	config    string
	backend   string
	targetURL string
	verbose   bool
}

// settings resolves environment, .env and flags, flags winning.
func (o *rootOptions) settings(cmd *cobra.Command, logger *logrus.Logger) (config.Settings, error) {
	if o.envFile != "" {
		config.LoadEnv(logger, o.envFile)
	} else {
		config.LoadEnv(logger)
	}
	s, err := config.FromEnv()
	if err != nil {
		return s, err
	}
	if o.config != "" {
		s.ConfigPath = o.config
	}
	if o.backend != "" {
		s.Backend = o.backend
	}
	if cmd.Flags().Changed("target-url") {
		s.TargetURL = o.targetURL
	}
	if level, err := logrus.ParseLevel(s.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if o.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return s, s.Validate()
}

func (o *rootOptions) open(cmd *cobra.Command, logger *logrus.Logger) (*App, error) {
	s, err := o.settings(cmd, logger)
	if err != nil {
		return nil, err
	}
	return Build(cmd.Context(), s, logger)
}

// NewRootCommand returns the screenfill command tree.
func NewRootCommand(logger *logrus.Logger) *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:   "screenfill",
		Short: "Enter records into a web application through screen pixels and synthetic input",
		Long: `screenfill drives a fixed third-party web application the way a person would:
it finds fields by matching reference snippets against screenshots and fills
them with mouse and keyboard events described by per-field recipes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.envFile, "env-file", "", "environment file to load (default .env)")
	pf.StringVarP(&o.config, "config", "c", "", "site description file (overrides SCREENFILL_CONFIG)")
	pf.StringVarP(&o.backend, "backend", "b", "", "desktop backend: playwright, selenium, cdp or sim")
	pf.StringVar(&o.targetURL, "target-url", "", "page opened at start; an image file for the sim backend")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		runTaskCommand(o, logger),
		runPageCommand(o, logger),
		locateCommand(o, logger),
		layoutCommand(o, logger),
		tasksCommand(o, logger),
		shellCommand(o, logger),
	)
	return root
}

func runTaskCommand(o *rootOptions, logger *logrus.Logger) *cobra.Command {
	var recordPath string
	cmd := &cobra.Command{
		Use:   "run-task <task>",
		Short: "Navigate to a task and fill all of its pages from a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := record.Load(recordPath)
			if err != nil {
				return err
			}
			app, err := o.open(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			result, runErr := app.Orchestrator.RunTask(cmd.Context(), args[0], rec)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&recordPath, "record", "r", "", "record file (YAML or JSON)")
	cmd.MarkFlagRequired("record")
	return cmd
}

func runPageCommand(o *rootOptions, logger *logrus.Logger) *cobra.Command {
	var recordPath string
	var fields []string
	cmd := &cobra.Command{
		Use:   "run-page <page>",
		Short: "Fill the page currently on screen",
		Long:  "Fill the page currently on screen. Fields default to the record's section for the page.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page := args[0]
			rec, err := record.Load(recordPath)
			if err != nil {
				return err
			}
			required := fields
			if len(required) == 0 {
				required = rec.Fields(page)
			}
			app, err := o.open(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			result, runErr := app.Orchestrator.RunPage(cmd.Context(), page, required, rec)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&recordPath, "record", "r", "", "record file (YAML or JSON)")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to fill, in any order")
	cmd.MarkFlagRequired("record")
	return cmd
}

func locateCommand(o *rootOptions, logger *logrus.Logger) *cobra.Command {
	var cropPath string
	var threshold float64
	cmd := &cobra.Command{
		Use:   "locate <page|general> <template>",
		Short: "Match one template against the current screen",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.open(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			page := args[0]
			if page == "general" {
				page = config.GeneralPage
			}
			tmpl, err := app.Site.Template(page, args[1])
			if err != nil {
				return err
			}
			if threshold <= 0 {
				threshold = app.Settings.MatchThreshold
			}
			capture, err := app.Locator.Capture(cmd.Context())
			if err != nil {
				return err
			}
			crop, res, err := app.Locator.Crop(tmpl, capture, threshold)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !res.Matched {
				fmt.Fprintf(out, "%s: not found (best score %.3f)\n", args[1], res.Score)
				return nil
			}
			fmt.Fprintf(out, "%s: matched at (%d,%d) score %.3f\n", args[1], res.X, res.Y, res.Score)
			if cropPath != "" {
				f, err := os.Create(cropPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := png.Encode(f, crop); err != nil {
					return fmt.Errorf("write crop: %w", err)
				}
				fmt.Fprintf(out, "crop written to %s\n", cropPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cropPath, "crop", "", "write the matched screen region to this PNG")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "match threshold (default SCREENFILL_MATCH_THRESHOLD)")
	return cmd
}

func layoutCommand(o *rootOptions, logger *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Pair visible labels with input widgets using the vision model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.open(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			assoc, err := app.Orchestrator.InferLayout(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range assoc {
				fmt.Fprintf(out, "%-30s %-10s (%d,%d)\n", a.Label, a.FieldType, a.X, a.Y)
			}
			return nil
		},
	}
}

func tasksCommand(o *rootOptions, logger *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the tasks of the site description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.settings(cmd, logger)
			if err != nil {
				return err
			}
			site, err := config.LoadSiteConfig(s.ConfigPath, logger)
			if err != nil {
				return err
			}
			for _, task := range site.Tasks() {
				pages, err := site.TaskPages(task)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", task, strings.Join(pages, " -> "))
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
