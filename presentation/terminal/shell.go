package terminal

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"screenfill/infrastructure/record"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func shellCommand(o *rootOptions, logger *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Keep the desktop open and run tasks typed at a prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.open(cmd, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Shell(cmd, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// Shell reads "<task> <record file>" lines until quit or end of input. A
// failed task is reported and the prompt continues.
func (a *App) Shell(cmd *cobra.Command, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "screenfill shell")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out, "Enter '<task> <record file>', 'tasks', or 'quit' to exit")
	fmt.Fprintln(out)

	for {
		fmt.Fprint(out, "> ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "quit", "exit", "q":
			fmt.Fprintln(out, "Bye")
			return nil
		case "tasks":
			for _, t := range a.Site.Tasks() {
				fmt.Fprintln(out, " ", t)
			}
			continue
		}

		parts := strings.Fields(input)
		if len(parts) != 2 {
			fmt.Fprintln(out, "usage: <task> <record file>")
			continue
		}
		rec, err := record.Load(parts[1])
		if err != nil {
			fmt.Fprintf(out, "\nCannot read record: %v\n\n", err)
			continue
		}

		fmt.Fprintf(out, "\nRunning task: %s\n\n", parts[0])
		result, err := a.Orchestrator.RunTask(cmd.Context(), parts[0], rec)
		if err != nil {
			fmt.Fprintf(out, "\nTask failed (run %s): %v\n\n", result.ID, err)
			continue
		}
		fmt.Fprintf(out, "\nTask completed (run %s)\n\n", result.ID)
	}
}
