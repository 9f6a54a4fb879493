// Package main implements the taskctl CLI for the taskflow HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskflow/internal/tasks"
)

var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree writing results to out.
func newRootCmd(out io.Writer) *cobra.Command {
	var serverURL string
	api := func() *apiClient { return newAPIClient(serverURL) }

	root := &cobra.Command{
		Use:   "taskctl",
		Short: "CLI for the taskflow HTTP API",
		Long: `taskctl is a command-line interface for the taskflow daemon.
It creates tasks, clusters keyword pages, updates step progress and checks
server health.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9190", "taskflow server URL")

	root.AddCommand(
		newCreateCmd(api),
		newClusterCmd(api),
		newStepDoneCmd(api),
		newHealthCmd(api),
	)
	return root
}

func newCreateCmd(api func() *apiClient) *cobra.Command {
	var (
		in        tasks.CreateTaskInput
		steps     []string
		frequency string
		weekdays  []string
		endDate   string
		count     int
		file      string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task template, its steps and today's instance",
		Long: `Create a task template with ordered flow steps and a first instance.

Examples:
  # One-off task with two steps
  taskctl create --name Laundry --step Wash --step Dry

  # Weekly task on Monday and Thursday
  taskctl create --name Gym --repeat --frequency weekly --weekday monday --weekday thursday

  # Read the request body from a JSON file
  taskctl create --file task.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				in = tasks.CreateTaskInput{}
				if err := json.Unmarshal(data, &in); err != nil {
					return fmt.Errorf("failed to parse %s: %w", file, err)
				}
			} else {
				for _, s := range steps {
					in.Steps = append(in.Steps, tasks.StepInput{Name: s})
				}
				if in.IsRepeating && frequency != "" {
					in.Repeat = &tasks.RepeatOptions{
						Frequency: tasks.Frequency(frequency),
						EndDate:   endDate,
						Count:     count,
					}
					for _, w := range weekdays {
						in.Repeat.Weekdays = append(in.Repeat.Weekdays, tasks.Weekday(w))
					}
				}
			}
			if in.Date == "" {
				in.Date = time.Now().Format("2006-01-02")
			}

			res, err := api().createTask(cmd.Context(), in)
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "task name")
	f.StringVar(&in.Icon, "icon", "", "task icon")
	f.StringVar((*string)(&in.Color), "color", "", "task color")
	f.StringVar(&in.Date, "date", "", "instance date (YYYY-MM-DD, default today)")
	f.StringArrayVar(&steps, "step", nil, "flow step name (repeatable, in order)")
	f.BoolVar(&in.IsRepeating, "repeat", false, "create a repeating task")
	f.StringVar(&frequency, "frequency", "", "repeat frequency (daily, weekly, monthly)")
	f.StringArrayVar(&weekdays, "weekday", nil, "weekday for weekly repeats (repeatable)")
	f.StringVar(&endDate, "end-date", "", "last repeat date (YYYY-MM-DD)")
	f.IntVar(&count, "count", 0, "number of repeats")
	f.StringVar(&file, "file", "", "JSON request body file")
	return cmd
}

func newClusterCmd(api func() *apiClient) *cobra.Command {
	var locale string
	cmd := &cobra.Command{
		Use:   "cluster <query>",
		Short: "Cluster the keywords of pages whose title matches query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := api().cluster(cmd.Context(), args[0], locale)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "", "locale for error messages (e.g. en, ko)")
	return cmd
}

func newStepDoneCmd(api func() *apiClient) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "step-done <step-id>",
		Short: "Mark a flow step done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := api().setStepDone(cmd.Context(), args[0], !undo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Step %s done: %t\n", res.ID, res.Done)
			return nil
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark the step not done")
	return cmd
}

func newHealthCmd(api func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check taskflow server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := api().health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", res.Status)
			if res.Version != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", res.Version)
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
