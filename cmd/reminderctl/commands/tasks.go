package commands

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/benvon/smart-reminder/internal/models"
	"github.com/benvon/smart-reminder/internal/services/nlp"
	"github.com/benvon/smart-reminder/internal/services/tasks"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewParseCmd creates the parse command
func NewParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <text>",
		Short: "Show how text would be resolved",
		Long:  "Resolve text into a description, dates and an optional time without storing anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.close()

			debug, _ := cmd.Flags().GetBool("debug")
			intent := e.resolver(debug).Resolve(cmd.Context(), strings.Join(args, " "), nil)
			fmt.Fprint(cmd.OutOrStdout(), nlp.FormatIntent(intent))
			return nil
		},
	}
}

// NewAddCmd creates the add command
func NewAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <text>",
		Short: "Add a task",
		Long:  "Add one task per resolved date. Reminders are stored pending and armed by the server.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()

			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.AddTask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, added := range res.Tasks {
				status := "exists "
				if added.Created {
					status = "created"
				}
				fmt.Fprintf(out, "%s %s  %s  %s\n", status, added.Task.ID, added.Task.Date, added.Task.Description)
				for _, r := range added.Reminders {
					fmt.Fprintf(out, "        reminder at %s\n", r.FireAt.In(e.cfg.Location).Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Long:  "List pending tasks ordered by date, or every task with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()

			list, err := e.store.ListTasks(cmd.Context(), all)
			if err != nil {
				return fmt.Errorf("failed to list tasks: %w", err)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
				return nil
			}
			return printTasks(cmd, list)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include completed tasks")
	return cmd
}

func printTasks(cmd *cobra.Command, list []*models.Task) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTIME\tDONE\tDESCRIPTION")
	for _, t := range list {
		at := "-"
		if t.ExactTime != nil {
			at = t.ExactTime.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", t.ID, t.Date, at, t.Completed, t.Description)
	}
	return w.Flush()
}

// NewDoneCmd creates the done command
func NewDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task done",
		Long:  "Mark a task completed and cancel its unfired reminders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			e, err := loadEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()

			svc, err := e.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.MarkDone(cmd.Context(), id)
			if errors.Is(err, tasks.ErrTaskNotFound) {
				return fmt.Errorf("task %s not found", id)
			}
			if err != nil {
				return err
			}
			if res.AlreadyDone {
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s was already done\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s done, %d reminder(s) cancelled\n", id, res.Cancelled)
			return nil
		},
	}
}

// NewPendingCmd creates the pending command
func NewPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List unfired reminders",
		Long:  "List pending and scheduled reminders ordered by fire time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, true)
			if err != nil {
				return err
			}
			defer e.close()

			reminders, err := e.store.ListUnfiredReminders(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list reminders: %w", err)
			}
			if len(reminders) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending reminders")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REMINDER\tTASK\tFIRE AT\tSTATE\tATTEMPTS")
			for _, r := range reminders {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.TaskID, r.FireAt.In(e.cfg.Location).Format(time.RFC3339), r.State, r.Attempts)
			}
			return w.Flush()
		},
	}
}
