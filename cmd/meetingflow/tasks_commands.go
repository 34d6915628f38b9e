package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"meetingflow/internal/config"
	"meetingflow/internal/store"
	"meetingflow/internal/tasks"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and update extracted tasks",
	}
	tasksCmd.AddCommand(newTasksListCommand(ctx))
	tasksCmd.AddCommand(newTasksSetStatusCommand(ctx))
	return tasksCmd
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var assignee string
	var fingerprint string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.TaskFilter{
				Assignee:    strings.TrimSpace(assignee),
				Fingerprint: strings.TrimSpace(fingerprint),
			}
			for _, value := range statuses {
				status, ok := tasks.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				list, err := st.ListTasks(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					if list == nil {
						list = []tasks.Task{}
					}
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Status", "Priority", "Assignee", "Due"},
					buildTaskRows(list),
					nil,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Filter by assignee name")
	cmd.Flags().StringVar(&fingerprint, "recording", "", "Filter by source recording fingerprint")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	return cmd
}

func buildTaskRows(list []tasks.Task) [][]string {
	rows := make([][]string, 0, len(list))
	for _, task := range list {
		rows = append(rows, []string{
			shortID(task.ID),
			truncate(task.Title, 60),
			string(task.Status),
			string(task.Priority),
			orDash(task.Assignee),
			orDash(task.DueDate()),
		})
	}
	return rows
}

func newTasksSetStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Move a task along its status graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, ok := tasks.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				id, err := resolveTaskID(cmd, st, args[0])
				if err != nil {
					return err
				}
				task, err := st.UpdateTaskStatus(cmd.Context(), id, status)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", task.Title, task.Status)
				if next := tasks.NextStatuses(task.Status); len(next) > 0 {
					names := make([]string, len(next))
					for i, s := range next {
						names[i] = string(s)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Next: %s\n", strings.Join(names, ", "))
				}
				return nil
			})
		},
	}
}

// resolveTaskID expands the short IDs printed by tasks list.
func resolveTaskID(cmd *cobra.Command, st *store.Store, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if task, err := st.GetTask(cmd.Context(), ref); err != nil {
		return "", err
	} else if task != nil {
		return task.ID, nil
	}
	list, err := st.ListTasks(cmd.Context(), store.TaskFilter{})
	if err != nil {
		return "", err
	}
	var match string
	for _, task := range list {
		if strings.HasPrefix(task.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("task id prefix %s is ambiguous", ref)
			}
			match = task.ID
		}
	}
	if match == "" {
		return ref, nil
	}
	return match, nil
}

func truncate(value string, width int) string {
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-1]) + "…"
}
