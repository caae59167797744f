package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/osvaldoandrade/reportq/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

type taskView struct {
	Task  *domain.Task      `json:"task"`
	State *domain.TaskState `json:"state"`
}

func withSpinner(suffix string, fn func() error) error {
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = " " + suffix
	spin.Start()
	defer spin.Stop()
	return fn()
}

func submitCmd(g *globals, ui *ui) *cobra.Command {
	var (
		key, branch, name string
		wait              bool
		timeout           time.Duration
	)
	cmd := &cobra.Command{
		Use:     "submit <report.zip>",
		Short:   "Submit an analysis report",
		Example: "reportq submit build/report.zip --key acme:api --branch main --wait",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(key) == "" {
				return errors.New("--key is required")
			}
			c := g.client()
			out, err := c.uploadReport(args[0], map[string]string{"subjectKey": key, "branch": branch, "name": name})
			if err != nil {
				return err
			}
			fmt.Printf("%s Report accepted: task %s (subject %s)\n", ui.ok("[OK]"), out.TaskID, out.SubjectID)
			if !wait {
				return nil
			}
			return waitAndPrint(c, out.TaskID, timeout, ui)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Subject key")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch (empty for the main branch)")
	cmd.Flags().StringVar(&name, "name", "", "Subject display name when it gets created")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the task finishes")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time to wait")
	return cmd
}

func exportCmd(g *globals, ui *ui) *cobra.Command {
	var (
		key, branch string
		wait        bool
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Request a subject export dump",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(key) == "" {
				return errors.New("--key is required")
			}
			c := g.client()
			var out submitResp
			err := withSpinner("Requesting export...", func() error {
				return c.request(http.MethodPost, "/exports", c.token, map[string]string{"subjectKey": key, "branch": branch}, &out)
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s Export queued: task %s\n", ui.ok("[OK]"), out.TaskID)
			if !wait {
				return nil
			}
			return waitAndPrint(c, out.TaskID, timeout, ui)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Subject key")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the task finishes")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time to wait")
	return cmd
}

func taskCmd(g *globals, ui *ui) *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Task operations",
	}

	var (
		wait    bool
		timeout time.Duration
	)
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task and its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			if wait {
				return waitAndPrint(c, args[0], timeout, ui)
			}
			var view taskView
			err := withSpinner("Fetching task...", func() error {
				return c.request(http.MethodGet, "/tasks/"+url.PathEscape(args[0]), c.token, nil, &view)
			})
			if err != nil {
				return err
			}
			printTask(view, ui)
			return nil
		},
	}
	get.Flags().BoolVar(&wait, "wait", false, "Poll until the task finishes")
	get.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time to wait")

	var (
		before string
		limit  int
	)
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove finished tasks and their payloads (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if before != "" {
				if _, err := time.Parse(time.RFC3339, before); err != nil {
					return fmt.Errorf("--before must be RFC3339: %w", err)
				}
				body["before"] = before
			}
			if limit > 0 {
				body["limit"] = limit
			}
			c := g.client()
			var out struct {
				Deleted       []string `json:"deleted"`
				PayloadErrors int      `json:"payloadErrors"`
			}
			err := withSpinner("Cleaning up...", func() error {
				return c.request(http.MethodPost, "/admin/tasks/cleanup", c.adminToken, body, &out)
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s Removed %d tasks\n", ui.ok("[OK]"), len(out.Deleted))
			if out.PayloadErrors > 0 {
				fmt.Printf("%s %d payloads could not be removed\n", ui.warn("[WARN]"), out.PayloadErrors)
			}
			return nil
		},
	}
	cleanup.Flags().StringVar(&before, "before", "", "Finished before this RFC3339 time (default: server retention)")
	cleanup.Flags().IntVar(&limit, "limit", 0, "Maximum tasks to remove")

	task.AddCommand(get, cleanup)
	return task
}

// waitTask polls the task until it reaches a final status or timeout elapses.
func waitTask(c *client, id string, timeout, interval time.Duration) (taskView, error) {
	deadline := time.Now().Add(timeout)
	for {
		var view taskView
		if err := c.request(http.MethodGet, "/tasks/"+url.PathEscape(id), c.token, nil, &view); err != nil {
			return view, err
		}
		if view.State != nil && view.State.Status.Terminal() {
			return view, nil
		}
		if time.Now().After(deadline) {
			return view, fmt.Errorf("task %s did not finish within %s", id, timeout)
		}
		time.Sleep(interval)
	}
}

func waitAndPrint(c *client, id string, timeout time.Duration, ui *ui) error {
	var view taskView
	err := withSpinner("Waiting for task "+id+"...", func() error {
		var err error
		view, err = waitTask(c, id, timeout, time.Second)
		return err
	})
	if err != nil {
		return err
	}
	printTask(view, ui)
	if view.State.Status == domain.StatusFailed {
		return fmt.Errorf("task %s failed", id)
	}
	return nil
}

func printTask(view taskView, ui *ui) {
	if view.Task != nil {
		fmt.Printf("%s %s %s\n", ui.title(view.Task.ID), view.Task.Kind, ui.dim("subject "+view.Task.SubjectID))
	}
	st := view.State
	if st == nil {
		return
	}
	status := string(st.Status)
	switch st.Status {
	case domain.StatusSuccess:
		status = ui.ok(status)
	case domain.StatusFailed:
		status = ui.err(status)
	default:
		status = ui.info(status)
	}
	fmt.Printf("status: %s\n", status)
	if st.FailedStep != "" {
		fmt.Printf("failed step: %s\n", ui.warn(st.FailedStep))
	}
	if st.Error != "" {
		fmt.Printf("error: %s\n", st.Error)
	}
	for _, s := range st.Steps {
		fmt.Printf("  %-40s %s\n", s.Step, ui.dim(fmt.Sprintf("%dms", s.ElapsedMillis)))
	}
}

func stepsCmd(g *globals, ui *ui) *cobra.Command {
	steps := &cobra.Command{
		Use:   "steps",
		Short: "Inspect step pipelines (admin)",
	}
	var kind string
	fetch := func() (stepsResp, error) {
		c := g.client()
		var out stepsResp
		err := withSpinner("Resolving steps...", func() error {
			return c.request(http.MethodGet, "/admin/steps/"+url.PathEscape(kind), c.adminToken, nil, &out)
		})
		return out, err
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the steps of a task kind in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := fetch()
			if err != nil {
				return err
			}
			fmt.Printf("%s (%d steps)\n", ui.title(out.Kind), len(out.Steps))
			for _, s := range out.Steps {
				fmt.Printf("  %2d. %s\n", s.Index+1, s.Type)
			}
			return nil
		},
	}
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Resolve every step against a scratch container",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := fetch()
			if err != nil {
				return err
			}
			if out.Verified {
				fmt.Printf("%s %s: all %d steps resolve\n", ui.ok("[OK]"), out.Kind, len(out.Steps))
				return nil
			}
			for _, e := range out.Errors {
				fmt.Printf("%s %s\n", ui.err("[FAIL]"), e)
			}
			return fmt.Errorf("%d steps of %s do not resolve", len(out.Errors), out.Kind)
		},
	}
	for _, c := range []*cobra.Command{list, verify} {
		c.Flags().StringVar(&kind, "kind", string(domain.KindAnalysisReport), "Task kind")
	}
	steps.AddCommand(list, verify)
	return steps
}

type stepsResp struct {
	Kind  string `json:"kind"`
	Steps []struct {
		Index int    `json:"index"`
		Type  string `json:"type"`
	} `json:"steps"`
	Verified bool     `json:"verified"`
	Errors   []string `json:"errors"`
}

func storeCmd(g *globals, ui *ui) *cobra.Command {
	store := &cobra.Command{
		Use:   "store",
		Short: "Manage staged report payloads (admin)",
	}

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List staged payload ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			var out struct {
				IDs   []string `json:"ids"`
				Count int      `json:"count"`
			}
			if err := c.request(http.MethodGet, "/admin/reports", c.adminToken, nil, &out); err != nil {
				return err
			}
			for _, id := range out.IDs {
				fmt.Println(id)
			}
			fmt.Println(ui.dim(fmt.Sprintf("%d staged", out.Count)))
			return nil
		},
	}
	rm := &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete staged payloads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			for _, id := range args {
				if err := c.request(http.MethodDelete, "/admin/reports/"+url.PathEscape(id), c.adminToken, nil, nil); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Printf("%s removed %s\n", ui.ok("[OK]"), id)
			}
			return nil
		},
	}
	var yes bool
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every staged payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("purge removes every staged payload; pass --yes to confirm")
			}
			c := g.client()
			if err := c.request(http.MethodDelete, "/admin/reports", c.adminToken, nil, nil); err != nil {
				return err
			}
			fmt.Printf("%s Staging area cleared\n", ui.ok("[OK]"))
			return nil
		},
	}
	purge.Flags().BoolVar(&yes, "yes", false, "Confirm")

	store.AddCommand(ls, rm, purge)
	return store
}

func queueCmd(g *globals, ui *ui) *cobra.Command {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth per task kind (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			var out struct {
				Queues []domain.QueueStats `json:"queues"`
			}
			err := withSpinner("Inspecting queues...", func() error {
				return c.request(http.MethodGet, "/admin/queues/stats", c.adminToken, nil, &out)
			})
			if err != nil {
				return err
			}
			for _, q := range out.Queues {
				fmt.Printf("%-16s %s: %d | %s: %d | %s: %d\n", q.Kind,
					ui.warn("PENDING"), q.Pending,
					ui.info("IN_PROGRESS"), q.InProgress,
					ui.ok("FINISHED"), q.Finished,
				)
			}
			return nil
		},
	}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue operations",
	}
	cmd.AddCommand(stats)
	return cmd
}
