package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	server  string
	timeout time.Duration

	executor  string
	language  string
	input     string
	snippet   string
	timeLimit int
	memoryKB  int
	wait      bool
	limit     int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "sandboxctl",
		Short:         "CLI client for the codesandbox scheduler",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("SANDBOX_SERVER", "http://localhost:8080"), "Server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "HTTP request timeout")

	submitCmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Submit code for execution (reads stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts, args)
		},
	}
	submitCmd.Flags().StringVarP(&opts.executor, "executor", "e", os.Getenv("SANDBOX_EXECUTOR"), "Executor ID")
	submitCmd.Flags().StringVarP(&opts.language, "language", "l", "", "Language (python, cpp, javascript); detected from the file extension if empty")
	submitCmd.Flags().StringVar(&opts.input, "input", "", "Text passed to the program on stdin")
	submitCmd.Flags().StringVar(&opts.snippet, "snippet", "", "Snippet ID to record with the task")
	submitCmd.Flags().IntVar(&opts.timeLimit, "time-limit-ms", 0, "Per-task time limit override")
	submitCmd.Flags().IntVar(&opts.memoryKB, "memory-kb", 0, "Per-task memory limit override")
	submitCmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "Stream status until the task finishes")
	root.AddCommand(submitCmd)

	root.AddCommand(&cobra.Command{
		Use:   "get [task-id]",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, http.MethodGet, "/api/v1/tasks/"+args[0])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "cancel [task-id]",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, http.MethodPost, "/api/v1/tasks/"+args[0]+"/cancel")
		},
	})

	historyCmd := &cobra.Command{
		Use:   "history [executor-id]",
		Short: "List an executor's recent tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, http.MethodGet, "/api/v1/executors/"+args[0]+"/tasks?limit="+strconv.Itoa(opts.limit))
		},
	}
	historyCmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Number of tasks to show")
	root.AddCommand(historyCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRequest(cmd, opts, http.MethodGet, "/api/v1/health")
		},
	})

	return root
}

func runSubmit(cmd *cobra.Command, opts *options, args []string) error {
	if opts.executor == "" {
		return fmt.Errorf("--executor is required")
	}

	var code []byte
	var err error
	if len(args) > 0 {
		code, err = os.ReadFile(args[0])
	} else {
		code, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("reading code: %w", err)
	}

	lang := opts.language
	if lang == "" && len(args) > 0 {
		if lang = detectLanguage(args[0]); lang == "" {
			return fmt.Errorf("cannot detect language for %q, use --language", args[0])
		}
	}

	payload := map[string]any{
		"executor_id": opts.executor,
		"language":    lang,
		"code":        string(code),
		"input":       opts.input,
	}
	if opts.snippet != "" {
		payload["snippet_id"] = opts.snippet
	}
	if opts.timeLimit > 0 {
		payload["time_limit_ms"] = opts.timeLimit
	}
	if opts.memoryKB > 0 {
		payload["memory_limit_kb"] = opts.memoryKB
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c := newClient(opts.server, opts.timeout)
	result, err := c.do(ctx, http.MethodPost, "/api/v1/tasks", payload)
	if err != nil {
		return err
	}

	cached, _ := result["cached"].(bool)
	taskID, _ := result["task_id"].(string)
	if !opts.wait || cached || taskID == "" {
		return printJSON(cmd.OutOrStdout(), result)
	}

	final, err := c.watch(ctx, taskID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), final)
}

func runRequest(cmd *cobra.Command, opts *options, method, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := newClient(opts.server, opts.timeout).do(ctx, method, path, nil)
	if result != nil {
		_ = printJSON(cmd.OutOrStdout(), result)
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(formatted))
	return err
}

func detectLanguage(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] != '.' {
			continue
		}
		switch path[i:] {
		case ".py":
			return "python"
		case ".cpp", ".cc", ".cxx":
			return "cpp"
		case ".js", ".mjs":
			return "javascript"
		}
		return ""
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
