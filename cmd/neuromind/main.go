package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mlexpertio/neuromind/internal/cli"
	"github.com/mlexpertio/neuromind/internal/config"
	"github.com/mlexpertio/neuromind/internal/logger"
	"github.com/mlexpertio/neuromind/internal/transport"
)

func main() {
	root := &cobra.Command{
		Use:          "neuromind",
		Short:        "neuromind: chat with persona-scoped threads",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			color, width := terminal()
			thread, _ := cmd.Flags().GetString("thread")
			if thread == "" {
				thread = cfg.DefaultThread
			}
			repl := cli.New(client, os.Stdin, os.Stdout, cli.Options{
				DefaultThread:  thread,
				DefaultPersona: cfg.Personas.Default,
				Color:          color,
				Width:          width,
			})
			return repl.Run(ctx)
		},
	}

	root.PersistentFlags().String("config", "", "config file (default neuromind.yaml in . or $APP_HOME)")
	root.PersistentFlags().String("server", "", "server URL (overrides client.server_url)")
	root.PersistentFlags().String("transport", "", "chat stream transport: sse or ws")
	root.Flags().String("thread", "", "thread to open (default from config)")

	root.AddCommand(
		threadsCmd(),
		historyCmd(),
		healthCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (*config.Config, *transport.Client, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath = config.FindFile()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if v, _ := cmd.Flags().GetString("server"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v, _ := cmd.Flags().GetString("transport"); v != "" {
		cfg.Client.Transport = v
	}
	// The REPL owns stdout; only warnings reach stderr.
	if err := logger.Init("warn", cfg.Logging.Format, cfg.Logging.File); err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	client := transport.NewClient(cfg.Client.ServerURL, cfg.Client.Timeout, cfg.Client.Transport)
	return cfg, client, nil
}

func terminal() (color bool, width int) {
	width = 80
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return false, width
	}
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		width = w
	}
	return true, width
}

func threadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List threads with their persona and message count",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := setup(cmd)
			if err != nil {
				return err
			}
			threads, err := client.ListThreads(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(cli.FormatThreads(threads, ""))
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <thread>",
		Short: "Print a thread's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := setup(cmd)
			if err != nil {
				return err
			}
			msgs, err := client.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			md := cli.HistoryMarkdown(args[0], msgs)
			if raw, _ := cmd.Flags().GetBool("raw"); raw {
				fmt.Print(md)
				return nil
			}
			color, width := terminal()
			fmt.Print(cli.RenderMarkdown(md, width, color))
			return nil
		},
	}
	cmd.Flags().Bool("raw", false, "print markdown without rendering")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the server and show the configured model",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := setup(cmd)
			if err != nil {
				return err
			}
			h, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("status: %s\nmodel:  %s\n", h.Status, h.Model)
			return nil
		},
	}
}
