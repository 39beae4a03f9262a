package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"intraday-trader/internal/operator"
)

type globalFlags struct {
	addr     string
	token    string
	operator string
	timeout  time.Duration
}

// newRootCmd creates the root command
func newRootCmd(out io.Writer) *cobra.Command {
	g := &globalFlags{}
	var c *client

	rootCmd := &cobra.Command{
		Use:   "traderctl",
		Short: "Operator commands for the intraday trader",
		Long: `traderctl talks to a running trader's operator HTTP API.
It can inspect status, pause or resume entries, change the trading mode,
flatten positions and trigger or clear emergency shutdown.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.operator == "" {
				g.operator = "operator"
			}
			c = newClient(g.addr, g.token, g.operator, g.timeout)
			return nil
		},
	}
	rootCmd.SetOut(out)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&g.addr, "addr", envOr("TRADER_ADDR", "http://localhost:9090"), "Operator API base URL")
	rootCmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("OPERATOR_TOKEN"), "Bearer token for control commands")
	rootCmd.PersistentFlags().StringVar(&g.operator, "operator", os.Getenv("USER"), "Operator name recorded with commands")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 90*time.Second, "Request timeout")

	getClient := func() *client { return c }

	rootCmd.AddCommand(newStatusCmd(getClient))
	rootCmd.AddCommand(newSimpleCmd(getClient, "pause", "Block new entries (exits keep running)"))
	rootCmd.AddCommand(newSimpleCmd(getClient, "resume", "Allow new entries again"))
	rootCmd.AddCommand(newSimpleCmd(getClient, "reset", "Clear emergency shutdown"))
	rootCmd.AddCommand(newModeCmd(getClient))
	rootCmd.AddCommand(newFlattenCmd(getClient))
	rootCmd.AddCommand(newShutdownCmd(getClient))

	return rootCmd
}

// newStatusCmd creates the status command
func newStatusCmd(getClient func() *client) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show trading state, ledger and open positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := getClient().status(cmd.Context())
			if err != nil {
				return err
			}
			if raw {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "Print the raw JSON response")
	return cmd
}

// newSimpleCmd creates a command that takes no arguments.
func newSimpleCmd(getClient func() *client, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getClient().command(cmd.Context(), name, operator.CommandRequest{})
			if err != nil {
				return err
			}
			printCommand(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

// newModeCmd creates the mode command
func newModeCmd(getClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:       "mode EQUITY|DERIVATIVE|BOTH",
		Short:     "Restrict which instrument classes receive new entries",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"EQUITY", "DERIVATIVE", "BOTH"},
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := getClient().command(cmd.Context(), "mode", operator.CommandRequest{Mode: strings.ToUpper(args[0])})
			if err != nil {
				return err
			}
			printCommand(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

// newFlattenCmd creates the flatten command
func newFlattenCmd(getClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "flatten [SYMBOL]",
		Short: "Close one position, or all positions when no symbol is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req operator.CommandRequest
			if len(args) == 1 {
				req.Symbol = strings.ToUpper(args[0])
			}
			resp, err := getClient().command(cmd.Context(), "flatten", req)
			if resp != nil {
				printCommand(cmd.OutOrStdout(), resp)
			}
			return err
		},
	}
}

// newShutdownCmd creates the shutdown command
func newShutdownCmd(getClient func() *client) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Trigger emergency shutdown and flatten every position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("emergency shutdown flattens every position; pass --yes to confirm")
			}
			resp, err := getClient().command(cmd.Context(), "shutdown", operator.CommandRequest{})
			if resp != nil {
				printCommand(cmd.OutOrStdout(), resp)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the emergency shutdown")
	return cmd
}

func printCommand(w io.Writer, resp *operator.CommandResponse) {
	state := "no change"
	if resp.Changed {
		state = "ok"
	}
	fmt.Fprintf(w, "%s: %s\n", resp.Command, state)
	for _, r := range resp.Results {
		line := fmt.Sprintf("  %-6s %-8s %-17s attempts=%d", r.Symbol, r.Action, r.Kind, r.Attempts)
		if r.Price != nil {
			line += fmt.Sprintf(" qty=%d price=%s", r.Quantity, r.Price.String())
		}
		if r.Realized != nil {
			line += " realized=" + r.Realized.StringFixed(2)
		}
		if r.Escalated {
			line += " ESCALATED"
		}
		if r.Error != "" {
			line += " error=" + r.Error
		}
		fmt.Fprintln(w, line)
	}
}

func printStatus(w io.Writer, s *operator.StatusResponse) {
	fmt.Fprintf(w, "Status:          %s (up %s)\n", s.Status, s.Uptime)
	fmt.Fprintf(w, "Loop phase:      %s (interval %s, window %s)\n", s.Loop.Phase, s.Loop.Interval, s.Loop.Window)
	if !s.Loop.LastTick.IsZero() {
		fmt.Fprintf(w, "Last tick:       %s\n", s.Loop.LastTick.Format(time.RFC3339))
	}
	if s.Loop.LastTickErr != "" {
		fmt.Fprintf(w, "Last tick error: %s\n", s.Loop.LastTickErr)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Mode:            %s\n", s.State.Mode)
	fmt.Fprintf(w, "Paused:          %t\n", s.State.Paused)
	fmt.Fprintf(w, "Market data:     %s\n", connected(s.State.MarketDataConnected))
	fmt.Fprintf(w, "News veto:       %t %s\n", s.State.NewsVeto, s.State.VetoReason)
	if s.State.Shutdown {
		fmt.Fprintf(w, "SHUTDOWN:        %s (at %s)\n", s.State.ShutdownReason, s.State.ShutdownAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Daily P&L:       %s (limit %s, exceeded=%t)\n",
		s.Ledger.DailyPnL.StringFixed(2), s.Ledger.DailyLossLimit.StringFixed(2), s.Ledger.DailyLimitExceeded)
	fmt.Fprintf(w, "Weekly P&L:      %s (limit %s, hit=%t, week of %s)\n",
		s.Ledger.WeeklyPnL.StringFixed(2), s.Ledger.WeeklyLossLimit.StringFixed(2), s.Ledger.WeeklyLimitHit, s.Ledger.WeekStart)
	fmt.Fprintln(w)

	if len(s.Open) == 0 {
		fmt.Fprintln(w, "Positions:       none")
	} else {
		fmt.Fprintln(w, "Positions:")
		for _, p := range s.Open {
			fmt.Fprintf(w, "  %-6s %6d @ %s  held %dm\n", p.Symbol, p.Quantity, p.EntryPrice.String(), p.AgeMinutes)
		}
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "WARNING: %s\n", warn)
	}
}

func connected(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
