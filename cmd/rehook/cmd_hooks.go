package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/mbeema/rehook/pkg/activation"
	"github.com/mbeema/rehook/pkg/control"
	"github.com/mbeema/rehook/pkg/hook"
)

// hookSetter is the part of control.Client the set and status commands use.
type hookSetter interface {
	Set(ctx context.Context, set, value string) (*control.Response, error)
	Status(ctx context.Context, set string) (*control.Response, error)
}

func init() {
	for _, set := range []string{hook.SetMinimal, hook.SetTarget} {
		rootCmd.AddCommand(newSetCmd(set), newStatusCmd(set))
	}
}

func other(set string) string {
	if set == hook.SetMinimal {
		return hook.SetTarget
	}
	return hook.SetMinimal
}

func newSetCmd(set string) *cobra.Command {
	return &cobra.Command{
		Use:     set + " <0|1|help>",
		Aliases: []string{"rehook_" + set},
		Short:   fmt.Sprintf("Enable (1) or disable (0) the %s syscall hooks", set),
		Long: fmt.Sprintf(`%s syscall hooks command.

  help    Print this help message.
  1       Enable %s syscall hooks.
  0       Disable %s syscall hooks.

Note: Cannot enable while %s hooks are enabled.
See also: rehook %s-status`, title(set), set, set, other(set), set),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && args[0] == "help" {
				return cmd.Help()
			}
			if len(args) != 1 || (args[0] != "0" && args[0] != "1") {
				fmt.Fprintf(cmd.ErrOrStderr(), "Try `rehook %s help' for more information.\n", set)
				return commandExit(int(unix.EINVAL))
			}
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			return runSet(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), c, set, args[0])
		},
	}
}

func newStatusCmd(set string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     set + "-status [help]",
		Aliases: []string{"rehook_" + set + "_status"},
		Short:   fmt.Sprintf("Check %s syscall hooks status", set),
		Long: fmt.Sprintf(`Check %s syscall hooks status.

  help    Print this help message.

Prints "enabled" or "disabled". With --from-file the state is read from the
daemon's state file instead of the control socket, which needs no token.`, set),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && args[0] == "help" {
				return cmd.Help()
			}
			if len(args) != 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "Try `rehook %s-status help' for more information.\n", set)
				return commandExit(int(unix.EINVAL))
			}

			if fromFile, _ := cmd.Flags().GetBool("from-file"); fromFile {
				cfg, _, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				return runStatusFromFile(cmd.OutOrStdout(), cfg.StateDir, set)
			}

			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), c, set)
		},
	}
	cmd.Flags().Bool("from-file", false, "read the state file instead of asking the daemon")
	return cmd
}

// runSet sends one set request and prints the outcome. A failed request
// returns an exitCodeError carrying the errno magnitude.
func runSet(ctx context.Context, stdout, stderr io.Writer, c hookSetter, set, value string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := c.Set(ctx, set, value)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		var remote *control.RemoteError
		if errors.As(err, &remote) && remote.Errno() == unix.EBUSY && resp.Active != "" {
			fmt.Fprintln(stdout, resp.Message)
			fmt.Fprintf(stdout, "Please disable %s hooks first: rehook %s 0\n", resp.Active, resp.Active)
		} else {
			fmt.Fprintf(stderr, "Error: %s (%d)\n", resp.Message, resp.Code)
		}
		return commandExit(exitCodeFor(err))
	}
	fmt.Fprintln(stdout, resp.Message)
	return nil
}

func runStatus(ctx context.Context, stdout, stderr io.Writer, c hookSetter, set string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := c.Status(ctx, set)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		fmt.Fprintf(stderr, "Error getting current status: %s (%d)\n", resp.Message, resp.Code)
		return commandExit(exitCodeFor(err))
	}
	fmt.Fprintln(stdout, resp.Message)
	return nil
}

func runStatusFromFile(stdout io.Writer, stateDir, set string) error {
	state, err := activation.ReadStateFile(stateDir)
	if err != nil {
		return fmt.Errorf("daemon not running or state unreadable: %w", err)
	}
	on := "disabled"
	if state.Set() == set {
		on = "enabled"
	}
	fmt.Fprintf(stdout, "%s syscall hooks: %s\n", title(set), on)
	return nil
}

func title(set string) string {
	if set == "" {
		return set
	}
	return strings.ToUpper(set[:1]) + set[1:]
}
