// Command kscrashctl is a thin CLI wrapper around the kscrash library,
// following the teacher's cmd/wzprof convention of "one library, thin CLI
// binary": install the reporter (with its default sentries) in the
// kscrashctl process itself, inspect or prune an app's report store without
// installing anything, or install and trigger one synthetic event.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dispatchrun/kscrash"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var appName, installPath string

	root := &cobra.Command{
		Use:   "kscrashctl",
		Short: "Inspect and drive a kscrash installation from the command line",
	}
	root.PersistentFlags().StringVar(&appName, "app", "", "application name the install path was created under (required)")
	root.PersistentFlags().StringVar(&installPath, "path", "", "install path override (default: <UserCacheDir>/<app>)")

	root.AddCommand(
		newInstallCmd(&appName, &installPath),
		newReportsCmd(&appName, &installPath),
		newSimulateCmd(&appName, &installPath),
	)
	return root
}

func openStore(appName, installPath string) (*kscrash.ReportStore, error) {
	if appName == "" {
		return nil, fmt.Errorf("--app is required")
	}
	path := installPath
	if path == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, err
		}
		path = base + string(os.PathSeparator) + appName
	}
	return kscrash.NewReportStore(path+string(os.PathSeparator)+"reports", appName, 0)
}

func newInstallCmd(appName, installPath *string) *cobra.Command {
	var maxReports int
	var sigterm bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the crash reporter in this process and block until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *appName == "" {
				return fmt.Errorf("--app is required")
			}
			var opts []kscrash.Option
			if *installPath != "" {
				opts = append(opts, kscrash.WithInstallPath(*installPath))
			}
			opts = append(opts, kscrash.WithMaxReportCount(maxReports))
			if sigterm {
				opts = append(opts, kscrash.WithSIGTERM())
			}
			in, err := kscrash.Install(*appName, opts...)
			if err != nil {
				return err
			}
			defer in.Uninstall()
			fmt.Fprintf(cmd.OutOrStdout(), "kscrash installed for %q, reports under %s\n", *appName, filepath.Dir(in.Store().PathFor(0)))
			select {}
		},
	}
	cmd.Flags().IntVar(&maxReports, "max-reports", 100, "maximum retained report count")
	cmd.Flags().BoolVar(&sigterm, "sigterm", false, "treat SIGTERM as a fatal signal")
	return cmd
}

func newReportsCmd(appName, installPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List, read, or prune stored crash reports",
	}
	cmd.AddCommand(newReportsListCmd(appName, installPath))
	cmd.AddCommand(newReportsReadCmd(appName, installPath))
	cmd.AddCommand(newReportsPruneCmd(appName, installPath))
	return cmd
}

func newReportsListCmd(appName, installPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every retained report ID, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*appName, *installPath)
			if err != nil {
				return err
			}
			ids, err := store.List()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "%016x\n", id)
			}
			return nil
		},
	}
}

func newReportsReadCmd(appName, installPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Print one report as fixed-up JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*appName, *installPath)
			if err != nil {
				return err
			}
			var id uint64
			if _, err := fmt.Sscanf(args[0], "%x", &id); err != nil {
				return fmt.Errorf("malformed report id %q: %w", args[0], err)
			}
			doc, err := store.ReadReport(id)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(doc)
		},
	}
}

func newReportsPruneCmd(appName, installPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Prune the report store down to its configured maximum",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*appName, *installPath)
			if err != nil {
				return err
			}
			return store.Prune()
		},
	}
}

func newSimulateCmd(appName, installPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "simulate [signal|mach|nsexception|user]",
		Short:     "Install the reporter in this process and trigger one synthetic event",
		ValidArgs: []string{"signal", "mach", "nsexception", "user"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *appName == "" {
				return fmt.Errorf("--app is required")
			}
			var opts []kscrash.Option
			if *installPath != "" {
				opts = append(opts, kscrash.WithInstallPath(*installPath))
			}
			in, err := kscrash.Install(*appName, opts...)
			if err != nil {
				return err
			}
			defer in.Uninstall()

			switch args[0] {
			case "user":
				in.Simulate("simulated via kscrashctl")
			case "signal":
				return syscall.Kill(os.Getpid(), syscall.SIGILL) // caught by the signal sentry
			case "mach":
				var p *int
				_ = *p // deliberate nil dereference: EXC_BAD_ACCESS, caught by the Mach sentry
			case "nsexception":
				in.Protect(func() { panic("kscrashctl simulate nsexception") })
			}
			return nil
		},
	}
}
