package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/cyberinferno/go-netserve/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "netserve",
		Short: "Framed TCP session server",
		Long: `netserve runs a framed TCP session server with a small demo protocol:
binary ping/pong and JSON chat broadcast. It also ships a client command
for poking at a running server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("log-level", "info", "Minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log output format (console, json)")

	rootCmd.AddCommand(
		serveCmd(),
		pingCmd(),
		chatCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the persistent flags.
func newLogger(cmd *cobra.Command) (logger.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", levelName, err)
	}

	switch format {
	case "console":
		return logger.NewConsoleLogger("netserve", os.Stderr, level), nil
	case "json":
		return logger.NewZerologLogger(zerolog.New(os.Stderr), "netserve", level), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version)
				return
			}

			fmt.Printf("  Version:    %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")

	return cmd
}
