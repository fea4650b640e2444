package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatsession/internal/app"
	"github.com/nfrund/chatsession/internal/config"
)

var (
	baseURLFlag     string
	displayNameFlag string
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Chat session client",
	Long: `chatctl connects to a chat backend and drives one chat session from the terminal.

Configuration comes from the environment (CHAT_*, LOG_*) and an optional .env file.
Flags override the matching variables.

Use "chatctl [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURLFlag, "base-url", "", "Backend base URL (overrides CHAT_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&displayNameFlag, "name", "", "Display name used when requesting a token (overrides CHAT_DISPLAY_NAME)")
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*config.Config, error) {
	if baseURLFlag != "" {
		os.Setenv("CHAT_BASE_URL", baseURLFlag)
	}
	if displayNameFlag != "" {
		os.Setenv("CHAT_DISPLAY_NAME", displayNameFlag)
	}
	return config.Load()
}

// newContainer builds the object graph for a command.
func newContainer() (*app.Container, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return app.New(cfg), cfg, nil
}
