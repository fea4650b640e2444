package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/nfrund/chatsession/internal/middleware"
	"github.com/nfrund/chatsession/internal/view"
)

var (
	viewAddr  string
	viewPoll  time.Duration
	viewTitle string
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Serve a read-only transcript page",
	Long: `Join the chat and serve the transcript as an HTML page that refreshes itself
with htmx.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newContainer()
		if err != nil {
			return err
		}
		defer c.Close()

		deps, err := c.Dependencies()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := deps.Session.Start(ctx); err != nil {
			return err
		}

		e := echo.New()
		e.HideBanner = true
		e.Use(echomw.Recover())
		e.Use(middleware.Logger(deps.Logger))
		view.NewHandler(deps.Session, deps.Renderer, viewTitle, viewPoll).Register(e)

		errCh := make(chan error, 1)
		go func() {
			deps.Logger.Info("Serving transcript", "addr", viewAddr)
			errCh <- e.Start(viewAddr)
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)
	viewCmd.Flags().StringVar(&viewAddr, "addr", ":8090", "Listen address")
	viewCmd.Flags().DurationVar(&viewPoll, "poll", view.DefaultPoll, "Page refresh interval")
	viewCmd.Flags().StringVar(&viewTitle, "title", "Chat", "Page title")
}
