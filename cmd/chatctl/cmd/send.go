package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatsession/internal/domain"
	"github.com/nfrund/chatsession/internal/sendgate"
)

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Post one message without joining",
	Long: `Post a single message to the backend. The message is not echoed here;
it shows up for every connected session once the backend broadcasts it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := sendgate.Normalize(strings.Join(args, " "))
		if text == "" {
			return domain.ErrEmptyMessage
		}

		c, _, err := newContainer()
		if err != nil {
			return err
		}
		defer c.Close()

		creds, err := c.Credentials()
		if err != nil {
			return err
		}
		sender, err := c.Outbound()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		// One retry with a fresh token when the backend rejects the cached one.
		for attempt := 0; ; attempt++ {
			cred, err := creds.Token(ctx)
			if err != nil {
				return err
			}
			err = sender.Send(ctx, cred, text)
			var authErr *domain.AuthError
			if errors.As(err, &authErr) && attempt == 0 {
				creds.Invalidate()
				continue
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
