package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/event-seat-reservation/internal/utils"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin access token",
		Long: `Sign an ADMIN token with JWT_SECRET.  The lifetime defaults to
ADMIN_TOKEN_TTL_MIN minutes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl == 0 {
				ttl = time.Duration(rootOpts.Config.AdminTokenTTLMin) * time.Minute
			}
			tok, err := utils.NewAdminToken(rootOpts.Config.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", tok.Exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "who the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ADMIN_TOKEN_TTL_MIN)")
	return cmd
}
