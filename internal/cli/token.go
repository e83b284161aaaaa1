package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"sapayroll/internal/auth"
)

// NewTokenCommand mints a bearer token for calling the HTTP API. It signs
// with JWT_SECRET.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var claims auth.Claims
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(rootOpts)
			if cfg.JWTSecret == "" {
				return NewExitError(ExitCommandError, "JWT_SECRET is required")
			}
			if _, ok := auth.RolePermissions[claims.Role]; !ok {
				roles := make([]string, 0, len(auth.RolePermissions))
				for role := range auth.RolePermissions {
					roles = append(roles, role)
				}
				slices.Sort(roles)
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown role %q: must be one of %v", claims.Role, roles))
			}
			token, err := auth.GenerateToken(cfg.JWTSecret, claims, ttl)
			if err != nil {
				return WrapExitError(ExitFailure, "sign token", err)
			}
			return formatter(rootOpts, cmd).Success(map[string]string{"token": token}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, token)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&claims.UserID, "user", "", "user id placed in the subject claim")
	cmd.Flags().StringVar(&claims.PracticeID, "practice", "", "practice the token is scoped to")
	cmd.Flags().StringVar(&claims.Role, "role", auth.RolePayrollViewer, "payroll_admin, payroll_viewer or system_admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
