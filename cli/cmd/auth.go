package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vidcat/vidcat-stack/cli/internal/client"
	"github.com/vidcat/vidcat-stack/cli/pkg/output"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Register, log in and manage stored tokens for the vidcat auth service",
}

var authRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Long:  "Register a new user and save the issued tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		return credentialCommand(cmd, "register", (*client.AuthClient).Register)
	},
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to vidcat",
	Long:  "Authenticate with the auth service and save credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return credentialCommand(cmd, "login", (*client.AuthClient).Login)
	},
}

type credentialFunc func(*client.AuthClient, context.Context, string, string) (*client.TokenResponse, error)

// credentialCommand runs register or login and stores the issued tokens.
func credentialCommand(cmd *cobra.Command, action string, call credentialFunc) error {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	authURL, _ := cmd.Flags().GetString("auth-url")

	profile := profileName(cmd)
	if authURL == "" {
		authURL = cfg.GetAuthURL(profile)
	}

	if username == "" {
		return fmt.Errorf("username is required")
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	resp, err := call(client.NewAuthClient(authURL), cmd.Context(), username, password)
	if err != nil {
		return fmt.Errorf("%s failed: %w", action, err)
	}

	if err := cfg.SaveProfile(profile, authURL, username, resp.AccessToken, resp.RefreshToken); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	output.Success("%s", resp.Message)
	output.Info("Profile '%s' saved to %s", profile, cfg.Path())
	return nil
}

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rotate stored tokens",
	Long:  "Exchange the stored refresh token for a new access and refresh token",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := profileName(cmd)
		p, err := cfg.GetProfile(profile)
		if err != nil {
			return fmt.Errorf("not logged in: %w", err)
		}

		resp, err := client.NewAuthClient(p.AuthURL).Refresh(cmd.Context(), p.RefreshToken)
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}

		if err := cfg.SaveProfile(profile, p.AuthURL, p.Username, resp.AccessToken, resp.RefreshToken); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}
		output.Success("Tokens refreshed for profile '%s'", profile)
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out from vidcat",
	Long:  "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := profileName(cmd)
		if err := cfg.RemoveProfile(profile); err != nil {
			return err
		}

		output.Success("Successfully logged out from profile '%s'", profile)
		return nil
	},
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Display current user information",
	Long:  "Show the user the stored access token resolves to",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := profileName(cmd)
		p, err := cfg.GetProfile(profile)
		if err != nil {
			return fmt.Errorf("not logged in: %w", err)
		}

		me, err := client.NewAuthClient(p.AuthURL).Me(cmd.Context(), p.AccessToken)
		if err != nil {
			return fmt.Errorf("token invalid or expired, please run 'vcat auth refresh' or 'vcat auth login': %w", err)
		}

		if handled, err := output.Print(outputFormat(cmd), me); handled {
			return err
		}

		table := output.NewTable("FIELD", "VALUE")
		table.AddRow("Profile", profile)
		table.AddRow("User ID", me.User.ID)
		table.AddRow("Username", me.User.Username)
		table.AddRow("Role", me.User.Role)
		table.AddRow("Authorities", strings.Join(me.Authorities, ","))
		table.AddRow("Auth URL", p.AuthURL)
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authRegisterCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authRefreshCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authWhoamiCmd)

	for _, c := range []*cobra.Command{authRegisterCmd, authLoginCmd} {
		c.Flags().StringP("username", "u", "", "Username")
		c.Flags().StringP("password", "p", "", "Password")
		c.Flags().String("auth-url", "", "Auth service URL (default from config/env)")
		c.MarkFlagRequired("username")
		c.MarkFlagRequired("password")
	}
}
