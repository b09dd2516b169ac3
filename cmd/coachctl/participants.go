package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset <progress-id>",
	Short: "Clear a participant's answers, rewards and overrides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !resetYes {
			ok, err := confirm(cmd, fmt.Sprintf("Reset participant %s? Type 'yes' to confirm: ", id))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled")
				return nil
			}
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.admin.ResetNow(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Participant %s reset (unlocked days %v)\n", view.Record.ID, []int(view.UnlockedDays))
		return nil
	},
}

var (
	adminEmail    string
	adminName     string
	adminPassword string
	adminSubject  string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin console accounts",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an admin account",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.auth.CreateAdmin(cmd.Context(), adminEmail, adminPassword, adminName)
		if err != nil {
			return fmt.Errorf("failed to create admin: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created admin %d (%s)\n", user.ID, user.Email)
		return nil
	},
}

var adminLinkLineCmd = &cobra.Command{
	Use:   "link-line",
	Short: "Allow an admin to sign in with LINE Login",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.auth.LinkLine(cmd.Context(), adminEmail, adminSubject); err != nil {
			return fmt.Errorf("failed to link LINE account: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Linked LINE user %s to %s\n", adminSubject, adminEmail)
		return nil
	},
}

var adminListCmd = &cobra.Command{
	Use:   "list",
	Short: "List admin accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		users, err := a.auth.ListAdmins(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tNAME\tLINE")
		for _, u := range users {
			line := "-"
			if u.LineSubject != "" {
				line = "linked"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", u.ID, u.Email, u.Name, line)
		}
		return w.Flush()
	},
}

var adminSetPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Replace an admin's password",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.auth.SetPassword(cmd.Context(), adminEmail, adminPassword); err != nil {
			return fmt.Errorf("failed to set password: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", adminEmail)
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip the confirmation prompt")

	adminCreateCmd.Flags().StringVar(&adminEmail, "email", "", "admin email")
	adminCreateCmd.Flags().StringVar(&adminName, "name", "", "display name")
	adminCreateCmd.Flags().StringVar(&adminPassword, "password", "", "initial password (8-72 characters)")
	_ = adminCreateCmd.MarkFlagRequired("email")
	_ = adminCreateCmd.MarkFlagRequired("name")
	_ = adminCreateCmd.MarkFlagRequired("password")

	adminLinkLineCmd.Flags().StringVar(&adminEmail, "email", "", "admin email")
	adminLinkLineCmd.Flags().StringVar(&adminSubject, "subject", "", "LINE user id (the id token's sub claim)")
	_ = adminLinkLineCmd.MarkFlagRequired("email")
	_ = adminLinkLineCmd.MarkFlagRequired("subject")

	adminSetPasswordCmd.Flags().StringVar(&adminEmail, "email", "", "admin email")
	adminSetPasswordCmd.Flags().StringVar(&adminPassword, "password", "", "new password (8-72 characters)")
	_ = adminSetPasswordCmd.MarkFlagRequired("email")
	_ = adminSetPasswordCmd.MarkFlagRequired("password")
}
