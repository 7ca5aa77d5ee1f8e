package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/scoopfeed/internal/auth"
)

// --- admin command ---

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin accounts",
}

var (
	adminEmail    string
	adminPassword string
	adminSuper    bool
)

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an admin account",
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.TrimSpace(adminEmail)
		if !auth.ValidEmail(email) {
			return fmt.Errorf("invalid email: %q", adminEmail)
		}
		hash, err := auth.HashPassword(adminPassword)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		existing, err := db.GetAdminByEmail(email)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("admin %s already exists", email)
		}

		id, err := db.CreateAdmin(email, hash, adminSuper)
		if err != nil {
			return err
		}
		role := "admin"
		if adminSuper {
			role = "superadmin"
		}
		fmt.Printf("Created %s [%d]: %s\n", role, id, email)
		return nil
	},
}

func init() {
	adminCreateCmd.Flags().StringVar(&adminEmail, "email", "", "Admin email")
	adminCreateCmd.Flags().StringVar(&adminPassword, "password", "", "Admin password (at least 8 characters)")
	adminCreateCmd.Flags().BoolVar(&adminSuper, "super", false, "Grant superadmin rights")
	adminCreateCmd.MarkFlagRequired("email")
	adminCreateCmd.MarkFlagRequired("password")
	adminCmd.AddCommand(adminCreateCmd)
}

// --- settings command ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage collector API settings",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		settings, err := db.ListAPISettings()
		if err != nil {
			return err
		}
		if len(settings) == 0 {
			fmt.Println("No API settings defined.")
			return nil
		}
		for _, s := range settings {
			icon := " "
			if s.IsActive {
				icon = "*"
			}
			last := "never"
			if s.LastRun != nil {
				last = s.LastRun.Format("2006-01-02 15:04 MST")
			}
			fmt.Printf("  %s %s every %d min, last run %s\n", icon, s.APIName, s.RunInterval, last)
		}
		return nil
	},
}

var (
	settingActive   bool
	settingInterval int
)

var settingsSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Enable or disable a setting and change its interval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if settingInterval < 0 {
			return fmt.Errorf("interval must not be negative")
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		active := settingActive
		if !cmd.Flags().Changed("active") {
			cur, err := db.GetAPISetting(args[0])
			if err != nil {
				return err
			}
			active = cur == nil || cur.IsActive
		}

		s, err := db.UpdateAPISetting(args[0], active, settingInterval)
		if err != nil {
			return err
		}
		fmt.Printf("%s: active=%v, every %d min\n", s.APIName, s.IsActive, s.RunInterval)
		return nil
	},
}

func init() {
	settingsSetCmd.Flags().BoolVar(&settingActive, "active", true, "Whether the job may run")
	settingsSetCmd.Flags().IntVar(&settingInterval, "interval", 0, "Minutes between scheduled runs (0 keeps the current value)")
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

// --- users command ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage registered readers",
}

var usersLimit int

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		users, err := db.ListUsers(usersLimit, 0)
		if err != nil {
			return err
		}
		total, err := db.CountUsers()
		if err != nil {
			return err
		}
		if total == 0 {
			fmt.Println("No registered users.")
			return nil
		}
		fmt.Printf("Users (%d of %d):\n", len(users), total)
		for _, u := range users {
			fmt.Printf("  %s  %s  %s\n", u.CreatedAt.Format("2006-01-02"), u.Email, u.Username)
		}
		return nil
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete [email]",
	Short: "Delete a registered user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		deleted, err := db.DeleteUser(args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("user %s not found", args[0])
		}
		fmt.Printf("Deleted user %s\n", args[0])
		return nil
	},
}

func init() {
	usersListCmd.Flags().IntVar(&usersLimit, "limit", 50, "Maximum users to list")
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersDeleteCmd)
}
