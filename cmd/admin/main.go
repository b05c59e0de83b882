package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamscao/vpnaccess/internal/app"
	"github.com/adamscao/vpnaccess/internal/config"
	"github.com/adamscao/vpnaccess/internal/logs"
	"github.com/adamscao/vpnaccess/internal/models"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "VPN access administration tool",
	Long:  "Administrative tool for managing VPN users, credentials and connection history",
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a user",
	RunE:  addUser,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE:  listUsers,
}

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Manage VPN access",
}

var accessIssueCmd = &cobra.Command{
	Use:   "issue USER_ID",
	Short: "Issue VPN access and write the client profile",
	Args:  cobra.ExactArgs(1),
	RunE:  issueAccess,
}

var accessRevokeCmd = &cobra.Command{
	Use:   "revoke USER_ID",
	Short: "Revoke VPN access",
	Args:  cobra.ExactArgs(1),
	RunE:  revokeAccess,
}

var accessListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users with active VPN access",
	RunE:  listActive,
}

var accessHistoryCmd = &cobra.Command{
	Use:   "history USER_ID",
	Short: "Show a user's recent connection events",
	Args:  cobra.ExactArgs(1),
	RunE:  showHistory,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the tunnel daemon status",
	RunE:  showStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage connection history",
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete connection events older than the retention window",
	RunE:  pruneHistory,
}

var (
	userName     string
	userEmail    string
	userRole     string
	profileOut   string
	historyLimit int
	olderThan    time.Duration
)

func init() {
	// Root flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/vpnaccess/config.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	// User add flags
	userAddCmd.Flags().StringVarP(&userName, "name", "n", "", "Full name (required)")
	userAddCmd.Flags().StringVarP(&userEmail, "email", "e", "", "Email address (required)")
	userAddCmd.Flags().StringVarP(&userRole, "role", "r", "teacher", "Role")
	userAddCmd.MarkFlagRequired("name")
	userAddCmd.MarkFlagRequired("email")

	accessIssueCmd.Flags().StringVarP(&profileOut, "out", "o", "", "Write the client profile to this file instead of stdout")
	accessHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "l", 10, "Number of events to show (max 100)")
	historyPruneCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Override logging.retention_days")

	// Add commands
	userCmd.AddCommand(userAddCmd, userListCmd)
	accessCmd.AddCommand(accessIssueCmd, accessRevokeCmd, accessListCmd, accessHistoryCmd)
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(userCmd, accessCmd, statusCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openApp() (*app.App, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log, closeLog, err := logs.New(logs.Options{Level: level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	if err != nil {
		return nil, err
	}
	if cfg.Logging.File == "" {
		log.SetOutput(os.Stderr)
	}

	a, err := app.New(cfg, log.WithField("source", "admin-cli"))
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	a.OnClose(closeLog)

	return a, nil
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

func addUser(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	user := &models.User{Name: userName, Email: userEmail, Role: userRole}
	if err := a.Users.Create(cmd.Context(), user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User created successfully!\n")
	fmt.Printf("User ID: %d\n", user.ID)
	fmt.Printf("Name:    %s\n", user.Name)
	fmt.Printf("Email:   %s\n", user.Email)
	fmt.Printf("Role:    %s\n", user.Role)

	return nil
}

func listUsers(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.Users.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users found")
		return nil
	}

	fmt.Printf("\nTotal users: %d\n\n", len(users))
	fmt.Printf("%-5s %-25s %-30s %s\n", "ID", "Name", "Email", "Role")
	fmt.Println("--------------------------------------------------------------------------------")

	for _, u := range users {
		fmt.Printf("%-5d %-25s %-30s %s\n", u.ID, u.Name, u.Email, u.Role)
	}

	return nil
}

func issueAccess(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Access.Issue(cmd.Context(), userID)
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}

	if profileOut != "" {
		if err := os.WriteFile(profileOut, []byte(res.Profile), 0o600); err != nil {
			return fmt.Errorf("failed to write profile: %w", err)
		}
		fmt.Printf("Profile for %s written to %s\n", res.ClientID, profileOut)
	} else {
		fmt.Print(res.Profile)
	}

	if res.Enrollment != nil {
		// Shown once; the secret cannot be retrieved again.
		fmt.Fprintf(os.Stderr, "\nTOTP Secret: %s\n", res.Enrollment.Secret)
		fmt.Fprintf(os.Stderr, "TOTP URI:    %s\n", res.Enrollment.URI)
		fmt.Fprintf(os.Stderr, "\nScan the URI with a TOTP app (Google Authenticator, Authy, etc.)\n")
	}

	return nil
}

func revokeAccess(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Access.Revoke(cmd.Context(), userID)
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}
	fmt.Printf("VPN access for user %d (%s) revoked\n", res.UserID, res.ClientID)

	return nil
}

func listActive(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	active, err := a.Access.ListActive(cmd.Context())
	if err != nil {
		return err
	}

	if len(active) == 0 {
		fmt.Println("No active VPN users")
		return nil
	}

	fmt.Printf("\nActive VPN users: %d\n\n", len(active))
	fmt.Printf("%-5s %-12s %-25s %-10s %-5s %s\n", "ID", "Client", "Name", "Role", "MFA", "Issued")
	fmt.Println("--------------------------------------------------------------------------------")

	for _, c := range active {
		mfa := "No"
		if c.MFA {
			mfa = "Yes"
		}
		fmt.Printf("%-5d %-12s %-25s %-10s %-5s %s\n",
			c.UserID,
			c.ClientID,
			c.Name,
			c.Role,
			mfa,
			c.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.Access.History(cmd.Context(), userID, historyLimit)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No connection events")
		return nil
	}

	fmt.Printf("%-20s %-16s %s\n", "Time", "Event", "Source")
	for _, e := range events {
		fmt.Printf("%-20s %-16s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.EventType, e.SourceAddress)
	}

	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	snap := a.Access.Status(cmd.Context())

	fmt.Printf("Status file: %s\n\n", a.Status.Path())
	fmt.Printf("Connected clients: %d\n", len(snap.Clients))
	for _, c := range snap.Clients {
		fmt.Printf("  %-12s %-22s %-15s rx=%d tx=%d since %s\n",
			c.CommonName, c.RealAddress, c.VirtualAddress, c.BytesReceived, c.BytesSent, c.ConnectedSince)
	}

	fmt.Printf("\nRoutes: %d\n", len(snap.Routes))
	for _, r := range snap.Routes {
		fmt.Printf("  %-15s %-12s %s\n", r.VirtualAddress, r.CommonName, r.RealAddress)
	}

	if len(snap.GlobalStats) > 0 {
		fmt.Printf("\nGlobal stats:\n")
		for k, v := range snap.GlobalStats {
			fmt.Printf("  %s: %s\n", k, v)
		}
	}

	return nil
}

func pruneHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	retention := olderThan
	if retention <= 0 {
		retention = a.Config.GetRetention()
	}
	if retention <= 0 {
		return fmt.Errorf("retention is disabled; pass --older-than")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	n, err := a.Access.PruneHistory(ctx, retention)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d connection events older than %s\n", n, retention)

	return nil
}
