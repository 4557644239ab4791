package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"marketwatcher/pkg/session"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage marketplace credentials",
	Long: `Manage stored marketplace credentials securely.

Credentials never touch disk in the clear: they are sealed with AES-GCM
under a key derived from the system keychain or a file-backed
passphrase, depending on the configured vault backend.`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store marketplace credentials securely",
	Long: `Store marketplace credentials in the encrypted vault. The password is
read from the terminal without echo.`,
	Example: `  # Interactive login
  marketwatcher auth login

  # Login with username
  marketwatcher auth login myusername`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials and cookie session",
	RunE:  runLogout,
}

// showCmd represents the auth show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show which credentials are stored, without revealing them",
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(showCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		fmt.Print("Username: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return fmt.Errorf("username must not be empty")
	}

	fmt.Print("Password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("password must not be empty")
	}

	account := cfg.Session.Account
	if account == "" {
		account = username
	}

	creds := session.Credentials{Username: username, Password: string(raw)}
	if err := store.Seal(session.CredentialsBlobName(account), creds); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	fmt.Printf("Credentials for %q stored in the vault.\n", username)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	account := cfg.Session.Account
	if err := store.Delete(session.CredentialsBlobName(account)); err != nil {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	if err := store.Delete(session.CookieBlobName(account)); err != nil {
		return fmt.Errorf("failed to remove cookie session: %w", err)
	}

	fmt.Println("Stored credentials and cookie session removed.")
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	account := cfg.Session.Account

	var creds session.Credentials
	savedAt, err := store.Open(session.CredentialsBlobName(account), &creds)
	if err != nil {
		fmt.Printf("Account %q: no stored credentials.\n", account)
	} else {
		fmt.Printf("Account %q: credentials for %q stored %s.\n",
			account, creds.Username, savedAt.Format("2006-01-02 15:04"))
	}

	if store.Exists(session.CookieBlobName(account)) {
		fmt.Println("A vaulted cookie session exists.")
	} else {
		fmt.Println("No vaulted cookie session.")
	}
	return nil
}
