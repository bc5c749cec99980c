// tg-auth generates a portable session string for the archiver. Set the
// result as TG_SESSION_STRING to run without a session file.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session/tdesktop"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("=== telegram auth tool ===")
	fmt.Println("generates a session string for the channel archiver")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	apiID, apiHash := apiCredentials(reader)

	var client *gotgproto.Client
	var err error

	if accounts, path := desktopAccounts(reader); len(accounts) > 0 {
		fmt.Printf("found %d telegram desktop session(s) at %s\n", len(accounts), path)
		if yes(reader, "use a desktop session instead of phone auth?") {
			client, err = authFromDesktop(apiID, apiHash, accounts, reader)
		}
	}
	if client == nil && err == nil {
		client, err = authFromPhone(apiID, apiHash, reader)
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	sessionString, err := client.ExportStringSession()
	if err != nil {
		fmt.Printf("error exporting session: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nauthentication successful")
	if client.Self != nil && client.Self.Username != "" {
		fmt.Printf("logged in as: @%s\n", client.Self.Username)
	}
	fmt.Println("\nsession string:")
	fmt.Println("---")
	fmt.Println(sessionString)
	fmt.Println("---")
	fmt.Println("\nadd it to .env as TG_SESSION_STRING")
	fmt.Println("keep it secret: it grants full access to the account")
}

func apiCredentials(reader *bufio.Reader) (int, string) {
	apiIDStr := os.Getenv("TG_API_ID")
	apiHash := os.Getenv("TG_API_HASH")

	if apiIDStr == "" {
		apiIDStr = ask(reader, "api_id (from https://my.telegram.org): ")
	}
	if apiHash == "" {
		apiHash = ask(reader, "api_hash: ")
	}

	apiID, err := strconv.Atoi(apiIDStr)
	if err != nil {
		fmt.Printf("error: invalid api_id: %v\n", err)
		os.Exit(1)
	}
	return apiID, apiHash
}

// desktopAccounts looks for Telegram Desktop session data, first at the
// platform default, then at a user-supplied path.
func desktopAccounts(reader *bufio.Reader) ([]tdesktop.Account, string) {
	path := defaultTdataPath()
	accounts, err := tdesktop.Read(path, nil)
	if err == nil && len(accounts) > 0 {
		return accounts, path
	}

	custom := ask(reader, "telegram desktop path (enter to skip): ")
	if custom == "" {
		return nil, ""
	}
	if !strings.HasSuffix(custom, "tdata") {
		custom = filepath.Join(custom, "tdata")
	}
	accounts, err = tdesktop.Read(custom, nil)
	if err != nil {
		return nil, ""
	}
	return accounts, custom
}

func defaultTdataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

func authFromDesktop(apiID int, apiHash string, accounts []tdesktop.Account, reader *bufio.Reader) (*gotgproto.Client, error) {
	idx := 0
	if len(accounts) > 1 {
		fmt.Printf("%d accounts found\n", len(accounts))
		choice := ask(reader, fmt.Sprintf("account number [1-%d]: ", len(accounts)))
		if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(accounts) {
			idx = n - 1
		}
	}

	fmt.Println("authenticating with telegram desktop session...")
	return gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(""),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.TdataSession(accounts[idx]).Name("tdata_session"),
			DisableCopyright: true,
		},
	)
}

func authFromPhone(apiID int, apiHash string, reader *bufio.Reader) (*gotgproto.Client, error) {
	phone := ask(reader, "phone number (with country code): ")
	fmt.Println("authenticating... (check telegram for the code)")

	client, err := gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open("tg_auth_session")),
			DisableCopyright: true,
		},
	)
	if err == nil {
		fmt.Println("\nnote: tg_auth_session.db held the temporary session,")
		fmt.Println("you can delete it after copying the session string.")
	}
	return client, err
}

func ask(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func yes(reader *bufio.Reader, label string) bool {
	switch strings.ToLower(ask(reader, label+" [Y/n]: ")) {
	case "", "y", "yes":
		return true
	}
	return false
}
