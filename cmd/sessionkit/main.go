package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/clientsphere/sessionkit/internal"
	"github.com/clientsphere/sessionkit/internal/config"
	"github.com/clientsphere/sessionkit/internal/identity"
	"github.com/clientsphere/sessionkit/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"backend": map[string]any{
			"baseURL": "https://api.clientsphere.example.com",
			"timeout": "30s",
		},
		"google": map[string]any{
			"clientId":      map[string]string{"$env": "GOOGLE_CLIENT_ID"},
			"clientSecret":  map[string]string{"$env": "GOOGLE_CLIENT_SECRET"},
			"signInTimeout": "60s",
		},
		"storage": map[string]any{
			"kind": "file",
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, issue := range result.Errors {
			if issue.Path != "" {
				fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
			} else {
				fmt.Printf("  - %s\n", issue.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, issue := range result.Warnings {
			if issue.Path != "" {
				fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
			} else {
				fmt.Printf("  - %s\n", issue.Message)
			}
		}
	}

	fmt.Println()
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		fmt.Println("Result: PASS")
		return nil
	}
	if len(result.Errors) == 0 {
		fmt.Println("Result: PASS (warnings present)")
		return nil
	}
	fmt.Println("Result: FAIL")
	return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: sessionkit -config <path> <command>

Commands:
  login <email>    sign in with email and password
  signup <email>   create an account
  google           sign in with Google
  logout           sign out and clear stored credentials
  whoami           print the current user
  status           print session status
  watch            follow session changes made by other processes
`)
	flag.PrintDefaults()
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Usage = usage
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	if *validate {
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	command := flag.Arg(0)
	if command == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kit, err := internal.NewSessionKit(ctx, cfg)
	if err != nil {
		log.LogError("Failed to build session manager: %v", err)
		os.Exit(1)
	}
	defer kit.Close()

	kit.Start(ctx)

	if err := runCommand(ctx, kit, command, flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, kit *internal.SessionKit, command string, args []string) error {
	switch command {
	case "login":
		return runLogin(ctx, kit, args)
	case "signup":
		return runSignup(ctx, kit, args)
	case "google":
		user, err := kit.Service.LoginWithGoogle(ctx)
		if err != nil {
			return err
		}
		printUser(user)
		return nil
	case "logout":
		kit.Service.Logout(ctx)
		fmt.Println("Logged out")
		return nil
	case "whoami":
		user := kit.Service.CurrentUser()
		if user == nil {
			return fmt.Errorf("not signed in")
		}
		printUser(user)
		return nil
	case "status":
		return runStatus(kit)
	case "watch":
		return runWatch(ctx, kit)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runLogin(ctx context.Context, kit *internal.SessionKit, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: login <email>")
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	user, err := kit.Service.LoginWithPassword(ctx, args[0], password)
	if err != nil {
		return err
	}
	printUser(user)
	return nil
}

func runSignup(ctx context.Context, kit *internal.SessionKit, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: signup <email>")
	}

	fmt.Print("Name: ")
	reader := bufio.NewReader(os.Stdin)
	name, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	user, err := kit.Service.SignupWithPassword(ctx, strings.TrimSpace(name), args[0], password)
	if err != nil {
		return err
	}
	printUser(user)
	return nil
}

func runStatus(kit *internal.SessionKit) error {
	user := kit.Service.CurrentUser()
	if user == nil {
		fmt.Println("Status: signed out")
		return nil
	}
	fmt.Println("Status: signed in")
	printUser(user)
	return nil
}

func runWatch(ctx context.Context, kit *internal.SessionKit) error {
	fmt.Println("Watching for session changes, Ctrl-C to stop")
	unsubscribe := kit.Service.Subscribe(func(user *identity.User) {
		if user == nil {
			fmt.Println("-> signed out")
			return
		}
		fmt.Printf("-> signed in as %s (%s)\n", user.Email, user.Role)
	})
	defer unsubscribe()

	<-ctx.Done()
	return nil
}

func printUser(user *identity.User) {
	fmt.Printf("%s <%s>\n", user.Name, user.Email)
	fmt.Printf("  id:      %s\n", user.ID)
	fmt.Printf("  role:    %s\n", user.Role)
	if !user.CreatedAt.IsZero() {
		fmt.Printf("  created: %s\n", user.CreatedAt.Format("2006-01-02"))
	}
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
