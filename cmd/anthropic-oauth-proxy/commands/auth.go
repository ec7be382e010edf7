package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/awenger/anthropic-oauth-proxy/internal/app"
	"github.com/awenger/anthropic-oauth-proxy/internal/tokensource"
)

// authCommand returns the 'auth' subcommand for managing credentials.
func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage Anthropic authentication",
		Commands: []*cli.Command{
			authLoginCommand(),
			authLogoutCommand(),
			authStatusCommand(),
		},
	}
}

func authLoginCommand() *cli.Command {
	return &cli.Command{
		Name:   "login",
		Usage:  "Login to Anthropic Claude and save the credential",
		Action: authLoginAction,
	}
}

func authLogoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Clear the stored credential",
		Action: authLogoutAction,
	}
}

func authStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show credential status without exposing token material",
		Action: authStatusAction,
	}
}

// authLoginAction implements the interactive OAuth login flow.
func authLoginAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdownObservability, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownObservability(context.Background()) }()

	store, err := app.NewTokenStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create token store: %w", err)
	}

	authorizer := app.NewAuthorizer(cfg)
	session := authorizer.BeginLogin()

	fmt.Println("=== Anthropic Claude OAuth Login ===")
	fmt.Println()
	fmt.Printf("1. Visit this URL in your browser:\n   %s\n\n", authorizer.AuthCodeURL(session))
	fmt.Println("2. Authorize the application")
	fmt.Println("3. Paste the authorization code (it may look like code#state)")

	code, err := readSecureInput(ctx, "\nEnter authorization code: ")
	if err != nil {
		return err
	}

	cred, err := authorizer.Exchange(ctx, session, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	manager := tokensource.NewManager(authorizer, store)
	if err := manager.Install(ctx, cred); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Login Successful ===")
	fmt.Printf("Credential saved; access token valid until %s\n", cred.Expiry().Format(time.RFC3339))

	return nil
}

// authLogoutAction clears the stored credential.
func authLogoutAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdownObservability, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownObservability(context.Background()) }()

	store, err := app.NewTokenStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create token store: %w", err)
	}

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}

	fmt.Println("Credential cleared")
	return nil
}

// authStatusAction prints the credential status.
func authStatusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdownObservability, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownObservability(context.Background()) }()

	store, err := app.NewTokenStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create token store: %w", err)
	}

	manager := tokensource.NewManager(app.NewAuthorizer(cfg), store)
	status := manager.Status(ctx)

	if !status.Present {
		fmt.Println("No credential stored; run 'auth login' first")
		return nil
	}
	if status.Expired {
		fmt.Printf("Credential present but expired at %s (will refresh on next request)\n",
			status.ExpiresAt.Format(time.RFC3339))
		return nil
	}
	fmt.Printf("Credential present; access token valid until %s\n", status.ExpiresAt.Format(time.RFC3339))
	return nil
}

// readSecureInput reads user input with hidden display and context cancellation support.
// Goroutine+select pattern required because term.ReadPassword has no native context support.
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}
