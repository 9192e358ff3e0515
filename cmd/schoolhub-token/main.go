// Command schoolhub-token issues a signed development token for a user.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"schoolhub/internal/auth"
	"schoolhub/internal/config"
	"schoolhub/pkg/types"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(args []string, out io.Writer) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	flags := flag.NewFlagSet("schoolhub-token", flag.ContinueOnError)
	flags.SetOutput(out)
	userID := flags.String("user", "", "user ID carried by the token (required)")
	role := flags.String("role", string(types.RoleStudent), "one of ADMIN, TEACHER, STUDENT, PARENT")
	ttl := flags.Duration("ttl", cfg.Auth.TokenTTL, "token lifetime")
	secret := flags.String("secret", cfg.Auth.Secret, "signing secret (defaults to SCHOOLHUB_AUTH_SECRET)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return errors.New("-user is required")
	}

	authenticator, err := auth.NewAuthenticator(*secret)
	if err != nil {
		return err
	}
	token, err := authenticator.Issue(types.Identity{UserID: *userID, Role: types.Role(*role)}, *ttl)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, token)
	return err
}
