package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/eldtechnologies/carelink/clients/go/carelink"
	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/notify"
	"github.com/eldtechnologies/carelink/internal/routing"
)

func loginCmd() *cobra.Command {
	var email, password, role string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session on this device",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if a.sessions.Snapshot().Authenticated() {
				return errors.New("already signed in, run logout first")
			}

			var r models.Role
			if role != "" {
				var err error
				if r, err = models.ParseRole(role); err != nil {
					return fmt.Errorf("%w: %q", err, role)
				}
			}
			if password == "" {
				var err error
				if password, err = readPassword("Password: "); err != nil {
					return err
				}
			}

			identity, err := a.sessions.Login(ctx, email, password, r)
			if err != nil {
				a.notices.Add(ctx, notify.Entry{Title: "Sign in", Message: err.Error(), Type: models.NotificationError}, false)
				return err
			}
			a.notices.Add(ctx, notify.Entry{Title: "Welcome", Message: "Signed in as " + identity.Name, Type: models.NotificationSuccess}, false)

			fmt.Printf("Signed in as %s (%s)\n", identity.Name, identity.Role)
			fmt.Printf("Home: %s\n", routing.HomeFor(identity.Role))
			return nil
		}),
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	cmd.Flags().StringVar(&role, "role", "", "patient, doctor, pharmacy or admin")
	cmd.MarkFlagRequired("email")
	return cmd
}

func registerCmd() *cobra.Command {
	var req struct {
		name, email, password, role, phone string
	}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			role, err := models.ParseRole(req.role)
			if err != nil {
				return fmt.Errorf("%w: %q", err, req.role)
			}
			if req.password == "" {
				if req.password, err = readPassword("Password: "); err != nil {
					return err
				}
			}

			identity, err := a.sessions.Register(ctx, carelink.RegisterRequest{
				Name:     req.name,
				Email:    req.email,
				Password: req.password,
				Role:     role,
				Phone:    req.phone,
			})
			if err != nil {
				return err
			}
			a.notices.Add(ctx, notify.Entry{Title: "Welcome", Message: "Account created for " + identity.Name, Type: models.NotificationSuccess}, false)

			fmt.Printf("Registered and signed in as %s (%s)\n", identity.Name, identity.Role)
			return nil
		}),
	}

	cmd.Flags().StringVar(&req.name, "name", "", "full name")
	cmd.Flags().StringVar(&req.email, "email", "", "account email")
	cmd.Flags().StringVar(&req.password, "password", "", "account password (prompted when omitted)")
	cmd.Flags().StringVar(&req.role, "role", string(models.RolePatient), "patient, doctor, pharmacy or admin")
	cmd.Flags().StringVar(&req.phone, "phone", "", "phone number")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session on this device",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if !a.sessions.Snapshot().Authenticated() {
				fmt.Println("Not signed in")
				return nil
			}
			if err := a.sessions.Logout(ctx); err != nil {
				return err
			}
			a.notices.Add(ctx, notify.Entry{Title: "Signed out", Message: "You have been signed out", Type: models.NotificationInfo}, false)
			fmt.Println("Signed out")
			return nil
		}),
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			st := a.sessions.Snapshot()
			if !st.Authenticated() {
				fmt.Println("Not signed in")
				return nil
			}
			id := st.Identity
			verified := "unverified"
			if id.Verified {
				verified = "verified"
			}
			fmt.Printf("%s <%s>\n", id.Name, id.Email)
			fmt.Printf("  id:   %s\n", id.ID)
			fmt.Printf("  role: %s (%s)\n", id.Role, verified)
			fmt.Printf("  home: %s\n", routing.HomeFor(id.Role))
			return nil
		}),
	}
}

// readPassword reads a password with masked input, falling back to a plain
// line when stdin is not a terminal.
func readPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
