package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggoodman/idp-sessions-go/sessionmanager"
	"github.com/ggoodman/idp-sessions-go/sessions"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, inspect and destroy sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <principal>",
	Short: "Create a session for principal and print its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		presenter, err := presenterFlag(cmd)
		if err != nil {
			return err
		}
		methods, _ := cmd.Flags().GetStringSlice("method")
		services, _ := cmd.Flags().GetStringSlice("service")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, cfg, runtimeOptions{})
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		s, err := rt.mgr.CreateSession(ctx, presenter, args[0])
		if err != nil {
			return err
		}
		if len(methods) > 0 || len(services) > 0 {
			now := time.Now()
			var last *sessions.AuthenticationMethodInformation
			for _, m := range methods {
				last = sessions.NewAuthenticationMethod(m, now, 0)
				s.AddAuthenticationMethod(last)
			}
			for _, id := range services {
				s.AddServiceInformation(sessions.NewServiceInformation(id, now, last))
			}
			if err := rt.mgr.SaveSession(ctx, s); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.ID())
		return nil
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Print a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, cfg, runtimeOptions{})
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		s, err := rt.mgr.GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		return writeSessionJSON(cmd.OutOrStdout(), s)
	},
}

var sessionDestroyCmd = &cobra.Command{
	Use:   "destroy <session-id>...",
	Short: "Destroy one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, cfg, runtimeOptions{})
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		var errs []error
		for _, id := range args {
			if err := rt.mgr.DestroySession(ctx, id); err != nil {
				errs = append(errs, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "destroyed %s\n", id)
		}
		return errors.Join(errs...)
	},
}

var sessionTouchCmd = &cobra.Command{
	Use:   "touch <session-id>",
	Short: "Extend a session by its inactivity timeout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, cfg, runtimeOptions{})
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		if err := rt.mgr.TouchSession(ctx, args[0]); err != nil {
			if errors.Is(err, sessionmanager.ErrSessionNotFound) {
				return fmt.Errorf("session %s: %w", args[0], err)
			}
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd, sessionGetCmd, sessionDestroyCmd, sessionTouchCmd)

	sessionCreateCmd.Flags().String("presenter", "", "Address of the client that authenticated")
	sessionCreateCmd.Flags().StringSlice("method", nil, "Authentication method to record (repeatable)")
	sessionCreateCmd.Flags().StringSlice("service", nil, "Relying service entity ID to record (repeatable)")
}

func presenterFlag(cmd *cobra.Command) (netip.Addr, error) {
	v, _ := cmd.Flags().GetString("presenter")
	if v == "" {
		return netip.Addr{}, nil
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid --presenter: %w", err)
	}
	return addr, nil
}

// sessionView is the printable form of a session. The secret is never shown.
type sessionView struct {
	ID                string        `json:"id"`
	Principal         string        `json:"principal,omitempty"`
	Presenter         string        `json:"presenter,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	InactivityTimeout string        `json:"inactivity_timeout"`
	Methods           []methodView  `json:"authentication_methods,omitempty"`
	Services          []serviceView `json:"services,omitempty"`
}

type methodView struct {
	Method  string    `json:"method"`
	Instant time.Time `json:"instant"`
}

type serviceView struct {
	EntityID     string    `json:"entity_id"`
	LoginInstant time.Time `json:"login_instant"`
	Method       string    `json:"method,omitempty"`
}

func newSessionView(s *sessions.Session) sessionView {
	v := sessionView{
		ID:                s.ID(),
		CreatedAt:         s.CreatedAt(),
		InactivityTimeout: s.InactivityTimeout().String(),
	}
	v.Principal, _ = s.PrincipalName()
	if addr := s.PresenterAddress(); addr.IsValid() {
		v.Presenter = addr.String()
	}
	for _, m := range s.AuthenticationMethods() {
		v.Methods = append(v.Methods, methodView{Method: m.Method, Instant: m.AuthenticationInstant})
	}
	sort.Slice(v.Methods, func(i, j int) bool { return v.Methods[i].Method < v.Methods[j].Method })
	for _, si := range s.ServicesInformation() {
		sv := serviceView{EntityID: si.EntityID, LoginInstant: si.LoginInstant}
		if si.AuthenticationMethod != nil {
			sv.Method = si.AuthenticationMethod.Method
		}
		v.Services = append(v.Services, sv)
	}
	sort.Slice(v.Services, func(i, j int) bool { return v.Services[i].EntityID < v.Services[j].EntityID })
	return v
}

func writeSessionJSON(w io.Writer, s *sessions.Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newSessionView(s))
}
