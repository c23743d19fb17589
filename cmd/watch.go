package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/yeremiapane/restaurant-sync/client"
	"github.com/yeremiapane/restaurant-sync/config"
	"github.com/yeremiapane/restaurant-sync/kds"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/services"
	"github.com/yeremiapane/restaurant-sync/utils"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the floor as a staff member",
	Long: `Log in to the store, load the current orders, tickets and tables, and
keep them in sync over the push channel with polling as the fallback.

Alerts for the staff member's audience are printed as they are raised:
- chefs see new tickets
- waiters and cashiers see ready orders and ready tickets`,
	RunE: runWatch,
}

var (
	alertStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))
	stateStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	degradeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
)

func init() {
	watchCmd.Flags().String("url", "", "store base URL")
	watchCmd.Flags().String("email", "", "staff email")
	watchCmd.Flags().String("password", "", "staff password")
	watchCmd.Flags().String("token", "", "bearer token instead of email/password")
	bindFlags(watchCmd, map[string]string{
		"url":      "api.base_url",
		"email":    "api.email",
		"password": "api.password",
		"token":    "api.token",
	})
	rootCmd.AddCommand(watchCmd)
}

func tokenSource(api config.APIConfig) (client.TokenSource, error) {
	if api.Token != "" {
		return client.StaticToken(api.Token), nil
	}
	if api.Email == "" || api.Password == "" {
		return nil, errors.New("either api.token or api.email and api.password are required")
	}
	return &client.PasswordLogin{BaseURL: api.BaseURL, Email: api.Email, Password: api.Password}, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	tokens, err := tokenSource(cfg.API)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	actor, err := utils.PeekActor(token)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	session, err := services.NewSession(services.SessionConfig{
		BaseURL: cfg.API.BaseURL,
		Tokens:  tokens,
		Actor:   actor,
		Poller: services.PollerConfig{
			Degraded:      cfg.Sync.PollDegraded,
			Connected:     cfg.Sync.PollConnected,
			StartDegraded: true,
		},
		RetryLimit:        cfg.Sync.RetryAttempts,
		RetryBackoff:      cfg.Sync.RetryBackoff,
		AlertTTL:          cfg.Sync.AlertTTL,
		KitchenCategories: cfg.Sync.KitchenCategories,
		Log:               utils.InfoLogger,
	})
	if err != nil {
		return err
	}

	if err := session.Bootstrap(ctx); err != nil {
		// partial state is still useful, the poller fills the gaps
		utils.ErrorLogger.Warnf("initial load incomplete: %v", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s (%s)", actor.Name, actor.SubRole)))
	fmt.Fprintf(out, "%d orders, %d active tickets, %d tables\n",
		len(session.View.Orders()), len(session.View.ActiveKOTs()), len(session.View.Tables()))

	audience := actor.Audience()
	session.Alerts.OnAlert(func(a services.Alert) {
		if a.Audience != audience && a.Audience != models.AudienceStaff {
			return
		}
		fmt.Fprintln(out, alertStyle.Render(fmt.Sprintf("[%s] %s", a.Kind, a.Message)))
	})
	session.Channel.OnStateChange(func(st kds.State) {
		style := stateStyle
		if st == kds.StateDegraded {
			style = degradeStyle
		}
		fmt.Fprintln(out, style.Render("push channel "+string(st)))
	})

	err = session.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
