package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/supervisr/internal/auth"
	"github.com/loykin/supervisr/internal/config"
	"github.com/loykin/supervisr/internal/daemon"
	"github.com/loykin/supervisr/internal/history"
	historyfactory "github.com/loykin/supervisr/internal/history/factory"
	"github.com/loykin/supervisr/internal/metrics"
	"github.com/loykin/supervisr/internal/monitor"
	"github.com/loykin/supervisr/internal/registry"
	"github.com/loykin/supervisr/internal/server"
	"github.com/loykin/supervisr/internal/supervisor"
	"github.com/loykin/supervisr/pkg/client"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds connection flags for client commands.
type APIFlags struct {
	URL     string
	Token   string
	Timeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(apiFlags),
		createStopCommand(apiFlags),
		createRestartCommand(apiFlags),
		createStatusCommand(apiFlags),
		createCheckCommand(apiFlags),
		createLoginCommand(apiFlags),
		createAuthCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "supervisr",
		Short: "Background service lifecycle supervisor",
		Long: `Supervisr runs and supervises the fullon background services
(ticker, ohlcv, account), monitors their health, and exposes an HTTP
control surface for operators.

Examples:
  supervisr serve --config supervisr.toml   # Run the daemon
  supervisr status                          # Status of all services via API
  supervisr start ticker                    # Start one service via API
  supervisr auth user create --username=admin --password=secret --roles=admin`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.URL, "api-url", "http://localhost:8420/api", "base URL of the supervisr API")
	cmd.Flags().StringVar(&flags.Token, "token", os.Getenv("SUPERVISR_TOKEN"), "bearer token (defaults to $SUPERVISR_TOKEN)")
	cmd.Flags().DurationVar(&flags.Timeout, "api-timeout", 10*time.Second, "API request timeout")
}

func newAPIClient(flags *APIFlags) *client.Client {
	return client.New(client.Config{BaseURL: flags.URL, Token: flags.Token, Timeout: flags.Timeout})
}

// --- serve ---

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisr daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(path)
		},
	}
}

func runServe(configPath string) error {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	log := cfg.Log.New()
	slog.SetDefault(log)

	if cfg.Metrics.Enabled {
		if err := metrics.RegisterDefault(); err != nil {
			log.Warn("metrics registration failed", "err", err)
		}
	}

	var hist history.Sink
	if cfg.History.Enabled {
		sink, err := historyfactory.NewSinkFromDSN(historyDSN(cfg.History))
		if err != nil {
			return fmt.Errorf("open history sink: %w", err)
		}
		hist = sink
		if closer, ok := sink.(io.Closer); ok {
			defer func() { _ = closer.Close() }()
		}
		log.Info("history sink ready", "dsn_scheme", dsnScheme(cfg.History.DSN))
	}

	var reg *registry.Registry
	if cfg.Registry.Enabled {
		r, err := registry.New(cfg.Registry.Config)
		if err != nil {
			return fmt.Errorf("connect registry: %w", err)
		}
		reg = r
		defer func() { _ = reg.Close() }()
		log.Info("process registry connected", "addr", cfg.Registry.Addr)
	}

	var dbPool *pgxpool.Pool
	if cfg.Database.Enabled {
		pool, err := pgxpool.New(context.Background(), cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database pool: %w", err)
		}
		dbPool = pool
		defer dbPool.Close()
	}

	set := buildDaemonSet(cfg, reg, log)
	sup := supervisor.New(set, supervisor.Config{
		StartGrace:   cfg.Supervisor.StartGrace,
		StopGrace:    cfg.Supervisor.StopGrace,
		RestartPause: cfg.Supervisor.RestartPause,
		Logger:       log,
		History:      hist,
	})

	monOpts := []monitor.Option{monitor.WithLogger(log)}
	if reg != nil {
		monOpts = append(monOpts, monitor.WithRegistry(reg))
	}
	if dbPool != nil {
		monOpts = append(monOpts, monitor.WithDatabase(pgxPinger{dbPool}))
	}
	if hist != nil {
		monOpts = append(monOpts, monitor.WithHistory(hist))
	}
	mon := monitor.New(sup, cfg.Monitor, monOpts...)

	var authSvc *auth.Service
	if cfg.Auth.Enabled {
		svc, err := auth.NewService(cfg.Auth)
		if err != nil {
			return fmt.Errorf("init auth: %w", err)
		}
		authSvc = svc
		defer func() { _ = authSvc.Close() }()
	}

	ctx := context.Background()
	for _, raw := range cfg.Supervisor.Autostart {
		name, _ := supervisor.ParseServiceName(raw)
		if err := sup.Start(ctx, name); err != nil {
			log.Error("autostart failed", "service", name, "err", err)
		}
	}
	mon.Start(ctx)

	httpSrv := server.NewServer(cfg.Server.Listen, sup, server.Options{
		BasePath:    cfg.Server.BasePath,
		AuthService: authSvc,
		AuthEnabled: cfg.Auth.Enabled,
		Monitor:     mon,
		Metrics:     cfg.Metrics.Enabled,
	})
	log.Info("supervisr daemon listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	mon.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		log.Warn("supervisor shutdown incomplete", "err", err)
	}
	return httpSrv.Close()
}

// pgxPinger adapts a pgx pool to the monitor's Pinger.
type pgxPinger struct{ pool *pgxpool.Pool }

func (p pgxPinger) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func buildDaemonSet(cfg *config.Config, reg *registry.Registry, log *slog.Logger) daemon.Set {
	var beat daemon.Heartbeater
	if reg != nil {
		beat = reg
	}
	return daemon.Set{
		Ticker:  daemon.NewTicker(beat, log, cfg.Daemons.Ticker.Interval),
		Ohlcv:   daemon.NewOhlcv(beat, log, cfg.Daemons.Ohlcv.Interval),
		Account: daemon.NewAccount(beat, log, cfg.Daemons.Account.Interval),
	}
}

func historyDSN(h config.HistoryConfig) string {
	dsn := h.DSN
	if h.Table != "" && strings.HasPrefix(strings.ToLower(dsn), "clickhouse://") && !strings.Contains(dsn, "table=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "table=" + h.Table
	}
	return dsn
}

func dsnScheme(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		return u.Scheme
	}
	return "sqlite"
}

// --- client commands ---

func createStartCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <service>",
		Short: "Start a managed service via the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient(flags).StartService(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(*st)
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStopCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <service>",
		Short: "Stop a managed service via the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient(flags).StopService(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(*st)
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createRestartCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart <service>",
		Short: "Restart a managed service via the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient(flags).RestartService(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(*st)
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [service]",
		Short: "Show service status via the API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient(flags)
			if len(args) == 1 {
				st, err := c.ServiceStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printStatus(*st)
				return nil
			}
			all, err := c.ListServices(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				printStatus(all[name])
			}
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createCheckCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Trigger an on-demand health check via the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := newAPIClient(flags).TriggerHealthCheck(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createLoginCommand(flags *APIFlags) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := newAPIClient(flags).Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Printf("export SUPERVISR_TOKEN=%s\n", tok.Value)
			fmt.Printf("# expires %s\n", tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	addAPIFlags(cmd, flags)
	return cmd
}

func printStatus(st client.ServiceStatus) {
	line := fmt.Sprintf("%-8s %-8s restarts=%d", st.Service, st.State, st.Restarts)
	if st.LastError != "" {
		line += " last_error=" + st.LastError
	}
	fmt.Println(line)
}

// --- auth management (local store) ---

func createAuthCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Operator account management",
		Long: `Manage operator accounts in the local auth store.

Examples:
  supervisr auth user create --username=admin --password=secret --roles=admin
  supervisr auth user list
  supervisr auth user delete --username=admin`,
	}
	cmd.AddCommand(createAuthUserCommand(globalFlags))
	return cmd
}

func openAuthService(globalFlags *GlobalFlags) (*auth.Service, error) {
	cfg := config.Default()
	if globalFlags.ConfigPath != "" {
		loaded, err := config.Load(globalFlags.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return auth.NewService(cfg.Auth)
}

func createAuthUserCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User account commands",
	}

	var username, password, roles string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an operator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openAuthService(globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			var roleList []string
			if roles != "" {
				roleList = strings.Split(roles, ",")
			}
			user, err := svc.CreateUser(cmd.Context(), username, password, roleList)
			if err != nil {
				return err
			}
			fmt.Printf("created user %s (roles: %s)\n", user.Username, strings.Join(user.Roles, ","))
			return nil
		},
	}
	createCmd.Flags().StringVar(&username, "username", "", "username")
	createCmd.Flags().StringVar(&password, "password", "", "password")
	createCmd.Flags().StringVar(&roles, "roles", "", "comma-separated roles (admin, viewer)")
	_ = createCmd.MarkFlagRequired("username")
	_ = createCmd.MarkFlagRequired("password")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List operator accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openAuthService(globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			users, err := svc.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Printf("%-20s roles=%s active=%t\n", u.Username, strings.Join(u.Roles, ","), u.Active)
			}
			return nil
		},
	}

	var delUsername string
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an operator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openAuthService(globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			if err := svc.DeleteUser(cmd.Context(), delUsername); err != nil {
				return err
			}
			fmt.Printf("deleted user %s\n", delUsername)
			return nil
		},
	}
	deleteCmd.Flags().StringVar(&delUsername, "username", "", "username")
	_ = deleteCmd.MarkFlagRequired("username")

	cmd.AddCommand(createCmd, listCmd, deleteCmd)
	return cmd
}
