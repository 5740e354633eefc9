package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/swavlamban/extsockd/internal/daemon"
	"github.com/swavlamban/extsockd/internal/daemonsvc"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	cfgFile   string
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "extsockd",
	Short: "extsockd - external control-plane daemon for strongSwan charon",
	Long: `extsockd drives charon over VICI: it pushes connection configuration,
streams IKE/child-SA lifecycle events to a local control channel, and
performs deterministic security-gateway failover on connection failure.`,
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in foreground mode",
	Long:  `Start the daemon in foreground mode (useful for testing and debugging)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install extsockd as a system service",
	Long:  `Install extsockd as a system service (systemd/Windows Service/launchd)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := daemonsvc.NewService(buildDaemonConfig())
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		if err := svc.Install(); err != nil {
			return fmt.Errorf("failed to install service: %w", err)
		}
		log.Info().Msg("service installed successfully")
		log.Info().Msg("start the service with: systemctl start extsockd (Linux) or Start-Service extsockd (Windows)")
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the extsockd service",
	Long:  `Uninstall the extsockd service from the system`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := daemonsvc.NewService(buildDaemonConfig())
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		if err := svc.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall service: %w", err)
		}
		log.Info().Msg("service uninstalled successfully")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how to reach the status API",
	Long:  `Print the URL of the read-only status API (registered connections and recent audit entries); this command does not contact the daemon`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: /etc/extsockd/config.yaml)")
	rootCmd.PersistentFlags().String("socket", "", "control channel unix socket path")
	rootCmd.PersistentFlags().String("vici-socket", "", "charon VICI unix socket path")
	rootCmd.PersistentFlags().String("status-addr", "", "status API listen address (empty disables it)")
	rootCmd.PersistentFlags().String("audit-db", "", "audit log sqlite database path (empty disables it)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("socket.path", rootCmd.PersistentFlags().Lookup("socket"))
	viper.BindPFlag("vici.socket_path", rootCmd.PersistentFlags().Lookup("vici-socket"))
	viper.BindPFlag("status.addr", rootCmd.PersistentFlags().Lookup("status-addr"))
	viper.BindPFlag("audit.db_path", rootCmd.PersistentFlags().Lookup("audit-db"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(statusCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/etc/extsockd")
		viper.AddConfigPath("$HOME/.extsockd")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	viper.SetDefault("log.level", "info")
	viper.SetDefault("socket.path", "/tmp/strongswan_extsock.sock")
	viper.SetDefault("vici.socket_path", "/var/run/charon.vici")
	viper.SetDefault("status.addr", "")
	viper.SetDefault("audit.db_path", "")
	viper.SetDefault("shutdown_timeout", "10s")

	if err := viper.ReadInConfig(); err == nil {
		log.Debug().Str("config", viper.ConfigFileUsed()).Msg("using config file")
	}

	level, err := zerolog.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func buildDaemonConfig() daemon.Config {
	timeout := viper.GetDuration("shutdown_timeout")
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return daemon.Config{
		SocketPath:      viper.GetString("socket.path"),
		ViciSocketPath:  viper.GetString("vici.socket_path"),
		StatusAddr:      viper.GetString("status.addr"),
		AuditDBPath:     viper.GetString("audit.db_path"),
		ShutdownTimeout: timeout,
	}
}

func runDaemon(ctx context.Context) error {
	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("starting extsockd")

	d, err := daemon.New(buildDaemonConfig())
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(sigCtx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	<-sigCtx.Done()

	log.Info().Msg("shutting down extsockd...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}

	return nil
}

func showStatus(ctx context.Context) error {
	addr := viper.GetString("status.addr")
	if addr == "" {
		fmt.Println("status API is disabled (set status.addr / --status-addr to enable it)")
		return nil
	}
	fmt.Printf("query the status API directly: curl http://%s/api/connections\n", addr)
	return nil
}
