package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmhart/confab/pkg/logging"
	"github.com/jmhart/confab/pkg/server"
	"github.com/jmhart/confab/pkg/userstore"
)

func main() {
	cfg := server.DefaultConfig()

	configPath := flag.String("config", "", "YAML config file (flags override it)")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP bind address for framed connections")
	flag.StringVar(&cfg.WSAddr, "ws", cfg.WSAddr, "HTTP bind address for WebSocket connections (empty to disable)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file for registered usernames")
	flag.DurationVar(&cfg.InviteTimeout, "invite-timeout", cfg.InviteTimeout, "Bound on waiting for an invitation reply")
	flag.BoolVar(&cfg.AdminConsole, "console", cfg.AdminConsole, "Read admin commands (users, quit) from stdin")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	listUsers := flag.Bool("list-users", false, "Print all registered usernames and exit")
	flag.Parse()

	// A config file supplies defaults; explicitly set flags win.
	if *configPath != "" {
		fileCfg, fileLog, err := server.LoadFile(*configPath, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid config file: %v\n", err)
			os.Exit(1)
		}
		set := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if !set["listen"] {
			cfg.ListenAddr = fileCfg.ListenAddr
		}
		if !set["ws"] {
			cfg.WSAddr = fileCfg.WSAddr
		}
		if !set["metrics"] {
			cfg.MetricsAddr = fileCfg.MetricsAddr
		}
		if !set["db"] {
			cfg.DBPath = fileCfg.DBPath
		}
		if !set["invite-timeout"] {
			cfg.InviteTimeout = fileCfg.InviteTimeout
		}
		if !set["log-level"] && fileLog.LogLevel != "" {
			*logLevel = fileLog.LogLevel
		}
		if !set["log-format"] && fileLog.LogFormat != "" {
			*logFormat = fileLog.LogFormat
		}
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	st, err := userstore.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	// CLI-only action (run and exit)
	if *listUsers {
		defer func() { _ = st.Close() }()
		users, err := st.ListUsers()
		if err != nil {
			slog.Error("list users", "err", err)
			os.Exit(1)
		}
		for _, u := range users {
			fmt.Printf("%s\t%s\n", u.Username, u.CreatedAt.Format("2006-01-02T15:04:05Z"))
		}
		return
	}

	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
