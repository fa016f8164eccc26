package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/btouchard/switchboard/internal/auth"
	"github.com/btouchard/switchboard/internal/client"
	"github.com/btouchard/switchboard/internal/config"
	"github.com/btouchard/switchboard/internal/model"
	"github.com/btouchard/switchboard/internal/store"
)

func flagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openStore(path string) *store.SQLiteStore {
	db, err := store.NewSQLiteStore(path)
	if err != nil {
		fatal("opening database: %v", err)
	}
	return db
}

func cmdToken(args []string) {
	fs := flagSet("token")
	configPath := fs.String("config", "", "path to config file")
	userID := fs.String("user", "", "id of the user the token is for")
	_ = fs.Parse(args) // ExitOnError handles errors

	if *userID == "" {
		fatal("token: --user is required")
	}

	cfg := mustLoadConfig(*configPath)
	db := openStore(cfg.Database.Path)
	defer func() { _ = db.Close() }()

	u, err := db.GetUser(context.Background(), *userID)
	if err != nil {
		fatal("token: %v", err)
	}

	secret, err := resolveSecret(cfg)
	if err != nil {
		fatal("token: loading secret: %v", err)
	}
	tokens, err := auth.NewTokens(secret, cfg.Auth.TokenTTL)
	if err != nil {
		fatal("token: %v", err)
	}

	tok, err := tokens.Sign(u.ID)
	if err != nil {
		fatal("token: %v", err)
	}
	fmt.Println(tok)
}

func cmdAddUser(args []string) {
	fs := flagSet("adduser")
	configPath := fs.String("config", "", "path to config file")
	email := fs.String("email", "", "email address")
	name := fs.String("name", "", "display name")
	role := fs.String("role", string(model.RoleUser), "role: user or admin")
	_ = fs.Parse(args) // ExitOnError handles errors

	if strings.TrimSpace(*email) == "" || strings.TrimSpace(*name) == "" {
		fatal("adduser: --email and --name are required")
	}
	r := model.Role(*role)
	if !r.Valid() {
		fatal("adduser: unknown role %q", *role)
	}

	cfg := mustLoadConfig(*configPath)
	db := openStore(cfg.Database.Path)
	defer func() { _ = db.Close() }()

	u := &model.User{
		Name:  strings.TrimSpace(*name),
		Email: strings.TrimSpace(*email),
		Role:  r,
	}
	if err := db.CreateUser(context.Background(), u); err != nil {
		fatal("adduser: %v", err)
	}
	fmt.Println(u.ID)
}

func cmdRotateSecret(args []string) {
	fs := flagSet("rotate-secret")
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg := mustLoadConfig(*configPath)
	if cfg.Auth.Secret != "" {
		fatal("rotate-secret: auth.secret is set explicitly; change it in the configuration instead")
	}

	if _, err := auth.RotateSecret(cfg.Auth.SecretDir); err != nil {
		fatal("rotate-secret: %v", err)
	}
	fmt.Println("secret rotated; existing session tokens are now invalid")
}

func cmdWatch(args []string) {
	fs := flagSet("watch")
	serverURL := fs.String("server", "http://127.0.0.1:8420", "server base URL")
	token := fs.String("token", os.Getenv("SWITCHBOARD_TOKEN"), "session token")
	logLevel := fs.String("log-level", "info", "log level")
	joinTimeout := fs.Duration("join-timeout", config.Defaults().Realtime.JoinTimeout, "how long to wait for the server to acknowledge a join")
	_ = fs.Parse(args) // ExitOnError handles errors

	if *token == "" {
		fatal("watch: --token is required")
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	source := client.NewHTTPSource(*serverURL, *token)

	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	snap, err := source.Fetch(fetchCtx)
	cancel()
	if err != nil {
		fatal("watch: %v", err)
	}
	if snap.Profile == nil {
		fatal("watch: server returned no profile")
	}

	rec := client.NewReconciler(snap.Profile.Principal())
	rec.Replace(snap)

	session := client.NewSession(client.SessionConfig{
		URL:         websocketURL(*serverURL),
		Token:       *token,
		JoinTimeout: *joinTimeout,
		OnStateChange: func(from, to client.State) {
			slog.Info("connection", "from", from.String(), "to", to.String())
		},
		OnApply: func() { logView(rec) },
	}, rec, source)

	slog.Info("watching", "server", *serverURL, "user_id", snap.Profile.ID, "role", string(snap.Profile.Role))
	logView(rec)

	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		fatal("watch: %v", err)
	}
}

func logView(rec *client.Reconciler) {
	attrs := []any{"requests", len(rec.Requests())}

	feed := rec.Feed()
	attrs = append(attrs, "notifications", len(feed))
	if len(feed) > 0 {
		attrs = append(attrs, "latest", feed[0].Message)
	}
	if p := rec.Profile(); p != nil {
		attrs = append(attrs, "role", string(p.Role), "verified", p.Verified)
	}
	slog.Info("local view", attrs...)
}

func websocketURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
