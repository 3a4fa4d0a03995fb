// play4096 - 2048-style puzzle server and admin tools
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/play4096/internal/api"
	"github.com/ernie/play4096/internal/auth"
	"github.com/ernie/play4096/internal/board"
	"github.com/ernie/play4096/internal/config"
	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/events"
	"github.com/ernie/play4096/internal/game"
	"github.com/ernie/play4096/internal/logging"
	"github.com/ernie/play4096/internal/mail"
	"github.com/ernie/play4096/internal/metrics"
	"github.com/ernie/play4096/internal/payments"
	"github.com/ernie/play4096/internal/storage"
	"github.com/ernie/play4096/internal/sweeper"
)

var version = "dev"

const defaultConfigPath = "/etc/play4096/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "leaderboard":
		cmdLeaderboard(os.Args[2:])
	case "sweep":
		cmdSweep(os.Args[2:])
	case "version":
		fmt.Printf("play4096 %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: play4096 <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the game server")
	fmt.Println("  user add [--admin] [--pro] [--email addr] <username>")
	fmt.Println("                                      Add a user (prompts for password)")
	fmt.Println("  user remove <username>              Remove a user and everything they own")
	fmt.Println("  user list                           List all users")
	fmt.Println("  user reset <username>               Reset a user's password and sign them out")
	fmt.Println("  user admin <username>               Toggle admin status for a user")
	fmt.Println("  user level <username> <free|pro>    Set a user's account level")
	fmt.Println("  leaderboard [--top N]               Show the top PRO players (default: 10)")
	fmt.Println("  sweep                               Delete expired sessions and codes once")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/play4096/config.yml)")
	fmt.Println("  --url <url>        Base URL of the play4096 server (default: derived from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  play4096 serve --config ./config.yml")
	fmt.Println("  play4096 user add --admin --email me@example.com myuser")
	fmt.Println("  play4096 user level alice pro")
	fmt.Println("  play4096 leaderboard --top 25")
}

// loadConfig reads the config file, falling back to defaults plus
// environment when the default path is absent
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigPath
	}
	return config.Load(path)
}

// cmdServe starts the game server
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	log := logging.Base(logger, cfg.Environment)

	if err := serve(cfg, log); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}

func serve(cfg *config.Config, log *logrus.Entry) error {
	log.WithField("version", version).Info("Play4096 starting")

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()
	log.WithField("path", cfg.Database.Path).Info("Database initialized")

	bus, err := events.Open(cfg.Events.NATSURL, log)
	if err != nil {
		return fmt.Errorf("opening event bus: %w", err)
	}
	defer bus.Close()

	m := metrics.New()
	mailer := mail.NewLogMailer(log, m, cfg.IsProduction())

	if cfg.Auth.JWTSecret == "" {
		log.Warn("No JWT secret configured; bearer tokens are disabled")
	}
	var tokens *auth.Service
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	}
	sessions := auth.NewSessions(store, cfg.Auth.SessionDuration, cfg.Auth.SessionRenewWithin)

	games := game.NewService(store, board.Options{
		Size:            cfg.Game.BoardSize,
		StartingTiles:   cfg.Game.StartingTiles,
		WinTile:         cfg.Game.WinTile,
		FourProbability: cfg.Game.FourProbability,
	}, bus, m, log)

	if cfg.Stripe.SecretKey == "" {
		log.Warn("No Stripe key configured; upgrades are disabled")
	}
	checkout := payments.NewService(
		payments.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.EndpointSecret),
		store,
		payments.Config{BaseURL: cfg.BaseURL, PriceID: cfg.Stripe.PriceID},
		bus, m, log,
	)

	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Store:    store,
		Sessions: sessions,
		Tokens:   tokens,
		Games:    games,
		Payments: checkout,
		Mailer:   mailer,
		Metrics:  m,
		Log:      log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubDone := make(chan struct{})
	go func() {
		router.Hub().Run(ctx)
		close(hubDone)
	}()
	sub, err := bus.Subscribe(router.Hub().Broadcast)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}

	sw := sweeper.New(store, router.Limiters(), cfg.Server.SweepInterval, time.Hour, m, log)
	sw.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	// Sequential shutdown
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown")
	}

	sw.Stop()
	if err := sub.Unsubscribe(); err != nil {
		log.WithError(err).Warn("Unsubscribing from events")
	}
	cancel()
	<-hubDone

	log.Info("Shutdown complete")
	return nil
}

// CLI helper variables
var baseURL = "http://localhost:8080"

// cliFlags holds the global flags shared by the client commands
type cliFlags struct {
	fs         *flag.FlagSet
	configPath *string
	url        *string
}

func newCLIFlags(name string) *cliFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &cliFlags{
		fs:         fs,
		configPath: fs.String("config", "", "path to configuration file"),
		url:        fs.String("url", "", "base URL of the play4096 server"),
	}
}

// parse parses args and loads the config named by --config. The base URL
// comes from --url, or from the config's listen address.
func (c *cliFlags) parse(args []string) *config.Config {
	c.fs.Parse(args)

	cfg, err := loadConfig(*c.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	if *c.url != "" {
		baseURL = strings.TrimRight(*c.url, "/")
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func cmdLeaderboard(args []string) {
	cli := newCLIFlags("leaderboard")
	limit := cli.fs.Int("top", storage.DefaultLeaderboardLimit, "number of top players to show")
	cli.parse(args)

	var response struct {
		Entries []domain.LeaderboardEntry `json:"entries"`
	}
	if err := getJSON(fmt.Sprintf("/api/leaderboard?limit=%d", *limit), &response); err != nil {
		fail(err)
	}

	if len(response.Entries) == 0 {
		fmt.Println("No scores yet")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tBEST")
	fmt.Fprintln(w, "----\t------\t----")
	for _, e := range response.Entries {
		name := e.Username
		if e.DisplayName != nil && *e.DisplayName != "" {
			name = fmt.Sprintf("%s (%s)", *e.DisplayName, e.Username)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\n", e.Rank, name, e.BestScore)
	}
	w.Flush()
}

// cmdSweep runs a single cleanup pass against the database
func cmdSweep(args []string) {
	cfg := newCLIFlags("sweep").parse(args)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fail(fmt.Errorf("failed to open database: %w", err))
	}
	defer store.Close()

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logger = logging.Discard()
	}
	sw := sweeper.New(store, nil, 0, 0, nil, logging.Base(logger, cfg.Environment))
	fmt.Printf("Removed %d expired records\n", sw.Sweep(context.Background()))
}

// cmdUser handles user subcommands
func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: user subcommand required: add, remove, list, reset, admin, level\n")
		os.Exit(1)
	}

	subCmd := args[0]
	cli := newCLIFlags("user " + subCmd)
	isAdmin := cli.fs.Bool("admin", false, "create as admin user")
	isPro := cli.fs.Bool("pro", false, "create with the PRO level")
	email := cli.fs.String("email", "", "verified email address for the user")
	cfg := cli.parse(args[1:])
	remaining := cli.fs.Args()

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		fail(fmt.Errorf("failed to open database: %w", err))
	}
	defer store.Close()

	ctx := context.Background()

	switch subCmd {
	case "add":
		err = cmdUserAdd(ctx, store, remaining, *isAdmin, *isPro, *email)
	case "remove":
		err = cmdUserRemove(ctx, store, remaining)
	case "list":
		err = cmdUserList(ctx, store)
	case "reset":
		err = cmdUserReset(ctx, store, remaining)
	case "admin":
		err = cmdUserAdmin(ctx, store, remaining)
	case "level":
		err = cmdUserLevel(ctx, store, remaining)
	default:
		err = fmt.Errorf("unknown user command: %s (use: add, remove, list, reset, admin, level)", subCmd)
	}
	if err != nil {
		fail(err)
	}
}

// readNewPassword prompts twice without echo
func readNewPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if !auth.ValidPassword(string(password)) {
		return "", fmt.Errorf("password must be between 6 and 255 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(password), nil
}

func cmdUserAdd(ctx context.Context, store *storage.Store, args []string, isAdmin, isPro bool, email string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: play4096 user add [--admin] [--pro] [--email addr] <username>")
	}
	username := args[0]

	if problems := auth.CheckUsername(username); len(problems) > 0 {
		return fmt.Errorf("invalid username: %s", strings.Join(problems, ", "))
	}
	if _, err := store.GetUserByUsername(ctx, username); err == nil {
		return fmt.Errorf("user '%s' already exists", username)
	}

	user := &domain.User{
		ID:       auth.GenerateUserID(),
		Username: username,
		Admin:    isAdmin,
	}
	if isPro {
		user.Level = domain.LevelPro
	}
	if email != "" {
		if !auth.ValidEmail(email) {
			return fmt.Errorf("invalid email: %s", email)
		}
		user.Email = &email
		user.EmailVerified = true
	}

	password, err := readNewPassword("Enter password: ")
	if err != nil {
		return err
	}
	user.PasswordHash, err = auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if _, err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	roleStr := "user"
	if isAdmin {
		roleStr = "admin"
	}
	fmt.Printf("User '%s' created successfully (role: %s, level: %s)\n", username, roleStr, user.Level)
	return nil
}

func cmdUserRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: play4096 user remove <username>")
	}
	username := args[0]

	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s", username)
	}
	if err := store.DeleteUser(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}

	fmt.Printf("User '%s' removed\n", username)
	return nil
}

func cmdUserList(ctx context.Context, store *storage.Store) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tLEVEL\tEMAIL\tVERIFIED")
	fmt.Fprintln(w, "--------\t----\t-----\t-----\t--------")

	for _, user := range users {
		role := "user"
		if user.Admin {
			role = "admin"
		}
		email := "-"
		if user.HasEmail() {
			email = *user.Email
		}
		verified := "no"
		if user.EmailVerified {
			verified = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", user.Username, role, user.Level, email, verified)
	}
	return w.Flush()
}

func cmdUserReset(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: play4096 user reset <username>")
	}
	username := args[0]

	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s", username)
	}

	password, err := readNewPassword("Enter new password: ")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := store.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	if err := store.DeleteUserSessions(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to end sessions: %w", err)
	}

	fmt.Printf("Password reset for '%s'; existing sessions were signed out\n", username)
	return nil
}

func cmdUserAdmin(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: play4096 user admin <username>")
	}
	username := args[0]

	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s", username)
	}

	newAdminStatus := !user.Admin
	if err := store.SetUserAdmin(ctx, user.ID, newAdminStatus); err != nil {
		return fmt.Errorf("failed to update admin status: %w", err)
	}

	if newAdminStatus {
		fmt.Printf("User '%s' is now an admin\n", username)
	} else {
		fmt.Printf("User '%s' is no longer an admin\n", username)
	}
	return nil
}

func cmdUserLevel(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: play4096 user level <username> <free|pro>")
	}
	username := args[0]

	var level domain.Level
	switch strings.ToLower(args[1]) {
	case "free":
		level = domain.LevelFree
	case "pro":
		level = domain.LevelPro
	default:
		return fmt.Errorf("level must be free or pro")
	}

	user, err := store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s", username)
	}
	if err := store.SetUserLevel(ctx, user.ID, level); err != nil {
		return fmt.Errorf("failed to set level: %w", err)
	}

	fmt.Printf("User '%s' is now %s\n", username, level)
	return nil
}

func getJSON(path string, target interface{}) error {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
