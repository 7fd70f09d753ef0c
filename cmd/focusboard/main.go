// Command focusboard serves live classroom sessions over WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	flag "github.com/spf13/pflag"

	"focusboard/internal/app"
	"focusboard/internal/config"
)

// version is set at build time:
//
//	go build -ldflags "-X main.version=1.2.0"
var version = "dev"

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 30 * time.Second

// errHelp is returned after printing usage so main exits cleanly.
var errHelp = errors.New("help requested")

// options are the command-line overrides.
type options struct {
	configPath string
	host       string
	port       int
	dbPath     string
	driver     string
	logLevel   string
	seedDemo   bool
	version    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "focusboard: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads args into options and reports which flags were set.
func parseFlags(args []string, stderr io.Writer) (*options, *flag.FlagSet, error) {
	opts := &options{}
	fs := flag.NewFlagSet("focusboard", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&opts.configPath, "config", "c", "", "JSON config file (or FOCUSBOARD_CONFIG_FILE)")
	fs.StringVar(&opts.host, "host", "", "HTTP listen host")
	fs.IntVarP(&opts.port, "port", "p", 0, "HTTP listen port")
	fs.StringVar(&opts.dbPath, "db", "", "SQLite database file")
	fs.StringVar(&opts.driver, "driver", "", "SQLite driver: sqlite3 (cgo) or sqlite (pure Go)")
	fs.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&opts.seedDemo, "seed-demo", false, "Create demo accounts and a session, then print their tokens")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	var showHelp bool
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if showHelp {
		fmt.Fprintln(stderr, "Usage: focusboard [options]")
		fs.PrintDefaults()
		return nil, nil, errHelp
	}
	return opts, fs, nil
}

// loadConfig layers flags over defaults, environment and the config file.
func loadConfig(opts *options, fs *flag.FlagSet) (*config.Config, error) {
	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		return nil, err
	}

	if fs.Changed("host") {
		cfg.HTTP.Host = opts.host
	}
	if fs.Changed("port") {
		cfg.HTTP.Port = opts.port
	}
	if fs.Changed("db") {
		cfg.Database.Path = opts.dbPath
	}
	if fs.Changed("driver") {
		cfg.Database.Driver = opts.driver
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, fs, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.version {
		fmt.Fprintf(stdout, "focusboard %s\n", version)
		return nil
	}

	cfg, err := loadConfig(opts, fs)
	if err != nil {
		return err
	}

	logger, err := app.NewLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		logger.Warn("using the built-in development JWT secret; set FOCUSBOARD_AUTH_JWT_SECRET")
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Database().Close()
		return fmt.Errorf("failed to start application: %w", err)
	}

	if opts.seedDemo {
		seed, err := application.SeedDemo(ctx)
		if err != nil {
			logger.Error("demo seeding failed", "error", err)
		} else {
			printSeed(stdout, application.Addr(), seed)
		}
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}

func printSeed(w io.Writer, addr string, seed *app.DemoSeed) {
	fmt.Fprintf(w, "Demo session %d is live.\n\n", seed.Session.ID)
	fmt.Fprintf(w, "Instructor %s (password %s)\n  ws://%s/ws/session/%d?token=%s\n\n",
		seed.Instructor.Email, app.DemoInstructorPassword, addr, seed.Session.ID, seed.InstructorToken)
	fmt.Fprintf(w, "Student %s (password %s)\n  ws://%s/ws/session/%d?token=%s\n",
		seed.Student.Email, app.DemoStudentPassword, addr, seed.Session.ID, seed.StudentToken)
}
