// Package main provides accessctl, a command line client that signs in to
// the backend, keeps the session on disk or in Redis, and evaluates the
// access policy for the signed-in principal. It is a development harness;
// applications use pkg/session and pkg/policy directly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hireboard/accesscore/pkg/audit"
	"github.com/hireboard/accesscore/pkg/logging"
	"github.com/hireboard/accesscore/pkg/metrics"
	"github.com/hireboard/accesscore/pkg/policy"
	"github.com/hireboard/accesscore/pkg/session"
	"github.com/hireboard/accesscore/pkg/types"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const usage = `usage: accessctl [global flags] <command> [flags]

commands:
  login          sign in and persist the session
  whoami         print the signed-in principal
  logout         end the session
  get PATH       send an authenticated GET and print the body
  check          evaluate the access policy for a record
  watch-policy   hot reload a policy file until interrupted
  version        print version information
`

// globals are the flags shared by every command
type globals struct {
	baseURL       string
	storeKind     string
	storePath     string
	redisHost     string
	redisPort     int
	redisPassword string
	redisDB       int
	logLevel      string
	logFormat     string
	logFile       string
	auditType     string
	auditFile     string
	metricsAddr   string
	loginTimeout  time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "accessctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var g globals
	fs := flag.NewFlagSet("accessctl", flag.ContinueOnError)
	fs.StringVar(&g.baseURL, "base-url", os.Getenv("ACCESSCORE_BASE_URL"), "Backend base URL")
	fs.StringVar(&g.storeKind, "store", "file", "Session store (file, redis, memory)")
	fs.StringVar(&g.storePath, "store-path", "", "Session file path (default ~/.accesscore/session.json)")
	fs.StringVar(&g.redisHost, "redis-host", "localhost", "Redis host")
	fs.IntVar(&g.redisPort, "redis-port", 6379, "Redis port")
	fs.StringVar(&g.redisPassword, "redis-password", os.Getenv("ACCESSCORE_REDIS_PASSWORD"), "Redis password")
	fs.IntVar(&g.redisDB, "redis-db", 0, "Redis database")
	fs.StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	fs.StringVar(&g.logFormat, "log-format", "console", "Log format (json, console)")
	fs.StringVar(&g.logFile, "log-file", "", "Write logs to a rotating file")
	fs.StringVar(&g.auditType, "audit", "", "Audit output (stdout, file); empty disables")
	fs.StringVar(&g.auditFile, "audit-file", "accessctl-audit.log", "Audit file path")
	fs.StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	fs.DurationVar(&g.loginTimeout, "login-timeout", 10*time.Second, "Login timeout")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, cmdArgs := rest[0], rest[1:]

	if cmd == "version" {
		fmt.Fprintf(stdout, "accessctl %s\n", Version)
		fmt.Fprintf(stdout, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(stdout, "  Git Commit: %s\n", GitCommit)
		return nil
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = g.logLevel
	logCfg.Format = g.logFormat
	logCfg.FilePath = g.logFile
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	auditor, err := newAuditor(g)
	if err != nil {
		return err
	}
	defer auditor.Close()

	collector := metrics.NewPrometheusMetrics("accesscore")
	if g.metricsAddr != "" {
		srv := &http.Server{Addr: g.metricsAddr, Handler: collector.HTTPHandler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	env := &environment{globals: g, logger: logger, audit: auditor, metrics: collector, stdout: stdout}

	switch cmd {
	case "login":
		return env.login(ctx, cmdArgs)
	case "whoami":
		return env.whoami(ctx)
	case "logout":
		return env.logout(ctx)
	case "get":
		return env.get(ctx, cmdArgs)
	case "check":
		return env.check(ctx, cmdArgs)
	case "watch-policy":
		return env.watchPolicy(ctx, cmdArgs)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type environment struct {
	globals
	logger  *zap.Logger
	audit   audit.Logger
	metrics *metrics.PrometheusMetrics
	stdout  io.Writer
}

func newAuditor(g globals) (audit.Logger, error) {
	if g.auditType == "" {
		return audit.NewNoopLogger(), nil
	}
	cfg := audit.DefaultConfig()
	cfg.Type = g.auditType
	cfg.FilePath = g.auditFile
	logger, err := audit.NewLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	return logger, nil
}

func (e *environment) openStore(ctx context.Context) (session.TokenStore, error) {
	switch e.storeKind {
	case "file":
		path := e.storePath
		if path == "" {
			def, err := session.DefaultFileStorePath()
			if err != nil {
				return nil, err
			}
			path = def
		}
		return session.NewFileStore(path)
	case "redis":
		cfg := session.DefaultRedisConfig()
		cfg.Host = e.redisHost
		cfg.Port = e.redisPort
		cfg.Password = e.redisPassword
		cfg.DB = e.redisDB
		return session.DialRedisStore(ctx, cfg)
	case "memory":
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q (must be file, redis or memory)", e.storeKind)
	}
}

func (e *environment) newManager(ctx context.Context) (*session.Manager, error) {
	store, err := e.openStore(ctx)
	if err != nil {
		return nil, err
	}
	cfg := session.DefaultConfig()
	cfg.BaseURL = e.baseURL
	cfg.LoginTimeout = e.loginTimeout
	return session.NewManager(cfg,
		session.WithLogger(e.logger),
		session.WithMetrics(e.metrics),
		session.WithAuditor(e.audit),
		session.WithStore(store),
	)
}

// restored returns a manager carrying the persisted session
func (e *environment) restored(ctx context.Context) (*session.Manager, *types.Principal, error) {
	m, err := e.newManager(ctx)
	if err != nil {
		return nil, nil, err
	}
	p, ok, err := m.Restore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errors.New("not logged in")
	}
	return m, p, nil
}

func (e *environment) printJSON(v interface{}) error {
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (e *environment) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", os.Getenv("ACCESSCORE_PASSWORD"), "Account password (or ACCESSCORE_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("login requires -email and -password")
	}

	m, err := e.newManager(ctx)
	if err != nil {
		return err
	}
	p, err := m.Login(ctx, session.Credentials{Email: *email, Password: *password})
	if err != nil {
		return err
	}
	return e.printJSON(p)
}

func (e *environment) whoami(ctx context.Context) error {
	_, p, err := e.restored(ctx)
	if err != nil {
		return err
	}
	return e.printJSON(p)
}

func (e *environment) logout(ctx context.Context) error {
	m, err := e.newManager(ctx)
	if err != nil {
		return err
	}
	if _, _, err := m.Restore(ctx); err != nil {
		e.logger.Warn("Could not restore session before logout", zap.Error(err))
	}
	m.Logout(ctx)
	return nil
}

func (e *environment) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("get requires exactly one PATH")
	}
	m, _, err := e.restored(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+args[0], nil)
	if err != nil {
		return err
	}
	resp, err := m.Execute(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(e.stdout, resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}

// checkResult is printed by the check command
type checkResult struct {
	Principal   string           `json:"principal"`
	Role        types.RoleTag    `json:"role"`
	Resource    string           `json:"resource"`
	Rule        policy.ScopeKind `json:"rule"`
	Visible     bool             `json:"visible"`
	CanMutate   bool             `json:"canMutate"`
	Reason      string           `json:"reason,omitempty"`
	Field       string           `json:"field,omitempty"`
	FieldAccess *bool            `json:"fieldAccess,omitempty"`
}

func (e *environment) loadEvaluator(path string) (*policy.Evaluator, error) {
	ev, err := policy.NewEvaluator(
		policy.WithLogger(e.logger),
		policy.WithMetrics(e.metrics),
		policy.WithAuditLogger(e.audit),
	)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return ev, nil
	}
	table, err := policy.LoadTableFile(path)
	if err != nil {
		return nil, err
	}
	if err := ev.SetTable(table); err != nil {
		return nil, err
	}
	return ev, nil
}

func (e *environment) check(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	policyPath := fs.String("policy", "", "Policy table file (default built-in table)")
	resource := fs.String("resource", string(types.ResourceCandidate), "Resource type")
	location := fs.String("location", "", "Record location id")
	department := fs.String("department", "", "Record department id")
	owner := fs.String("owner", "", "Record owner id")
	field := fs.String("field", "", "Field to check visibility of")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, p, err := e.restored(ctx)
	if err != nil {
		return err
	}
	ev, err := e.loadEvaluator(*policyPath)
	if err != nil {
		return err
	}

	rt := types.ResourceType(*resource)
	record := types.ResourceQuery{ResourceType: rt, LocationID: *location, DepartmentID: *department, OwnerID: *owner}
	decision := ev.CanMutate(p, rt, record)

	res := checkResult{
		Principal: p.ID,
		Role:      p.Role,
		Resource:  *resource,
		Rule:      ev.RuleFor(p.Role, rt),
		Visible:   ev.FilterPredicate(p, rt)(record),
		CanMutate: decision.Allowed,
		Reason:    decision.Reason,
	}
	if *field != "" {
		allowed := ev.CanAccessField(p, *field)
		res.Field = *field
		res.FieldAccess = &allowed
	}
	return e.printJSON(res)
}

func (e *environment) watchPolicy(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch-policy", flag.ContinueOnError)
	policyPath := fs.String("policy", "", "Policy table file to watch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *policyPath == "" {
		return errors.New("watch-policy requires -policy")
	}

	ev, err := e.loadEvaluator(*policyPath)
	if err != nil {
		return err
	}
	fw, err := policy.NewFileWatcher(*policyPath, ev)
	if err != nil {
		return err
	}
	if err := fw.Watch(ctx); err != nil {
		return err
	}
	defer fw.Stop()

	e.logger.Info("Watching policy file", zap.String("path", *policyPath))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopped watching policy file")
			return nil
		case reload := <-fw.EventChan():
			if reload.Error != nil {
				fmt.Fprintf(e.stdout, "%s reload failed: %v\n", reload.Timestamp.Format(time.RFC3339), reload.Error)
				continue
			}
			fmt.Fprintf(e.stdout, "%s reloaded %s\n", reload.Timestamp.Format(time.RFC3339), reload.Path)
		}
	}
}
