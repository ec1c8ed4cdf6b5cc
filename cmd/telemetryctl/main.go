package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/telemetryd/internal/aggregate"
	"codeberg.org/mutker/telemetryd/internal/client"
	"codeberg.org/mutker/telemetryd/internal/dashboard"
	"codeberg.org/mutker/telemetryd/internal/device"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/health"
	"codeberg.org/mutker/telemetryd/internal/ingest"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/session"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usage = `Usage: telemetryctl <command> [flags]

Commands:
  login      store a bearer token for later commands
  logout     forget the stored token
  ingest     send one telemetry point
  register   declare a device
  analytics  show usage analytics for a device
  health     show the health of a device
  watch      poll the dashboard until interrupted
`

type settings struct {
	Server      string        `mapstructure:"server"`
	LogLevel    string        `mapstructure:"log_level"`
	SessionFile string        `mapstructure:"session_file"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger.Init("info", false)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "login":
		err = runLogin(args)
	case "logout":
		err = runLogout(args)
	case "ingest":
		err = runIngest(ctx, args)
	case "register":
		err = runRegister(ctx, args)
	case "analytics":
		err = runAnalytics(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "watch":
		err = runWatch(ctx, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.ErrorWithCode(appErr).Msg("Command failed")
		} else {
			logger.Error().Err(err).Msg("Command failed")
		}
		cancel()
		os.Exit(1)
	}
}

// newFlagSet returns a flag set carrying the shared flags.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("telemetryctl "+name, pflag.ContinueOnError)
	fs.String("server", "http://localhost:8003", "telemetryd base URL")
	fs.String("log-level", "info", "Log level (debug, info, warning, error)")
	fs.String("session-file", "", "Session file (default: user config dir)")
	fs.Duration("timeout", client.DefaultTimeout, "Per-request timeout")
	return fs
}

// loadSettings parses args and resolves the shared settings, with
// TELEMETRYCTL_* environment variables under flags.
func loadSettings(fs *pflag.FlagSet, args []string) (settings, error) {
	errFactory := errors.New()

	if err := fs.Parse(args); err != nil {
		return settings{}, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetEnvPrefix("TELEMETRYCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"server", "log-level", "session-file", "timeout"} {
		if err := v.BindPFlag(strings.ReplaceAll(name, "-", "_"), fs.Lookup(name)); err != nil {
			return settings{}, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	logger.Init(s.LogLevel, false)

	if s.SessionFile == "" {
		path, err := session.DefaultPath()
		if err != nil {
			return settings{}, err
		}
		s.SessionFile = path
	}

	return s, nil
}

func sessions(s settings) *session.Manager {
	return session.NewManager(session.NewFileStore(s.SessionFile), logger.Default())
}

func newClient(s settings, mgr *session.Manager) (*client.Client, error) {
	return client.New(
		client.Config{BaseURL: s.Server, Timeout: s.Timeout},
		mgr,
		client.WithUnauthorizedHook(mgr.Revoked),
	)
}

func runLogin(args []string) error {
	fs := newFlagSet("login")
	token := fs.String("token", "", "Bearer token issued by the identity service")
	user := fs.String("user", "", "Username the token belongs to")
	role := fs.String("role", "", "Role claimed by the token")

	s, err := loadSettings(fs, args)
	if err != nil {
		return err
	}
	if *token == "" {
		*token = os.Getenv("TELEMETRYCTL_TOKEN")
	}

	if err := sessions(s).Login(*token, session.User{Username: *user, Role: *role}); err != nil {
		return err
	}

	logger.Info().Str("user", *user).Str("session_file", s.SessionFile).Msg("Logged in")
	return nil
}

func runLogout(args []string) error {
	s, err := loadSettings(newFlagSet("logout"), args)
	if err != nil {
		return err
	}
	if err := sessions(s).Logout(); err != nil {
		return err
	}
	logger.Info().Msg("Logged out")
	return nil
}

func runIngest(ctx context.Context, args []string) error {
	fs := newFlagSet("ingest")
	deviceID := fs.String("device", "", "Device id")
	pointID := fs.String("id", "", "Point id (assigned by the server if empty)")
	status := fs.String("status", "", "Device status reported with the point (default active)")
	metrics := map[string]*float64{}
	for _, name := range []string{"energy", "voltage", "current", "power-factor", "temperature", "humidity"} {
		metrics[name] = fs.Float64(name, 0, "Reading for "+name+" (omitted unless set)")
	}

	s, err := loadSettings(fs, args)
	if err != nil {
		return err
	}

	reading := func(name string) *float64 {
		if !fs.Changed(name) {
			return nil
		}
		return metrics[name]
	}
	candidate := ingest.Candidate{
		ID:          *pointID,
		DeviceID:    *deviceID,
		Status:      *status,
		EnergyUsage: reading("energy"),
		Voltage:     reading("voltage"),
		Current:     reading("current"),
		PowerFactor: reading("power-factor"),
		Temperature: reading("temperature"),
		Humidity:    reading("humidity"),
	}

	mgr := sessions(s)
	c, err := newClient(s, mgr)
	if err != nil {
		return err
	}

	point, err := c.Ingest(ctx, candidate)
	if err != nil {
		return err
	}

	logger.Info().
		Str("id", point.ID).
		Str("device_id", point.DeviceID).
		Time("timestamp", point.Timestamp).
		Msg("Telemetry accepted")
	return nil
}

func runRegister(ctx context.Context, args []string) error {
	fs := newFlagSet("register")
	reg := device.Registration{}
	fs.StringVar(&reg.DeviceID, "device", "", "Device id")
	fs.StringVar(&reg.Name, "name", "", "Display name")
	fs.StringVar(&reg.Type, "type", "", "Device type")
	fs.StringVar(&reg.Location, "location", "", "Where the device is installed")

	s, err := loadSettings(fs, args)
	if err != nil {
		return err
	}

	c, err := newClient(s, sessions(s))
	if err != nil {
		return err
	}

	d, err := c.RegisterDevice(ctx, reg)
	if err != nil {
		return err
	}

	logger.Info().
		Str("device_id", d.ID).
		Str("name", d.Name).
		Str("status", string(d.Status)).
		Msg("Device registered")
	return nil
}

func runAnalytics(ctx context.Context, args []string) error {
	fs := newFlagSet("analytics")
	deviceID := fs.String("device", "", "Device id")
	period := fs.String("period", string(aggregate.PeriodWeekly), "Analytics period (daily, weekly, monthly, yearly)")

	s, err := loadSettings(fs, args)
	if err != nil {
		return err
	}

	c, err := newClient(s, sessions(s))
	if err != nil {
		return err
	}

	a, err := c.Analytics(ctx, *deviceID, aggregate.ParsePeriod(*period))
	if err != nil {
		return err
	}

	logger.Info().
		Str("device_id", a.DeviceID).
		Str("period", string(a.Period)).
		Int("readings", a.TotalReadings).
		Float64("total_energy", a.TotalEnergy).
		Float64("average_usage", a.AverageUsage).
		Float64("peak_usage", a.PeakUsage).
		Float64("min_usage", a.MinUsage).
		Float64("cost_estimate", a.CostEstimate).
		Float64("carbon_footprint", a.CarbonFootprint).
		Msg("Analytics")
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := newFlagSet("health")
	deviceID := fs.String("device", "", "Device id")

	s, err := loadSettings(fs, args)
	if err != nil {
		return err
	}

	c, err := newClient(s, sessions(s))
	if err != nil {
		return err
	}

	h, err := c.Health(ctx, *deviceID)
	if err != nil {
		return err
	}

	logHealth(logger.Info(), h)
	return nil
}

func runWatch(ctx context.Context, args []string) error {
	fs := newFlagSet("watch")
	deviceID := fs.String("device", "", "Only show this device")
	limit := fs.Int("limit", dashboard.DefaultLimit, "Number of recent points to aggregate")
	interval := fs.Duration("interval", dashboard.DefaultInterval, "Poll interval")

	s, err := loadSettings(fs, args)
	if err != nil {
		return err
	}

	mgr := sessions(s)
	if _, err := mgr.Current(); err != nil {
		if session.IsNoSession(err) {
			return errors.New().WithMessage(errors.ErrUnauthorized, "not logged in, run telemetryctl login first")
		}
		return err
	}

	c, err := newClient(s, mgr)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	d := dashboard.New(
		dashboard.NewClientFetcher(c, health.DefaultThresholds(), logger.Default()),
		dashboard.Config{
			Interval:  *interval,
			Filter:    dashboard.Filter{DeviceID: *deviceID, Limit: *limit},
			OnRevoked: stop,
			OnChange:  render,
		},
		logger.Default(),
	)
	defer d.Close()

	if err := d.Start(ctx); err != nil && client.IsUnauthorized(err) {
		return err
	}

	<-ctx.Done()

	if m := d.Model(); m.Err != nil && client.IsUnauthorized(m.Err) {
		return m.Err
	}
	return nil
}

func render(m dashboard.Model) {
	ev := logger.Info().
		Str("state", string(m.State)).
		Uint64("generation", m.Generation)
	if m.Err != nil {
		ev = ev.Str("error", errors.Detail(m.Err))
	}
	if m.View == nil {
		ev.Msg("Dashboard")
		return
	}

	snap := m.View.Snapshot
	ev.Int("devices", len(m.View.Devices)).
		Int("points", snap.PointCount).
		Float64("total_energy", snap.TotalEnergy).
		Str("average_temperature", snap.AverageTemperature.String()).
		Str("latest", snap.LatestTimestamp.String()).
		Msg("Dashboard")

	if m.State != dashboard.StateReady {
		return
	}
	for _, h := range m.View.Health {
		logHealth(logger.Debug(), h)
	}
}

func logHealth(ev *logger.LogEvent, h health.Status) {
	ev.Str("device_id", h.DeviceID).
		Str("status", string(h.Status)).
		Float64("uptime", h.UptimePercentage).
		Int("error_count", h.ErrorCount).
		Bool("maintenance_due", h.MaintenanceDue).
		Strs("recommendations", h.Recommendations).
		Msg("Device health")
}
