package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v2"

	"github.com/CodedInternet/osl/comms"
	"github.com/CodedInternet/osl/datalog"
	"github.com/CodedInternet/osl/logging"
	"github.com/CodedInternet/osl/onboard"
	"github.com/CodedInternet/osl/onboard/hardware"
	"github.com/CodedInternet/osl/store"
)

type EnvConfig struct {
	CONFIG     string `env:"OSL_CONFIG" envDefault:"./osl.yaml"`
	SIM        bool   `env:"OSL_SIM" envDefault:"false"`
	DEBUG      bool   `env:"OSL_DEBUG" envDefault:"false"`
	DB         string `env:"OSL_DB"`
	HTTP       string `env:"OSL_HTTP"`
	JWT_SECRET string `env:"OSL_JWT_SECRET"`
	JWT_ISSUER string `env:"OSL_JWT_ISSUER" envDefault:"OSL"`

	Log       logging.Logger
	Store     *store.Store
	Device    Device
	Conductor *comms.Conductor
	Runner    *Runner
}

// Config is the process configuration file.
type Config struct {
	Leg      onboard.LegConfig `yaml:"leg"`
	Logging  logging.Config    `yaml:"logging"`
	DataLog  DataLogConfig     `yaml:"datalog"`
	HTTP     string            `yaml:"http"`
	Database string            `yaml:"database"`
}

type DataLogConfig struct {
	CSV  string            `yaml:"csv"`
	MQTT *comms.MQTTConfig `yaml:"mqtt"`
}

// Device is everything the API and shell drive on the leg.
type Device interface {
	comms.Device
	Home(ctx context.Context) error
	CalibrateLoadCell(ctx context.Context) error
	CalibrateEncoders(ctx context.Context) error
	Estop()
	Run(ctx context.Context, opts onboard.RunOptions) error
	Running() bool
}

var (
	ENV *EnvConfig
)

func init() {
	ENV = new(EnvConfig)
	env.Parse(ENV)
	ENV.Log = logging.Noop()
}

// loadConfig reads the config file. A missing file falls back to a knee and
// ankle with stock settings.
func loadConfig(path string) (cfg Config, err error) {
	cfg = Config{
		HTTP:     "0.0.0.0:8080",
		Database: "./tmp/osl.db",
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg.Leg.Joints = map[string]onboard.JointConfig{
			onboard.KNEE:  {},
			onboard.ANKLE: {},
		}
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if ENV.HTTP != "" {
		cfg.HTTP = ENV.HTTP
	}
	if ENV.DB != "" {
		cfg.Database = ENV.DB
	}
	if ENV.DEBUG {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", ENV.CONFIG, "Path to the YAML configuration")
	simulated := flag.Bool("sim", ENV.SIM, "Run against simulated actuators")
	interactive := flag.Bool("shell", true, "Start the interactive operator shell")
	flag.Parse()
	ENV.SIM = *simulated

	if err := run(*configPath, *interactive); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, interactive bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, logCloser, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	ENV.Log = log

	if ENV.JWT_SECRET == "" {
		if !ENV.DEBUG {
			return errors.New("OSL_JWT_SECRET must be set")
		}
		log.Warnf("[OSL] OSL_JWT_SECRET not set, using an insecure development secret.")
		ENV.JWT_SECRET = "osl-development"
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close() // close database when finished
	ENV.Store = st

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, err := openRecorder(ctx, cfg.DataLog, log)
	if err != nil {
		return err
	}
	defer recorder.Close()

	opts := []onboard.Option{
		onboard.WithLogger(log),
		onboard.WithStore(st),
		onboard.WithRecorder(recorder),
	}
	if ENV.SIM {
		log.Infof("[OSL] Running with simulated actuators.")
		opts = append(opts, onboard.WithAdapter(hardware.NewSimAdapter("sim0", "sim1")))
		if cfg.Leg.LoadCell.Enabled && cfg.Leg.LoadCell.Joint == "" {
			log.Warnf("[OSL] Stand-alone loadcell is not simulated; disabling it.")
			cfg.Leg.LoadCell.Enabled = false
		}
	}

	leg, err := onboard.New(cfg.Leg, opts...)
	if err != nil {
		return err
	}
	defer leg.Close()
	if err := leg.Setup(); err != nil {
		return err
	}

	ENV.Device = leg
	ENV.Runner = NewRunner(leg, log)
	ENV.Runner.OnFatal = stop
	ENV.Conductor = comms.NewConductor(leg, log)
	go ENV.Conductor.UpdateClients(ctx)

	if interactive {
		// Start an instance of the shell so it can be controlled from the CLI
		go newShell(ENV.Device, ENV.Runner, st).Start()
	}

	srv := &http.Server{Addr: cfg.HTTP, Handler: newRouter()}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	log.Infof("[OSL] Listening on %s", cfg.HTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := ENV.Runner.Stop(); err != nil {
		log.Warnf("[OSL] %v", err)
	}
	return ENV.Runner.Fatal()
}

// openRecorder builds the data log recorder with the configured sinks.
func openRecorder(ctx context.Context, cfg DataLogConfig, log logging.Logger) (*datalog.Recorder, error) {
	rec := datalog.NewRecorder()

	if cfg.CSV != "" {
		sink, err := datalog.CreateCSV(cfg.CSV)
		if err != nil {
			return nil, err
		}
		rec.AddSink(sink)
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker != "" {
		sink := comms.NewMQTTSink(*cfg.MQTT, log)
		connect, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := sink.Connect(connect); err != nil {
			log.Warnf("[MQTT] Unable to reach %s, data log will not be published: %v", cfg.MQTT.Broker, err)
		}
		rec.AddSink(sink)
	}

	return rec, nil
}

func newRouter() chi.Router {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", Login)

		r.Group(func(r chi.Router) {
			// Seek, verify and validate JWT tokens
			r.Use(ValidateJWT)

			r.Get("/refresh_token", JWTRefresh)
			r.Get("/status", Status)
			r.Post("/home", Home)
			r.Post("/calibrate/{target}", Calibrate)
			r.Post("/estop", Estop)
			r.Post("/reset", ResetJoints)
			r.Post("/event", PostEvent)
			r.Post("/run", StartRun)
			r.Post("/stop", StopRun)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/ws", streamRoutes)

	return r
}

// Runner owns the background control loop started from the API or shell.
// OnFatal is called once the loop ends on a thermal breach; the process is
// expected to shut down from it.
type Runner struct {
	dev Device
	log logging.Logger

	OnFatal func()

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
	fatal  error
}

func NewRunner(dev Device, log logging.Logger) *Runner {
	if log == nil {
		log = logging.Noop()
	}
	return &Runner{dev: dev, log: log}
}

// Start runs the control loop in the background.
func (r *Runner) Start(opts onboard.RunOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil || r.dev.Running() {
		return onboard.ErrLoopRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	r.cancel, r.done = cancel, done

	go func() {
		err := r.dev.Run(ctx, opts)
		if err != nil {
			r.log.Errorf("[OSL] Control loop stopped: %v", err)
		}
		fatal := errors.Is(err, onboard.ErrThermalLimit)
		done <- err

		r.mu.Lock()
		if r.done == done {
			r.cancel, r.done = nil, nil
		}
		if fatal {
			r.fatal = err
		}
		r.mu.Unlock()
		cancel()

		if fatal && r.OnFatal != nil {
			r.log.Errorf("[OSL] Shutting down after fatal error.")
			r.OnFatal()
		}
	}()
	return nil
}

// Fatal returns the error that ended the last loop on a thermal breach.
func (r *Runner) Fatal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Stop cancels the background loop and waits for it to exit.
func (r *Runner) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	err := <-done
	done <- err

	r.mu.Lock()
	if r.done == done {
		r.cancel, r.done = nil, nil
	}
	r.mu.Unlock()
	return err
}
