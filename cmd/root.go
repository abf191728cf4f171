package cmd

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/revjunkie/nexus7/internal/config"
	"github.com/revjunkie/nexus7/internal/control"
	"github.com/revjunkie/nexus7/internal/host"
	"github.com/revjunkie/nexus7/internal/hotplug"
	"github.com/revjunkie/nexus7/internal/input"
	"github.com/revjunkie/nexus7/internal/load"
	"github.com/revjunkie/nexus7/internal/logging"
	"github.com/revjunkie/nexus7/internal/telemetry"
	"github.com/revjunkie/nexus7/internal/topology"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

// Execute builds the command tree and runs it.
func Execute() error {
	loadEnvironment()

	var configFile string
	var socket string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:     "hotplugd",
		Short:   "CPU auto-hotplug daemon",
		Long:    "A userspace daemon that onlines and offlines CPU cores based on run-queue load",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
				if err := logging.SetHotplugLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the hotplug daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configFile)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to daemon configuration file")
	runCmd.MarkFlagRequired("config")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a daemon configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfigFile(configFile)
		},
	}
	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to daemon configuration file")
	validateCmd.MarkFlagRequired("config")

	// Client commands talk to a running daemon over its control socket.
	clientCmds := []*cobra.Command{
		{
			Use:   "status",
			Short: "Show the state of a running daemon",
			RunE: func(cmd *cobra.Command, args []string) error {
				return socketCommand(socket, "status")
			},
		},
		{
			Use:   "get <field>",
			Short: "Read a tunable from a running daemon",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return socketCommand(socket, "get "+args[0])
			},
		},
		{
			Use:   "set <field> <value>",
			Short: "Write a tunable on a running daemon",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return socketCommand(socket, "set "+args[0]+" "+args[1])
			},
		},
		{
			Use:   "disable",
			Short: "Disable the automatic hotplug policy",
			RunE: func(cmd *cobra.Command, args []string) error {
				return socketCommand(socket, "disable")
			},
		},
		{
			Use:   "enable",
			Short: "Enable the automatic hotplug policy",
			RunE: func(cmd *cobra.Command, args []string) error {
				return socketCommand(socket, "enable")
			},
		},
	}
	for _, c := range clientCmds {
		c.Flags().StringVar(&socket, "socket", config.DefaultControlSocket, "Path to the daemon control socket")
		rootCmd.AddCommand(c)
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)

	return rootCmd.Execute()
}

func loadEnvironment() {
	logger := logging.GetLogger()

	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}

	if execPath, err := os.Executable(); err == nil {
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
			} else {
				logger.WithField("file", envFile).Debug("Loaded environment variables")
			}
		}
	}
}

func validateConfigFile(configFile string) error {
	logger := logging.GetLogger()

	_, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	logger.WithField("config_file", configFile).Info("Configuration is valid")
	return nil
}

// socketCommand sends one line to the control socket and prints the
// reply.
func socketCommand(socket, command string) error {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon at %s: %w", socket, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, command); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "err ") {
		return fmt.Errorf("%s", strings.TrimPrefix(reply, "err "))
	}
	fmt.Println(reply)
	return nil
}

// sessionSink is the part of the telemetry sinks the shutdown artifact
// needs.
type sessionSink interface {
	hotplug.Sink
	Counters() telemetry.SessionCounters
}

func runDaemon(configFile string) error {
	logger := logging.GetLogger()
	startTime := time.Now()

	cfg, configContent, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Daemon.LogLevel != "" {
		if err := logging.SetLogLevel(cfg.Daemon.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Daemon.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
		} else if err := logging.SetHotplugLogLevel(cfg.Daemon.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Daemon.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
		}
	}

	hostConfig, err := host.GetHostConfig()
	if err != nil {
		logger.WithError(err).Error("Failed to initialize host configuration")
		return err
	}

	logger.WithFields(logrus.Fields{
		"hostname":       hostConfig.Hostname,
		"cpu_model":      hostConfig.CPUModel,
		"possible_cores": hostConfig.PossibleCores,
		"version":        Version,
	}).Info("Starting hotplug daemon")

	topo, err := topology.NewSysfsTopology("", hostConfig.PossibleCores, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open cpu sysfs")
		return err
	}

	loadSource, err := load.NewProcfsSource("")
	if err != nil {
		logger.WithError(err).Error("Failed to open procfs")
		return err
	}

	scale, err := hotplug.ScaleFor(cfg.Daemon.RateScaling)
	if err != nil {
		return err
	}

	store := config.NewStore(cfg.Tuning, hostConfig.PossibleCores)

	// With no database configured the session is still counted locally
	// for the shutdown artifact.
	var sink sessionSink
	if cfg.Data.DB.Host != "" {
		recorder, err := telemetry.NewRecorder(cfg.Data.DB, logger)
		if err != nil {
			return fmt.Errorf("failed to create telemetry recorder: %w", err)
		}
		defer recorder.Close()
		sink = recorder
	} else {
		sink = &telemetry.CounterSink{}
	}

	controller, err := hotplug.New(hotplug.Options{
		Topology: topo,
		Load:     loadSource,
		Tuning:   store,
		Scale:    scale,
		Sink:     sink,
		Logger:   logging.GetHotplugLogger(),
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	controller.Start()
	defer controller.Stop()

	if cfg.Input.Enabled {
		watcher := input.NewWatcher(cfg.Input.DevicesFile, cfg.Input.DevDir, controller.Boost, logger)
		if err := watcher.Start(); err != nil {
			logger.WithError(err).Error("Failed to start input watcher")
			return err
		}
		defer watcher.Stop()
	}

	server := control.New(cfg.Control.Socket, controller, store, logger)
	if err := server.Start(); err != nil {
		logger.WithError(err).Error("Failed to start control socket")
		return err
	}
	defer server.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received signal, shutting down")

	writeSessionArtifact(cfg, configContent, hostConfig, sink, store, startTime)
	return nil
}

func writeSessionArtifact(cfg *config.DaemonConfig, configContent string, hostConfig *host.HostConfig, sink sessionSink, store *config.Store, startTime time.Time) {
	logger := logging.GetLogger()

	artifact := &telemetry.SessionArtifact{
		Version:       1,
		CreatedAt:     time.Now(),
		Hostname:      hostConfig.Hostname,
		KernelVersion: hostConfig.KernelVersion,
		CPUModel:      hostConfig.CPUModel,
		PossibleCores: hostConfig.PossibleCores,
		StartTime:     startTime,
		EndTime:       time.Now(),
		ConfigContent: configContent,
		Counters:      sink.Counters(),
		Tuning:        telemetry.SnapshotTuning(store.Snapshot()),
	}

	path, err := telemetry.WriteSessionArtifact(cfg.Data.SpoolDir, artifact)
	if err != nil {
		logger.WithError(err).Warn("Failed to write session artifact")
		return
	}
	logger.WithField("path", path).Info("Session artifact written")
}
