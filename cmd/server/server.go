package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/stephnangue/belfry/config"
	"github.com/stephnangue/belfry/core"
	belfryhttp "github.com/stephnangue/belfry/http"
	"github.com/stephnangue/belfry/listener"
	"github.com/stephnangue/belfry/listener/api"
	log "github.com/stephnangue/belfry/logger"
	"github.com/stephnangue/belfry/physical"
	inmemStorage "github.com/stephnangue/belfry/physical/inmem"
	redisStorage "github.com/stephnangue/belfry/physical/redis"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// Subsystem names for logging
	subsystemCore     = "core"
	subsystemListener = "listener"

	// Listener protocol names
	listenerProtocolHTTP  = "http"
	listenerProtocolHTTPS = "https"

	defaultRingGrace = 2 * time.Second
)

var (
	configPath string

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "This command starts a belfry server that responds to API requests",
		Long: `
Usage: belfry server [options]

  This command starts a belfry server that responds to API requests.
  Start a server with a configuration file:

      $ belfry server --config=/etc/belfry/config.hcl

  For a full list of examples, please see the documentation.
  `,
		RunE: run,
	}

	wg sync.WaitGroup

	cleanupGuard sync.Once

	storageBackends = map[string]physical.Factory{
		"inmem": inmemStorage.NewInmem,
		"redis": redisStorage.NewRedisStorage,
	}
)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/belfry.hcl)")
}

func run(cmd *cobra.Command, args []string) error {
	// Validate config path is provided
	if configPath == "" {
		return fmt.Errorf("config file path is required. Use -c or --config flag")
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", configPath)
	}

	// Load configuration
	config, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// construct the logger with gate closed during initialization
	logger := buildGatedLogger(config)

	// craft the storage
	storage, err := buildStorage(config, logger)
	if err != nil {
		return fmt.Errorf("failed to construct the storage: %w", err)
	}

	infoKeys := make([]string, 0, 10)
	info := make(map[string]string)
	info["log level"] = config.LogLevel
	infoKeys = append(infoKeys, "log level")
	info["log file"] = config.LogFile
	infoKeys = append(infoKeys, "log file")
	info["log format"] = config.LogFormat
	infoKeys = append(infoKeys, "log format")
	info["log rotate max files"] = fmt.Sprintf("%d", config.LogRotateMaxFiles)
	infoKeys = append(infoKeys, "log rotate max files")
	info["log rotate max size"] = fmt.Sprintf("%d", config.LogRotateMegabytes)
	infoKeys = append(infoKeys, "log rotate max size")

	// returns a slice of env vars formatted as "key=value"
	envVars := os.Environ()
	var envVarKeys []string
	for _, v := range envVars {
		splitEnvVars := strings.Split(v, "=")
		envVarKeys = append(envVarKeys, splitEnvVars[0])
	}

	sort.Strings(envVarKeys)

	key := "environment variables"
	info[key] = strings.Join(envVarKeys, ", ")
	infoKeys = append(infoKeys, key)

	grace := defaultRingGrace
	if config.Bell.GraceMilliseconds > 0 {
		grace = time.Duration(config.Bell.GraceMilliseconds) * time.Millisecond
	}

	newCore, err := core.NewCore(&core.CoreConfig{
		Physical:    storage,
		RingCommand: config.Bell.RingCommand,
		RingGrace:   grace,
		Logger:      logger.WithSystem(subsystemCore),
	})
	if err != nil {
		return fmt.Errorf("error initializing core: %w", err)
	}

	// Compile server information for output later
	info["storage"] = config.Storage.Type
	infoKeys = append(infoKeys, "storage")
	info["ring command"] = config.Bell.RingCommand
	infoKeys = append(infoKeys, "ring command")
	info["ring grace"] = grace.String()
	infoKeys = append(infoKeys, "ring grace")
	info["debug"] = fmt.Sprintf("%t", config.Debug)
	infoKeys = append(infoKeys, "debug")

	// Seed the sample tokens so every lifecycle variant is available in
	// debug deployments.
	if config.Debug {
		if _, err := newCore.ResetSamples(cmd.Context()); err != nil {
			return fmt.Errorf("failed to seed sample resources: %w", err)
		}
	}

	sessions, err := buildSessions(config)
	if err != nil {
		return err
	}

	// Create HTTP handler from core
	httpHandler := belfryhttp.Handler(&belfryhttp.HandlerProperties{
		Core:     newCore,
		Logger:   logger.WithSystem("http"),
		Sessions: sessions,
		Debug:    config.Debug,
	})

	// init the listeners
	lns, err := initListeners(httpHandler, config, logger, &infoKeys, &info)
	if err != nil {
		return err
	}

	// Shutdown error tracking
	var shutdownErrs []error
	var shutdownErrsMu sync.Mutex

	// Make sure we close all listeners from this point on
	listenerCloseFunc := func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Stopping all listeners\n")
		for _, ln := range lns {
			if err := ln.Stop(); err != nil {
				shutdownErrsMu.Lock()
				shutdownErrs = append(shutdownErrs, fmt.Errorf("failed to stop %s listener at %s: %w", ln.Type(), ln.Addr(), err))
				shutdownErrsMu.Unlock()
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Listener stopped successfully: type=%s, address=%s\n", ln.Type(), ln.Addr())
			}
		}
	}

	// Use sync.Once to ensure listeners are stopped exactly once, even if called
	// both via defer (on panic/error) and explicitly before core shutdown
	defer cleanupGuard.Do(listenerCloseFunc)

	sort.Strings(infoKeys)
	fmt.Fprintf(cmd.OutOrStdout(), "\n==> Belfry server configuration:\n\n")

	titleCaser := cases.Title(language.English, cases.NoLower)

	for _, k := range infoKeys {
		fmt.Fprintf(cmd.OutOrStdout(), "%24s: %s\n", titleCaser.String(k), info[k])
	}

	// start the listeners
	// Use context from cobra command which respects signal interrupts
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Channel to collect all listener errors
	errChan := make(chan error, len(lns))
	var listenerErrs []error
	var listenerErrsMu sync.Mutex
	totalListeners := len(lns)

	for _, ln := range lns {
		ln := ln
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ln.Start(ctx); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "failed to start listener: %v\n", err)
				errChan <- err
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n==> Belfry server started! Log data will stream in below:\n")
	logger.OpenGate()

	// Wait for shutdown
	shutdownTriggered := false

	for !shutdownTriggered {
		select {
		case err := <-errChan:
			// Aggregate listener errors
			listenerErrsMu.Lock()
			listenerErrs = append(listenerErrs, err)
			failedCount := len(listenerErrs)
			listenerErrsMu.Unlock()

			fmt.Fprintf(cmd.OutOrStdout(), "Listener error occurred: failed_count=%d, total_listeners=%d\n", failedCount, totalListeners)

			// Only trigger shutdown if ALL listeners have failed
			if failedCount >= totalListeners {
				fmt.Fprintf(cmd.OutOrStdout(), "All listeners have failed, triggering shutdown: failed_count=%d\n", failedCount)
				shutdownTriggered = true
				cancel()
			}
		case <-ctx.Done():
			fmt.Fprintf(cmd.OutOrStdout(), "Belfry shutdown triggered\n")
			shutdownTriggered = true
			cancel()
		}
	}

	// Stop the listeners so that we don't process further client requests
	cleanupGuard.Do(listenerCloseFunc)

	// Wait for all listener goroutines to finish and collect any remaining errors
	wg.Wait()

	// Collect any remaining errors from errChan (non-blocking)
	close(errChan)
	for err := range errChan {
		listenerErrsMu.Lock()
		listenerErrs = append(listenerErrs, err)
		listenerErrsMu.Unlock()
	}

	// Log aggregated listener errors if any
	if len(listenerErrs) > 0 {
		aggregatedErr := errors.Join(listenerErrs...)
		fmt.Fprintf(cmd.OutOrStdout(), "Listener errors occurred during runtime: %v, error_count=%d\n", aggregatedErr, len(listenerErrs))
	}

	// Let in-flight rings run to completion and finalize before exit.
	newCore.Shutdown()

	// Report aggregated shutdown errors
	if len(shutdownErrs) > 0 {
		aggregatedShutdownErr := errors.Join(shutdownErrs...)
		fmt.Fprintf(cmd.OutOrStdout(), "Shutdown completed with errors: %v, error_count=%d\n", aggregatedShutdownErr, len(shutdownErrs))
		return aggregatedShutdownErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Server shutdown completed successfully\n")
	return nil
}

func buildGatedLogger(config *config.Config) *log.GatedLogger {
	logConfig := &log.Config{
		Level:     log.ParseLogLevel(config.LogLevel),
		Subsystem: subsystemCore,
		FileConfig: &log.FileConfig{
			Filename:   config.LogFile,
			MaxSize:    config.LogRotateMegabytes,
			MaxBackups: config.LogRotateMaxFiles,
		},
		Format:  log.ParseOutputFormat(config.LogFormat),
		Outputs: []io.Writer{os.Stdout},
	}

	gateConfig := log.GatedWriterConfig{
		Underlying:    os.Stdout,
		InitialState:  log.GateClosed,
		MaxBufferSize: 10 * 1024 * 1024, // 10MB buffer for initialization logs
	}

	gatedLogger, _ := log.NewGatedLogger(logConfig, gateConfig)

	return gatedLogger
}

func buildStorage(config *config.Config, logger *log.GatedLogger) (physical.Storage, error) {
	factory, exists := storageBackends[config.Storage.Type]
	if !exists {
		return nil, fmt.Errorf("unknown storage type %s", config.Storage.Type)
	}

	storage, err := factory(config.Storage.Config(), logger.WithSystem("storage."+config.Storage.Type).Logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing storage of type %s: %w", config.Storage.Type, err)
	}

	return storage, nil
}

func buildSessions(config *config.Config) (*belfryhttp.SessionManager, error) {
	secret := config.Admin.CookieSecret
	if secret == "" {
		var err error
		secret, err = belfryhttp.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate cookie secret: %w", err)
		}
	}
	return belfryhttp.NewSessionManager(config.Admin.Username, config.Admin.Password, secret), nil
}

func initListeners(httpHandler http.Handler, config *config.Config, logger *log.GatedLogger, infoKeys *[]string, info *map[string]string) ([]listener.Listener, error) {
	lns := make([]listener.Listener, 0, len(config.Listeners))

	for _, lnConfig := range config.Listeners {
		switch lnConfig.Protocol {
		case listenerProtocolHTTP, listenerProtocolHTTPS:
			// construct api listener using shared HTTP handler
			ln, err := api.NewApiListener(api.ApiListenerConfig{
				Logger:      logger.WithSystem(subsystemListener),
				Address:     lnConfig.Address,
				TLSCertFile: lnConfig.TLSCertFile,
				TLSKeyFile:  lnConfig.TLSKeyFile,
				TLSEnabled:  lnConfig.TLSEnabled || lnConfig.Protocol == listenerProtocolHTTPS,
			}, httpHandler)
			if err != nil {
				return nil, fmt.Errorf("error initializing listener %s: %w", lnConfig.Name, err)
			}
			lns = append(lns, ln)

			lnKey := fmt.Sprintf("listener %s", lnConfig.Name)
			(*info)[lnKey] = fmt.Sprintf("%s (%s)", lnConfig.Address, lnConfig.Protocol)
			*infoKeys = append(*infoKeys, lnKey)
		default:
			return nil, fmt.Errorf("unknown listener protocol: %s", lnConfig.Protocol)
		}
	}

	return lns, nil
}
