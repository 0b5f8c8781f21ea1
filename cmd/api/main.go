package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "v2gbridge/internal/adapter/actor"
	"v2gbridge/internal/config"
	"v2gbridge/internal/core/actor"
	"v2gbridge/internal/server"
	"v2gbridge/internal/util/actorutil"
	"v2gbridge/pkg/evsemodbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	logger := buildLogger(cfg)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// resolve vendor spec and validate the charger connection before
	// spawning the actor tree
	spec, err := evsemodbus.VendorByName(cfg.Charger.Model)
	if err != nil {
		logger.Sugar().Errorf("unknown charger model %q, supported: %v", cfg.Charger.Model, evsemodbus.VendorNames())
		return
	}

	chargerProv, err := chargerActorProvider(cfg, spec, logger)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, spec, chargerProv, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => V2GBRIDGE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("V2GBRIDGE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("v2gbridge")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if cfg.Charger.Host == "" {
		return nil, errors.New("config param charger.host is required")
	}
	if cfg.Charger.FailureTimeoutSeconds < 60 || cfg.Charger.FailureTimeoutSeconds > 300 {
		return nil, errors.New("config param charger.failure_timeout_seconds should be between 60 and 300")
	}
	if cfg.Schedule.RoundTripEfficiency <= 0 || cfg.Schedule.RoundTripEfficiency > 1 {
		return nil, errors.New("config param schedule.round_trip_efficiency should be in (0, 1]")
	}
	if cfg.Schedule.MinResolutionMinutes == 0 {
		return nil, errors.New("config param schedule.min_resolution_minutes should be > 0")
	}
	if cfg.Vehicle.MinSocPercent < 0 || cfg.Vehicle.MinSocPercent > 100 {
		return nil, errors.New("config param vehicle.min_soc_percent should be between 0 and 100")
	}

	return &cfg, nil
}

// buildLogger tees to stderr and, when log_file is set, to a rotated file.
func buildLogger(cfg *config.Config) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(os.Stderr), cfg.LogLevel),
	}
	if cfg.LogFile != "" {
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), rotated, cfg.LogLevel))
	}
	return zap.New(zapcore.NewTee(cores...))
}

func chargerActorProvider(cfg *config.Config, spec *evsemodbus.VendorSpec, logger *zap.Logger) (actor.ChargerActorProvider, error) {

	port := int(cfg.Charger.Port)
	if port == 0 {
		port = spec.DefaultPort
	}

	// read the hardware max power once to validate host/port and to cap
	// the configured limits
	hwMax, err := evsemodbus.PreInitMaxPower(spec, cfg.Charger.Host, port)
	if err != nil {
		return nil, err
	}
	logger.Sugar().Infof("charger reports %d W hardware max power", hwMax)

	maxCharge := int64(cfg.Charger.MaxChargePower)
	maxDischarge := int64(cfg.Charger.MaxDischargePower)
	if maxCharge == 0 || maxCharge > hwMax {
		maxCharge = hwMax
	}
	if maxDischarge == 0 || maxDischarge > hwMax {
		maxDischarge = hwMax
	}

	failureWindow := time.Duration(cfg.Charger.FailureTimeoutSeconds) * time.Second

	guard := evsemodbus.PowerGuard{
		MinSoCPercent:    cfg.Vehicle.MinSocPercent,
		MaxChargeWatt:    maxCharge,
		MaxDischargeWatt: maxDischarge,
	}

	vehicle := &evsemodbus.ConnectedVehicle{
		ID:            cfg.Vehicle.Id,
		MinSoCPercent: cfg.Vehicle.MinSocPercent,
		CapacityKWh:   cfg.Vehicle.CapacityKWh,
	}

	return func() *adactor.ChargerPortActor {
		transport, err := evsemodbus.NewTransport(cfg.Charger.Host, port, failureWindow, logger)
		if err != nil {
			panic(err)
		}
		driver := evsemodbus.NewChargerDriver(spec, transport, guard, func() *evsemodbus.ConnectedVehicle {
			return vehicle
		}, logger)
		return adactor.NewChargerPortActor(driver, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func() *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "v2gbridge")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("charger.model", "sunspec")
	viper.SetDefault("charger.failure_timeout_seconds", 60)
	viper.SetDefault("charger.error_timeout_seconds", 0)
	viper.SetDefault("charger.forced_read_timeout_seconds", 0)
	viper.SetDefault("vehicle.min_soc_percent", 20)
	viper.SetDefault("schedule.min_resolution_minutes", 5)
	viper.SetDefault("schedule.round_trip_efficiency", 0.85)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
