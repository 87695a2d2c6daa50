package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/rndmzd/laser-turret/internal/arbiter"
	"github.com/rndmzd/laser-turret/internal/config"
	"github.com/rndmzd/laser-turret/internal/hw/gpio"
	"github.com/rndmzd/laser-turret/internal/hw/laser"
	"github.com/rndmzd/laser-turret/internal/hw/stepper"
	"github.com/rndmzd/laser-turret/internal/obslog"
	"github.com/rndmzd/laser-turret/internal/tracking"
	"github.com/rndmzd/laser-turret/internal/transport"
)

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logger, err := obslog.Init(cfg.Log)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer obslog.Sync()

	logger.Info("turretd_starting", zap.String("config", *cfgPath), zap.Bool("mock_gpio", cfg.MockGPIO))

	drv, err := gpio.Open(cfg.MockGPIO)
	if err != nil {
		log.Fatalf("open GPIO driver failed: %v", err)
	}
	defer func() {
		if err := drv.Release(); err != nil {
			logger.Warn("gpio_release_failed", zap.Error(err))
		}
	}()

	xAxis, yAxis, err := buildAxes(drv, cfg)
	if err != nil {
		log.Fatalf("build stepper axes failed: %v", err)
	}
	defer xAxis.Release()
	defer yAxis.Release()

	cal, err := loadOrSeedCalibration(cfg)
	if err != nil {
		log.Fatalf("load calibration failed: %v", err)
	}

	trackCtl := tracking.New(xAxis, yAxis, cal)
	defer trackCtl.Stop()

	laserOut, err := laser.NewOutput(drv, cfg.Laser.Pin, cfg.Laser.FrequencyHz, "turret-laser")
	if err != nil {
		log.Fatalf("init laser output failed: %v", err)
	}
	defer laserOut.Release()

	laserCtl := laser.NewController(laserOut, laser.Config{
		MaxPowerPct:     cfg.Laser.MaxPowerPct,
		DefaultCooldown: cfg.DefaultCooldown(),
		DefaultPulse:    cfg.DefaultPulse(),
	})

	arb := arbiter.New(trackCtl, laserCtl, arbiter.Config{
		Deadzone:          cfg.Control.Deadzone,
		SpeedScaling:      cfg.Control.SpeedScaling,
		MaxStepsPerUpdate: cfg.Control.MaxStepsPerUpdate,
		IdleTimeout:       cfg.IdleTimeout(),
		DefaultFireMs:     cfg.Laser.DefaultPulseMs,
	})
	defer arb.Stop()

	joyFeed, err := arbiter.NewJoystickFeed(arb, arbiter.MQTTConfig{
		Broker: cfg.MQTT.Broker,
		Port:   cfg.MQTT.Port,
		Topic:  cfg.MQTT.Topic,
	})
	if err != nil {
		logger.Warn("joystick_feed_unavailable", zap.Error(err))
	} else {
		defer joyFeed.Close()
	}

	srv := transport.NewServer(cfg.Listen, arb)
	logger.Info("turretd_ready", zap.String("listen", cfg.Listen))
	if err := srv.Run(ctx); err != nil {
		logger.Error("transport_server_exited", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("turretd_shutdown_complete")
}

// loadOrSeedCalibration loads the persisted calibration file, or seeds
// one from the config's tracking defaults the first time the turret
// runs against a given calibration path.
func loadOrSeedCalibration(cfg *config.Config) (tracking.Calibration, error) {
	if _, err := os.Stat(cfg.Tracking.CalibrationPath); os.IsNotExist(err) {
		cal := tracking.Calibration{
			XStepsPerPixel:    cfg.Tracking.XStepsPerPixel,
			YStepsPerPixel:    cfg.Tracking.YStepsPerPixel,
			DeadZonePixels:    cfg.Tracking.DeadZonePixels,
			MaxStepsFromHomeX: cfg.Tracking.MaxStepsFromHomeX,
			MaxStepsFromHomeY: cfg.Tracking.MaxStepsFromHomeY,
			Kp:                cfg.Tracking.Kp,
			Ki:                cfg.Tracking.Ki,
			Kd:                cfg.Tracking.Kd,
			RecenterOnLoss:    cfg.Tracking.RecenterOnLoss,
			HomeRecenterRate:  cfg.Tracking.HomeRecenterRate,
		}
		if err := tracking.SaveCalibration(cfg.Tracking.CalibrationPath, cal); err != nil {
			return tracking.Calibration{}, fmt.Errorf("seed calibration file: %w", err)
		}
		return cal, nil
	}
	return tracking.LoadCalibration(cfg.Tracking.CalibrationPath)
}

func buildAxes(drv gpio.Driver, cfg *config.Config) (*stepper.Axis, *stepper.Axis, error) {
	xCfg := stepper.Config{
		Name:              "x",
		StepPin:           cfg.MotorX.StepPin,
		DirPin:            cfg.MotorX.DirPin,
		EnablePin:         cfg.MotorX.EnablePin,
		CWLimitPin:        cfg.GPIO.XCWLimitPin,
		CCWLimitPin:       cfg.GPIO.XCCWLimitPin,
		HasLimits:         true,
		StepsPerRev:       cfg.MotorX.StepsPerRev,
		Microsteps:        cfg.MotorX.Microsteps,
		MinStepDelay:      cfg.StepDelay(),
		AccelerationSteps: cfg.Control.AccelerationSteps,
		MaxStepsFromHome:  cfg.Tracking.MaxStepsFromHomeX,
	}
	if cfg.MotorX.UARTPort != "" {
		xCfg.UART = &stepper.UARTConfig{Port: cfg.MotorX.UARTPort, Baud: cfg.MotorX.UARTBaud, Addr: byte(cfg.MotorX.UARTAddr)}
	} else {
		xCfg.MicrostepPins = [3]int{cfg.MotorX.MS1Pin, cfg.MotorX.MS2Pin, cfg.MotorX.MS3Pin}
	}

	yCfg := stepper.Config{
		Name:              "y",
		StepPin:           cfg.MotorY.StepPin,
		DirPin:            cfg.MotorY.DirPin,
		EnablePin:         cfg.MotorY.EnablePin,
		CWLimitPin:        cfg.GPIO.YCWLimitPin,
		CCWLimitPin:       cfg.GPIO.YCCWLimitPin,
		HasLimits:         true,
		StepsPerRev:       cfg.MotorY.StepsPerRev,
		Microsteps:        cfg.MotorY.Microsteps,
		MinStepDelay:      cfg.StepDelay(),
		AccelerationSteps: cfg.Control.AccelerationSteps,
		MaxStepsFromHome:  cfg.Tracking.MaxStepsFromHomeY,
	}
	if cfg.MotorY.UARTPort != "" {
		yCfg.UART = &stepper.UARTConfig{Port: cfg.MotorY.UARTPort, Baud: cfg.MotorY.UARTBaud, Addr: byte(cfg.MotorY.UARTAddr)}
	} else {
		yCfg.MicrostepPins = [3]int{cfg.MotorY.MS1Pin, cfg.MotorY.MS2Pin, cfg.MotorY.MS3Pin}
	}

	x, err := stepper.New(drv, xCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build x axis: %w", err)
	}
	y, err := stepper.New(drv, yCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build y axis: %w", err)
	}
	return x, y, nil
}
