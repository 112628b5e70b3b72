package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/checkin/apps/kiosk/echo"
	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/core/attendance"
	"github.com/trezcool/checkin/core/auth"
	"github.com/trezcool/checkin/core/camera"
	"github.com/trezcool/checkin/core/capture"
	"github.com/trezcool/checkin/core/checkin"
	"github.com/trezcool/checkin/core/detection"
	"github.com/trezcool/checkin/core/student"
	backendsvc "github.com/trezcool/checkin/services/backend"
	camerasvc "github.com/trezcool/checkin/services/camera"
	logsvc "github.com/trezcool/checkin/services/logger"
	"github.com/trezcool/checkin/storage/kvstore"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "KIOSK : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	defer logger.Wait()

	// set up local store
	db, err := kvstore.Open(conf.Storage.Path)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening local store: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("closing local store", err)
		}
	}()
	if err = kvstore.Migrate(db); err != nil {
		logger.Fatal(fmt.Sprintf("migrating local store: %v", err), err)
	}

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)

	// set up services
	client, err := backendsvc.NewClient(backendsvc.Options{BaseURL: conf.API.BaseURL, Timeout: conf.API.Timeout})
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up backend client: %v", err), err)
	}
	authSvc := auth.NewService(client, auth.NewStore(kvstore.NewStore(db)), validate, logger)
	client.SetTokenFunc(authSvc.Token)
	studentSvc := student.NewService(client, validate)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), conf.API.Timeout)
	if err = client.Ping(pingCtx); err != nil {
		logger.Warn(fmt.Sprintf("backend %s unreachable", conf.API.BaseURL), err)
	}
	cancelPing()

	// =========================================================================
	// Initialize Kiosk

	logger.Info(fmt.Sprintf("Kiosk initializing : version %q", conf.Build))
	defer logger.Info("Kiosk stopped")

	overlay := detection.NewRasterOverlay()
	sess := checkin.NewSession(
		checkin.Deps{
			Host:      camerasvc.Host{},
			Device:    camerasvc.NewDevice(conf.Camera, logger),
			Sink:      camerasvc.NewSink(),
			Detectors: detection.NewShared(camerasvc.LoadDetector(conf.Detection)),
			Scheduler: detection.NewFrameTicker(conf.Camera.FPS),
			Client:    client,
			Validate:  validate,
			Logger:    logger,
		},
		checkin.Options{
			Constraints:  constraints(conf.Camera),
			Threshold:    conf.Detection.Confidence,
			StableFrames: conf.Detection.StableFrames,
			Capture:      capture.Options{Quality: conf.Capture.JPEGQuality, Mirror: conf.Capture.Mirror},
			Submission: attendance.CoordinatorOptions{
				ResetDelay: conf.Submission.ResetDelay,
				OnMarked:   func() { logger.Info("attendance recorded, kiosk ready") },
			},
			Overlay: overlay,
		},
	)
	defer sess.Close()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		&echoapi.Options{
			Address:        conf.Kiosk.Address,
			Debug:          conf.Debug,
			TestMode:       conf.TestMode,
			DisableReqLogs: conf.Kiosk.DisableReqLogs,
			Logger:         logger,
			Session:        sess,
			Attendance:     sess.Coordinator(),
			AuthSvc:        authSvc,
			StudentSvc:     studentSvc,
			Overlay:        overlay,
			Validate:       validate,
			Translator:     translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Kiosk.ShutdownTimeout)
		defer cancel()

		if err = server.Stop(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
		}
	}
}

func constraints(conf core.CameraConfig) camera.Constraints {
	c := camera.DefaultConstraints()
	c.Facing = conf.Facing
	c.Width.Ideal = conf.Width
	c.Height.Ideal = conf.Height
	return c
}
