// Package main is the entry point of the InsightLane service.
package main

import (
	"flag"
	"os"

	"InsightLane/internal/conf"
	zapLogger "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "InsightLane"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, _ *cron.Cron) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
	)
}

func main() {
	flag.Parse()

	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := log.With(zapLogger.NewKratosAdapter(zapLog),
		"service.id", id,
		"service.version", Version,
	)

	helper := zapLogger.NewLogHelper(logger)
	helper.Startup("InsightLane service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"log.env", bc.Log.Env,
		"http.addr", bc.Server.Http.Addr,
		"services", len(bc.Gateway.Services),
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Gateway, bc.Retry, bc.Storage, bc.Pipeline, bc.Scheduler, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()
	helper.Success("InsightLane service initialized", "http.addr", bc.Server.Http.Addr)

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
