package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/helmetcam/pkg/camera/capture"
	"github.com/cyclopcam/helmetcam/pkg/darknet"
	"github.com/cyclopcam/helmetcam/pkg/nnload"
	"github.com/cyclopcam/helmetcam/server"
	"github.com/cyclopcam/helmetcam/server/config"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("helmetcam", "Safety helmet detection web app")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file (YAML). Defaults and HELMETCAM_ environment variables are used if empty.", Default: ""})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Override the HTTP listen address, eg :8080", Default: ""})
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Hot reload templates and static files instead of embedding into binary", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	files := nnload.ModelFiles{
		Dir:     cfg.Model.Dir,
		Config:  cfg.Model.Config,
		Weights: cfg.Model.Weights,
		Labels:  cfg.Model.Labels,
	}
	model, err := nnload.LoadModel(logger, files, darknet.Options{
		InputWidth:  cfg.Model.InputWidth,
		InputHeight: cfg.Model.InputHeight,
		Backend:     cfg.Model.Backend,
		Target:      cfg.Model.Target,
	})
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(logger, cfg, model, capture.Device(cfg.Camera.Device), *hotReloadWWW)
	if err != nil {
		model.Close()
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.Listen); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
		os.Exit(1)
	}
}
