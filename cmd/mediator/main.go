/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Command mediator runs the DIDComm v2 cloud mediator.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/openmediation/didcomm-mediator-go/pkg/common/log"
	"github.com/openmediation/didcomm-mediator-go/pkg/mediator"
)

var logger = log.New("mediator/cmd")

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	m, err := mediator.New(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to assemble mediator")
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- m.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "mediator stopped")
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := m.Stop(ctx); err != nil {
		return errors.Wrap(err, "shutdown failed")
	}

	return nil
}

func loadConfig(path string) (*mediator.Config, error) {
	if path == "" {
		return mediator.DefaultConfig(), nil
	}

	cfg, err := mediator.LoadConfig(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	return cfg, nil
}
