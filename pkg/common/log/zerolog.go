/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"os"

	"github.com/rs/zerolog"
)

// zerologProvider is the default Provider, writing structured console lines
// via zerolog with a "module" field per logger.
type zerologProvider struct {
	root zerolog.Logger
}

func newZerologProvider() *zerologProvider {
	return &zerologProvider{
		root: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger(),
	}
}

// GetLogger returns a zerolog-backed Logger for the module.
func (p *zerologProvider) GetLogger(module string) Logger {
	return &zerologAdapter{
		l:      p.root.With().Str("module", module).Logger(),
		module: module,
	}
}

type zerologAdapter struct {
	l      zerolog.Logger
	module string
}

func (a *zerologAdapter) Fatalf(msg string, args ...interface{}) {
	a.l.Fatal().Msgf(msg, args...)
}

func (a *zerologAdapter) Panicf(msg string, args ...interface{}) {
	a.l.Panic().Msgf(msg, args...)
}

func (a *zerologAdapter) Debugf(msg string, args ...interface{}) {
	if IsEnabledFor(a.module, DEBUG) {
		a.l.Debug().Msgf(msg, args...)
	}
}

func (a *zerologAdapter) Infof(msg string, args ...interface{}) {
	if IsEnabledFor(a.module, INFO) {
		a.l.Info().Msgf(msg, args...)
	}
}

func (a *zerologAdapter) Warnf(msg string, args ...interface{}) {
	if IsEnabledFor(a.module, WARNING) {
		a.l.Warn().Msgf(msg, args...)
	}
}

func (a *zerologAdapter) Errorf(msg string, args ...interface{}) {
	if IsEnabledFor(a.module, ERROR) {
		a.l.Error().Msgf(msg, args...)
	}
}
