/*
Copyright OpenMediation Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"strings"
	"sync"
)

// Level defines a log level for a module.
type Level int

// Log levels, most to least severe.
const (
	CRITICAL Level = iota
	ERROR
	WARNING
	INFO
	DEBUG
)

const defaultLevel = INFO

// Logger is the interface all module loggers satisfy.
type Logger interface {
	Fatalf(msg string, args ...interface{})
	Panicf(msg string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

// Provider vends Logger instances per module.
type Provider interface {
	GetLogger(module string) Logger
}

// Log is a lazy, module-scoped logger. The underlying instance is resolved
// from the active provider on first use, so packages may declare loggers at
// init time before the provider is configured.
type Log struct {
	instance Logger
	module   string
	once     sync.Once
}

// New returns a logger bound to the given module name.
func New(module string) *Log {
	return &Log{module: module}
}

// Fatalf logs and terminates the process.
func (l *Log) Fatalf(msg string, args ...interface{}) {
	l.logger().Fatalf(msg, args...)
}

// Panicf logs and panics.
func (l *Log) Panicf(msg string, args ...interface{}) {
	l.logger().Panicf(msg, args...)
}

// Debugf logs at debug level.
func (l *Log) Debugf(msg string, args ...interface{}) {
	l.logger().Debugf(msg, args...)
}

// Infof logs at info level.
func (l *Log) Infof(msg string, args ...interface{}) {
	l.logger().Infof(msg, args...)
}

// Warnf logs at warning level.
func (l *Log) Warnf(msg string, args ...interface{}) {
	l.logger().Warnf(msg, args...)
}

// Errorf logs at error level.
func (l *Log) Errorf(msg string, args ...interface{}) {
	l.logger().Errorf(msg, args...)
}

func (l *Log) logger() Logger {
	l.once.Do(func() {
		l.instance = loggerProvider().GetLogger(l.module)
	})

	return l.instance
}

var (
	providerMutex   sync.RWMutex
	currentProvider Provider

	levelsMutex sync.RWMutex
	levels      = map[string]Level{}
)

// Initialize sets a custom logger provider. Loggers already resolved keep
// their previous instance; call before any logging for full effect.
func Initialize(p Provider) {
	providerMutex.Lock()
	defer providerMutex.Unlock()

	currentProvider = p
}

func loggerProvider() Provider {
	providerMutex.RLock()
	p := currentProvider
	providerMutex.RUnlock()

	if p != nil {
		return p
	}

	providerMutex.Lock()
	defer providerMutex.Unlock()

	if currentProvider == nil {
		currentProvider = newZerologProvider()
	}

	return currentProvider
}

// SetLevel sets the log level for a module.
func SetLevel(module string, level Level) {
	levelsMutex.Lock()
	defer levelsMutex.Unlock()

	levels[module] = level
}

// GetLevel returns the log level for a module, defaulting to INFO.
func GetLevel(module string) Level {
	levelsMutex.RLock()
	defer levelsMutex.RUnlock()

	if l, ok := levels[module]; ok {
		return l
	}

	return defaultLevel
}

// IsEnabledFor reports whether the given level is enabled for a module.
func IsEnabledFor(module string, level Level) bool {
	return level <= GetLevel(module)
}

// ParseLevel returns the log level matching a string representation.
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(level) {
	case "CRITICAL":
		return CRITICAL, nil
	case "ERROR":
		return ERROR, nil
	case "WARNING", "WARN":
		return WARNING, nil
	case "INFO":
		return INFO, nil
	case "DEBUG":
		return DEBUG, nil
	}

	return INFO, errInvalidLevel(level)
}

type errInvalidLevel string

func (e errInvalidLevel) Error() string {
	return "invalid log level: " + string(e)
}
