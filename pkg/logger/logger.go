/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	AIDB_LOG_LEVEL = "AIDB_LOG_LEVEL" // Initial console log level (defaults to info)
	AIDB_LOG_FILE  = "AIDB_LOG_FILE"  // If set, a JSON-formatted copy of all log output (debug level) is appended to this file

	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"
)

type Logger struct {
	logr.Logger
	name        string
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New creates a logger writing human-readable output to stderr.
func New(name string) *Logger {
	return NewWithSink(name, zapcore.Lock(os.Stderr))
}

// NewWithSink creates a logger writing human-readable output to the passed sink.
func NewWithSink(name string, sink zapcore.WriteSyncer) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if runtime.GOOS == "windows" {
		encoderConfig.LineEnding = "\r\n"
	}

	consoleAtomicLevel := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if levelStr, found := os.LookupEnv(AIDB_LOG_LEVEL); found {
		if level, err := StringToLevel(levelStr, zapcore.InfoLevel); err == nil {
			consoleAtomicLevel.SetLevel(level)
		} else {
			fmt.Fprintf(os.Stderr, "ignoring %s: %v\n", AIDB_LOG_LEVEL, err)
		}
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), sink, consoleAtomicLevel),
	}

	var fileLogErr error
	var closeLogFile func()
	if logFilePath, found := os.LookupEnv(AIDB_LOG_FILE); found && logFilePath != "" {
		fileCore, closeFn, err := newFileCore(logFilePath, encoderConfig)
		if err != nil {
			fileLogErr = err
		} else {
			cores = append(cores, fileCore)
			closeLogFile = closeFn
		}
	}

	zapLogger := zap.New(zapcore.NewTee(cores...))
	log := zapr.NewLogger(zapLogger).WithName(name)

	if fileLogErr != nil {
		log.Error(fileLogErr, "Failed to enable file log output")
	}

	return &Logger{
		Logger:      log,
		name:        name,
		atomicLevel: consoleAtomicLevel,
		flush: func() {
			_ = zapLogger.Sync()
			if closeLogFile != nil {
				closeLogFile()
			}
		},
	}
}

func newFileCore(path string, encoderConfig zapcore.EncoderConfig) (zapcore.Core, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create log folder for '%s': %w", path, err)
	}

	logFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file '%s': %w", path, err)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logFile), zap.NewAtomicLevelAt(zapcore.DebugLevel))
	return core, func() { _ = logFile.Close() }, nil
}

func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

func (l *Logger) Level() zapcore.Level {
	return l.atomicLevel.Level()
}

func (l *Logger) Flush() {
	l.flush()
}

// Add verbosity flag to enable setting console log levels
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	levelVal := NewLevelFlagValue(func(level zapcore.Level) {
		l.SetLevel(level)
	})
	fs.VarP(&levelVal, verbosityFlagName, verbosityFlagShortName, "Logging verbosity level (e.g. -v=debug). Can be one of 'debug', 'info', or 'error', or any positive integer corresponding to increasing levels of debug verbosity.")
}
