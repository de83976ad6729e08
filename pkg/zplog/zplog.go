// Copyright 2024 The zpoline-go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package zplog is the single diagnostic sink every other package in
// this repo logs through. It wraps logrus the way the teacher wraps its
// own internal log package: one shared, preconfigured emitter, rather
// than each package constructing its own logger.
package zplog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l.WithField("component", "zpoline").Logger
}

// SetVerbose raises the log level to Debug, surfacing the capability
// probe and per-region rewrite diagnostics that are otherwise silent.
func SetVerbose(v bool) {
	if v {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

func entry() *logrus.Entry {
	return base.WithField("component", "zpoline")
}

// Debugf logs at debug level: capability probes, per-region rewrite
// detail, config snapshots.
func Debugf(format string, args ...interface{}) { entry().Debugf(format, args...) }

// Infof logs at info level: startup banner, counters summary.
func Infof(format string, args ...interface{}) { entry().Infof(format, args...) }

// Warnf logs a degrade-and-continue condition: a handler library that
// failed to load in an isolated namespace, a config file that could not
// be parsed. Per-region rewrite diagnostics go to Debugf.
func Warnf(format string, args ...interface{}) { entry().Warnf(format, args...) }

// Fatalf logs then terminates the process via os.Exit(1). Reserved for
// the conditions spec §7 calls unrecoverable: VA=0 permanently refused,
// an unreadable memory map, a double-initialization that cannot be
// resolved by the single-instance guard.
func Fatalf(format string, args ...interface{}) {
	entry().Fatalf(format, args...)
}
