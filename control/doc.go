// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection for the reactor.
//
// Provides:
//   - Typed reactor configuration with defaults and functional options
//   - Tagged logrus loggers
//   - Per-context Prometheus collectors
//   - Debug probe registration and state export
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
