// Package sinks implements progress.Sink consumers.
package sinks
