// Package logadapter bridges third-party library loggers to zap, so that all
// CineBase output goes through one structured logger.
package logadapter

import "go.uber.org/zap"

// Badger2Zap adapts a zap logger to BadgerDB's Logger interface.
type Badger2Zap struct {
	*zap.SugaredLogger
}

func NewBadger2Zap(logger *zap.Logger) *Badger2Zap {
	return &Badger2Zap{
		SugaredLogger: logger.Sugar(),
	}
}

// Warningf is required by BadgerDB's Logger interface, zap only has Warnf.
func (logger *Badger2Zap) Warningf(template string, args ...interface{}) {
	logger.Warnf(template, args...)
}
