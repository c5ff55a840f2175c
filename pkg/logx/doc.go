// Package logx is a thin zerolog wrapper shared by all autopost services.
//
// It exists so services can hold a Logger value that stays "live" when the
// logging Service re-applies configuration (level or sink changes from a
// config reload) without re-plumbing loggers through every component.
package logx
