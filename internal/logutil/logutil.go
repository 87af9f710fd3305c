package logutil

import (
    "log"
    "os"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

// New builds the process logger. GOSSIP_LOG_JSON=1 or GOSSIP_LOG_FORMAT=json
// selects the JSON encoder; GOSSIP_LOG_LEVEL overrides the level (default info).
func New() *zap.Logger {
    json := os.Getenv("GOSSIP_LOG_JSON") == "1" || os.Getenv("GOSSIP_LOG_FORMAT") == "json"
    return NewWith(json, os.Getenv("GOSSIP_LOG_LEVEL"))
}

// NewWith builds a logger with an explicit encoding and level.
func NewWith(json bool, level string) *zap.Logger {
    var cfg zap.Config
    if json {
        cfg = zap.NewProductionConfig()
    } else {
        cfg = zap.NewDevelopmentConfig()
        cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
        cfg.Development = false
    }
    cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
    cfg.EncoderConfig.TimeKey = "ts"
    cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
    cfg.DisableStacktrace = true
    l, err := cfg.Build()
    if err != nil { return zap.NewNop() }
    return l
}

func parseLevel(s string) zapcore.Level {
    var lvl zapcore.Level
    if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil || s == "" {
        return zapcore.InfoLevel
    }
    return lvl
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
    if l == nil { return zap.NewNop() }
    return l
}

// StdLogger adapts l for libraries that only accept a *log.Logger. Lines are
// written at debug level under the given component name.
func StdLogger(l *zap.Logger, component string) *log.Logger {
    l = OrNop(l).Named(component)
    std, err := zap.NewStdLogAt(l, zapcore.DebugLevel)
    if err != nil { return zap.NewStdLog(l) }
    return std
}
