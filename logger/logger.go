package logger

import (
	"go.uber.org/zap"
)

// Log is the process-wide logger. It discards everything until Initialize is called.
var Log = zap.NewNop()

func Initialize(level string) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl

	zl, err := cfg.Build()
	if err != nil {
		return err
	}

	Log = zl
	return nil
}

func String(key, val string) zap.Field {
	return zap.String(key, val)
}

func Int64(key string, val int64) zap.Field {
	return zap.Int64(key, val)
}

func Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

func Uint(key string, val uint) zap.Field {
	return zap.Uint(key, val)
}

func Bool(key string, val bool) zap.Field {
	return zap.Bool(key, val)
}

// Field is re-exported so callers can build field lists without importing zap.
type Field = zap.Field

func Error(err error) zap.Field {
	return zap.Error(err)
}
