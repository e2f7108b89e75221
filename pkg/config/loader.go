package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// Option tweaks a single Load call.
type Option func(*loadOptions)

type loadOptions struct {
	prefix   string
	envFiles []string
}

// WithPrefix prepends prefix to every variable name of the target struct.
func WithPrefix(prefix string) Option {
	return func(o *loadOptions) { o.prefix = prefix }
}

// WithEnvFiles loads the given files into the process environment before parsing.
// Unlike the implicit .env lookup, missing files are reported as errors.
func WithEnvFiles(files ...string) Option {
	return func(o *loadOptions) { o.envFiles = append(o.envFiles, files...) }
}

// Load parses environment variables into v.
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}

	defaultEnvLoaded.Do(func() {
		// .env is optional
		_ = godotenv.Load()
	})

	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if len(o.envFiles) > 0 {
		if err := godotenv.Load(o.envFiles...); err != nil {
			return errors.Join(ErrLoadingEnvFile, err)
		}
	}

	if err := env.ParseWithOptions(v, env.Options{Prefix: o.prefix}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics on failure.
// Meant for configuration the process cannot start without.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
