package internal

import (
	"io"

	"github.com/starford/rpfba/internal/worker"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config   *Config
	launcher worker.Launcher
	logOut   io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLauncher replaces the process launcher that isolates jobs.
func WithLauncher(l worker.Launcher) Option {
	return func(a *application) {
		a.launcher = l
	}
}

// WithLogOutput sends logs to w instead of the mode's default stream.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}
