// Package predem captures crashes and telemetry, persists them, and delivers
// them to a collection service.
//
// This package is a shortcut for running the agent as a whole; the full API
// lives in github.com/bft-labs/predem/pkg/predem.
//
// Example usage:
//
//	cfg := predem.DefaultConfig()
//	cfg.Dir = "/var/lib/myapp/predem"
//	cfg.ServiceURL = "https://collector.example.com"
//	cfg.AppKey = "your-app-key"
//	if err := predem.Run(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
package predem

import (
	"context"

	agent "github.com/bft-labs/predem/pkg/predem"
)

// Config holds the pipeline configuration.
type Config = agent.Config

// Option configures optional behavior of an Agent.
type Option = agent.Option

// Agent is a running capture-persist-deliver pipeline.
type Agent = agent.Agent

// DefaultConfig returns a Config with sensible default values.
// At minimum, you must set Dir before calling Run.
func DefaultConfig() Config {
	return agent.DefaultConfig()
}

// New creates an Agent without starting delivery.
func New(cfg Config, opts ...Option) (*Agent, error) {
	return agent.New(cfg, opts...)
}

// Run starts an agent with the given configuration and blocks until ctx
// is canceled. The agent is stopped and closed before Run returns.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	a, err := agent.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop()
}

// Deliver sends everything pending in cfg.Dir and returns. It does not start
// background delivery or crash capture.
func Deliver(ctx context.Context, cfg Config, opts ...Option) error {
	cfg.DisableCrashReporting = true
	a, err := agent.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Drain(ctx)
}
