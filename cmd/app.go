package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joescharf/opsassist/internal/executor"
	"github.com/joescharf/opsassist/internal/instrument"
	"github.com/joescharf/opsassist/internal/intent"
	"github.com/joescharf/opsassist/internal/metrics"
	"github.com/joescharf/opsassist/internal/notify"
	"github.com/joescharf/opsassist/internal/remote"
	"github.com/joescharf/opsassist/internal/session"
	"github.com/joescharf/opsassist/internal/store"
	"github.com/joescharf/opsassist/internal/workflow"
)

// app is the wired engine shared by ask, serve and mcp.
type app struct {
	sessions    *session.Manager
	dispatcher  *workflow.Dispatcher
	coordinator *executor.Coordinator
	hub         *notify.Hub
	registry    *prometheus.Registry
	history     store.Store

	closers []func() error
}

// newApp builds the engine from viper config. Optional collaborators (LLM,
// history store, NATS) are skipped with a warning when unavailable.
func newApp(log *zap.Logger) (*app, error) {
	if log == nil {
		log = zap.NewNop()
	}

	policy := executor.DefaultPolicy()
	if file := viper.GetString("policy.file"); file != "" {
		p, err := executor.LoadPolicy(file)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	telemetry := instrument.New(reg)

	a := &app{
		sessions: session.NewManager(),
		hub:      notify.NewHub(64, log.Named("hub")),
		registry: reg,
	}

	transport := remote.NewSSHTransport(sshConfig(), log.Named("ssh"))
	a.closers = append(a.closers, transport.Close)

	a.coordinator = executor.New(transport, policy, log.Named("executor"))
	a.coordinator.SetObserver(telemetry)
	a.closers = append(a.closers, func() error { a.coordinator.Close(); return nil })

	notifiers := notify.Multi{a.hub}
	if url := viper.GetString("nats.url"); url != "" {
		pub, err := notify.ConnectNATS(url, log.Named("nats"))
		if err != nil {
			log.Warn("NATS unavailable, events stay in-process", zap.String("url", url), zap.Error(err))
		} else {
			notifiers = append(notifiers, pub)
			a.closers = append(a.closers, pub.Close)
		}
	}

	source := metrics.NewCachedSource(
		metrics.NewPrometheusCollector(viper.GetString("prometheus.url"), log.Named("metrics")),
		metrics.NewCache(),
		log.Named("metrics"),
	)

	deps := workflow.Deps{
		Classifier: intent.NewClassifier(),
		Metrics:    source,
		Executor:   a.coordinator,
		Sessions:   a.sessions,
		Notifier:   notifiers,
		Telemetry:  telemetry,
		Logger:     log.Named("workflow"),
	}
	if client := newLLMClient(); client != nil {
		deps.Analyst = client
	} else {
		log.Warn("no Anthropic API key configured; analysis stages will fail")
	}
	if viper.GetBool("history.enabled") {
		st, err := getStore()
		if err != nil {
			log.Warn("history store unavailable", zap.Error(err))
		} else {
			deps.History = st
			a.history = st
		}
	}

	a.dispatcher = workflow.New(deps)
	a.coordinator.OnComplete(a.dispatcher.HandleCompletion)
	return a, nil
}

// close waits for background runs, then releases collaborators in reverse
// order. The shared history store is closed by Execute.
func (a *app) close() error {
	a.dispatcher.Wait()
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func sshConfig() remote.Config {
	return remote.Config{
		Host:           viper.GetString("ssh.host"),
		Port:           viper.GetInt("ssh.port"),
		User:           viper.GetString("ssh.user"),
		Password:       viper.GetString("ssh.password"),
		KeyFile:        viper.GetString("ssh.key_file"),
		KnownHostsFile: viper.GetString("ssh.known_hosts"),
		DialTimeout:    viper.GetDuration("ssh.dial_timeout"),
	}
}

func requireSSHHost() error {
	if viper.GetString("ssh.host") == "" {
		return fmt.Errorf("ssh.host is not configured (set it in config.yaml or OPSASSIST_SSH_HOST)")
	}
	return nil
}
