package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
)

// program adapts serve to the service manager's Start/Stop callbacks.
type program struct {
	cfgPath string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()
	go p.run(ctx)
	return nil
}

func (p *program) run(ctx context.Context) {
	defer close(p.done)
	if err := serve(ctx, p.cfgPath); err != nil {
		logrus.WithError(err).Error("service stopped with error")
	}
}

func (p *program) Stop(s service.Service) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func runService(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: netwatch service install|uninstall|start|stop|run [-config file]")
	}
	action := args[0]
	fs := newFlagSet("service " + action)
	cfgPath := fs.String("config", defaultConfigPath, "config file")
	fs.Parse(args[1:])

	abs, err := filepath.Abs(*cfgPath)
	if err != nil {
		return err
	}
	svcConfig := &service.Config{
		Name:        "netwatch",
		DisplayName: "netwatch",
		Description: "Scores outbound network connections and the processes behind them",
		Arguments:   []string{"service", "run", "-config", abs},
	}
	prg := &program{cfgPath: abs}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		return fmt.Errorf("new service: %w", err)
	}

	switch action {
	case "run":
		return s.Run()
	case "install":
		if err := s.Install(); err != nil {
			return fmt.Errorf("install service: %w", err)
		}
		logrus.Info("service installed")
		if err := s.Start(); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		logrus.Info("service started")
		return nil
	case "uninstall":
		_ = s.Stop()
		return s.Uninstall()
	case "start":
		return s.Start()
	case "stop":
		return s.Stop()
	default:
		return fmt.Errorf("unknown service action %q", action)
	}
}
