package main

import (
	"time"

	"github.com/kagan-dev/kagan/internal/config"
	"github.com/kagan-dev/kagan/internal/scheduler"
)

// shutdownGrace bounds how long serve waits for the scheduler to stop
// every running agent before returning control to the OS signal handler.
const shutdownGrace = 30 * time.Second

// watchConfigInto applies every hot-reloaded Configuration onto sched,
// via config.Watch's fsnotify-driven reload.
func watchConfigInto(path string, sched *scheduler.Scheduler) (stop func() error, err error) {
	return config.Watch(path, func(cfg *config.Config) {
		sched.SetConfig(cfg)
	})
}
