// Package autopause reacts to budget exhaustion events by pausing the
// exhausted schedule. Without it, a denied entity keeps its timer and is
// re-denied at every fire; with it, the schedule goes quiet until an
// operator tops up the envelope and resumes.
package autopause

import (
	"strings"

	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/bus"
	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/logger"
)

// ServicePauser pauses a scheduled service. Satisfied by *engine.Engine.
type ServicePauser interface {
	PauseService(serviceID string) error
}

// TaskPauser pauses a standalone task. Satisfied by *task.Executor.
type TaskPauser interface {
	PauseTask(taskID string) error
}

// Consumer subscribes to the event bus and pauses whatever entity just
// exhausted its envelope.
type Consumer struct {
	events   *bus.Bus
	services ServicePauser
	tasks    TaskPauser
	log      *zap.SugaredLogger

	ch   chan bus.Event
	done chan struct{}
}

// New creates an auto-pause consumer. It does nothing until Start.
func New(events *bus.Bus, services ServicePauser, tasks TaskPauser, log *zap.SugaredLogger) *Consumer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Consumer{
		events:   events,
		services: services,
		tasks:    tasks,
		log:      logger.AddBudgetSymbol(log),
		done:     make(chan struct{}),
	}
}

// Start subscribes and begins consuming events.
func (c *Consumer) Start() {
	c.ch = c.events.Subscribe()
	go c.loop()
}

// Stop unsubscribes and ends the consumer loop.
func (c *Consumer) Stop() {
	c.events.Unsubscribe(c.ch)
	close(c.done)
}

func (c *Consumer) loop() {
	for {
		select {
		case event := <-c.ch:
			if event.Type != bus.EventBudgetExhausted {
				continue
			}
			c.pause(event.ServiceID)
		case <-c.done:
			return
		}
	}
}

func (c *Consumer) pause(entityKey string) {
	var err error
	if taskID, ok := strings.CutPrefix(entityKey, "task:"); ok {
		err = c.tasks.PauseTask(taskID)
	} else {
		err = c.services.PauseService(entityKey)
	}
	if err != nil {
		// Already unscheduled entities are fine; the fire that triggered
		// this event was their last.
		if errors.IsNotFoundError(err) {
			return
		}
		c.log.Errorw("Failed to auto-pause exhausted entity",
			"key", entityKey, "error", err)
		return
	}
	c.log.Warnw("Entity auto-paused after budget exhaustion", "key", entityKey)
}
