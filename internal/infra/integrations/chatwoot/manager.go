package chatwoot

import (
	"context"
	"time"

	"wootsync/internal/ports"
	"wootsync/platform/logger"
)

// Janitor garbage-collects expired echo tags. Tags whose webhook never
// arrived would otherwise pin rows in the pending state forever.
type Janitor struct {
	msgMappings ports.MessageMappingRepository
	ttl         time.Duration
	interval    time.Duration
	stop        chan struct{}
	done        chan struct{}
	logger      *logger.Logger
}

func NewJanitor(msgMappings ports.MessageMappingRepository, ttl time.Duration, log *logger.Logger) *Janitor {
	return &Janitor{
		msgMappings: msgMappings,
		ttl:         ttl,
		interval:    ttl / 2,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      log.WithModule("chatwoot-janitor"),
	}
}

func (j *Janitor) Start() {
	go j.run()
}

func (j *Janitor) run() {
	defer close(j.done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stop:
			return
		}
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := j.msgMappings.ExpireEchoTags(ctx, time.Now().Add(-j.ttl))
	if err != nil {
		j.logger.WithError(err).Warn("Echo tag sweep failed")
		return
	}
	if n > 0 {
		j.logger.DebugWithFields("Echo tags expired", map[string]interface{}{
			"count": n,
		})
	}
}

func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}
