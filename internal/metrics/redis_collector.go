package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	queueDepthDesc    *prometheus.Desc
	finishedTasksDesc *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		queueDepthDesc: prometheus.NewDesc(
			namespace+"_queue_depth",
			"Current queue depth by task kind and queue state.",
			[]string{"kind", "queue"},
			nil,
		),
		finishedTasksDesc: prometheus.NewDesc(
			namespace+"_finished_tasks",
			"Finished tasks still retained before cleanup.",
			nil,
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepthDesc
	ch <- c.finishedTasksDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	kinds := domain.Kinds()
	pipe := c.rdb.Pipeline()
	pendingCmds := make(map[domain.Kind]*redis.IntCmd, len(kinds))
	inprogCmds := make(map[domain.Kind]*redis.IntCmd, len(kinds))
	for _, kind := range kinds {
		pendingCmds[kind] = pipe.LLen(ctx, keyQueuePending(kind))
		inprogCmds[kind] = pipe.SCard(ctx, keyQueueInprog(kind))
	}
	finished := pipe.ZCard(ctx, keyFinishedIndex)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}

	for _, kind := range kinds {
		emitGauge(ch, c.queueDepthDesc, float64(pendingCmds[kind].Val()), string(kind), "pending")
		emitGauge(ch, c.queueDepthDesc, float64(inprogCmds[kind].Val()), string(kind), "in_progress")
	}
	emitGauge(ch, c.finishedTasksDesc, float64(finished.Val()))
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

// Mirrors the queue keys of the task repository, which imports this package.
const keyFinishedIndex = "reportq:tasks:finished"

func keyQueuePending(kind domain.Kind) string {
	return fmt.Sprintf("reportq:q:%s:pending", strings.ToLower(string(kind)))
}

func keyQueueInprog(kind domain.Kind) string {
	return fmt.Sprintf("reportq:q:%s:inprog", strings.ToLower(string(kind)))
}

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
