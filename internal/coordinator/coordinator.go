// Package coordinator handles instance registration, heartbeat, leader
// election, and leader-only cluster maintenance.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/store"
)

const (
	// HeartbeatInterval is the heartbeat timer period.
	HeartbeatInterval = 15 * time.Second
	// LeaderInterval is the election/renewal and maintenance period.
	LeaderInterval = 10 * time.Second
	// DriftAfter marks instances whose heartbeat is older than this.
	DriftAfter = 60 * time.Second
	// RemoveAfter removes instances whose heartbeat is older than this.
	RemoveAfter = 300 * time.Second
)

// LeaderTask is a function the leader runs every maintenance interval.
type LeaderTask func(ctx context.Context) error

// InstanceID resolves this instance's stable identity from the
// environment, falling back to unknown-<pid>.
func InstanceID() string {
	for _, key := range []string{"WAF_INSTANCE_ID", "HOSTNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return fmt.Sprintf("unknown-%d", os.Getpid())
}

// Coordinator runs the periodic cluster tasks for one instance.
type Coordinator struct {
	store      *store.Client
	logger     *logging.Logger
	instanceID string
	workers    int
	startedAt  time.Time

	isLeader atomic.Bool

	mu          sync.Mutex
	leaderTasks []LeaderTask

	cron *cron.Cron
	now  func() time.Time
}

// New creates a coordinator for this instance.
func New(st *store.Client, instanceID string, workers int, logger *logging.Logger) *Coordinator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Coordinator{
		store:      st,
		logger:     logger,
		instanceID: instanceID,
		workers:    workers,
		now:        time.Now,
	}
}

// InstanceIDValue returns this coordinator's instance id.
func (c *Coordinator) InstanceIDValue() string { return c.instanceID }

// IsLeader reports the last observed leadership state.
func (c *Coordinator) IsLeader() bool { return c.isLeader.Load() }

// RegisterLeaderTask adds a task the leader runs every maintenance
// interval.
func (c *Coordinator) RegisterLeaderTask(task LeaderTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaderTasks = append(c.leaderTasks, task)
}

// Start registers the instance and launches the heartbeat and leadership
// timers, each on its own schedule.
func (c *Coordinator) Start(ctx context.Context) error {
	c.startedAt = c.now()
	if err := c.store.RegisterInstance(ctx, c.record(model.InstanceActive)); err != nil {
		return err
	}

	c.cron = cron.New()
	_, _ = c.cron.AddFunc("@every "+HeartbeatInterval.String(), func() { c.Heartbeat(ctx) })
	_, _ = c.cron.AddFunc("@every "+LeaderInterval.String(), func() { c.LeaderCycle(ctx) })
	c.cron.Start()

	// Contend for leadership immediately instead of waiting a period.
	c.LeaderCycle(ctx)
	return nil
}

// Stop deregisters the instance and releases leadership.
func (c *Coordinator) Stop(ctx context.Context) {
	if c.cron != nil {
		stopped := c.cron.Stop()
		<-stopped.Done()
	}
	if c.IsLeader() {
		if err := c.store.ReleaseLeader(ctx, c.instanceID); err != nil {
			c.logger.WithComponent("coordinator").WithError(err).Warn("Leadership release failed")
		}
		c.isLeader.Store(false)
	}
	if err := c.store.RemoveInstance(ctx, c.instanceID); err != nil {
		c.logger.WithComponent("coordinator").WithError(err).Warn("Instance deregistration failed")
	}
}

func (c *Coordinator) record(status model.InstanceStatus) *model.InstanceRecord {
	rec := &model.InstanceRecord{
		ID:            c.instanceID,
		StartedAt:     c.startedAt.Unix(),
		LastHeartbeat: c.now().Unix(),
		Workers:       c.workers,
		Status:        status,
		Goroutines:    runtime.NumGoroutine(),
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		rec.CPUPercent = percents[0]
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			rec.MemoryMB = float64(mem.RSS) / (1 << 20)
		}
	}
	return rec
}

// Heartbeat refreshes this instance's TTL key and registry record.
func (c *Coordinator) Heartbeat(ctx context.Context) {
	if err := c.store.Heartbeat(ctx, c.record(model.InstanceActive)); err != nil {
		c.logger.WithComponent("coordinator").WithError(err).Warn("Heartbeat write failed")
	}
}

// LeaderCycle attempts acquisition/renewal and, while leading, runs the
// maintenance pass. A failed renewal is treated as leadership loss.
func (c *Coordinator) LeaderCycle(ctx context.Context) {
	acquired, err := c.store.AcquireLeader(ctx, c.instanceID)
	if err != nil {
		c.logger.WithComponent("coordinator").WithError(err).Warn("Leader acquisition failed; treating as leadership loss")
		c.isLeader.Store(false)
		return
	}

	was := c.isLeader.Swap(acquired)
	if acquired && !was {
		c.logger.WithComponent("coordinator").WithField("instance_id", c.instanceID).Info("Acquired cluster leadership")
	}
	if !acquired && was {
		c.logger.WithComponent("coordinator").WithField("instance_id", c.instanceID).Info("Lost cluster leadership")
	}
	if !acquired {
		return
	}

	c.maintain(ctx)
}

// maintain scans the registry, marking drifted instances and removing
// stale ones, then runs the registered leader tasks.
func (c *Coordinator) maintain(ctx context.Context) {
	instances, err := c.store.ListInstances(ctx)
	if err != nil {
		c.logger.WithComponent("coordinator").WithError(err).Warn("Instance scan failed")
		return
	}

	now := c.now()
	for _, rec := range instances {
		age := now.Sub(time.Unix(rec.LastHeartbeat, 0))
		switch {
		case age > RemoveAfter:
			if err := c.store.RemoveInstance(ctx, rec.ID); err != nil {
				c.logger.WithComponent("coordinator").WithError(err).WithField("instance_id", rec.ID).Warn("Stale instance removal failed")
			} else {
				c.logger.WithComponent("coordinator").WithField("instance_id", rec.ID).Info("Removed stale instance")
			}
		case age > DriftAfter && rec.Status != model.InstanceDrifted:
			rec.Status = model.InstanceDrifted
			if err := c.store.RegisterInstance(ctx, rec); err != nil {
				c.logger.WithComponent("coordinator").WithError(err).WithField("instance_id", rec.ID).Warn("Drift mark failed")
			}
		}
	}

	c.mu.Lock()
	tasks := append([]LeaderTask(nil), c.leaderTasks...)
	c.mu.Unlock()

	for _, task := range tasks {
		// Re-check leadership before each leader-only task; the TTL may
		// have expired mid-cycle.
		still, err := c.store.IsLeader(ctx, c.instanceID)
		if err != nil || !still {
			c.isLeader.Store(false)
			return
		}
		if err := task(ctx); err != nil {
			c.logger.WithComponent("coordinator").WithError(err).Warn("Leader task failed")
		}
	}
}
