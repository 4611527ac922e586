package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aria-ai/aria/internal/backoff"
	"github.com/aria-ai/aria/internal/cognition"
	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/coordinator"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/heartbeat"
	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/router"
	"github.com/aria-ai/aria/internal/sessions"
	"github.com/aria-ai/aria/internal/skills"
	"github.com/aria-ai/aria/internal/skills/builtin"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// storeOpenAttempts is the startup connection budget before exiting 3.
const storeOpenAttempts = 5

// auditFlushEvery is the skill invocation audit batch interval.
const auditFlushEvery = 5 * time.Second

// runtime is the fully wired process: one of everything, shared by the
// serve, run-job, and jobs commands.
type runtime struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	store      *store.Store
	router     *router.Client
	skills     *skills.Registry
	auditor    *skills.Auditor
	coord      *coordinator.Coordinator
	sessions   *sessions.Manager
	pipeline   *cognition.Pipeline
	scheduler  *heartbeat.Scheduler
	recognizer *cognition.Recognizer
}

// buildRuntime loads all config files and wires every component.
// Registration failures are config errors: the process refuses to start
// with a skill whose schema or signature does not hold.
func buildRuntime(ctx context.Context, cfgPath string) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)

	// The store gets a conservative connection budget: a locked or slow
	// disk at boot is worth waiting out, but not forever.
	st, err := backoff.Retry(ctx, backoff.Conservative(), storeOpenAttempts,
		func(attempt int) (*store.Store, error) {
			s, openErr := store.Open(cfg.Store.Path)
			if openErr != nil {
				logger.Warn(ctx, "store open failed",
					"attempt", attempt, "path", cfg.Store.Path, "error", openErr)
				return nil, errdefs.Wrap(errdefs.KindUnavailable, openErr,
					"open store %s", cfg.Store.Path)
			}
			return s, nil
		})
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, registry: promReg, metrics: metrics, store: st}
	if err := rt.wire(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire(ctx context.Context) error {
	cfg := rt.cfg

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	rc, err := router.New(cfg.Router, catalog,
		router.WithLogger(rt.logger), router.WithMetrics(rt.metrics))
	if err != nil {
		return err
	}
	rt.router = rc

	tools, err := config.LoadTools(cfg.ToolsPath)
	if err != nil {
		return err
	}
	rt.auditor = skills.NewAuditor(rt.store.Invocations, rt.logger, auditFlushEvery)
	rt.skills = skills.NewRegistry(
		skills.WithLogger(rt.logger),
		skills.WithMetrics(rt.metrics),
		skills.WithAuditor(rt.auditor),
	)
	if err := registerBuiltins(ctx, rt.skills, rt.store, rc, tools); err != nil {
		return err
	}

	coord, err := coordinator.New(cfg.Coordinator, cfg.Agents,
		rt.store.Agents, rt.store.Sessions, coordinator.WithLogger(rt.logger))
	if err != nil {
		return err
	}
	if err := coord.LoadState(ctx); err != nil {
		return err
	}
	rt.coord = coord

	rt.sessions = sessions.NewManager(cfg.Session, rt.store, sessions.WithLogger(rt.logger))

	model := cognition.NewRouterModel(rc, catalog)
	retriever := cognition.NewRetriever(rt.store.Memories, rt.store.Knowledge,
		model, cfg.Pipeline.ContextTokenBudget, rt.logger)
	compressor := cognition.NewCompressor(rt.store.Memories, model, model, rt.logger)
	rt.recognizer = cognition.NewRecognizer(rt.store.Activities, rt.store.Knowledge, rt.logger)

	pipeline, err := cognition.NewPipeline(cfg.Pipeline, cognition.Deps{
		Analyzer:      cognition.NewAnalyzer(model),
		Retriever:     retriever,
		Selector:      coord,
		Invoker:       rt.skills,
		Planner:       cognition.RulePlanner{},
		Model:         model,
		Sessions:      rt.sessions,
		Store:         rt.store,
		Compressor:    compressor,
		MainSessionID: cfg.Session.MainSessionID,
	}, cognition.WithLogger(rt.logger), cognition.WithMetrics(rt.metrics))
	if err != nil {
		return err
	}
	rt.pipeline = pipeline

	jobs, err := config.LoadJobs(cfg.JobsPath)
	if err != nil {
		return err
	}
	sched, err := heartbeat.NewScheduler(jobs, pipeline, rt.store.Jobs,
		heartbeat.WithLogger(rt.logger),
		heartbeat.WithMetrics(rt.metrics),
		heartbeat.WithAnnouncer(&activityAnnouncer{
			activities: rt.store.Activities,
			logger:     rt.logger,
		}),
	)
	if err != nil {
		return err
	}
	rt.scheduler = sched
	return nil
}

// registerBuiltins registers every builtin skill under its descriptor
// block. Builtins absent from the descriptor register disabled.
func registerBuiltins(ctx context.Context, reg *skills.Registry, st *store.Store, rc *router.Client, tools *config.ToolsDescriptor) error {
	all := []skills.Skill{
		builtin.NewGoalsSkill(st.Goals),
		builtin.NewKnowledgeSkill(st.Knowledge),
		builtin.NewMemorySkill(st.Memories, rc),
	}
	for _, s := range all {
		settings, _ := tools.Settings(s.Name())
		if err := reg.Register(ctx, s, settings); err != nil {
			return err
		}
	}
	return nil
}

// close flushes durable state and releases the store. Safe to call once.
func (rt *runtime) close(ctx context.Context) {
	if rt.sessions != nil {
		if err := rt.sessions.Flush(ctx); err != nil {
			rt.logger.Warn(ctx, "working memory flush failed", "error", err)
		}
	}
	if rt.auditor != nil {
		if err := rt.auditor.Close(); err != nil {
			rt.logger.Warn(ctx, "audit flush failed", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn(ctx, "store close failed", "error", err)
		}
	}
}

// activityAnnouncer delivers heartbeat run results by writing an
// announce-tagged activity row. The external gateway tails these.
type activityAnnouncer struct {
	activities *store.ActivityStore
	logger     *observability.Logger
}

func (a *activityAnnouncer) Announce(ctx context.Context, jobID, text string) {
	details, _ := json.Marshal(map[string]string{"job_id": jobID, "text": text})
	if err := a.activities.Record(ctx, &models.Activity{
		Action:  "announce",
		Details: details,
	}); err != nil {
		a.logger.Warn(ctx, "announce write failed", "job_id", jobID, "error", err)
	}
}
