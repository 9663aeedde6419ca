package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"garden-doctor-go/internal/core/providers"
	"garden-doctor-go/internal/core/providers/localproc"
	"garden-doctor-go/internal/core/providers/vlllm"
	"garden-doctor-go/internal/domain/analysis"
	"garden-doctor-go/internal/domain/diagnosis/store"
	"garden-doctor-go/internal/domain/eventbus"
	eventinfra "garden-doctor-go/internal/domain/eventbus/infrastructure"
	"garden-doctor-go/internal/domain/eventbus/repository"
	domainimage "garden-doctor-go/internal/domain/image"
	platformconfig "garden-doctor-go/internal/platform/config"
	platformerrors "garden-doctor-go/internal/platform/errors"
	platformlogging "garden-doctor-go/internal/platform/logging"
	platformobservability "garden-doctor-go/internal/platform/observability"
	platformstorage "garden-doctor-go/internal/platform/storage"
	httptransport "garden-doctor-go/internal/transport/http"
	httpanalyze "garden-doctor-go/internal/transport/http/analyze"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	shutdownTimeout  = 15 * time.Second
	janitorInterval  = 10 * time.Minute
	eventRetention   = 7 * 24 * time.Hour
	cacheGCInterval  = 5 * time.Minute
	eventWorkers     = 2
	eventQueueLength = 256
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	loader                *platformconfig.Loader
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	events                *eventbus.AsyncEventBus
	eventRepo             repository.EventRepository
	cache                 store.Store
	backend               providers.Backend
	pipeline              *domainimage.Pipeline
	dispatcher            *analysis.Dispatcher
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context, loader *platformconfig.Loader) error {
	if loader == nil {
		loader = platformconfig.NewLoader()
	}
	state := &appState{loader: loader}

	steps := InitGraph()
	err := executeInitSteps(ctx, steps, state)
	defer state.close()
	if err != nil {
		if state.logger != nil {
			state.logger.ErrorTag("引导", "初始化失败: %v", err)
		}
		return err
	}

	logger := state.logger
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return err
	}
	startJanitor(state, group, groupCtx)

	// 任一服务提前退出时同样触发关停
	shutdownCtx, stopWatch := context.WithCancel(signalCtx)
	defer stopWatch()
	go func() {
		select {
		case <-groupCtx.Done():
			stopWatch()
		case <-shutdownCtx.Done():
		}
	}()

	return waitForShutdown(shutdownCtx, cancel, logger, group)
}

// close releases everything the init steps created, in reverse order.
func (s *appState) close() {
	logger := s.logger
	if logger == nil {
		logger = platformlogging.NewDiscard()
	}

	if lifecycle, ok := s.backend.(providers.Lifecycle); ok {
		if err := lifecycle.Cleanup(); err != nil {
			logger.WarnTag("引导", "分析后端未正常关闭: %v", err)
		}
	}
	if s.events != nil {
		s.events.Stop()
	}
	if s.cache != nil {
		if err := s.cache.Close(context.Background()); err != nil {
			logger.WarnTag("缓存", "缓存未正常关闭: %v", err)
		}
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil {
			logger.WarnTag("引导", "数据库未正常关闭: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.observabilityShutdown(ctx); err != nil {
			logger.WarnTag("引导", "可观测性未正常关闭: %v", err)
		}
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("引导", "%s (%s)", step.ID, step.Title)
			continue
		}
		logger.InfoTag("引导", "%s (%s) <- %s", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
	logger.InfoTag("引导", "启动服务")
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "events:init-bus",
			Title:     "Initialise event bus",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "cache:init-store",
			Title:     "Initialise result cache",
			DependsOn: []string{"storage:init-database", "observability:setup-hooks"},
			Kind:      platformerrors.KindStorage,
			Execute:   initCacheStep,
		},
		{
			ID:        "providers:init-backend",
			Title:     "Initialise analysis backend",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindConfig,
			Execute:   initBackendStep,
		},
		{
			ID:        "analysis:init-dispatcher",
			Title:     "Initialise analysis dispatcher",
			DependsOn: []string{"providers:init-backend", "cache:init-store", "events:init-bus"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initDispatcherStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := state.loader
	if loader == nil {
		loader = platformconfig.NewLoader()
	}
	result, err := loader.Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger

	logger.InfoTag("引导", "日志模块就绪 [%s] 配置来源=%s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state.config == nil || state.logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "observability:setup-hooks", "config/logger not initialised")
	}

	cfg := platformobservability.Config{
		Enabled:     state.config.Observability.Enabled,
		MetricsPath: state.config.Observability.MetricsPath,
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	path := state.config.Cache.SQLite.Path
	db, err := platformstorage.Open(path)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to initialize database", err)
	}
	state.db = db
	state.logger.InfoTag("引导", "数据库就绪: %s", path)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.New(eventbus.Options{
		Workers:   eventWorkers,
		QueueSize: eventQueueLength,
		Logger:    state.logger,
	})
	state.events = bus
	state.eventRepo = eventinfra.NewEventRepository(state.db)

	err := eventbus.SetupEventHandlers(bus,
		eventbus.NewLogEventHandler(state.logger),
		eventbus.NewPersistEventHandler(state.eventRepo, state.logger),
	)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "events:init-bus", "failed to subscribe event handlers", err)
	}
	return nil
}

func initCacheStep(_ context.Context, state *appState) error {
	cfg, err := cacheConfig(state.config.Cache)
	if err != nil {
		return err
	}

	cache, err := store.New(cfg, store.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "cache:init-store", "failed to create result cache", err)
	}
	state.cache = cache
	state.logger.InfoTag("缓存", "结果缓存就绪: driver=%s ttl=%s", cfg.Driver, cfg.TTL)
	return nil
}

// cacheConfig maps the yaml cache section onto the store configuration.
func cacheConfig(cfg platformconfig.CacheConfig) (store.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = store.DriverNone
	}

	out := store.Config{Driver: driver, TTL: cfg.TTL}
	switch driver {
	case store.DriverMemory:
		out.Memory = &store.MemoryConfig{GCInterval: cacheGCInterval}
	case store.DriverRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return store.Config{}, platformerrors.New(platformerrors.KindConfig, "cache:init-store", "redis cache addr is required")
		}
		out.Redis = &store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}
	return out, nil
}

func initBackendStep(_ context.Context, state *appState) error {
	backend, err := newBackend(state.config, state.logger)
	if err != nil {
		return err
	}
	if lifecycle, ok := backend.(providers.Lifecycle); ok {
		if err := lifecycle.Initialize(); err != nil {
			return platformerrors.Wrap(platformerrors.KindConfig, "providers:init-backend", "failed to initialize backend", err)
		}
	}
	state.backend = backend
	state.logger.InfoTag("引导", "分析后端: %s", backend.Name())
	return nil
}

// newBackend is the single place where the backend variant is chosen.
func newBackend(cfg *platformconfig.Config, logger *platformlogging.Logger) (providers.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Analysis.Backend)) {
	case platformconfig.BackendRemote:
		return vlllm.NewProvider(&vlllm.Config{
			ModelName:   cfg.Remote.ModelName,
			BaseURL:     cfg.Remote.BaseURL,
			APIKey:      cfg.Remote.APIKey,
			Referer:     cfg.Remote.Referer,
			Title:       cfg.Remote.Title,
			Temperature: cfg.Remote.Temperature,
			MaxTokens:   cfg.Remote.MaxTokens,
			TopP:        cfg.Remote.TopP,
		}, logger), nil
	case platformconfig.BackendLocal:
		scratch, err := localproc.EnsureScratchDir(cfg.Local.ScratchDir)
		if err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindBootstrap, "providers:init-backend", "failed to prepare scratch directory", err)
		}
		return localproc.NewProvider(localproc.Config{
			PythonPath:   cfg.Local.PythonPath,
			FallbackPath: cfg.Local.FallbackPath,
			Command:      cfg.Local.Command,
			Script:       cfg.Local.Script,
		}, scratch, logger), nil
	default:
		return nil, platformerrors.New(platformerrors.KindConfig, "providers:init-backend",
			fmt.Sprintf("unsupported analysis backend: %q", cfg.Analysis.Backend))
	}
}

func initDispatcherStep(_ context.Context, state *appState) error {
	pipeline, err := domainimage.NewPipeline(domainimage.Options{
		Security: &state.config.Security,
		Logger:   state.logger,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "analysis:init-dispatcher", "failed to create image pipeline", err)
	}

	dispatcher, err := analysis.NewDispatcher(analysis.Options{
		Backend:  state.backend,
		Pipeline: pipeline,
		Cache:    state.cache,
		Events:   state.events,
		Timeout:  state.config.Analysis.Timeout,
		Logger:   state.logger,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "analysis:init-dispatcher", "failed to create dispatcher", err)
	}

	state.pipeline = pipeline
	state.dispatcher = dispatcher
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	config := state.config
	logger := state.logger

	metricsPath := ""
	if config.Observability.Enabled {
		metricsPath = config.Observability.MetricsPath
	}

	router, err := httptransport.Build(httptransport.Options{
		LogLevel:    config.Log.Level,
		Logger:      logger,
		StaticRoot:  config.Web.StaticDir,
		MetricsPath: metricsPath,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "http:build-router", "failed to build router", err)
	}

	service, err := httpanalyze.NewService(httpanalyze.Options{
		Dispatcher:    state.dispatcher,
		Pipeline:      state.pipeline,
		Cache:         state.cache,
		Logger:        logger,
		MaxImageBytes: config.Security.MaxFileSize,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "analyze:new-service", "failed to create analyze service", err)
	}
	service.Register(groupCtx, router)

	addr := net.JoinHostPort(config.Server.IP, strconv.Itoa(config.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		// 必须覆盖一次完整分析
		WriteTimeout: config.Analysis.Timeout + 15*time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "http:listen", "failed to listen", err)
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "Gin 服务已启动，访问地址 http://%s", listener.Addr())
		logger.InfoTag("HTTP", "在线文档入口: http://%s/docs", listener.Addr())

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务异常退出: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

// startJanitor periodically drops expired cache rows and old analysis events.
func startJanitor(state *appState, g *errgroup.Group, groupCtx context.Context) {
	g.Go(func() error {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				runJanitor(groupCtx, state)
			}
		}
	})
}

func runJanitor(ctx context.Context, state *appState) {
	if state.cache != nil {
		if err := state.cache.CleanupExpired(ctx); err != nil {
			state.logger.WarnTag("缓存", "清理过期缓存失败: %v", err)
		}
	}
	if state.eventRepo != nil {
		deleted, err := state.eventRepo.DeleteOldEvents(ctx, time.Now().Add(-eventRetention))
		if err != nil {
			state.logger.WarnTag("引导", "清理历史事件失败: %v", err)
		} else if deleted > 0 {
			state.logger.DebugTag("引导", "已清理历史事件 %d 条", deleted)
		}
	}
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("引导", "收到退出信号 %v，正在进行资源清理", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}
