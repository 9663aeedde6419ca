package analysis

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"garden-doctor-go/internal/core/providers"
	"garden-doctor-go/internal/domain/diagnosis"
	"garden-doctor-go/internal/domain/diagnosis/store"
	"garden-doctor-go/internal/domain/eventbus"
	"garden-doctor-go/internal/domain/image"
	"garden-doctor-go/internal/platform/errors"
	"garden-doctor-go/internal/platform/logging"
	"garden-doctor-go/internal/platform/observability"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds one backend invocation.
	DefaultTimeout = 60 * time.Second

	resultCached  = "cached"
	resultSuccess = "success"

	cacheWriteTimeout = 5 * time.Second
)

// Options 调度器依赖
type Options struct {
	Backend  providers.Backend
	Pipeline *image.Pipeline
	// Cache 为空时不缓存
	Cache   store.Store
	Events  eventbus.Publisher
	Timeout time.Duration
	Logger  *logging.Logger
}

// Dispatcher turns one request into a diagnosis using the single backend
// chosen at startup. It never falls back to another backend.
type Dispatcher struct {
	backend  providers.Backend
	pipeline *image.Pipeline
	cache    store.Store
	events   eventbus.Publisher
	timeout  time.Duration
	logger   *logging.Logger

	// caching 为 false 时每个请求独立调用后端，不查缓存也不合并
	caching bool
	group   singleflight.Group
}

// NewDispatcher 创建调度器
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("analysis backend is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("image pipeline is required")
	}
	if opts.Cache == nil {
		opts.Cache = store.NewNoop()
	}
	if opts.Events == nil {
		opts.Events = eventbus.Discard
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}

	return &Dispatcher{
		backend:  opts.Backend,
		pipeline: opts.Pipeline,
		cache:    opts.Cache,
		events:   opts.Events,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		caching:  store.Enabled(opts.Cache),
	}, nil
}

// Backend returns the name of the configured backend.
func (d *Dispatcher) Backend() string {
	return d.backend.Name()
}

// Analyze returns exactly one of a record or an error record.
func (d *Dispatcher) Analyze(ctx context.Context, req Request) (*diagnosis.Record, *ErrorRecord) {
	const op = "analysis.analyze"

	start := time.Now()
	requestID := uuid.NewString()
	backend := d.backend.Name()

	ctx, endSpan := observability.StartSpan(ctx, "analysis", "analyze")

	event := eventbus.AnalysisEventData{
		RequestID:  requestID,
		Backend:    backend,
		ImageBytes: len(req.ImageBytes),
	}

	fail := func(err error) (*diagnosis.Record, *ErrorRecord) {
		endSpan(err)
		record := ToErrorRecord(err)
		d.observe(backend, string(record.Kind), start)

		event.Kind = string(record.Kind)
		event.Message = record.Error
		event.Details = record.Details
		event.DurationMS = time.Since(start).Milliseconds()
		event.Timestamp = time.Now()
		d.events.PublishAsync(eventbus.EventAnalysisFailed, event)

		d.logger.WarnTag("分析", "分析失败: request_id=%s backend=%s kind=%s error=%s",
			requestID, backend, record.Kind, record.Error)
		return nil, record
	}

	if len(req.ImageBytes) == 0 {
		return fail(errors.New(errors.KindBadRequest, op, "No image provided"))
	}

	prepared, err := d.pipeline.Process(ctx, image.Input{
		Reader:    bytes.NewReader(req.ImageBytes),
		MediaType: req.MediaType,
		Filename:  req.Filename,
	})
	if err != nil {
		return fail(err)
	}
	event.MediaType = prepared.MediaType

	key := CacheKey(backend, prepared.Bytes)
	event.CacheKey = key

	result := resultSuccess
	var (
		record diagnosis.Record
		cached bool
	)
	switch {
	case !d.caching:
		record, err = d.invoke(ctx, prepared)
		if err != nil {
			return fail(err)
		}
	default:
		record, cached = d.lookup(ctx, key)
		if cached {
			result = resultCached
			break
		}
		// 合并的调用不随第一个调用方取消，超时仍然生效
		value, err, shared := d.group.Do(key, func() (interface{}, error) {
			record, err := d.invoke(context.WithoutCancel(ctx), prepared)
			if err != nil {
				return nil, err
			}
			d.remember(ctx, key, record)
			return record, nil
		})
		if err != nil {
			return fail(err)
		}
		if shared {
			d.logger.DebugTag("分析", "合并重复请求: request_id=%s key=%s", requestID, key)
		}
		record = value.(diagnosis.Record).Clone()
	}

	endSpan(nil)
	d.observe(backend, result, start)

	event.Cached = cached
	event.PlantName = record.PlantName
	event.IsHealthy = record.IsHealthy
	event.DurationMS = time.Since(start).Milliseconds()
	event.Timestamp = time.Now()
	d.events.PublishAsync(eventbus.EventAnalysisCompleted, event)

	d.logger.InfoTag("分析", "分析成功: request_id=%s backend=%s plant=%s cached=%v 耗时=%s",
		requestID, backend, record.PlantName, cached, time.Since(start))
	return &record, nil
}

func (d *Dispatcher) lookup(ctx context.Context, key string) (diagnosis.Record, bool) {
	entry, ok, err := d.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		d.logger.WarnTag("缓存", "读取缓存失败: key=%s err=%v", key, err)
		return diagnosis.Record{}, false
	case !ok:
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return diagnosis.Record{}, false
	default:
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return entry.Record, true
	}
}

// invoke runs the backend and the normalizer once, bounded by the timeout.
func (d *Dispatcher) invoke(ctx context.Context, prepared *image.Output) (diagnosis.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	observability.AnalysisInFlight.Inc()
	defer observability.AnalysisInFlight.Dec()

	raw, err := d.backend.Invoke(callCtx, providers.Image{
		Bytes:     prepared.Bytes,
		Base64:    prepared.Base64,
		MediaType: prepared.MediaType,
		Extension: prepared.Extension,
	})
	if err != nil {
		return diagnosis.Record{}, err
	}
	return diagnosis.Normalize(raw)
}

// remember 写入失败只记日志，不影响本次结果
func (d *Dispatcher) remember(ctx context.Context, key string, record diagnosis.Record) {
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	if err := d.cache.Put(putCtx, store.Entry{Key: key, Backend: d.backend.Name(), Record: record}); err != nil {
		d.logger.WarnTag("缓存", "写入缓存失败: key=%s err=%v", key, err)
	}
}

func (d *Dispatcher) observe(backend, result string, start time.Time) {
	observability.AnalysisTotal.WithLabelValues(backend, result).Inc()
	observability.AnalysisDurationSeconds.WithLabelValues(backend, result).Observe(time.Since(start).Seconds())
}
