package analysis

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"garden-doctor-go/internal/core/providers"
	"garden-doctor-go/internal/domain/diagnosis"
	"garden-doctor-go/internal/domain/diagnosis/store"
	"garden-doctor-go/internal/domain/eventbus"
	"garden-doctor-go/internal/domain/image"
	"garden-doctor-go/internal/platform/errors"
	testhelpers "garden-doctor-go/internal/platform/testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioOneReply = `{"plant_name":"Ficus (Ficus elastica)","is_healthy":true,"summary":"Looks great","care_instructions":{"light":"Bright","water":"Weekly","environment":"Indoor","temperature":"18-24C"},"diagnostics":{"status":"Healthy","description":"No issues","recommendations":[]}}`

type fakeBackend struct {
	reply string
	err   error
	// wait 非空时阻塞到 ctx 结束或通道关闭
	wait chan struct{}

	calls atomic.Int32
	mu    sync.Mutex
	seen  []providers.Image
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Invoke(ctx context.Context, img providers.Image) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, img)
	f.mu.Unlock()

	if f.wait != nil {
		select {
		case <-f.wait:
		case <-ctx.Done():
			return "", errors.Wrap(errors.KindUpstream, "fake.invoke", "Analysis failed", ctx.Err()).
				WithDetails("request to the model timed out")
		}
	}
	return f.reply, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	data   []eventbus.AnalysisEventData
}

func (p *recordingPublisher) PublishAsync(topic string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if len(args) > 0 {
		p.data = append(p.data, args[0].(eventbus.AnalysisEventData))
	}
}

func newDispatcher(t *testing.T, backend providers.Backend, mutate func(*Options)) *Dispatcher {
	t.Helper()
	cfg := testhelpers.SetupTestConfig(t)
	pipeline, err := image.NewPipeline(image.Options{Security: &cfg.Security})
	require.NoError(t, err)

	opts := Options{
		Backend:  backend,
		Pipeline: pipeline,
		Timeout:  cfg.Analysis.Timeout,
		Logger:   testhelpers.SetupTestLogger(t),
	}
	if mutate != nil {
		mutate(&opts)
	}
	d, err := NewDispatcher(opts)
	require.NoError(t, err)
	return d
}

func TestNewDispatcherRequiresDependencies(t *testing.T) {
	_, err := NewDispatcher(Options{})
	assert.Error(t, err)

	_, err = NewDispatcher(Options{Backend: &fakeBackend{}})
	assert.Error(t, err)
}

func TestAnalyzeScenarioOneReturnsRecordUnchanged(t *testing.T) {
	backend := &fakeBackend{reply: scenarioOneReply}
	d := newDispatcher(t, backend, nil)

	record, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
	require.Nil(t, errRecord)
	require.NotNil(t, record)

	assert.Equal(t, diagnosis.Record{
		PlantName: "Ficus (Ficus elastica)",
		IsHealthy: true,
		Summary:   "Looks great",
		CareInstructions: diagnosis.CareInstructions{
			Light:       "Bright",
			Water:       "Weekly",
			Environment: "Indoor",
			Temperature: "18-24C",
		},
		Diagnostics: diagnosis.Diagnostics{
			Status:          "Healthy",
			Description:     "No issues",
			Recommendations: []string{},
		},
	}, *record)

	require.Len(t, backend.seen, 1)
	assert.Equal(t, "QQ==", backend.seen[0].Base64)
	assert.Equal(t, image.DefaultMediaType, backend.seen[0].MediaType)
	assert.Equal(t, []byte("A"), backend.seen[0].Bytes)
	assert.Equal(t, "fake", d.Backend())
}

func TestAnalyzeScenarioTwoFillsDefaults(t *testing.T) {
	d := newDispatcher(t, &fakeBackend{reply: `{"plant_name":"Aloe"}`}, nil)

	record, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
	require.Nil(t, errRecord)

	assert.Equal(t, "Aloe", record.PlantName)
	assert.False(t, record.IsHealthy)
	assert.Equal(t, diagnosis.NotAvailable, record.Summary)
	assert.Equal(t, diagnosis.NotAvailable, record.CareInstructions.Water)
	assert.NotNil(t, record.Diagnostics.Recommendations)
	assert.Empty(t, record.Diagnostics.Recommendations)
}

func TestAnalyzeScenarioThreeParseFailure(t *testing.T) {
	backend := &fakeBackend{reply: "not json"}
	d := newDispatcher(t, backend, nil)

	record, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
	assert.Nil(t, record)
	require.NotNil(t, errRecord)

	assert.Equal(t, errors.KindParse, errRecord.Kind)
	assert.Equal(t, http.StatusInternalServerError, errRecord.Status)
	assert.Equal(t, diagnosis.ParseFailureMessage, errRecord.Error)
	assert.Equal(t, "not json", errRecord.Details)
	assert.NotEmpty(t, errRecord.Message)

	// 失败结果不缓存
	_, errRecord = d.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
	require.NotNil(t, errRecord)
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestAnalyzeScenarioFourEmptyImage(t *testing.T) {
	backend := &fakeBackend{reply: scenarioOneReply}
	events := &recordingPublisher{}
	d := newDispatcher(t, backend, func(o *Options) { o.Events = events })

	for _, data := range [][]byte{nil, {}} {
		record, errRecord := d.Analyze(context.Background(), Request{ImageBytes: data})
		assert.Nil(t, record)
		require.NotNil(t, errRecord)
		assert.Equal(t, errors.KindBadRequest, errRecord.Kind)
		assert.Equal(t, http.StatusBadRequest, errRecord.Status)
	}
	assert.Zero(t, backend.calls.Load())
	assert.Equal(t, []string{eventbus.EventAnalysisFailed, eventbus.EventAnalysisFailed}, events.topics)
}

func TestAnalyzeRejectsInvalidImageWithoutBackend(t *testing.T) {
	backend := &fakeBackend{reply: scenarioOneReply}
	d := newDispatcher(t, backend, nil)

	// PDF 签名
	_, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("%PDF-1.4 fake")})
	require.NotNil(t, errRecord)
	assert.Equal(t, errors.KindBadRequest, errRecord.Kind)
	assert.Zero(t, backend.calls.Load())
}

func TestAnalyzeBackendFailuresBecomeErrorRecords(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    errors.Kind
		details string
		message string
	}{
		{
			name:    "missing credential",
			err:     errors.New(errors.KindConfig, "vlllm.invoke", "API key not configured").WithDetails("OPENROUTER_API_KEY is not set"),
			kind:    errors.KindConfig,
			details: "OPENROUTER_API_KEY is not set",
		},
		{
			name:    "upstream",
			err:     errors.New(errors.KindUpstream, "vlllm.invoke", "Analysis failed").WithDetails("status 502: bad gateway"),
			kind:    errors.KindUpstream,
			details: "status 502: bad gateway",
		},
		{
			name:    "execution",
			err:     errors.New(errors.KindExecution, "localproc.invoke", "Analysis failed").WithDetails("Traceback"),
			kind:    errors.KindExecution,
			details: "Traceback",
			message: LocalProgramHint,
		},
		{
			name:    "untyped",
			err:     stderrors.New("socket closed"),
			kind:    errors.KindUnknown,
			details: "socket closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDispatcher(t, &fakeBackend{err: tt.err}, nil)
			record, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
			assert.Nil(t, record)
			require.NotNil(t, errRecord)
			assert.Equal(t, tt.kind, errRecord.Kind)
			assert.Equal(t, http.StatusInternalServerError, errRecord.Status)
			assert.Equal(t, tt.details, errRecord.Details)
			assert.Equal(t, tt.message, errRecord.Message)
		})
	}
}

func TestAnalyzeUsesCache(t *testing.T) {
	backend := &fakeBackend{reply: scenarioOneReply}
	cache := store.NewMemory(store.Config{TTL: time.Minute})
	t.Cleanup(func() { _ = cache.Close(context.Background()) })
	events := &recordingPublisher{}
	d := newDispatcher(t, backend, func(o *Options) {
		o.Cache = cache
		o.Events = events
	})

	first, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
	require.Nil(t, errRecord)
	second, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
	require.Nil(t, errRecord)

	assert.Equal(t, *first, *second)
	assert.Equal(t, int32(1), backend.calls.Load())

	entry, ok, err := cache.Get(context.Background(), CacheKey("fake", []byte("A")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fake", entry.Backend)

	require.Len(t, events.data, 2)
	assert.False(t, events.data[0].Cached)
	assert.True(t, events.data[1].Cached)
	assert.Equal(t, "Ficus (Ficus elastica)", events.data[1].PlantName)

	// 不同图片不命中
	_, errRecord = d.Analyze(context.Background(), Request{ImageBytes: []byte("B")})
	require.Nil(t, errRecord)
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestAnalyzeCollapsesConcurrentIdenticalImages(t *testing.T) {
	backend := &fakeBackend{reply: scenarioOneReply, wait: make(chan struct{})}
	cache := store.NewMemory(store.Config{TTL: time.Minute})
	t.Cleanup(func() { _ = cache.Close(context.Background()) })
	d := newDispatcher(t, backend, func(o *Options) { o.Cache = cache })

	const n = 8
	var wg sync.WaitGroup
	records := make([]*diagnosis.Record, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("same")})
			if assert.Nil(t, errRecord) {
				records[i] = record
			}
		}(i)
	}

	require.Eventually(t, func() bool { return backend.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(backend.wait)
	wg.Wait()

	assert.Equal(t, int32(1), backend.calls.Load())
	for _, record := range records {
		require.NotNil(t, record)
		assert.Equal(t, "Ficus (Ficus elastica)", record.PlantName)
	}
	// 每个调用方拿到独立副本
	records[0].Diagnostics.Recommendations = append(records[0].Diagnostics.Recommendations, "mutated")
	assert.Empty(t, records[1].Diagnostics.Recommendations)
}

func TestAnalyzeTimeout(t *testing.T) {
	backend := &fakeBackend{reply: scenarioOneReply, wait: make(chan struct{})}
	t.Cleanup(func() { close(backend.wait) })
	d := newDispatcher(t, backend, func(o *Options) { o.Timeout = 50 * time.Millisecond })

	start := time.Now()
	record, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
	assert.Nil(t, record)
	require.NotNil(t, errRecord)
	assert.Equal(t, errors.KindUpstream, errRecord.Kind)
	assert.Contains(t, errRecord.Details, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestToErrorRecord(t *testing.T) {
	assert.Nil(t, ToErrorRecord(nil))

	parseErr := errors.Wrap(errors.KindParse, "diagnosis.normalize", diagnosis.ParseFailureMessage,
		stderrors.New("invalid character 'o' in literal null")).WithDetails("not json")
	record := ToErrorRecord(parseErr)
	assert.Equal(t, errors.KindParse, record.Kind)
	assert.Equal(t, "not json", record.Details)
	assert.Equal(t, "invalid character 'o' in literal null", record.Message)

	local := ToErrorRecord(errors.New(errors.KindConfig, "localproc.resolve", "analysis program not found"))
	assert.Equal(t, LocalProgramHint, local.Message)

	remote := ToErrorRecord(errors.New(errors.KindConfig, "vlllm.invoke", "API key not configured"))
	assert.Empty(t, remote.Message)

	causeOnly := ToErrorRecord(errors.Wrap(errors.KindExecution, "localproc.invoke", "Analysis failed", stderrors.New("exec: not started")))
	assert.Equal(t, "exec: not started", causeOnly.Details)

	assert.Equal(t, http.StatusBadRequest, StatusFor(errors.KindBadRequest))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.KindStorage))
}

func TestCacheKeyIsStable(t *testing.T) {
	assert.Equal(t, CacheKey("remote", []byte("A")), CacheKey("remote", []byte("A")))
	assert.NotEqual(t, CacheKey("remote", []byte("A")), CacheKey("remote", []byte("B")))
	assert.NotEqual(t, CacheKey("remote", []byte("A")), CacheKey("local", []byte("A")))
	assert.True(t, strings.HasPrefix(CacheKey("local", nil), "local:"))
	assert.Len(t, CacheKey("local", nil), len("local:")+64)
}

type renamedBackend struct {
	*fakeBackend
	name string
}

func (r renamedBackend) Name() string { return r.name }

func TestCachedRecordsAreScopedToBackend(t *testing.T) {
	cache := store.NewMemory(store.Config{TTL: time.Minute})
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	remote := &fakeBackend{reply: `{"plant_name":"Remote Fern"}`}
	local := &fakeBackend{reply: `{"plant_name":"Local Fern"}`}
	first := newDispatcher(t, renamedBackend{remote, "remote"}, func(o *Options) { o.Cache = cache })
	second := newDispatcher(t, renamedBackend{local, "local"}, func(o *Options) { o.Cache = cache })

	record, errRecord := first.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
	require.Nil(t, errRecord)
	assert.Equal(t, "Remote Fern", record.PlantName)

	// 切换后端后不复用另一个后端的缓存
	record, errRecord = second.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
	require.Nil(t, errRecord)
	assert.Equal(t, "Local Fern", record.PlantName)
	assert.Equal(t, int32(1), remote.calls.Load())
	assert.Equal(t, int32(1), local.calls.Load())
}

func TestDefaultOptionsCallBackendForEveryRequest(t *testing.T) {
	backend := &fakeBackend{reply: scenarioOneReply}
	events := &recordingPublisher{}
	d := newDispatcher(t, backend, func(o *Options) { o.Events = events })

	for i := 0; i < 2; i++ {
		record, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("A")})
		require.Nil(t, errRecord)
		assert.Equal(t, "Ficus (Ficus elastica)", record.PlantName)
	}
	assert.Equal(t, int32(2), backend.calls.Load())

	require.Len(t, events.data, 2)
	assert.False(t, events.data[0].Cached)
	assert.False(t, events.data[1].Cached)
}

func TestDefaultOptionsDoNotCollapseConcurrentRequests(t *testing.T) {
	backend := &fakeBackend{reply: scenarioOneReply, wait: make(chan struct{})}
	d := newDispatcher(t, backend, nil)

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errRecord := d.Analyze(context.Background(), Request{ImageBytes: []byte("same")})
			assert.Nil(t, errRecord)
		}()
	}

	require.Eventually(t, func() bool { return backend.calls.Load() == n }, time.Second, 5*time.Millisecond)
	close(backend.wait)
	wg.Wait()
	assert.Equal(t, int32(n), backend.calls.Load())
}

func TestCallerCancellationStopsUncachedCall(t *testing.T) {
	backend := &fakeBackend{reply: scenarioOneReply, wait: make(chan struct{})}
	t.Cleanup(func() { close(backend.wait) })
	d := newDispatcher(t, backend, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for backend.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	record, errRecord := d.Analyze(ctx, Request{ImageBytes: []byte("A")})
	assert.Nil(t, record)
	require.NotNil(t, errRecord)
	assert.Equal(t, errors.KindUpstream, errRecord.Kind)
}
