package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/pribylovaa/go-codeai/internal/cache"
	"github.com/pribylovaa/go-codeai/internal/chat"
	"github.com/pribylovaa/go-codeai/internal/config"
	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/oauth"
	"github.com/pribylovaa/go-codeai/internal/queue"
	"github.com/pribylovaa/go-codeai/mocks"
)

func testAuthCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "unit-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "codeai",
		Audience:        []string{"codeai-client"},
	}
}

func testGenCfg() config.GeneratorConfig {
	return config.GeneratorConfig{
		Model:         "codellama:7b-code",
		ModelInstruct: "codellama:7b-instruct",
		CacheTTL:      time.Hour,
		Workers:       1,
	}
}

// fakeResults — потокобезопасный map-кэш результатов.
type fakeResults struct {
	mu   sync.Mutex
	data map[string]*models.GenerationResult
}

func newFakeResults() *fakeResults {
	return &fakeResults{data: make(map[string]*models.GenerationResult)}
}

func (f *fakeResults) GetResult(_ context.Context, key string) (*models.GenerationResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.data[key]
	return res, ok, nil
}

func (f *fakeResults) SetResult(_ context.Context, key string, res *models.GenerationResult, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = res
	return nil
}

// fakeStates — одноразовое хранилище state в памяти.
type fakeStates struct {
	mu   sync.Mutex
	data map[string]cache.StatePayload
}

func newFakeStates() *fakeStates {
	return &fakeStates{data: make(map[string]cache.StatePayload)}
}

func (f *fakeStates) SaveState(_ context.Context, state string, payload cache.StatePayload, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[state] = payload
	return nil
}

func (f *fakeStates) TakeState(_ context.Context, state string) (*cache.StatePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.data[state]
	if !ok {
		return nil, cache.ErrStateNotFound
	}
	delete(f.data, state)
	return &payload, nil
}

// fakeGen — управляемый генератор.
type fakeGen struct {
	generate func(ctx context.Context, job *models.GenerationJob) (string, error)
	stream   func(ctx context.Context, job *models.GenerationJob) (<-chan string, <-chan error)
}

func (f *fakeGen) Generate(ctx context.Context, job *models.GenerationJob) (string, error) {
	return f.generate(ctx, job)
}

func (f *fakeGen) Stream(ctx context.Context, job *models.GenerationJob) (<-chan string, <-chan error) {
	return f.stream(ctx, job)
}

// fakeProvider — подставной внешний провайдер.
type fakeProvider struct {
	name     string
	exchange func(ctx context.Context, code string) (*oauth.ExternalIdentity, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) AuthorizeURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (f *fakeProvider) Exchange(ctx context.Context, code string) (*oauth.ExternalIdentity, error) {
	return f.exchange(ctx, code)
}

type svcDeps struct {
	storage  *mocks.MockStorage
	results  *fakeResults
	states   *fakeStates
	windows  *chat.Windows
	bus      *queue.Bus
	gen      *fakeGen
	provider *fakeProvider
}

func newSvc(t *testing.T, tune func(*svcDeps)) (*Service, *svcDeps, *gomock.Controller) {
	t.Helper()

	ctrl := gomock.NewController(t)
	d := &svcDeps{
		storage: mocks.NewMockStorage(ctrl),
		results: newFakeResults(),
		states:  newFakeStates(),
		windows: chat.NewWindows(chat.DefaultMaxExchanges),
		bus:     queue.NewBus(4),
		gen: &fakeGen{
			generate: func(context.Context, *models.GenerationJob) (string, error) {
				return "generated", nil
			},
		},
		provider: &fakeProvider{name: "github"},
	}
	if tune != nil {
		tune(d)
	}

	svc := New(Deps{
		Storage:         d.storage,
		Results:         d.results,
		States:          d.states,
		Windows:         d.windows,
		Bus:             d.bus,
		Gen:             d.gen,
		Provider:        d.provider,
		AuthCfg:         testAuthCfg(),
		GenCfg:          testGenCfg(),
		DispatchTimeout: 2 * time.Second,
	})

	return svc, d, ctrl
}
