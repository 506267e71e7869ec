package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/satriahrh/arunika/client/domain/repositories"
)

// fakeBackend is a scriptable AssistantBackend
type fakeBackend struct {
	mu sync.Mutex

	sendAudio   func(ctx context.Context, audioURI, sessionID, model string) (*repositories.AskResult, error)
	sendText    func(ctx context.Context, text, sessionID, model string) (*repositories.AskResult, error)
	setModel    func(model string) bool
	checkStatus func(baseURL string) error

	audioCalls []call
	textCalls  []call
	models     []string
	checked    []string
}

type call struct {
	Input     string
	SessionID string
	Model     string
}

var _ repositories.AssistantBackend = (*fakeBackend)(nil)

func (f *fakeBackend) SendAudio(ctx context.Context, audioURI, sessionID, model string) (*repositories.AskResult, error) {
	f.mu.Lock()
	f.audioCalls = append(f.audioCalls, call{audioURI, sessionID, model})
	fn := f.sendAudio
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("sendAudio not scripted")
	}
	return fn(ctx, audioURI, sessionID, model)
}

func (f *fakeBackend) SendText(ctx context.Context, text, sessionID, model string) (*repositories.AskResult, error) {
	f.mu.Lock()
	f.textCalls = append(f.textCalls, call{text, sessionID, model})
	fn := f.sendText
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("sendText not scripted")
	}
	return fn(ctx, text, sessionID, model)
}

func (f *fakeBackend) SetModel(_ context.Context, model string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, model)
	if f.setModel == nil {
		return true
	}
	return f.setModel(model)
}

func (f *fakeBackend) CheckStatus(_ context.Context, baseURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, baseURL)
	if f.checkStatus == nil {
		return nil
	}
	return f.checkStatus(baseURL)
}

func (f *fakeBackend) textCallsSnapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.textCalls...)
}

func (f *fakeBackend) audioCallsSnapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.audioCalls...)
}

// brokenStore fails every operation
type brokenStore struct{}

var errDiskGone = errors.New("disk gone")

func (brokenStore) Get(context.Context, repositories.StoreKey) ([]byte, error) {
	return nil, errDiskGone
}
func (brokenStore) Set(context.Context, repositories.StoreKey, []byte) error { return errDiskGone }
func (brokenStore) Delete(context.Context, repositories.StoreKey) error      { return errDiskGone }
func (brokenStore) BatchSet(context.Context, []repositories.StoreEntry) error {
	return errDiskGone
}
func (brokenStore) Close() error { return nil }
