package session

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"
)

// --- Driver Mock ---

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Session), args.Error(1)
}

// --- Session Fake ---

type fakeSession struct {
	navErr   error
	readyErr error
	title    string

	url    string
	closes atomic.Int32
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	if f.navErr != nil {
		return f.navErr
	}
	f.url = url
	return nil
}

func (f *fakeSession) WaitReady(_ context.Context) error { return f.readyErr }
func (f *fakeSession) HTML() string                      { return "<html><body></body></html>" }
func (f *fakeSession) CurrentURL() string                { return f.url }
func (f *fakeSession) Title() string                     { return f.title }

func (f *fakeSession) Close() error {
	f.closes.Add(1)
	return nil
}
