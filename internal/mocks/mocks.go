// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/carlot/internal/browser"
	"github.com/xkilldash9x/carlot/internal/scraper"
)

// -- Browser Mocks --

// MockSession mocks browser.Session.
type MockSession struct {
	mock.Mock
	id string
}

// NewMockSession returns a mock with a fixed ID, so pool bookkeeping works
// without an ID expectation in every test.
func NewMockSession(id string) *MockSession {
	return &MockSession{id: id}
}

func (m *MockSession) ID() string { return m.id }

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockSession) Evaluate(ctx context.Context, script string, res any) error {
	return m.Called(ctx, script, res).Error(0)
}

func (m *MockSession) EvaluateAsync(ctx context.Context, script string, res any) error {
	return m.Called(ctx, script, res).Error(0)
}

func (m *MockSession) CurrentURL() string { return m.Called().String(0) }

func (m *MockSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockLauncher mocks browser.Launcher.
type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Launch(ctx context.Context) (browser.Session, error) {
	args := m.Called(ctx)
	if fn, ok := args.Get(0).(func(context.Context) browser.Session); ok {
		return fn(ctx), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(browser.Session), args.Error(1)
}

// -- Service Mock --

// MockCarService mocks the operations the HTTP layer calls.
type MockCarService struct {
	mock.Mock
}

func (m *MockCarService) ListCars(ctx context.Context, filters scraper.Filters, orderBy string, pageNum string) (*scraper.CarList, error) {
	args := m.Called(ctx, filters, orderBy, pageNum)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scraper.CarList), args.Error(1)
}

func (m *MockCarService) CarDetails(ctx context.Context, carID string) (*scraper.CarDetails, error) {
	args := m.Called(ctx, carID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scraper.CarDetails), args.Error(1)
}

func (m *MockCarService) Filters(ctx context.Context) (*scraper.FilterOptions, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scraper.FilterOptions), args.Error(1)
}

func (m *MockCarService) BrandModels(ctx context.Context, brand string) ([]string, error) {
	args := m.Called(ctx, brand)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCarService) ModelGens(ctx context.Context, brand, model string) ([]string, error) {
	args := m.Called(ctx, brand, model)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
