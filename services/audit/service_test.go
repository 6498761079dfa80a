package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertedLogs = append(m.insertedLogs, log)
	return args.Error(0)
}

func (m *MockAuditRepository) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	args := m.Called(ctx, filter)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditLog(nil), m.insertedLogs...)
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, service.Start(), "cannot start twice")

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)
	assert.ErrorIs(t, service.Stop(time.Second), ErrNotRunning)
}

func TestAuditService_DefaultsForZeroConfig(t *testing.T) {
	service := NewAuditService(new(MockAuditRepository), zap.NewNop(), Config{})
	stats := service.GetStats()
	assert.Equal(t, DefaultConfig().BufferSize, stats.BufferSize)
	assert.Equal(t, DefaultConfig().WorkerCount, stats.WorkerCount)
}

func TestAuditService_Record(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 2})
	require.NoError(t, service.Start())

	actor := uuid.NewString()
	resource := uuid.NewString()
	log := models.NewAuditLog(models.AuditActionCreated, models.KindMaterial, "materials.create").
		WithActor(actor, "Admin").
		WithResource(resource)
	require.NoError(t, service.Record(log))

	// Stop drains the queue
	require.NoError(t, service.Stop(5*time.Second))

	inserted := mockRepo.GetInsertedLogs()
	require.Len(t, inserted, 1)
	assert.Equal(t, models.AuditActionCreated, inserted[0].Action)
	assert.Equal(t, actor, inserted[0].ActorID.String())
	assert.Equal(t, resource, inserted[0].ResourceID.String())
}

func TestAuditService_RecordBlocking(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, service.Start())

	log := models.NewAuditLog(models.AuditActionDeleted, models.KindTask, "tasks.delete")
	require.NoError(t, service.RecordBlocking(context.Background(), log))
	require.NoError(t, service.Stop(5*time.Second))

	assert.Len(t, mockRepo.GetInsertedLogs(), 1)
}

func TestAuditService_NotRunning(t *testing.T) {
	service := NewAuditService(new(MockAuditRepository), zap.NewNop(), DefaultConfig())
	log := models.NewAuditLog(models.AuditActionCreated, models.KindTrade, "trades.create")

	assert.ErrorIs(t, service.Record(log), ErrNotRunning)

	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	assert.ErrorIs(t, service.Record(log), ErrNotRunning, "recording after stop must not panic")
	assert.ErrorIs(t, service.RecordBlocking(context.Background(), log), ErrNotRunning)
}

func TestAuditService_ConcurrentRecording(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1000, WorkerCount: 5})
	require.NoError(t, service.Start())

	goroutineCount := 10
	eventsPerGoroutine := 10
	var wg sync.WaitGroup
	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = service.Record(models.NewAuditLog(models.AuditActionUpdated, models.KindProject, "projects.update"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, service.Stop(5*time.Second))

	assert.Len(t, mockRepo.GetInsertedLogs(), goroutineCount*eventsPerGoroutine)
}

func TestAuditService_BufferFull(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 2, WorkerCount: 1})
	require.NoError(t, service.Start())

	var accepted, dropped int
	for i := 0; i < 10; i++ {
		err := service.Record(models.NewAuditLog(models.AuditActionCreated, models.KindExpense, "expenses.create"))
		switch err {
		case nil:
			accepted++
		case ErrBufferFull:
			dropped++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// one log is held by the worker, two wait in the buffer
	assert.LessOrEqual(t, accepted, 3)
	assert.Equal(t, 10, accepted+dropped)

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), accepted)
}

func TestAuditService_InsertFailureIsLogged(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(assert.AnError)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 4, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.Record(models.NewAuditLog(models.AuditActionCreated, models.KindTrade, "trades.create")))
	require.NoError(t, service.Stop(5*time.Second))

	mockRepo.AssertNumberOfCalls(t, "Insert", 1)
}

func TestAuditService_RecordLogin(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())
	require.NoError(t, service.Start())

	user := &models.User{ID: uuid.NewString(), Role: models.RoleSupervisor}
	require.NoError(t, service.RecordLogin(user, "req-9", "10.0.0.1", "curl/8"))
	require.NoError(t, service.Stop(5*time.Second))

	inserted := mockRepo.GetInsertedLogs()
	require.Len(t, inserted, 1)
	assert.Equal(t, models.AuditActionLogin, inserted[0].Action)
	assert.Equal(t, "Supervisor", inserted[0].ActorRole)
	assert.Equal(t, "req-9", inserted[0].RequestID)
	assert.Equal(t, "10.0.0.1", inserted[0].IPAddress)
}

func TestAuditService_List(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	want := []*models.AuditLog{models.NewAuditLog(models.AuditActionCreated, models.KindTask, "tasks.create")}
	filter := repositories.AuditFilter{EntityKind: models.KindTask, Limit: 10}
	mockRepo.On("List", mock.Anything, filter).Return(want, nil)

	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())
	got, err := service.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
