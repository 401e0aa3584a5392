package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quillnotes/quill/internal/logging"
	"github.com/quillnotes/quill/pkg/models"
)

type quotaKey struct {
	userID string
	month  string
}

// fakeStore is an in-memory Store with the same conditional-update
// semantics as the SQL repository
type fakeStore struct {
	mu     sync.Mutex
	quotas map[quotaKey]*models.UsageQuota
	events []*models.UsageEvent

	failReads  bool
	failEvents bool

	// pretendAbsent makes the next N reads/increments act as if the row
	// does not exist, to force the creation-race fallback path
	pretendAbsent int
}

func newFakeStore() *fakeStore {
	return &fakeStore{quotas: make(map[quotaKey]*models.UsageQuota)}
}

func (s *fakeStore) GetQuota(ctx context.Context, userID, month string) (*models.UsageQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errors.New("store unavailable")
	}
	if s.pretendAbsent > 0 {
		s.pretendAbsent--
		return nil, nil
	}
	row, ok := s.quotas[quotaKey{userID, month}]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (s *fakeStore) CreateQuota(ctx context.Context, userID, month string, tokensUsed, tokensLimit int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := quotaKey{userID, month}
	if _, ok := s.quotas[key]; ok {
		return false, nil
	}
	s.quotas[key] = &models.UsageQuota{
		UserID:      userID,
		Month:       month,
		TokensUsed:  tokensUsed,
		TokensLimit: tokensLimit,
	}
	return true, nil
}

func (s *fakeStore) IncrementUsageWithCeiling(ctx context.Context, userID, month string, delta int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pretendAbsent > 0 {
		s.pretendAbsent--
		return false, nil
	}
	row, ok := s.quotas[quotaKey{userID, month}]
	if !ok || row.TokensUsed+delta > row.TokensLimit {
		return false, nil
	}
	row.TokensUsed += delta
	return true, nil
}

func (s *fakeStore) SetQuotaLimit(ctx context.Context, userID, month string, tokensLimit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.quotas[quotaKey{userID, month}]
	if ok {
		row.TokensLimit = tokensLimit
	}
	return nil
}

func (s *fakeStore) CreateUsageEvent(ctx context.Context, event *models.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEvents {
		return errors.New("store unavailable")
	}
	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

type fakeUsers struct {
	users map[string]*models.User
	err   error
}

func (u *fakeUsers) GetUser(ctx context.Context, id string) (*models.User, error) {
	if u.err != nil {
		return nil, u.err
	}
	user, ok := u.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return user, nil
}

func testLimits() PlanLimits {
	return PlanLimits{Free: 100000, Pro: 1000000}
}

func newTestTracker(t *testing.T, store *fakeStore, users *fakeUsers) *Tracker {
	t.Helper()

	logger, err := logging.NewDefaultLogger()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	tracker := NewTracker(store, NewTierResolver(users, logger), testLimits(), logger)
	tracker.now = func() time.Time {
		return time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	}
	return tracker
}

func freeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "u1@example.com", Tier: models.TierFree},
	}}
}

func TestMonthKey(t *testing.T) {
	key := MonthKey(time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC))
	if key != "2026-03" {
		t.Errorf("Expected month key 2026-03, got %s", key)
	}
}

func TestGetMonthlyUsage_NoRow(t *testing.T) {
	tracker := newTestTracker(t, newFakeStore(), freeUsers())

	usage, err := tracker.GetMonthlyUsage(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetMonthlyUsage failed: %v", err)
	}

	if usage.Used != 0 {
		t.Errorf("Expected used 0, got %d", usage.Used)
	}
	if usage.Limit != 100000 {
		t.Errorf("Expected limit 100000, got %d", usage.Limit)
	}
	if usage.Percentage != 0 {
		t.Errorf("Expected percentage 0, got %f", usage.Percentage)
	}
}

func TestGetMonthlyUsage_ReadDoesNotCreateRow(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(t, store, freeUsers())

	if _, err := tracker.GetMonthlyUsage(context.Background(), "user-1"); err != nil {
		t.Fatalf("GetMonthlyUsage failed: %v", err)
	}

	if len(store.quotas) != 0 {
		t.Errorf("Pure read should not create quota rows, found %d", len(store.quotas))
	}
}

func TestRecordUsage_FirstUsage(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(t, store, freeUsers())
	ctx := context.Background()

	ok, err := tracker.CanUse(ctx, "user-1")
	if err != nil {
		t.Fatalf("CanUse failed: %v", err)
	}
	if !ok {
		t.Fatal("New free user should be admitted")
	}

	recorded, err := tracker.RecordUsage(ctx, "user-1", 50000, "model-x", models.FeatureGenerate)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if !recorded {
		t.Fatal("RecordUsage within limit should succeed")
	}

	usage, err := tracker.GetMonthlyUsage(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetMonthlyUsage failed: %v", err)
	}
	if usage.Used != 50000 {
		t.Errorf("Expected used 50000, got %d", usage.Used)
	}
	if usage.Limit != 100000 {
		t.Errorf("Expected limit 100000, got %d", usage.Limit)
	}
	if usage.Percentage != 50 {
		t.Errorf("Expected percentage 50, got %f", usage.Percentage)
	}

	if len(store.events) != 1 {
		t.Fatalf("Expected 1 usage event, got %d", len(store.events))
	}
	if store.events[0].Feature != models.FeatureGenerate {
		t.Errorf("Expected feature generate, got %s", store.events[0].Feature)
	}
	if store.events[0].Model != "model-x" {
		t.Errorf("Expected model model-x, got %s", store.events[0].Model)
	}
}

func TestRecordUsage_OverLimitIsNoOp(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(t, store, freeUsers())
	ctx := context.Background()

	recorded, err := tracker.RecordUsage(ctx, "user-1", 50000, "model-x", models.FeatureGenerate)
	if err != nil || !recorded {
		t.Fatalf("First RecordUsage failed: recorded=%v err=%v", recorded, err)
	}

	// 50000 + 60000 exceeds the free limit of 100000.
	recorded, err = tracker.RecordUsage(ctx, "user-1", 60000, "model-x", models.FeatureEnhance)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if recorded {
		t.Fatal("Over-limit RecordUsage should return false")
	}

	usage, err := tracker.GetMonthlyUsage(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetMonthlyUsage failed: %v", err)
	}
	if usage.Used != 50000 {
		t.Errorf("Failed commit must not mutate usage, got %d", usage.Used)
	}
	if len(store.events) != 1 {
		t.Errorf("Failed commit must not append events, got %d", len(store.events))
	}
}

func TestRecordUsage_FillsLimitExactly(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(t, store, freeUsers())
	ctx := context.Background()

	recorded, err := tracker.RecordUsage(ctx, "user-1", 100000, "model-x", models.FeatureExtract)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if !recorded {
		t.Fatal("Commit exactly at the limit should succeed")
	}

	ok, err := tracker.CanUse(ctx, "user-1")
	if err != nil {
		t.Fatalf("CanUse failed: %v", err)
	}
	if ok {
		t.Error("User at 100%% should not be admitted")
	}
}

func TestRecordUsage_ProTier(t *testing.T) {
	users := &fakeUsers{users: map[string]*models.User{
		"user-2": {ID: "user-2", Email: "u2@example.com", Tier: models.TierPro},
	}}
	store := newFakeStore()
	tracker := newTestTracker(t, store, users)
	ctx := context.Background()

	recorded, err := tracker.RecordUsage(ctx, "user-2", 500000, "model-x", models.FeatureQuestion)
	if err != nil || !recorded {
		t.Fatalf("Pro RecordUsage failed: recorded=%v err=%v", recorded, err)
	}

	usage, err := tracker.GetMonthlyUsage(ctx, "user-2")
	if err != nil {
		t.Fatalf("GetMonthlyUsage failed: %v", err)
	}
	if usage.Limit != 1000000 {
		t.Errorf("Expected pro limit 1000000, got %d", usage.Limit)
	}
	if usage.Percentage != 50 {
		t.Errorf("Expected percentage 50, got %f", usage.Percentage)
	}
}

func TestRecordUsage_LostCreationRace(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(t, store, freeUsers())
	ctx := context.Background()

	// A concurrent first usage lands between this call's failed increment
	// and its insert: the row exists but the first two store calls see it
	// as absent, so CreateQuota reports a conflict and the tracker must
	// fall back to incrementing the winner's row.
	month := MonthKey(tracker.now())
	if _, err := store.CreateQuota(ctx, "user-1", month, 10000, 100000); err != nil {
		t.Fatal(err)
	}
	store.pretendAbsent = 2

	recorded, err := tracker.RecordUsage(ctx, "user-1", 20000, "model-x", models.FeatureGenerate)
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if !recorded {
		t.Fatal("Commit within limit should succeed after losing the creation race")
	}

	usage, _ := tracker.GetMonthlyUsage(ctx, "user-1")
	if usage.Used != 30000 {
		t.Errorf("Expected used 30000, got %d", usage.Used)
	}
}

func TestCanUse_FailsClosedOnStoreError(t *testing.T) {
	store := newFakeStore()
	store.failReads = true
	tracker := newTestTracker(t, store, freeUsers())

	ok, err := tracker.CanUse(context.Background(), "user-1")
	if err == nil {
		t.Fatal("Expected error when the store is unavailable")
	}
	if ok {
		t.Error("Admission must be denied when it cannot be verified")
	}
}

func TestTierResolver_FailSafeToFree(t *testing.T) {
	logger, err := logging.NewDefaultLogger()
	if err != nil {
		t.Fatal(err)
	}

	resolver := NewTierResolver(&fakeUsers{err: errors.New("db down")}, logger)
	if tier := resolver.GetTier(context.Background(), "user-1"); tier != models.TierFree {
		t.Errorf("Lookup failure must resolve to free, got %s", tier)
	}

	resolver = NewTierResolver(&fakeUsers{users: map[string]*models.User{}}, logger)
	if tier := resolver.GetTier(context.Background(), "missing"); tier != models.TierFree {
		t.Errorf("Missing user must resolve to free, got %s", tier)
	}
}

func TestPlanLimits_ForTier(t *testing.T) {
	limits := testLimits()

	if limits.ForTier(models.TierFree) != 100000 {
		t.Errorf("Expected free limit 100000")
	}
	if limits.ForTier(models.TierPro) != 1000000 {
		t.Errorf("Expected pro limit 1000000")
	}
	// Unknown tiers get the cheapest allowance.
	if limits.ForTier(models.Tier("enterprise")) != 100000 {
		t.Errorf("Unknown tier should fall back to the free limit")
	}
}

func TestRecordUsage_ConcurrentCommitsNeverOvershoot(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(t, store, freeUsers())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tracker.RecordUsage(ctx, "user-1", 30000, "model-x", models.FeatureGenerate)
		}()
	}
	wg.Wait()

	usage, err := tracker.GetMonthlyUsage(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetMonthlyUsage failed: %v", err)
	}
	if usage.Used > usage.Limit {
		t.Errorf("Concurrent commits overshot the limit: used=%d limit=%d", usage.Used, usage.Limit)
	}
}
