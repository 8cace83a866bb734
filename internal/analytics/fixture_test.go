package analytics

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nixlim/evalstats/internal/config"
	"github.com/nixlim/evalstats/internal/storage"
)

const (
	orgID      = "11111111-1111-4111-8111-111111111111"
	otherOrgID = "22222222-2222-4222-8222-222222222222"

	tlTest     = "00000000-0000-4000-8000-000000000001"
	tlTestRun  = "00000000-0000-4000-8000-000000000002"
	tlTestType = "00000000-0000-4000-8000-000000000003"

	stActive    = "00000000-0000-4000-8000-000000000011"
	stDraft     = "00000000-0000-4000-8000-000000000012"
	stCompleted = "00000000-0000-4000-8000-000000000013"
	stFailed    = "00000000-0000-4000-8000-000000000014"

	userAlice = "00000000-0000-4000-8000-000000000021"
	userBob   = "00000000-0000-4000-8000-000000000022"

	bhAccuracy = "00000000-0000-4000-8000-000000000031"
	bhSafety   = "00000000-0000-4000-8000-000000000032"
	catHarmful = "00000000-0000-4000-8000-000000000041"
	catBenign  = "00000000-0000-4000-8000-000000000042"
	tpMedicine = "00000000-0000-4000-8000-000000000051"

	tsCore = "00000000-0000-4000-8000-000000000061"
	tsEdge = "00000000-0000-4000-8000-000000000062"

	test1     = "00000000-0000-4000-8000-000000000071"
	test2     = "00000000-0000-4000-8000-000000000072"
	test3     = "00000000-0000-4000-8000-000000000073"
	test4     = "00000000-0000-4000-8000-000000000074"
	testOther = "00000000-0000-4000-8000-000000000075"

	tcCore = "00000000-0000-4000-8000-000000000081"
	tcEdge = "00000000-0000-4000-8000-000000000082"

	run1 = "00000000-0000-4000-8000-000000000091"
	run2 = "00000000-0000-4000-8000-000000000092"
	run3 = "00000000-0000-4000-8000-000000000093"

	tagSmoke   = "00000000-0000-4000-8000-0000000000a1"
	tagNightly = "00000000-0000-4000-8000-0000000000a2"
)

// fixedNow is the clock of every test service. The default six month
// window therefore runs from 2025-09-20 to 2026-03-20.
var fixedNow = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func intPtr(n int) *int { return &n }

func pass(metrics ...string) json.RawMessage {
	return payload(true, metrics...)
}

func fail(metrics ...string) json.RawMessage {
	return payload(false, metrics...)
}

// payload marks the first metric with ok and every other one successful.
func payload(ok bool, metrics ...string) json.RawMessage {
	m := make(map[string]map[string]any, len(metrics))
	for i, name := range metrics {
		m[name] = map[string]any{"is_successful": ok || i > 0, "score": 0.5}
	}
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return data
}

// fixture is the shared dataset:
//
//	tests:   t1 Accuracy/Benign/Medicine/Active (Jan), t2 Accuracy/Harmful/Active (Jan),
//	         t3 Safety/Draft (Mar), t4 Safety with a run status (Aug 2025, before window)
//	runs:    r1 Core/Completed/Alice (Jan), r2 Core/Completed/Alice (Feb), r3 Edge/Failed/Bob (Mar)
//	results: r1 pass+fail, r2 pass+malformed, r3 nested pass+empty
func fixture() *storage.Dataset {
	return &storage.Dataset{
		TypeLookups: []storage.TypeLookup{
			{ID: tlTest, TypeName: "EntityType", TypeValue: "Test"},
			{ID: tlTestRun, TypeName: "EntityType", TypeValue: "TestRun"},
			{ID: tlTestType, TypeName: "TestType", TypeValue: "Single-Turn", OrganizationID: orgID},
		},
		Statuses: []storage.Status{
			{ID: stActive, Name: "Active", EntityTypeID: tlTest, OrganizationID: orgID},
			{ID: stDraft, Name: "Draft", EntityTypeID: tlTest, OrganizationID: orgID},
			{ID: stCompleted, Name: "Completed", EntityTypeID: tlTestRun, OrganizationID: orgID},
			{ID: stFailed, Name: "Failed", EntityTypeID: tlTestRun, OrganizationID: orgID},
		},
		Users: []storage.User{
			{ID: userAlice, Name: "Alice", Email: "alice@example.com", OrganizationID: orgID},
			{ID: userBob, Name: "Bob", Email: "bob@example.com", OrganizationID: orgID},
		},
		Behaviors: []storage.NamedEntity{
			{ID: bhAccuracy, Name: "Accuracy", OrganizationID: orgID, CreatedAt: day("2025-12-01")},
			{ID: bhSafety, Name: "Safety", OrganizationID: orgID, CreatedAt: day("2025-12-01")},
		},
		Categories: []storage.NamedEntity{
			{ID: catHarmful, Name: "Harmful", OrganizationID: orgID},
			{ID: catBenign, Name: "Benign", OrganizationID: orgID},
		},
		Topics: []storage.NamedEntity{
			{ID: tpMedicine, Name: "Medicine", OrganizationID: orgID},
		},
		TestSets: []storage.NamedEntity{
			{ID: tsCore, Name: "Core", OrganizationID: orgID},
			{ID: tsEdge, Name: "Edge", OrganizationID: orgID},
		},
		Tests: []storage.Test{
			{ID: test1, TestTypeID: tlTestType, Priority: intPtr(1), UserID: userAlice, BehaviorID: bhAccuracy,
				CategoryID: catBenign, TopicID: tpMedicine, StatusID: stActive, OrganizationID: orgID,
				CreatedAt: day("2026-01-10")},
			{ID: test2, TestTypeID: tlTestType, Priority: intPtr(2), UserID: userAlice, BehaviorID: bhAccuracy,
				CategoryID: catHarmful, StatusID: stActive, OrganizationID: orgID, CreatedAt: day("2026-01-20")},
			{ID: test3, Priority: intPtr(3), UserID: userBob, BehaviorID: bhSafety, StatusID: stDraft,
				OrganizationID: orgID, CreatedAt: day("2026-03-05")},
			{ID: test4, UserID: userBob, BehaviorID: bhSafety, StatusID: stCompleted,
				OrganizationID: orgID, CreatedAt: day("2025-08-01")},
			{ID: testOther, BehaviorID: bhAccuracy, StatusID: stActive, OrganizationID: otherOrgID,
				CreatedAt: day("2026-01-11")},
		},
		TestTestSets: []storage.TestTestSet{
			{TestID: test1, TestSetID: tsCore, OrganizationID: orgID},
			{TestID: test2, TestSetID: tsCore, OrganizationID: orgID},
			{TestID: test3, TestSetID: tsEdge, OrganizationID: orgID},
		},
		TestConfigurations: []storage.TestConfiguration{
			{ID: tcCore, TestSetID: tsCore, UserID: userAlice, OrganizationID: orgID},
			{ID: tcEdge, TestSetID: tsEdge, UserID: userBob, OrganizationID: orgID},
		},
		TestRuns: []storage.TestRun{
			{ID: run1, Name: "Run 1", TestConfigurationID: tcCore, StatusID: stCompleted, UserID: userAlice,
				OrganizationID: orgID, CreatedAt: day("2026-01-15")},
			{ID: run2, Name: "Run 2", TestConfigurationID: tcCore, StatusID: stCompleted, UserID: userAlice,
				OrganizationID: orgID, CreatedAt: day("2026-02-10")},
			{ID: run3, Name: "Run 3", TestConfigurationID: tcEdge, StatusID: stFailed, UserID: userBob,
				OrganizationID: orgID, CreatedAt: day("2026-03-01")},
		},
		TestResults: []storage.TestResult{
			{ID: "00000000-0000-4000-8000-0000000000b1", TestConfigurationID: tcCore, TestRunID: run1, TestID: test1,
				TestMetrics: pass("accuracy", "toxicity"), OrganizationID: orgID, CreatedAt: day("2026-01-15")},
			{ID: "00000000-0000-4000-8000-0000000000b2", TestConfigurationID: tcCore, TestRunID: run1, TestID: test2,
				TestMetrics: fail("accuracy", "toxicity"), OrganizationID: orgID, CreatedAt: day("2026-01-15")},
			{ID: "00000000-0000-4000-8000-0000000000b3", TestConfigurationID: tcCore, TestRunID: run2, TestID: test1,
				TestMetrics: pass("accuracy"), OrganizationID: orgID, CreatedAt: day("2026-02-10")},
			{ID: "00000000-0000-4000-8000-0000000000b4", TestConfigurationID: tcCore, TestRunID: run2, TestID: test2,
				TestMetrics: json.RawMessage(`{broken`), OrganizationID: orgID, CreatedAt: day("2026-02-10")},
			{ID: "00000000-0000-4000-8000-0000000000b5", TestConfigurationID: tcEdge, TestRunID: run3, TestID: test3,
				TestMetrics:    json.RawMessage(`{"metrics":{"safety":{"is_successful":true,"score":0.9}}}`),
				OrganizationID: orgID, CreatedAt: day("2026-03-01")},
			{ID: "00000000-0000-4000-8000-0000000000b6", TestConfigurationID: tcEdge, TestRunID: run3, TestID: test3,
				OrganizationID: orgID, CreatedAt: day("2026-03-01")},
		},
		Tags: []storage.Tag{
			{ID: tagSmoke, Name: "smoke", OrganizationID: orgID},
			{ID: tagNightly, Name: "nightly", OrganizationID: orgID},
		},
		TaggedItems: []storage.TaggedItem{
			{ID: "00000000-0000-4000-8000-0000000000c1", TagID: tagSmoke, EntityID: test1, EntityType: "Test", OrganizationID: orgID},
			{ID: "00000000-0000-4000-8000-0000000000c2", TagID: tagNightly, EntityID: run2, EntityType: "TestRun", OrganizationID: orgID},
		},
	}
}

func openStore(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(config.StorageConfig{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "stats.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seededService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	db := openStore(t)
	_, err := db.Seed(context.Background(), fixture())
	require.NoError(t, err)

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(db, opts...)
}
