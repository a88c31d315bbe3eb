package sqlite_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/engadi/gateway/adapters/sqlite"
	"github.com/engadi/gateway/domain/health"
	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/domain/ratelimit"
	"github.com/engadi/gateway/domain/route"
	"github.com/engadi/gateway/ports"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()

	f, err := os.CreateTemp("", "gateway-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := sqlite.Open(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		os.Remove(path)
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
	})
	return db
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRoute(id, pattern string) route.Route {
	return route.Route{
		ID:            id,
		Pattern:       pattern,
		Methods:       []string{"GET", "POST"},
		TargetService: "users",
		TargetBaseURL: "http://users:9000",
		AuthRequired:  true,
		Priority:      5,
		TimeoutMs:     5000,
		RetryCount:    2,
		Active:        true,
		CreatedAt:     testTime,
		UpdatedAt:     testTime,
	}
}

func TestSchemaCheck(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CheckSchema(); err != nil {
		t.Fatalf("CheckSchema after migrate: %v", err)
	}
}

func TestSchemaCheck_Unmigrated(t *testing.T) {
	f, err := os.CreateTemp("", "gateway-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	db, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := db.CheckSchema(); !errors.Is(err, sqlite.ErrSchemaMismatch) {
		t.Fatalf("CheckSchema = %v, want ErrSchemaMismatch", err)
	}
}

func TestRouteStore_CRUD(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewRouteStore(db)
	ctx := context.Background()

	r := testRoute("rt-1", "/api/v1/users/*")
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "rt-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Pattern != r.Pattern || got.TargetService != r.TargetService {
		t.Errorf("Get = %+v, want %+v", got, r)
	}
	if len(got.Methods) != 2 || got.Methods[0] != "GET" {
		t.Errorf("Methods = %v", got.Methods)
	}
	if !got.UpdatedAt.Equal(r.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, r.UpdatedAt)
	}

	got.Priority = 9
	got.UpdatedAt = testTime.Add(time.Hour)
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got2, err := store.Get(ctx, "rt-1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got2.Priority != 9 {
		t.Errorf("Priority = %d after update, want 9", got2.Priority)
	}

	if err := store.Delete(ctx, "rt-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "rt-1"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "rt-1"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestRouteStore_ActivePatternUnique(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewRouteStore(db)
	ctx := context.Background()

	if err := store.Create(ctx, testRoute("rt-1", "/api/v1/users/*")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := testRoute("rt-2", "/api/v1/users/*")
	if err := store.Create(ctx, dup); !errors.Is(err, ports.ErrDuplicate) {
		t.Fatalf("Create duplicate active pattern = %v, want ErrDuplicate", err)
	}

	// An inactive row may share the pattern.
	dup.Active = false
	if err := store.Create(ctx, dup); err != nil {
		t.Fatalf("Create inactive duplicate: %v", err)
	}
}

func TestRouteStore_ListActiveOnly(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewRouteStore(db)
	ctx := context.Background()

	active := testRoute("rt-1", "/api/v1/users/*")
	inactive := testRoute("rt-2", "/api/v1/orders/*")
	inactive.Active = false
	if err := store.Create(ctx, active); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, inactive); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all, err := store.List(ctx, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List(all) = %d rows, want 2", len(all))
	}

	act, err := store.List(ctx, true)
	if err != nil {
		t.Fatalf("List(active): %v", err)
	}
	if len(act) != 1 || act[0].ID != "rt-1" {
		t.Errorf("List(active) = %+v, want rt-1 only", act)
	}
}

func TestRuleStore_CRUD(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewRuleStore(db)
	ctx := context.Background()

	r := ratelimit.Rule{
		ID: "rl-1", Name: "per-user-default", Scope: ratelimit.ScopePerUser,
		Pattern: "/api/*", MaxRequests: 100, WindowSeconds: 60, Active: true,
		CreatedAt: testTime, UpdatedAt: testTime,
	}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "rl-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Scope != ratelimit.ScopePerUser || got.MaxRequests != 100 || got.Pattern != "/api/*" {
		t.Errorf("Get = %+v", got)
	}

	dup := r
	dup.ID = "rl-2"
	if err := store.Create(ctx, dup); !errors.Is(err, ports.ErrDuplicate) {
		t.Fatalf("Create duplicate name = %v, want ErrDuplicate", err)
	}

	got.Active = false
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	act, err := store.List(ctx, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(act) != 0 {
		t.Errorf("List(active) = %d rows after deactivation, want 0", len(act))
	}

	if err := store.Delete(ctx, "rl-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "rl-1"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestRuleStore_NullPattern(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewRuleStore(db)
	ctx := context.Background()

	r := ratelimit.Rule{
		ID: "rl-1", Name: "global", Scope: ratelimit.ScopeGlobal,
		MaxRequests: 1000, WindowSeconds: 60, Active: true,
		CreatedAt: testTime, UpdatedAt: testTime,
	}
	if err := store.Create(ctx, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.Get(ctx, "rl-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Pattern != "" {
		t.Errorf("Pattern = %q, want empty", got.Pattern)
	}
}

func TestHealthStore_UpsertAndList(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewHealthStore(db)
	ctx := context.Background()

	rec := health.NewRecord("users", "http://users:9000", testTime)
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.Get(ctx, "users")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != health.StatusUnknown || !got.LastCheckedAt.IsZero() {
		t.Errorf("Get = %+v, want unknown with no probe timestamp", got)
	}

	rec = health.Observe(rec, 200, 42*time.Millisecond, true, testTime.Add(time.Minute))
	rec.CircuitOpen = true
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	got, err = store.Get(ctx, "users")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != health.StatusHealthy || got.SuccessCount != 1 || !got.CircuitOpen {
		t.Errorf("Get after observe = %+v", got)
	}
	if got.AvgResponseTimeMs != 42 {
		t.Errorf("AvgResponseTimeMs = %v, want 42", got.AvgResponseTimeMs)
	}

	if _, err := store.Get(ctx, "absent"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get(absent) = %v, want ErrNotFound", err)
	}

	recs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].Service != "users" {
		t.Errorf("List = %+v", recs)
	}
}

func logRec(reqID, method, path, service string, status int, ms float64, at time.Time) proxy.LogRecord {
	return proxy.LogRecord{
		RequestID:      reqID,
		Method:         method,
		Path:           path,
		TargetService:  service,
		ClientIP:       "10.0.0.7",
		StatusCode:     status,
		ResponseTimeMs: ms,
		CreatedAt:      at,
	}
}

func TestLogStore_InsertAndQuery(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewLogStore(db)
	ctx := context.Background()

	recs := []proxy.LogRecord{
		logRec("req-1", "GET", "/api/v1/users", "users", 200, 12, testTime),
		logRec("req-2", "POST", "/api/v1/users", "users", 201, 30, testTime.Add(time.Second)),
		logRec("req-3", "GET", "/api/v1/orders", "orders", 502, 5, testTime.Add(2*time.Second)),
	}
	recs[2].ErrorMessage = "upstream orders is unavailable"
	if err := store.Insert(ctx, recs); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := store.Query(ctx, ports.LogQuery{})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 3 || got[0].RequestID != "req-3" {
			t.Fatalf("Query = %d rows, first %q", len(got), got[0].RequestID)
		}
	})

	t.Run("filter by service and status", func(t *testing.T) {
		got, err := store.Query(ctx, ports.LogQuery{Service: "orders", StatusCode: 502})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 1 || got[0].RequestID != "req-3" {
			t.Fatalf("Query = %+v", got)
		}
		if got[0].ErrorMessage == "" {
			t.Error("error message dropped on round trip")
		}
	})

	t.Run("filter by path substring and method", func(t *testing.T) {
		got, err := store.Query(ctx, ports.LogQuery{PathContains: "users", Method: "POST"})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 1 || got[0].RequestID != "req-2" {
			t.Fatalf("Query = %+v", got)
		}
	})

	t.Run("time range", func(t *testing.T) {
		got, err := store.Query(ctx, ports.LogQuery{Start: testTime.Add(time.Second)})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Query = %d rows, want 2", len(got))
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		got, err := store.Query(ctx, ports.LogQuery{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 1 || got[0].RequestID != "req-2" {
			t.Fatalf("Query = %+v", got)
		}
	})
}

func TestLogStore_Stats(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewLogStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	err := store.Insert(ctx, []proxy.LogRecord{
		logRec("req-1", "GET", "/a", "users", 200, 10, now),
		logRec("req-2", "GET", "/a", "users", 200, 20, now),
		logRec("req-3", "GET", "/b", "users", 404, 30, now),
		logRec("req-4", "GET", "/c", "orders", 500, 40, now),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	st, err := store.Stats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 4 || st.Errors != 1 {
		t.Errorf("Total/Errors = %d/%d, want 4/1", st.Total, st.Errors)
	}
	if st.ErrorRate != 0.25 {
		t.Errorf("ErrorRate = %v, want 0.25", st.ErrorRate)
	}
	if st.AvgResponseTimeMs != 25 {
		t.Errorf("AvgResponseTimeMs = %v, want 25", st.AvgResponseTimeMs)
	}
	if st.ByStatusClass["2xx"] != 2 || st.ByStatusClass["4xx"] != 1 || st.ByStatusClass["5xx"] != 1 {
		t.Errorf("ByStatusClass = %v", st.ByStatusClass)
	}

	top, err := store.TopEndpoints(ctx, now.Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("TopEndpoints: %v", err)
	}
	if len(top) != 2 || top[0].Path != "/a" || top[0].Count != 2 {
		t.Errorf("TopEndpoints = %+v", top)
	}

	svc, err := store.ServiceStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ServiceStats: %v", err)
	}
	if len(svc) != 2 || svc[0].Service != "users" || svc[0].Count != 3 {
		t.Errorf("ServiceStats = %+v", svc)
	}
}

func TestLogStore_Percentiles(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewLogStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	var recs []proxy.LogRecord
	for i := 1; i <= 100; i++ {
		recs = append(recs, logRec("req", "GET", "/a", "users", 200, float64(i), now))
	}
	if err := store.Insert(ctx, recs); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	p, err := store.Percentiles(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Percentiles: %v", err)
	}
	if p.P50 != 50 || p.P90 != 90 || p.P95 != 95 || p.P99 != 99 {
		t.Errorf("Percentiles = %+v", p)
	}
}

func TestLogStore_PurgeBefore(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewLogStore(db)
	ctx := context.Background()

	err := store.Insert(ctx, []proxy.LogRecord{
		logRec("req-old", "GET", "/a", "users", 200, 10, testTime.Add(-48*time.Hour)),
		logRec("req-new", "GET", "/a", "users", 200, 10, testTime),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := store.PurgeBefore(ctx, testTime.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
	got, err := store.Query(ctx, ports.LogQuery{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "req-new" {
		t.Errorf("remaining = %+v", got)
	}
}
