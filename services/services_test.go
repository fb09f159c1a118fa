package services

import (
	"context"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"goodsale/config"
	"goodsale/crypto"
)

// Mock Database implementation for testing
type mockDatabase struct {
	queryRowFunc func(ctx context.Context, sql string, args ...interface{}) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type mockRow struct {
	scanFunc func(dest ...interface{}) error
}

func (m mockRow) Scan(dest ...interface{}) error {
	if m.scanFunc != nil {
		return m.scanFunc(dest...)
	}
	return nil
}

type mockRows struct {
	scans []func(dest ...interface{}) error
	pos   int
}

func (m *mockRows) Next() bool {
	return m.pos < len(m.scans)
}

func (m *mockRows) Scan(dest ...interface{}) error {
	fn := m.scans[m.pos]
	m.pos++
	return fn(dest...)
}

func (m *mockRows) Close()                                       {}
func (m *mockRows) Err() error                                   { return nil }
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) Values() ([]interface{}, error)               { return nil, nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

func (m *mockDatabase) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return mockRow{}
}

func (m *mockDatabase) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDatabase) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockDatabase) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, nil
}

func newTestCrypto(t *testing.T) *crypto.CryptoService {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return crypto.NewCryptoService(key)
}

// Test Cleanup Service
func TestRunCleanupTasks(t *testing.T) {
	t.Run("successful pass", func(t *testing.T) {
		resetAttemptsExecuted := false
		subscriptionsExpired := false
		adsDeactivated := false
		storesQueried := false

		mockDB := &mockDatabase{
			execFunc: func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
				switch {
				case strings.Contains(sql, "UPDATE users"):
					resetAttemptsExecuted = true
				case strings.Contains(sql, "UPDATE subscriptions"):
					subscriptionsExpired = true
				case strings.Contains(sql, "UPDATE advertisements"):
					adsDeactivated = true
				}
				return pgconn.CommandTag{}, nil
			},
			queryFunc: func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
				if strings.Contains(sql, "FROM stores") {
					storesQueried = true
				}
				return &mockRows{}, nil
			},
		}

		RunCleanupTasks(context.Background(), mockDB, nil)

		if !resetAttemptsExecuted {
			t.Error("Expected locked account reset to be executed")
		}
		if !subscriptionsExpired {
			t.Error("Expected subscription expiry to be executed")
		}
		if !adsDeactivated {
			t.Error("Expected advertisement deactivation to be executed")
		}
		if !storesQueried {
			t.Error("Expected auto-close store query to be executed")
		}
	})

	t.Run("exec errors do not abort the pass", func(t *testing.T) {
		execCount := 0
		mockDB := &mockDatabase{
			execFunc: func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
				execCount++
				return pgconn.CommandTag{}, context.DeadlineExceeded
			},
		}

		RunCleanupTasks(context.Background(), mockDB, nil)

		if execCount < 3 {
			t.Errorf("Expected all maintenance statements to run, got %d", execCount)
		}
	})
}

func TestAutoCloseStores(t *testing.T) {
	storeID := uuid.New()
	summaryUpserted := false
	storeClosed := false

	mockDB := &mockDatabase{
		queryFunc: func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
			return &mockRows{scans: []func(dest ...interface{}) error{
				func(dest ...interface{}) error {
					if id, ok := dest[0].(*uuid.UUID); ok {
						*id = storeID
					}
					if name, ok := dest[1].(*string); ok {
						*name = "Night Market Branch"
					}
					return nil
				},
			}}, nil
		},
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			return mockRow{}
		},
		execFunc: func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
			switch {
			case strings.Contains(sql, "store_daily_summaries"):
				summaryUpserted = true
			case strings.Contains(sql, "UPDATE stores"):
				storeClosed = true
				if len(args) == 0 || args[0] != storeID {
					t.Errorf("Expected store %s to be closed, got %v", storeID, args)
				}
			}
			return pgconn.CommandTag{}, nil
		},
	}

	AutoCloseStores(context.Background(), mockDB, nil)

	if !summaryUpserted {
		t.Error("Expected daily summary upsert")
	}
	if !storeClosed {
		t.Error("Expected store to be marked closed")
	}
}

// Test Seed Service
func TestSeedDefaultOwnerDisabled(t *testing.T) {
	called := false
	mockDB := &mockDatabase{
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			called = true
			return mockRow{}
		},
	}

	cfg := &config.Config{DefaultAdminEnabled: false}
	if err := SeedDefaultOwner(context.Background(), mockDB, newTestCrypto(t), cfg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if called {
		t.Error("Disabled seeding must not touch the database")
	}
}

func TestSeedDefaultOwnerAlreadyExists(t *testing.T) {
	inserted := false
	mockDB := &mockDatabase{
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			if strings.Contains(sql, "INSERT INTO users") {
				inserted = true
			}
			// SELECT scan succeeds, meaning the account exists
			return mockRow{scanFunc: func(dest ...interface{}) error {
				if id, ok := dest[0].(*uuid.UUID); ok {
					*id = uuid.New()
				}
				return nil
			}}
		},
	}

	cfg := &config.Config{
		DefaultAdminEnabled:  true,
		DefaultAdminEmail:    "owner@example.com",
		DefaultAdminPassword: "ChangeMe123!",
	}
	if err := SeedDefaultOwner(context.Background(), mockDB, newTestCrypto(t), cfg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if inserted {
		t.Error("Existing account must not be reinserted")
	}
}

func TestSeedDefaultOwnerMissingCredentials(t *testing.T) {
	cfg := &config.Config{DefaultAdminEnabled: true}
	if err := SeedDefaultOwner(context.Background(), &mockDatabase{}, newTestCrypto(t), cfg); err == nil {
		t.Error("Expected error when credentials are missing")
	}
}

func TestSeedDefaultPackages(t *testing.T) {
	insertedPackages := 0
	insertedFeatures := 0

	mockDB := &mockDatabase{
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			if strings.Contains(sql, "INSERT INTO packages") {
				insertedPackages++
				return mockRow{scanFunc: func(dest ...interface{}) error {
					if id, ok := dest[0].(*uuid.UUID); ok {
						*id = uuid.New()
					}
					return nil
				}}
			}
			// Catalog lookup misses
			return mockRow{scanFunc: func(dest ...interface{}) error {
				return pgx.ErrNoRows
			}}
		},
		execFunc: func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
			if strings.Contains(sql, "package_features") {
				insertedFeatures++
			}
			return pgconn.CommandTag{}, nil
		},
	}

	if err := SeedDefaultPackages(context.Background(), mockDB); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if insertedPackages != len(defaultPackages) {
		t.Errorf("Expected %d packages inserted, got %d", len(defaultPackages), insertedPackages)
	}
	if insertedFeatures == 0 {
		t.Error("Expected package features to be inserted")
	}
}

// Test LINE notifier
func TestNewLINENotifierRequiresConfig(t *testing.T) {
	if NewLINENotifier("", "recipient") != nil {
		t.Error("Expected nil notifier without channel token")
	}
	if NewLINENotifier("token", "") != nil {
		t.Error("Expected nil notifier without recipient")
	}
	if NewLINENotifier("token", "recipient") == nil {
		t.Error("Expected notifier with full config")
	}
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *LINENotifier
	if err := n.PushText(context.Background(), "hello"); err != nil {
		t.Errorf("Nil notifier must be a no-op, got %v", err)
	}
	n.NotifyDailySummary(context.Background(), "Store", 1, 100)
}
