package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"goodsale/config"
	"goodsale/crypto"
	ws "goodsale/websocket"
)

// =====================
// Mock Implementations
// =====================

// MockDB represents a mock database connection for unit tests
type MockDB struct {
	mock.Mock
}

func (m *MockDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Row)
}

func (m *MockDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	rowsAffected := mockArgs.Get(0).(int64)
	tag := pgconn.NewCommandTag("UPDATE " + fmt.Sprintf("%d", rowsAffected))
	return tag, mockArgs.Error(1)
}

func (m *MockDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Rows), mockArgs.Error(1)
}

func (m *MockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	mockArgs := m.Called(ctx)
	return mockArgs.Get(0).(pgx.Tx), mockArgs.Error(1)
}

type MockRow struct {
	mock.Mock
}

func (m *MockRow) Scan(dest ...interface{}) error {
	mockArgs := m.Called(dest...)
	return mockArgs.Error(0)
}

type MockRows struct {
	mock.Mock
	closed bool
}

func (m *MockRows) Next() bool {
	mockArgs := m.Called()
	return mockArgs.Bool(0)
}

func (m *MockRows) Scan(dest ...interface{}) error {
	mockArgs := m.Called(dest...)
	return mockArgs.Error(0)
}

func (m *MockRows) Close() {
	m.closed = true
}

func (m *MockRows) Err() error {
	return nil
}

func (m *MockRows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag("")
}

func (m *MockRows) FieldDescriptions() []pgconn.FieldDescription {
	return nil
}

func (m *MockRows) Values() ([]interface{}, error) {
	return nil, nil
}

func (m *MockRows) RawValues() [][]byte {
	return nil
}

func (m *MockRows) Conn() *pgx.Conn {
	return nil
}

type MockTx struct {
	mock.Mock
}

func (m *MockTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Row)
}

func (m *MockTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	return mockArgs.Get(0).(pgx.Rows), mockArgs.Error(1)
}

func (m *MockTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	callArgs := append([]interface{}{ctx, sql}, args...)
	mockArgs := m.Called(callArgs...)
	rowsAffected := mockArgs.Get(0).(int64)
	tag := pgconn.NewCommandTag("UPDATE " + fmt.Sprintf("%d", rowsAffected))
	return tag, mockArgs.Error(1)
}

func (m *MockTx) Rollback(ctx context.Context) error {
	mockArgs := m.Called(ctx)
	return mockArgs.Error(0)
}

func (m *MockTx) Commit(ctx context.Context) error {
	mockArgs := m.Called(ctx)
	return mockArgs.Error(0)
}

func (m *MockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	mockArgs := m.Called(ctx)
	return mockArgs.Get(0).(pgx.Tx), mockArgs.Error(1)
}

func (m *MockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (m *MockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (m *MockTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (m *MockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (m *MockTx) Deallocate(ctx context.Context, name string) error {
	return nil
}

func (m *MockTx) Conn() *pgx.Conn {
	return nil
}

// newTestRedis spins up an in-memory Redis for handlers that cache or hold state there
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// =====================
// AuthHandler Tests
// =====================

type AuthHandlerTestSuite struct {
	suite.Suite
	handler   *AuthHandler
	mockDB    *MockDB
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	cryptoSvc *crypto.CryptoService
	cfg       *config.Config
	userID    uuid.UUID
}

func (suite *AuthHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}

	mr, err := miniredis.Run()
	if err != nil {
		suite.T().Fatalf("Failed to start miniredis: %v", err)
	}
	suite.mr = mr
	suite.rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		suite.T().Fatalf("Failed to generate random data: %v", err)
	}
	suite.cryptoSvc = crypto.NewCryptoService(key)

	jwtSecret := make([]byte, 64)
	if _, err := rand.Read(jwtSecret); err != nil {
		suite.T().Fatalf("Failed to generate random data: %v", err)
	}

	suite.cfg = &config.Config{
		JWTSecret:        jwtSecret,
		EncryptionKey:    key,
		MaxLoginAttempts: 5,
		SessionDuration:  24 * time.Hour,
	}

	suite.handler = NewAuthHandler(suite.mockDB, suite.rdb, suite.cryptoSvc, suite.cfg)
	suite.userID = uuid.New()
}

func (suite *AuthHandlerTestSuite) TearDownTest() {
	suite.rdb.Close()
	suite.mr.Close()
}

func (suite *AuthHandlerTestSuite) TestNewAuthHandler() {
	handler := NewAuthHandler(suite.mockDB, suite.rdb, suite.cryptoSvc, suite.cfg)
	suite.NotNil(handler)
	suite.Equal(suite.mockDB, handler.db)
	suite.Equal(suite.cryptoSvc, handler.crypto)
	suite.Equal(suite.cfg, handler.config)
}

func (suite *AuthHandlerTestSuite) TestRegisterDisabled() {
	config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	body, _ := json.Marshal(map[string]string{
		"username": "somchai",
		"email":    "owner@example.com",
		"password": "strongpassword123",
	})
	req := httptest.NewRequest("POST", "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(403, resp.StatusCode)
}

func (suite *AuthHandlerTestSuite) TestRegisterShortPassword() {
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	body, _ := json.Marshal(map[string]string{
		"username": "somchai",
		"email":    "owner@example.com",
		"password": "short",
	})
	req := httptest.NewRequest("POST", "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)
}

func (suite *AuthHandlerTestSuite) TestRegisterInvalidPOSType() {
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	body, _ := json.Marshal(map[string]string{
		"username": "somchai",
		"email":    "owner@example.com",
		"password": "strongpassword123",
		"pos_type": "pharmacy",
	})
	req := httptest.NewRequest("POST", "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(400, resp.StatusCode)
}

func (suite *AuthHandlerTestSuite) TestRegisterSuccess() {
	config.RegEnabled.Store(1)
	defer config.RegEnabled.Store(0)

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "INSERT INTO users")
	}), mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything).Run(func(args mock.Arguments) {
		if uid, ok := args[0].(*uuid.UUID); ok {
			*uid = suite.userID
		}
	}).Return(nil)

	suite.mockDB.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "audit_log")
	}), mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	app := fiber.New()
	app.Post("/register", suite.handler.Register)

	body, _ := json.Marshal(map[string]string{
		"username": "somchai",
		"email":    "owner@example.com",
		"password": "strongpassword123",
		"pos_type": "coffee",
	})
	req := httptest.NewRequest("POST", "/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(201, resp.StatusCode)

	var result map[string]interface{}
	suite.NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.NotEmpty(result["token"])
	suite.Equal("somchai", result["username"])
	suite.Equal("coffee", result["pos_type"])
	suite.Equal("owner", result["role"])

	// Session must exist in Redis for the issued token
	keys := suite.mr.Keys()
	suite.Len(keys, 1)
	suite.Contains(keys[0], "session:")
}

func (suite *AuthHandlerTestSuite) TestLoginUnknownEmail() {
	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "email_hash")
	}), mock.Anything).Return(mockRow)

	mockRow.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(pgx.ErrNoRows)

	app := fiber.New()
	app.Post("/login", suite.handler.Login)

	body, _ := json.Marshal(map[string]string{
		"email":    "nobody@example.com",
		"password": "whatever123",
	})
	req := httptest.NewRequest("POST", "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(401, resp.StatusCode)
}

func TestAuthHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuthHandlerTestSuite))
}

// =====================
// PaymentsHandler Tests
// =====================

type PaymentsHandlerTestSuite struct {
	suite.Suite
	handler *PaymentsHandler
	mockDB  *MockDB
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	cfg     *config.Config
	storeID uuid.UUID
	orderID uuid.UUID
}

func (suite *PaymentsHandlerTestSuite) SetupTest() {
	suite.mockDB = &MockDB{}

	mr, err := miniredis.Run()
	if err != nil {
		suite.T().Fatalf("Failed to start miniredis: %v", err)
	}
	suite.mr = mr
	suite.rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})

	suite.cfg = &config.Config{
		PromptPayID:       "0812345678",
		MerchantName:      "GoodSale",
		PaymentExpiry:     15 * time.Minute,
		LINEChannelSecret: "test-channel-secret",
	}

	suite.handler = NewPaymentsHandler(suite.mockDB, suite.rdb, suite.cfg, nil, nil)
	suite.storeID = uuid.New()
	suite.orderID = uuid.New()
}

func (suite *PaymentsHandlerTestSuite) TearDownTest() {
	suite.rdb.Close()
	suite.mr.Close()
}

// newStoreApp injects the store id the way the store access middleware does
func (suite *PaymentsHandlerTestSuite) newStoreApp() *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("store_id", suite.storeID)
		return c.Next()
	})
	return app
}

func (suite *PaymentsHandlerTestSuite) seedPending() pendingPayment {
	pending := pendingPayment{
		OrderID:   suite.orderID.String(),
		StoreID:   suite.storeID.String(),
		Amount:    185.50,
		Reference: "ORD-20260825-0001",
		Payload:   "00020101021229370016A000000677010111011300668123456785802TH",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}
	data, err := json.Marshal(pending)
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.rdb.Set(context.Background(), paymentKey(suite.orderID), data, time.Minute).Err())
	return pending
}

func (suite *PaymentsHandlerTestSuite) TestGetPaymentStatusPending() {
	suite.seedPending()

	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "payment_status")
	}), mock.Anything, mock.Anything).Return(mockRow)
	mockRow.On("Scan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if status, ok := args[0].(*string); ok {
			*status = "pending"
		}
	}).Return(nil)

	app := suite.newStoreApp()
	app.Get("/payments/:order_id", suite.handler.GetPaymentStatus)

	req := httptest.NewRequest("GET", "/payments/"+suite.orderID.String(), nil)
	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(200, resp.StatusCode)

	var result map[string]interface{}
	suite.NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("pending", result["status"])
	suite.Equal("ORD-20260825-0001", result["reference"])
}

func (suite *PaymentsHandlerTestSuite) TestGetPaymentStatusExpired() {
	mockRow := &MockRow{}
	suite.mockDB.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return contains(sql, "payment_status")
	}), mock.Anything, mock.Anything).Return(mockRow)
	mockRow.On("Scan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if status, ok := args[0].(*string); ok {
			*status = "pending"
		}
	}).Return(nil)

	app := suite.newStoreApp()
	app.Get("/payments/:order_id", suite.handler.GetPaymentStatus)

	req := httptest.NewRequest("GET", "/payments/"+suite.orderID.String(), nil)
	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(200, resp.StatusCode)

	var result map[string]interface{}
	suite.NoError(json.NewDecoder(resp.Body).Decode(&result))
	suite.Equal("expired", result["status"])
}

func (suite *PaymentsHandlerTestSuite) TestCancelPayment() {
	suite.seedPending()

	app := suite.newStoreApp()
	app.Post("/payments/:order_id/cancel", suite.handler.CancelPayment)

	req := httptest.NewRequest("POST", "/payments/"+suite.orderID.String()+"/cancel", nil)
	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(200, resp.StatusCode)

	exists, err := suite.rdb.Exists(context.Background(), paymentKey(suite.orderID)).Result()
	suite.NoError(err)
	suite.Equal(int64(0), exists)
}

func (suite *PaymentsHandlerTestSuite) TestCancelPaymentNotFound() {
	app := suite.newStoreApp()
	app.Post("/payments/:order_id/cancel", suite.handler.CancelPayment)

	req := httptest.NewRequest("POST", "/payments/"+uuid.New().String()+"/cancel", nil)
	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(404, resp.StatusCode)
}

func (suite *PaymentsHandlerTestSuite) TestLINEWebhookMissingSignature() {
	app := fiber.New()
	app.Post("/webhooks/line", suite.handler.LINEWebhook)

	req := httptest.NewRequest("POST", "/webhooks/line", bytes.NewReader([]byte(`{"events":[]}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(401, resp.StatusCode)
}

func (suite *PaymentsHandlerTestSuite) TestLINEWebhookBadSignature() {
	app := fiber.New()
	app.Post("/webhooks/line", suite.handler.LINEWebhook)

	req := httptest.NewRequest("POST", "/webhooks/line", bytes.NewReader([]byte(`{"events":[]}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Line-Signature", "bm90LWEtcmVhbC1zaWduYXR1cmU=")

	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(401, resp.StatusCode)
}

func (suite *PaymentsHandlerTestSuite) TestLINEWebhookValidSignature() {
	body := []byte(`{"events":[]}`)
	mac := hmac.New(sha256.New, []byte(suite.cfg.LINEChannelSecret))
	mac.Write(body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	app := fiber.New()
	app.Post("/webhooks/line", suite.handler.LINEWebhook)

	req := httptest.NewRequest("POST", "/webhooks/line", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Line-Signature", signature)

	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(200, resp.StatusCode)
}

func (suite *PaymentsHandlerTestSuite) TestLINEWebhookNotConfigured() {
	suite.handler.config = &config.Config{}

	app := fiber.New()
	app.Post("/webhooks/line", suite.handler.LINEWebhook)

	req := httptest.NewRequest("POST", "/webhooks/line", bytes.NewReader([]byte(`{"events":[]}`)))
	resp, err := app.Test(req)
	suite.NoError(err)
	suite.Equal(503, resp.StatusCode)
}

func TestPaymentsHandlerSuite(t *testing.T) {
	suite.Run(t, new(PaymentsHandlerTestSuite))
}

// =====================
// MenuHandler Tests
// =====================

func TestGetMenuCacheHit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer rdb.Close()

	storeID := uuid.New()
	cached := `{"categories":[],"items":[],"sweetness_levels":[]}`
	require.NoError(t, mr.Set(menuCacheKey(storeID), cached))

	// No expectations on the mock: a cache hit must not touch Postgres
	mockDB := &MockDB{}
	handler := NewMenuHandler(mockDB, rdb)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("store_id", storeID)
		return c.Next()
	})
	app.Get("/menu", handler.GetMenu)

	resp, err := app.Test(httptest.NewRequest("GET", "/menu", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Contains(t, result, "categories")
	mockDB.AssertExpectations(t)
}

func TestMenuCacheKey(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	assert.Equal(t, "menu:11111111-2222-3333-4444-555555555555", menuCacheKey(id))
}

// =====================
// Order Logic Tests
// =====================

func TestTransitionAllowed(t *testing.T) {
	tests := []struct {
		from    string
		to      string
		allowed bool
	}{
		{"new", "preparing", true},
		{"new", "cancelled", true},
		{"new", "ready", false},
		{"new", "completed", false},
		{"preparing", "ready", true},
		{"preparing", "cancelled", true},
		{"preparing", "new", false},
		{"ready", "completed", true},
		{"ready", "cancelled", true},
		{"ready", "preparing", false},
		{"completed", "cancelled", false},
		{"cancelled", "new", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"_to_"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.allowed, transitionAllowed(tt.from, tt.to))
		})
	}
}

// =====================
// Loyalty Logic Tests
// =====================

func TestTierForPoints(t *testing.T) {
	tests := []struct {
		lifetime int
		tier     string
	}{
		{0, "Bronze"},
		{999, "Bronze"},
		{1000, "Silver"},
		{4999, "Silver"},
		{5000, "Gold"},
		{9999, "Gold"},
		{10000, "Platinum"},
		{50000, "Platinum"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.tier, TierForPoints(tt.lifetime), "lifetime=%d", tt.lifetime)
	}
}

// =====================
// Helper Tests
// =====================

func TestLockoutMessage(t *testing.T) {
	msg := lockoutMessage(time.Now().Add(5*time.Minute + 30*time.Second))
	assert.Contains(t, msg, "minutes")
	assert.Contains(t, msg, "seconds")
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "0812345678", digitsOnly("081-234-5678"))
	assert.Equal(t, "0812345678", digitsOnly("081 234 5678"))
	assert.Equal(t, "0812345678", digitsOnly("0812345678"))
	assert.Equal(t, "", digitsOnly("abc"))
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	if got := nullIfEmpty("x"); assert.NotNil(t, got) {
		assert.Equal(t, "x", *got)
	}
}

func TestContainsReference(t *testing.T) {
	assert.True(t, containsReference("Received 185.50 THB ref ORD-20260825-0001 via PromptPay", "ORD-20260825-0001"))
	assert.False(t, containsReference("Received 185.50 THB", "ORD-20260825-0001"))
	assert.False(t, containsReference("anything", ""))
}

func TestParseAdDate(t *testing.T) {
	if d, ok := parseAdDate(nil); assert.True(t, ok) {
		assert.Nil(t, d)
	}

	iso := "2026-08-25T10:00:00Z"
	if d, ok := parseAdDate(&iso); assert.True(t, ok) && assert.NotNil(t, d) {
		assert.Equal(t, 2026, d.Year())
	}

	short := "2026-08-25"
	if d, ok := parseAdDate(&short); assert.True(t, ok) && assert.NotNil(t, d) {
		assert.Equal(t, time.August, d.Month())
	}

	bad := "25/08/2026"
	_, ok := parseAdDate(&bad)
	assert.False(t, ok)
}

func TestPaymentKey(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	assert.Equal(t, "payment:11111111-2222-3333-4444-555555555555", paymentKey(id))
}

// =====================
// Helper Functions
// =====================

func contains(s, substr string) bool {
	return len(s) > 0 && len(substr) > 0 && (s == substr || len(s) >= len(substr) && (s[:len(substr)] == substr || s[len(s)-len(substr):] == substr || containsSubstring(s, substr)))
}

func containsSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// TestInsertOrderWithNumberRetriesAfterCollision exercises the savepoint
// retry: a unique violation on the first attempt must roll back to the
// savepoint and insert again with the next number, not poison the
// surrounding transaction.
func TestInsertOrderWithNumberRetriesAfterCollision(t *testing.T) {
	ctx := context.Background()
	storeID := uuid.New()

	seqRow := func(seq int) *MockRow {
		row := new(MockRow)
		row.On("Scan", mock.Anything).Run(func(args mock.Arguments) {
			*(args.Get(0).(*int)) = seq
		}).Return(nil)
		return row
	}

	tx := new(MockTx)
	tx.On("QueryRow", ctx, mock.Anything, storeID, 0).Return(seqRow(7)).Once()
	tx.On("QueryRow", ctx, mock.Anything, storeID, 1).Return(seqRow(8)).Once()
	tx.On("Exec", ctx, "SAVEPOINT new_order").Return(int64(0), nil).Twice()
	tx.On("Exec", ctx, "ROLLBACK TO SAVEPOINT new_order").Return(int64(0), nil).Once()

	attempts := 0
	var numbers []string
	orderID, orderNumber, err := insertOrderWithNumber(ctx, tx, storeID, func(id uuid.UUID, number string) error {
		attempts++
		numbers = append(numbers, number)
		if attempts == 1 {
			return fmt.Errorf(`duplicate key value violates unique constraint "orders_store_order_number_key"`)
		}
		return nil
	})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, orderID)
	assert.Equal(t, 2, attempts)
	assert.NotEqual(t, numbers[0], numbers[1])
	assert.Equal(t, numbers[1], orderNumber)
	tx.AssertExpectations(t)
}

// TestInsertOrderWithNumberOtherErrorsSurface verifies non-collision insert
// failures abort immediately without a retry
func TestInsertOrderWithNumberOtherErrorsSurface(t *testing.T) {
	ctx := context.Background()
	storeID := uuid.New()

	row := new(MockRow)
	row.On("Scan", mock.Anything).Run(func(args mock.Arguments) {
		*(args.Get(0).(*int)) = 1
	}).Return(nil)

	tx := new(MockTx)
	tx.On("QueryRow", ctx, mock.Anything, storeID, 0).Return(row).Once()
	tx.On("Exec", ctx, "SAVEPOINT new_order").Return(int64(0), nil).Once()

	attempts := 0
	_, _, err := insertOrderWithNumber(ctx, tx, storeID, func(uuid.UUID, string) error {
		attempts++
		return fmt.Errorf("connection reset")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	tx.AssertExpectations(t)
}

// TestCompletedOrderPointsRequirePayment: completing an unpaid order must
// not credit loyalty points; a paid one reaches the points transaction.
func TestCompletedOrderPointsRequirePayment(t *testing.T) {
	ctx := context.Background()
	memberID := uuid.New()

	emptyRows := func() *MockRows {
		rows := new(MockRows)
		rows.On("Next").Return(false)
		return rows
	}

	t.Run("unpaid order earns nothing", func(t *testing.T) {
		mockDB := new(MockDB)
		mockDB.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(emptyRows(), nil)

		h := &OrdersHandler{db: mockDB}
		h.settleCompletedOrder(ctx, uuid.New(), uuid.New(), 250, &memberID, "pending")

		mockDB.AssertNotCalled(t, "Begin", mock.Anything)
	})

	t.Run("paid order reaches the points transaction", func(t *testing.T) {
		tx := new(MockTx)
		tx.On("Exec", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(int64(0), fmt.Errorf("boom"))
		tx.On("Rollback", mock.Anything).Return(nil)

		mockDB := new(MockDB)
		mockDB.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(emptyRows(), nil)
		mockDB.On("Begin", mock.Anything).Return(tx, nil)

		h := &OrdersHandler{db: mockDB}
		h.settleCompletedOrder(ctx, uuid.New(), uuid.New(), 250, &memberID, "paid")

		mockDB.AssertCalled(t, "Begin", mock.Anything)
	})
}

// recordingNotifier captures pushed texts for assertions
type recordingNotifier struct {
	texts []string
}

func (r *recordingNotifier) PushText(ctx context.Context, text string) error {
	r.texts = append(r.texts, text)
	return nil
}

// TestSettlePaymentPushesNotification verifies a settled payment is pushed
// to the configured messaging channel with the order number and amount
func TestSettlePaymentPushesNotification(t *testing.T) {
	tx := new(MockTx)
	tx.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	tx.On("Exec", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	tx.On("Commit", mock.Anything).Return(nil)
	tx.On("Rollback", mock.Anything).Return(nil)

	numberRow := new(MockRow)
	numberRow.On("Scan", mock.Anything).Run(func(args mock.Arguments) {
		*(args.Get(0).(*string)) = "ORD-20250825-0004"
	}).Return(nil)

	mockDB := new(MockDB)
	mockDB.On("Begin", mock.Anything).Return(tx, nil)
	mockDB.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(numberRow)

	notifier := &recordingNotifier{}
	h := &PaymentsHandler{
		db:       mockDB,
		config:   &config.Config{},
		hub:      ws.NewHub(),
		notifier: notifier,
	}

	err := h.settlePayment(context.Background(), uuid.New(), uuid.New(), "qr_code", 120, "REF")
	require.NoError(t, err)

	require.Len(t, notifier.texts, 1)
	assert.Contains(t, notifier.texts[0], "ORD-20250825-0004")
	assert.Contains(t, notifier.texts[0], "120.00")
	assert.Contains(t, notifier.texts[0], "qr_code")
}

// TestLoyaltyCatalogs serves the static rewards and tier endpoints and
// checks the tier thresholds agree with TierForPoints
func TestLoyaltyCatalogs(t *testing.T) {
	h := NewLoyaltyHandler(nil, nil)
	app := fiber.New()
	app.Get("/rewards", h.GetRewards)
	app.Get("/tiers", h.GetTiers)

	resp, err := app.Test(httptest.NewRequest("GET", "/rewards", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var rewardsBody struct {
		Rewards []map[string]interface{} `json:"rewards"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rewardsBody))
	resp.Body.Close()
	assert.Len(t, rewardsBody.Rewards, 5)
	for _, reward := range rewardsBody.Rewards {
		assert.NotEmpty(t, reward["name"])
		assert.Greater(t, reward["points_required"].(float64), float64(0))
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/tiers", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var tiersBody struct {
		Tiers []map[string]interface{} `json:"tiers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tiersBody))
	resp.Body.Close()
	require.Len(t, tiersBody.Tiers, 4)
	for _, tier := range tiersBody.Tiers {
		min := int(tier["min_points"].(float64))
		assert.Equal(t, tier["name"], TierForPoints(min))
	}
}
