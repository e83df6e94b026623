package testutil

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun"
)

// BaseSuite provides common test infrastructure with automatic fixture setup.
// Embed this in your test suite to get:
//   - Automatic database setup/teardown per suite
//   - Per-test transaction isolation with rollback (fast cleanup)
//   - A default project and a caller-scoped API token fixture
//
// Environment variables:
//   - TEST_SERVER_URL: External server URL (e.g., "http://localhost:3002")
//   - If not set, uses in-process Go test server (requires DB access)
type BaseSuite struct {
	suite.Suite
	TestDB    *TestDB
	Server    *TestServer
	Client    *HTTPClient
	Ctx       context.Context
	ProjectID string
	Token     string

	dbSuffix       string
	externalServer bool
}

// SetDBSuffix sets the database name suffix. Call this in your suite's
// SetupSuite before calling BaseSuite.SetupSuite.
func (s *BaseSuite) SetDBSuffix(suffix string) {
	s.dbSuffix = suffix
}

// SetupSuite creates the test database and server.
func (s *BaseSuite) SetupSuite() {
	s.Ctx = context.Background()

	if serverURL := os.Getenv("TEST_SERVER_URL"); serverURL != "" {
		s.T().Logf("Using external server: %s", serverURL)
		s.externalServer = true
		s.Client = NewExternalHTTPClient(serverURL)
		return
	}

	s.T().Log("Using in-process test server")

	suffix := s.dbSuffix
	if suffix == "" {
		suffix = "test"
	}

	testDB, err := SetupTestDB(s.Ctx, suffix)
	s.Require().NoError(err, "Failed to setup test database")
	s.TestDB = testDB

	s.Server = NewTestServer(testDB)
	s.Client = NewHTTPClient(s.Server.Echo)
}

// TearDownSuite closes the test database.
func (s *BaseSuite) TearDownSuite() {
	if s.TestDB != nil {
		s.TestDB.Close()
	}
}

// SetupTest starts a transaction, creates a project and a queue:admin
// scoped token, and rebuilds the server against that transaction.
func (s *BaseSuite) SetupTest() {
	if s.externalServer {
		return
	}

	err := s.TestDB.BeginTestTx(s.Ctx)
	s.Require().NoError(err, "Failed to begin test transaction")

	db := s.TestDB.GetDB()
	s.Server = newTestServerWithDB(s.TestDB, db)
	s.Client = NewHTTPClient(s.Server.Echo)

	s.ProjectID = uuid.New().String()
	err = CreateTestProject(s.Ctx, db, TestProject{
		ID:          s.ProjectID,
		OwnerUserID: DefaultTestProject.OwnerUserID,
		Name:        "Test Project",
	})
	s.Require().NoError(err)

	token, err := CreateTestAPIToken(s.Ctx, db, s.ProjectID, []string{"queue:read", "queue:write", "queue:admin"})
	s.Require().NoError(err)
	s.Token = token
}

// TearDownTest rolls back the transaction, discarding all test changes.
func (s *BaseSuite) TearDownTest() {
	if s.externalServer {
		return
	}
	_ = s.TestDB.RollbackTestTx()
}

// DB returns the current database connection (transaction if active,
// otherwise base DB). Returns nil if using an external server.
func (s *BaseSuite) DB() bun.IDB {
	if s.externalServer {
		return nil
	}
	return s.TestDB.GetDB()
}

// IsExternal returns true if using an external server.
func (s *BaseSuite) IsExternal() bool {
	return s.externalServer
}

// SkipIfExternalServer skips the test if running against an external server.
func (s *BaseSuite) SkipIfExternalServer(reason string) {
	if s.externalServer {
		s.T().Skipf("Skipping in external server mode: %s", reason)
	}
}

// IsExternalServerMode returns true if TEST_SERVER_URL is set.
func IsExternalServerMode() bool {
	return os.Getenv("TEST_SERVER_URL") != ""
}

// SkipInExternalMode skips the test if running in external server mode.
func SkipInExternalMode(t interface{ Skip(...any) }, reason string) {
	if IsExternalServerMode() {
		t.Skip("Skipping in external server mode: " + reason)
	}
}
