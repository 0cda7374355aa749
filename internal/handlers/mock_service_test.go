package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/osc"
	"github.com/quickpayplatform/autocue/internal/relay"
	"github.com/quickpayplatform/autocue/internal/service"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(_ context.Context, username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) SignIn(_ context.Context, username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockCues struct {
	cue  *models.Cue
	list []models.Cue
	logs []models.AuditEntry
	err  error

	lastSubmit     service.SubmitCueParams
	lastApprove    service.ApproveParams
	lastOperatorID int
	lastID         string
	lastVenue      string
}

func (m *mockCues) Submit(_ context.Context, p service.SubmitCueParams, operatorID int) (*models.Cue, error) {
	m.lastSubmit, m.lastOperatorID = p, operatorID
	return m.cue, m.err
}
func (m *mockCues) Approve(_ context.Context, id string, operatorID int, p service.ApproveParams) (*models.Cue, error) {
	m.lastID, m.lastOperatorID, m.lastApprove = id, operatorID, p
	return m.cue, m.err
}
func (m *mockCues) Reject(_ context.Context, id string, operatorID int) (*models.Cue, error) {
	m.lastID, m.lastOperatorID = id, operatorID
	return m.cue, m.err
}
func (m *mockCues) Get(_ context.Context, id string) (*models.Cue, error) {
	m.lastID = id
	return m.cue, m.err
}
func (m *mockCues) List(_ context.Context, venueID string) ([]models.Cue, error) {
	m.lastVenue = venueID
	return m.list, m.err
}
func (m *mockCues) Logs(_ context.Context, id string) ([]models.AuditEntry, error) {
	m.lastID = id
	return m.logs, m.err
}

type mockNodes struct {
	tokens map[string]string // token -> node id

	pairing  *models.PairingCode
	node     *models.RelayNode
	nodes    []models.RelayNode
	pairRes  *service.PairingResult
	cue      *models.Cue
	cmdID    string
	err      error
	hbErr    error
	lastHB   models.Heartbeat
	lastNode string
	lastCue  string
	lastRes  relay.CueResult
	lastCmd  osc.Command
	lastCode string
	lastNon  string
}

func (m *mockNodes) StartPairing(context.Context) (*models.PairingCode, error) {
	return m.pairing, m.err
}
func (m *mockNodes) ClaimPairing(_ context.Context, p service.ClaimParams, _ int) (*models.RelayNode, error) {
	m.lastCode = p.Code
	return m.node, m.err
}
func (m *mockNodes) CompletePairing(_ context.Context, code, nonce string) (*service.PairingResult, error) {
	m.lastCode, m.lastNon = code, nonce
	return m.pairRes, m.err
}
func (m *mockNodes) Authenticate(_ context.Context, token string) (string, bool) {
	id, ok := m.tokens[token]
	return id, ok
}
func (m *mockNodes) Heartbeat(_ context.Context, nodeID string, hb models.Heartbeat) error {
	m.lastNode, m.lastHB = nodeID, hb
	return m.hbErr
}
func (m *mockNodes) ListByVenue(context.Context, string) ([]models.RelayNode, error) {
	return m.nodes, m.err
}
func (m *mockNodes) SendCommand(_ context.Context, nodeID string, cmd osc.Command) (string, error) {
	m.lastNode, m.lastCmd = nodeID, cmd
	return m.cmdID, m.err
}
func (m *mockNodes) ReportResult(_ context.Context, nodeID, cueID string, res relay.CueResult) (*models.Cue, error) {
	m.lastNode, m.lastCue, m.lastRes = nodeID, cueID, res
	return m.cue, m.err
}
func (m *mockNodes) ResetOnline(context.Context) error { return nil }

type mockConsole struct {
	cfg     osc.Config
	ok      bool
	err     error
	lastCfg osc.Config
}

func (m *mockConsole) Config() (osc.Config, bool) { return m.cfg, m.ok }
func (m *mockConsole) Reconfigure(cfg osc.Config) error {
	m.lastCfg = cfg
	if m.err != nil {
		return m.err
	}
	m.cfg, m.ok = cfg, cfg.Host != ""
	return nil
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

var testTime = time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)
