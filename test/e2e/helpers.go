//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/surpriz/queenmama/internal/api/handlers"
	"github.com/surpriz/queenmama/internal/repository"
	"github.com/surpriz/queenmama/internal/server"
	"github.com/surpriz/queenmama/internal/service"
	"github.com/surpriz/queenmama/internal/storage"
	"github.com/surpriz/queenmama/internal/testutil"
)

const e2eServiceToken = "e2e-service-token"

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	Transcripts  *storage.TranscriptStore
	Completion   *scriptedCompletion
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers and server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	transcripts, err := storage.NewTranscriptStore(ctx, storage.TranscriptStoreConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-transcripts",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create transcript store: %v", err)
	}
	if err := transcripts.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	completion := &scriptedCompletion{}
	serverURL, serverCloser := startServer(t, pool, transcripts, completion, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		Transcripts:  transcripts,
		Completion:   completion,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request as the given user
func (e *E2ETestEnv) Get(path, userID string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, userID)
}

// Post performs a POST request as the given user
func (e *E2ETestEnv) Post(path string, body interface{}, userID string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, userID)
}

// Delete performs a DELETE request as the given user
func (e *E2ETestEnv) Delete(path, userID string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil, userID)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, userID string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+e2eServiceToken)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return &APIResponse{}, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// RawRequest performs a request with explicit headers and returns the status code.
// Used for auth failure cases where the standard helpers would error out.
func (e *E2ETestEnv) RawRequest(method, path string, headers map[string]string) (int, error) {
	req, err := http.NewRequest(method, e.ServerURL+path, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// startServer starts the HTTP server with all handlers
func startServer(t *testing.T, pool *pgxpool.Pool, transcripts *storage.TranscriptStore, completion *scriptedCompletion, port int) (string, func()) {
	policy := service.DefaultPolicy()
	// Low cap so capacity behavior is reachable without hundreds of inserts.
	policy.MaxAtomsPerUser = 8

	repo := repository.NewAtomRepository(pool)
	locks := service.NewUserLocks()
	embedding := &hashEmbedding{}

	purgeSvc := service.NewPurgeService(repo, policy)
	capacitySvc := service.NewCapacityService(repo, purgeSvc, policy)
	consolidationSvc := service.NewConsolidationService(repo, policy)
	statsSvc := service.NewStatsService(repo, purgeSvc, policy)
	maintenanceSvc := service.NewMaintenanceService(repo, purgeSvc, consolidationSvc, locks)
	atomSvc := service.NewAtomService(repo, embedding, capacitySvc, policy, locks)
	extractionSvc := service.NewExtractionService(repo, completion, embedding, transcripts, capacitySvc, policy, locks)

	router := server.NewRouter(server.RouterConfig{
		ServiceToken:       e2eServiceToken,
		AtomHandler:        handlers.NewAtomHandler(atomSvc, capacitySvc),
		MaintenanceHandler: handlers.NewMaintenanceHandler(extractionSvc, purgeSvc, consolidationSvc, statsSvc, maintenanceSvc),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// scriptedCompletion returns the response set by the current test.
type scriptedCompletion struct {
	mu       sync.Mutex
	response string
}

func (c *scriptedCompletion) Set(response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.response = response
}

func (c *scriptedCompletion) GenerateCompletion(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.response == "" {
		return "", fmt.Errorf("no scripted completion response set")
	}
	return c.response, nil
}

// hashEmbedding derives a deterministic unit vector from the text. Identical
// texts embed identically (cosine 1.0); unrelated texts land near orthogonal
// because the components are centered around zero.
type hashEmbedding struct{}

func (e *hashEmbedding) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	const dims = 1536

	vec := make([]float32, dims)
	seed := sha256.Sum256([]byte(text))
	block := seed
	var norm float64
	for i := 0; i < dims; i++ {
		if i%len(block) == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		v := float64(block[i%len(block)]) - 127.5
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
