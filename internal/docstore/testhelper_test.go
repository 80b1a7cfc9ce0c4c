package docstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/caelum-labs/worchflow/internal/logging"
)

var (
	surrealOnce      sync.Once
	surrealContainer testcontainers.Container
	surrealAddr      string
	surrealError     error
)

// startSurrealDB starts a shared SurrealDB container for the test run, or
// skips the test if Docker-gated integration tests are disabled.
func startSurrealDB(t *testing.T) string {
	t.Helper()

	if os.Getenv("WORCHFLOW_TEST_DOCKER") != "true" {
		t.Skip("Docker tests disabled (set WORCHFLOW_TEST_DOCKER=true to enable)")
	}

	surrealOnce.Do(func() {
		ctx := context.Background()

		req := testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--user", "root", "--pass", "root"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("8000/tcp"),
				wait.ForLog("Started web server"),
			).WithDeadline(60 * time.Second),
		}

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			surrealError = fmt.Errorf("start surrealdb container: %w", err)
			return
		}

		host, err := container.Host(ctx)
		if err != nil {
			container.Terminate(ctx)
			surrealError = fmt.Errorf("get surrealdb host: %w", err)
			return
		}

		mappedPort, err := container.MappedPort(ctx, "8000/tcp")
		if err != nil {
			container.Terminate(ctx)
			surrealError = fmt.Errorf("get surrealdb port: %w", err)
			return
		}

		surrealContainer = container
		surrealAddr = fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port())
	})

	if surrealError != nil {
		t.Fatalf("surrealdb container failed: %v", surrealError)
	}
	return surrealAddr
}

// testSurreal returns a Surreal store connected to a uniquely-named test
// database, so parallel tests never see each other's documents.
func testSurreal(t *testing.T) *Surreal {
	t.Helper()

	addr := startSurrealDB(t)
	sanitized := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dbName := fmt.Sprintf("t_%s_%d", sanitized, time.Now().UnixNano()%100000)

	store, err := NewSurreal(context.Background(), Config{
		Endpoint:  addr,
		Namespace: "worchflow_test",
		Database:  dbName,
		Username:  "root",
		Password:  "root",
	}, logging.NewSilent())
	if err != nil {
		t.Fatalf("connect to surrealdb: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}
