package systemtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	internalhttp "github.com/Chace-Berry/Alterion-Panel-sub000/internal/api/http"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/auth"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/control"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/db"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/identity"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/nodes"
	"github.com/Chace-Berry/Alterion-Panel-sub000/systemtest/postgres"
	"github.com/Chace-Berry/Alterion-Panel-sub000/systemtest/tests"
)

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping system test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.StartPostgres(ctx, "panel", "panel", "panel")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = postgres.TerminatePostgres(context.Background(), container)
	})

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, db.RunMigrations(dbURL, "public"))

	pool, err := db.InitDB(ctx, dbURL, "public")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	nodeService := nodes.NewService(pool)

	t.Run("NodePersistence", func(t *testing.T) { tests.TestNodePersistence(t, nodeService) })

	passwordHash, err := auth.HashPassword("changeme")
	require.NoError(t, err)
	authConfig := auth.Config{
		JWTSecret:         "systemtest-secret",
		AdminUsername:     "root",
		AdminPasswordHash: passwordHash,
	}

	planeKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyStore, err := identity.NewKeyStore(t.TempDir())
	require.NoError(t, err)

	hub := control.NewHub(nodeService, keyStore, &identity.KeyPair{
		Private: planeKey,
		Public:  &planeKey.PublicKey,
	}, control.Config{
		VerifyTimeout: 300 * time.Millisecond,
		CallTimeout:   time.Second,
	})

	services := &internalhttp.Services{
		Auth:            auth.NewService(authConfig),
		Nodes:           nodeService,
		Dispatcher:      control.NewDispatcher(hub),
		ControlEndpoint: control.NewEndpoint(hub),
	}

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, services)

	t.Run("API", func(t *testing.T) { tests.TestPanelAPI(t, engine, "systemtest-secret", nodeService) })
}
