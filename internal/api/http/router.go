package http

import (
	"github.com/gin-gonic/gin"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/api/http/handler"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/api/http/middleware"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/auth"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/control"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/nodes"
)

type Services struct {
	Auth            *auth.Service
	Nodes           *nodes.Service
	Dispatcher      *control.Dispatcher
	ControlEndpoint *control.Endpoint
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	authHandler := handler.NewAuthHandler(srvs.Auth)
	engine.POST("/auth/login", authHandler.Login)

	// Agents and onboarding frontends dial in here; the session protocol
	// takes over after the upgrade.
	engine.GET("/alterion/panel/agent/:serverid/", srvs.ControlEndpoint.Handle)

	nodesHandler := handler.NewNodesHandler(srvs.Nodes, srvs.Dispatcher)
	authed := engine.Group("/", middleware.JWTAuth(srvs.Auth.Secret()))
	{
		authed.GET("/nodes", nodesHandler.ListNodes)
		authed.GET("/nodes/:id", nodesHandler.GetNode)
		authed.POST("/nodes/:id/verify", nodesHandler.VerifyNode)
		authed.POST("/nodes/:id/revoke", nodesHandler.RevokeNode)
		authed.POST("/nodes/:id/api/:name", nodesHandler.CallNodeAPI)
		authed.GET("/nodes/:id/metrics", nodesHandler.NodeMetrics)
	}
}
