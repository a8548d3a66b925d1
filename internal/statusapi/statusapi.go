// Package statusapi exposes the read-only endpoints provers use to
// discover the proxy's public key and routing state: GET /status,
// /status/topic, /status/public-key, /routes. Built on gin.
package statusapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ethdenver2026/relay/internal/routestore"
)

// Server holds the dependencies the status handlers read from.
type Server struct {
	Store         *routestore.Store
	HederaNetwork string
	TopicID       string
	AccountID     string
	ClientInitOK  bool
	engine        *gin.Engine
}

// New builds the gin engine and registers routes.
func New(store *routestore.Store, hederaNetwork, topicID, accountID string, clientInitOK bool) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		Store:         store,
		HederaNetwork: hederaNetwork,
		TopicID:       topicID,
		AccountID:     accountID,
		ClientInitOK:  clientInitOK,
		engine:        gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler to mount.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/status/topic", s.handleStatusTopic)
	s.engine.GET("/status/public-key", s.handleStatusPublicKey)
	s.engine.GET("/routes", s.handleRoutes)
}

func (s *Server) handleStatus(c *gin.Context) {
	keys := s.Store.RSAKeys()
	publicKey := ""
	if keys != nil {
		publicKey = keys.PublicKey
	}
	c.JSON(http.StatusOK, gin.H{
		"hederaNetwork": s.HederaNetwork,
		"topicId":       s.TopicID,
		"publicKey":     publicKey,
	})
}

func (s *Server) handleStatusTopic(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"topicId":           s.TopicID,
		"hederaNetwork":     s.HederaNetwork,
		"accountId":         s.AccountID,
		"clientInitialized": s.ClientInitOK,
	})
}

func (s *Server) handleStatusPublicKey(c *gin.Context) {
	keys := s.Store.RSAKeys()
	if keys == nil {
		c.JSON(http.StatusOK, gin.H{
			"publicKey":     "",
			"createdAt":     nil,
			"hasPrivateKey": false,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"publicKey":     keys.PublicKey,
		"createdAt":     keys.CreatedAt.Format(time.RFC3339),
		"hasPrivateKey": keys.PrivateKey != "",
	})
}

// handleRoutes returns the masked route table: destination addresses
// mapped to their upstream URL. No RSA material is ever exposed here.
func (s *Server) handleRoutes(c *gin.Context) {
	c.JSON(http.StatusOK, s.Store.Routes())
}
