// Package backend is the reference chat backend: the REST and push-channel
// collaborator the sync client is written against. The dev server runs it
// standalone; integration tests boot it on a loopback listener. State lives
// in memory; this is a development and test collaborator, not a product.
package backend

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"chatsync/internal/models"
)

// Server ties the store, the hub and the fiber app together.
type Server struct {
	app    *fiber.App
	store  *Store
	hub    *Hub
	secret string
	log    *slog.Logger

	dropMu    sync.Mutex
	dropSends int
}

// New builds a Server signing tokens with the given secret.
func New(secret string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		app:    fiber.New(fiber.Config{DisableStartupMessage: true}),
		store:  NewStore(),
		hub:    NewHub(log),
		secret: secret,
		log:    log,
	}
	s.routes()
	return s
}

// Store exposes the backing store for seeding.
func (s *Server) Store() *Store {
	return s.store
}

// TokenFor mints a bearer token for a seeded user.
func (s *Server) TokenFor(u User, ttl time.Duration) (string, error) {
	return GenerateToken(s.secret, u, ttl)
}

// DropSends makes the WS handler swallow the next n send frames without an
// ack or a broadcast; tests use it to exercise the client's retry path.
func (s *Server) DropSends(n int) {
	s.dropMu.Lock()
	s.dropSends = n
	s.dropMu.Unlock()
}

func (s *Server) takeDroppedSend() bool {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	if s.dropSends > 0 {
		s.dropSends--
		return true
	}
	return false
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(cors.New())

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api", AuthMiddleware(s.secret))

	api.Get("/conversations", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		return c.JSON(s.store.ConversationsFor(userID))
	})

	api.Get("/conversations/unread/count", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		return c.JSON(fiber.Map{"count": s.store.TotalUnread(userID)})
	})

	api.Get("/messages/conversation/:id", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		conversationID := c.Params("id")
		if !s.store.IsParticipant(conversationID, userID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant"})
		}
		page := c.QueryInt("page", 1)
		pageSize := c.QueryInt("page_size", 50)
		msgs, err := s.store.History(conversationID, page, pageSize)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "conversation not found"})
		}
		return c.JSON(fiber.Map{
			"messages":  msgs,
			"page":      page,
			"page_size": pageSize,
		})
	})

	api.Put("/conversations/:id/read", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		conversationID := c.Params("id")
		if !s.store.IsParticipant(conversationID, userID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant"})
		}
		readAt, err := s.store.MarkRead(conversationID, userID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "conversation not found"})
		}

		// Read receipt for anyone currently viewing the conversation.
		env, envErr := models.NewEnvelope(models.EventRead, models.ReadPayload{
			ConversationID: conversationID,
			UserID:         userID,
			ReadAt:         readAt,
		})
		if envErr == nil {
			s.hub.Broadcast(conversationID, env, "")
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Middleware order matters: the upgrade check runs before auth.
	s.app.Use("/ws", s.wsUpgrade)
	s.app.Use("/ws", AuthMiddleware(s.secret))
	s.app.Get("/ws", s.wsHandler())
}

// Listen serves on the given address, blocking until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Listener serves on an existing listener; tests use this with a loopback
// listener on a random port.
func (s *Server) Listener(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown drains the fiber app.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
