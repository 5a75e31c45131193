package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/app"
)

// Register wires the OpenAI-compatible surface under /v1, guarded by API key
// authentication.
func Register(router *fiber.App, container *app.Container) {
	handler := &openAIHandler{
		container: container,
		executor:  container.Executor,
	}

	v1 := router.Group("/v1", apiKeyAuth(container))
	v1.Get("/models", handler.listModels)
	v1.Post("/chat/completions", handler.chatCompletions)
}
