package server

import (
	"stableposts/internal/models"
	"stableposts/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createPostRequest struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Author string `json:"author"`
}

// parseOptionalBody decodes the request body into dest. A request without a
// body leaves dest at its zero value.
func parseOptionalBody(c *fiber.Ctx, dest any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(dest)
}

// CreatePost handles POST /posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req createPostRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	post, err := s.postService.CreatePost(c.UserContext(), service.CreatePostInput{
		Title:  req.Title,
		Body:   req.Body,
		Author: req.Author,
	})
	if err != nil {
		return respondWithServiceError(c, err, fiber.StatusNotFound)
	}
	return c.JSON(post)
}

// GetPosts handles GET /posts
func (s *Server) GetPosts(c *fiber.Ctx) error {
	posts, err := s.postService.ListPosts(c.UserContext())
	if err != nil {
		return respondWithServiceError(c, err, fiber.StatusNotFound)
	}
	return c.JSON(posts)
}

// GetPost handles GET /posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.postService.GetPost(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondWithServiceError(c, err, fiber.StatusNotFound)
	}
	return c.JSON(post)
}

// UpdatePost handles PUT /posts/:id. Only title, body and author are merged.
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	var patch models.PostPatch
	if err := parseOptionalBody(c, &patch); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	post, err := s.postService.UpdatePost(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return respondWithServiceError(c, err, fiber.StatusBadRequest)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /posts/:id and returns the removed post.
func (s *Server) DeletePost(c *fiber.Ctx) error {
	post, err := s.postService.DeletePost(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondWithServiceError(c, err, fiber.StatusBadRequest)
	}
	return c.JSON(post)
}
