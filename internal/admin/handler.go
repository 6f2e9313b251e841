// Package admin exposes the loaded entity metadata read-only, so spec
// authors can see which fields and relation keys an entity offers.
package admin

import (
	"github.com/gofiber/fiber/v2"

	"serialspec/internal/engine"
	"serialspec/internal/metadata"
)

type Handler struct {
	registry *metadata.Registry
}

func NewHandler(reg *metadata.Registry) *Handler {
	return &Handler{registry: reg}
}

// RegisterAdminRoutes mounts the metadata routes under /api/_admin. Only
// admins may call them.
func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)
	admin.Use(RequireAdmin())

	admin.Get("/entities", h.ListEntities)
	admin.Get("/entities/:name", h.GetEntity)
	admin.Get("/relations", h.ListRelations)
	admin.Get("/relations/:name", h.GetRelation)
}

// RequireAdmin rejects requests whose user lacks the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, _ := c.Locals("user").(*metadata.UserContext)
		if user == nil {
			return engine.UnauthorizedError("Authentication required")
		}
		if !user.IsAdmin() {
			return engine.ForbiddenError("Admin access required")
		}
		return c.Next()
	}
}

// accessorView is one relation key as seen from an entity.
type accessorView struct {
	Key         string `json:"key"`
	Relation    string `json:"relation"`
	Target      string `json:"target"`
	Cardinality string `json:"cardinality"`
	Direction   string `json:"direction"`
	JoinTable   string `json:"join_table,omitempty"`
	Through     bool   `json:"through_model,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
}

type entityView struct {
	*metadata.Entity
	Accessors []accessorView `json:"accessors"`
}

func (h *Handler) view(e *metadata.Entity) entityView {
	v := entityView{Entity: e, Accessors: []accessorView{}}
	for _, acc := range h.registry.Accessors(e.Name) {
		v.Accessors = append(v.Accessors, accessorView{
			Key:         acc.Key,
			Relation:    acc.Relation.Name,
			Target:      acc.To.Name,
			Cardinality: acc.Cardinality.String(),
			Direction:   acc.Direction.String(),
			JoinTable:   acc.JoinTable,
			Through:     acc.ThroughModel,
			Optional:    acc.OptionalToOne,
		})
	}
	return v
}

func (h *Handler) ListEntities(c *fiber.Ctx) error {
	entities := h.registry.AllEntities()
	data := make([]entityView, 0, len(entities))
	for _, e := range entities {
		data = append(data, h.view(e))
	}
	return c.JSON(fiber.Map{"data": data})
}

func (h *Handler) GetEntity(c *fiber.Ctx) error {
	name := c.Params("name")
	e := h.registry.GetEntity(name)
	if e == nil {
		return engine.NewAppError("NOT_FOUND", 404, "Entity not found: "+name)
	}
	return c.JSON(fiber.Map{"data": h.view(e)})
}

func (h *Handler) ListRelations(c *fiber.Ctx) error {
	relations := h.registry.AllRelations()
	if relations == nil {
		relations = []*metadata.Relation{}
	}
	return c.JSON(fiber.Map{"data": relations})
}

func (h *Handler) GetRelation(c *fiber.Ctx) error {
	name := c.Params("name")
	rel := h.registry.GetRelation(name)
	if rel == nil {
		return engine.NewAppError("NOT_FOUND", 404, "Relation not found: "+name)
	}
	return c.JSON(fiber.Map{"data": rel})
}
