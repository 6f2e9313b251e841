package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"serialspec/internal/fetch"
	"serialspec/internal/instrument"
	"serialspec/internal/metadata"
	"serialspec/internal/spec"
	"serialspec/internal/store"
)

// Endpoint serves the records of Entity shaped by Spec, or by the spec
// SpecFunc computes for the requesting user. Detail, when set, shapes
// single-record requests instead of Spec.
type Endpoint struct {
	Name        string
	Entity      string
	Spec        spec.Spec
	Detail      spec.Spec
	SpecFunc    func(user *metadata.UserContext) spec.Spec
	Where       []fetch.WhereClause
	Order       []fetch.OrderClause
	Permissions []metadata.Permission
}

func (ep *Endpoint) resolveSpec(user *metadata.UserContext, mode Mode) (spec.Spec, error) {
	if ep.SpecFunc != nil {
		return ep.SpecFunc(user), nil
	}
	if mode == Single && ep.Detail != nil {
		return ep.Detail, nil
	}
	if ep.Spec != nil {
		return ep.Spec, nil
	}
	return nil, fmt.Errorf("%w: endpoint %s requires a spec or a spec resolver", spec.ErrConfig, ep.Name)
}

type Handler struct {
	store     *store.Store
	registry  *metadata.Registry
	endpoints map[string]*Endpoint
	maxDepth  int
	logger    *zap.Logger
}

func NewHandler(s *store.Store, reg *metadata.Registry, maxDepth int, logger *zap.Logger, endpoints ...*Endpoint) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		store:     s,
		registry:  reg,
		endpoints: make(map[string]*Endpoint, len(endpoints)),
		maxDepth:  maxDepth,
		logger:    logger,
	}
	for _, ep := range endpoints {
		h.endpoints[ep.Name] = ep
	}
	return h
}

// List handles GET /api/:endpoint
func (h *Handler) List(c *fiber.Ctx) error {
	ep, err := h.resolveEndpoint(c)
	if err != nil {
		return err
	}
	user := getUser(c)
	if err := CheckPermission(user, ep); err != nil {
		return err
	}

	compiled, err := h.compile(ep, user, Collection)
	if err != nil {
		return err
	}
	base, err := ApplyQueryParams(c, h.basePlan(ep, user))
	if err != nil {
		return err
	}
	plan, err := compiled.Prepare(base)
	if err != nil {
		return err
	}

	ctx, span := instrument.GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "engine", ep.Name, "list")
	defer span.End()

	var records []map[string]any
	err = h.run(ctx, c, func(ctx context.Context, ex *fetch.Executor) error {
		var err error
		records, err = ex.Execute(ctx, plan)
		return err
	})
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("list %s: %w", ep.Name, err)
	}

	data, err := compiled.ProjectAll(records)
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("project %s: %w", ep.Name, err)
	}
	span.SetMetadata("rows", len(data))
	return c.JSON(fiber.Map{"data": data})
}

// Get handles GET /api/:endpoint/:id
func (h *Handler) Get(c *fiber.Ctx) error {
	ep, err := h.resolveEndpoint(c)
	if err != nil {
		return err
	}
	user := getUser(c)
	if err := CheckPermission(user, ep); err != nil {
		return err
	}

	compiled, err := h.compile(ep, user, Single)
	if err != nil {
		return err
	}
	plan, err := compiled.Prepare(h.basePlan(ep, user))
	if err != nil {
		return err
	}

	id := c.Params("id")
	pkValue, err := coercePK(plan.Entity(), id)
	if err != nil {
		return NotFoundError(ep.Name, id)
	}

	ctx, span := instrument.GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "engine", ep.Name, "get")
	defer span.End()
	span.SetMetadata("id", id)

	var record map[string]any
	err = h.run(ctx, c, func(ctx context.Context, ex *fetch.Executor) error {
		var err error
		record, err = ex.Get(ctx, plan, pkValue)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError(ep.Name, id)
	}
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("get %s: %w", ep.Name, err)
	}

	data, err := compiled.Project(record)
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("project %s: %w", ep.Name, err)
	}
	return c.JSON(fiber.Map{"data": data})
}

// run executes fn through a per-request query recorder and reports the
// number of queries it took in the X-Query-Count header.
func (h *Handler) run(ctx context.Context, c *fiber.Ctx, fn func(context.Context, *fetch.Executor) error) error {
	rec := instrument.NewRecorder(h.store.DB, h.logger)
	err := fn(ctx, fetch.NewExecutor(rec, h.store.Dialect))
	c.Set("X-Query-Count", strconv.Itoa(rec.Count()))
	return err
}

func (h *Handler) compile(ep *Endpoint, user *metadata.UserContext, mode Mode) (*Compiled, error) {
	declared, err := ep.resolveSpec(user, mode)
	if err != nil {
		return nil, err
	}
	var principal any
	if user != nil {
		principal = user
	}
	return Compile(h.registry, ep.Entity, declared, principal, Options{Mode: mode, MaxDepth: h.maxDepth})
}

// basePlan is the endpoint's own query: its filters, the caller's row
// conditions and its ordering.
func (h *Handler) basePlan(ep *Endpoint, user *metadata.UserContext) *fetch.Plan {
	p := fetch.From(h.registry, ep.Entity).Where(ep.Where...)
	if filters := ReadFilters(user, ep); len(filters) > 0 {
		p = p.Where(filters...)
	}
	for _, o := range ep.Order {
		p = p.OrderBy(o.Field, o.Desc)
	}
	return p
}

func (h *Handler) resolveEndpoint(c *fiber.Ctx) (*Endpoint, error) {
	name := c.Params("endpoint")
	ep, ok := h.endpoints[name]
	if !ok {
		return nil, UnknownEndpointError(name)
	}
	return ep, nil
}

func coercePK(entity *metadata.Entity, id string) (any, error) {
	field := entity.GetField(entity.PrimaryKey.Field)
	if field == nil {
		return id, nil
	}
	return coerceSingleValue(field, id)
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
