package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postscheduler/internal/models"
	"github.com/maheshrc27/postscheduler/internal/service"
	"github.com/maheshrc27/postscheduler/internal/transfer"
	"github.com/rs/zerolog"
)

// AccountOwnership reports whether a social account belongs to a user.
type AccountOwnership interface {
	CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error)
}

type ScheduledPostHandler struct {
	s        service.SchedulingService
	accounts AccountOwnership
	log      zerolog.Logger
}

func NewScheduledPostHandler(s service.SchedulingService, accounts AccountOwnership, log zerolog.Logger) *ScheduledPostHandler {
	return &ScheduledPostHandler{s: s, accounts: accounts, log: log.With().Str("component", "http").Logger()}
}

// Register mounts the scheduled post routes on an authenticated router.
func (h *ScheduledPostHandler) Register(r fiber.Router) {
	r.Post("/posts", h.Create)
	r.Get("/posts", h.List)
	r.Get("/posts/stats", h.Stats)
	r.Get("/posts/calendar", h.Calendar)
	r.Get("/posts/:id", h.Get)
	r.Put("/posts/:id", h.Update)
	r.Post("/posts/:id/reschedule", h.Reschedule)
	r.Post("/posts/:id/cancel", h.Cancel)
	r.Post("/posts/:id/execute", h.ExecuteNow)
	r.Post("/posts/:id/republish", h.Republish)
}

func (h *ScheduledPostHandler) Create(c *fiber.Ctx) error {
	var in transfer.ScheduledPostCreation
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_BODY", "unable to parse request body")
	}
	if err := h.authorizeAccount(c, in.AccountID); err != nil {
		return respondError(c, h.log, err)
	}

	post, err := h.s.Create(c.Context(), in)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *ScheduledPostHandler) List(c *fiber.Ctx) error {
	accountID := int64(c.QueryInt("account_id", 0))
	if err := h.authorizeAccount(c, accountID); err != nil {
		return respondError(c, h.log, err)
	}

	filter := models.ScheduledPostFilter{
		AccountID: accountID,
		Status:    models.Status(c.Query("status")),
		Limit:     c.QueryInt("limit", 0),
		Offset:    c.QueryInt("offset", 0),
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "INVALID_QUERY", "from must be an RFC 3339 time")
		}
		filter.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "INVALID_QUERY", "to must be an RFC 3339 time")
		}
		filter.To = t
	}

	posts, err := h.s.List(c.Context(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"posts": posts, "count": len(posts)})
}

func (h *ScheduledPostHandler) Get(c *fiber.Ctx) error {
	post, err := h.owned(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(post)
}

func (h *ScheduledPostHandler) Update(c *fiber.Ctx) error {
	var in transfer.ScheduledPostUpdate
	if err := c.BodyParser(&in); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_BODY", "unable to parse request body")
	}
	return h.mutate(c, func(ctx context.Context, id int64) (*models.ScheduledPost, error) {
		return h.s.Update(ctx, id, in)
	})
}

func (h *ScheduledPostHandler) Reschedule(c *fiber.Ctx) error {
	var in transfer.Reschedule
	if err := c.BodyParser(&in); err != nil || in.ScheduledFor.IsZero() {
		return errorJSON(c, fiber.StatusBadRequest, "INVALID_BODY", "scheduled_for is required")
	}
	return h.mutate(c, func(ctx context.Context, id int64) (*models.ScheduledPost, error) {
		return h.s.Reschedule(ctx, id, in.ScheduledFor)
	})
}

func (h *ScheduledPostHandler) Cancel(c *fiber.Ctx) error {
	return h.mutate(c, h.s.Cancel)
}

func (h *ScheduledPostHandler) ExecuteNow(c *fiber.Ctx) error {
	return h.mutate(c, h.s.ExecuteNow)
}

func (h *ScheduledPostHandler) Republish(c *fiber.Ctx) error {
	return h.mutate(c, h.s.Republish)
}

func (h *ScheduledPostHandler) Stats(c *fiber.Ctx) error {
	accountID := int64(c.QueryInt("account_id", 0))
	if err := h.authorizeAccount(c, accountID); err != nil {
		return respondError(c, h.log, err)
	}
	stats, err := h.s.Stats(c.Context(), accountID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(stats)
}

func (h *ScheduledPostHandler) Calendar(c *fiber.Ctx) error {
	accountID := int64(c.QueryInt("account_id", 0))
	if err := h.authorizeAccount(c, accountID); err != nil {
		return respondError(c, h.log, err)
	}

	now := time.Now().UTC()
	year := c.QueryInt("year", now.Year())
	month := time.Month(c.QueryInt("month", int(now.Month())))

	days, err := h.s.Calendar(c.Context(), accountID, year, month)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"year": year, "month": int(month), "days": days})
}

func (h *ScheduledPostHandler) mutate(c *fiber.Ctx, op func(context.Context, int64) (*models.ScheduledPost, error)) error {
	current, err := h.owned(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	post, err := op(c.Context(), current.ID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(post)
}

// owned loads the post named by the :id param and checks it belongs to the caller.
// Posts of other users are reported as not found.
func (h *ScheduledPostHandler) owned(c *fiber.Ctx) (*models.ScheduledPost, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "id must be a positive integer")
	}

	post, err := h.s.Get(c.Context(), int64(id))
	if err != nil {
		return nil, err
	}
	if err := h.authorizeAccount(c, post.AccountID); err != nil {
		return nil, err
	}
	return post, nil
}

func (h *ScheduledPostHandler) authorizeAccount(c *fiber.Ctx, accountID int64) error {
	if accountID <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "account_id is required")
	}
	ok, err := h.accounts.CheckByUserID(c.Context(), accountID, GetUserID(c))
	if err != nil {
		return err
	}
	if !ok {
		return service.ErrNotFound
	}
	return nil
}
