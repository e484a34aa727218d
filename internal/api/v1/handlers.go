package apiv1

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"github.com/JanKoller/TicketHive/internal/pkg/billing"
	"github.com/JanKoller/TicketHive/internal/pkg/limits"
	"github.com/JanKoller/TicketHive/internal/pkg/subscriptions"
)

// APIServer implements the collaborator-facing JSON API. The ticket domain
// calls the limit and usage endpoints; operators use the admin and report
// endpoints.
type APIServer struct {
	subs    *subscriptions.Service
	billing *billing.Service
}

// NewAPIServer creates a new API server instance.
func NewAPIServer(subSvc *subscriptions.Service, billingSvc *billing.Service) *APIServer {
	return &APIServer{subs: subSvc, billing: billingSvc}
}

// RegisterHandlers attaches the v1 routes. Admin and report routes sit
// behind the supplied guard.
func RegisterHandlers(v1 fiber.Router, s *APIServer, adminGuard fiber.Handler) {
	v1.Get("/ping", s.GetPing)

	v1.Get("/limits/check-create", s.GetLimitsCheckCreate)
	v1.Get("/limits/check-complete", s.GetLimitsCheckComplete)
	v1.Get("/usage", s.GetUsage)
	v1.Post("/usage/events", s.PostUsageEvent)

	admin := v1.Group("", adminGuard)
	admin.Post("/subscriptions/custom", s.PostCustomSubscription)
	admin.Patch("/subscriptions/:id/limits", s.PatchSubscriptionLimits)
	admin.Get("/reports/revenue", s.GetRevenueReport)
	admin.Get("/reports/approaching-limits", s.GetApproachingLimits)
}

// GetPing handles the ping endpoint.
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// GetLimitsCheckCreate decides whether the owner may create delta more
// tickets. A denial answers 429 with the upgrade path.
func (s *APIServer) GetLimitsCheckCreate(c *fiber.Ctx) error {
	ownerID, err := queryUint(c, "owner_id")
	if err != nil {
		return badRequest(c, "owner_id must be a positive integer")
	}
	decision, err := s.subs.CheckCanCreate(c.UserContext(), ownerID, c.QueryInt("delta", 1), limits.Strict)
	return s.respondDecision(c, decision, err)
}

// GetLimitsCheckComplete decides whether the owner may complete delta more
// tickets.
func (s *APIServer) GetLimitsCheckComplete(c *fiber.Ctx) error {
	ownerID, err := queryUint(c, "owner_id")
	if err != nil {
		return badRequest(c, "owner_id must be a positive integer")
	}
	decision, err := s.subs.CheckCanComplete(c.UserContext(), ownerID, c.QueryInt("delta", 1), limits.Strict)
	return s.respondDecision(c, decision, err)
}

func (s *APIServer) respondDecision(c *fiber.Ctx, decision limits.Decision, err error) error {
	if err != nil {
		var exceeded *apperrors.LimitExceededError
		if errors.As(err, &exceeded) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"allowed":         false,
				"limit_type":      exceeded.LimitType,
				"decision":        exceeded.Decision,
				"upgrade_message": exceeded.UpgradeMessage,
				"suggested_plans": exceeded.SuggestedPlans,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "limit_check_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(decision)
}

// GetUsage reports consumption for an owner: all-time by default, one
// "YYYY-MM" period when requested. No subscription yields all-zero usage.
func (s *APIServer) GetUsage(c *fiber.Ctx) error {
	ownerID, err := queryUint(c, "owner_id")
	if err != nil {
		return badRequest(c, "owner_id must be a positive integer")
	}

	if period := c.Query("period"); period != "" {
		stats, err := s.subs.GetUsageForPeriod(c.UserContext(), ownerID, period)
		if err != nil {
			return badRequest(c, err.Error())
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"period": period, "usage": stats})
	}

	stats, err := s.subs.GetCurrentUsage(c.UserContext(), ownerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "usage_lookup_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

type usageEventRequest struct {
	OwnerID    uint   `json:"owner_id"`
	TicketID   uint   `json:"ticket_id"`
	Action     string `json:"action"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// PostUsageEvent is the collaborator hook: the ticket domain reports a
// lifecycle fact after performing the action. Recording never rejects based
// on limits.
func (s *APIServer) PostUsageEvent(c *fiber.Ctx) error {
	var req usageEventRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if req.OwnerID == 0 || req.TicketID == 0 {
		return badRequest(c, "owner_id and ticket_id are required")
	}

	if req.Action == models.UsageActionCreated && req.FromStatus == "" {
		s.subs.OnTicketCreated(c.UserContext(), req.OwnerID, req.TicketID)
	} else {
		s.subs.OnTicketStatusChanged(c.UserContext(), req.OwnerID, req.TicketID, req.FromStatus, req.ToStatus)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true})
}

// PostCustomSubscription provisions a subscription with bespoke limits and
// pricing (admin).
func (s *APIServer) PostCustomSubscription(c *fiber.Ctx) error {
	var in subscriptions.CreateCustomSubscriptionInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	sub, err := s.subs.CreateCustomSubscription(c.UserContext(), in)
	if err != nil {
		var verr *apperrors.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": verr.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_create_failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// PatchSubscriptionLimits merges partial override limits onto a
// subscription (admin).
func (s *APIServer) PatchSubscriptionLimits(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badRequest(c, "invalid subscription id")
	}

	var body struct {
		subscriptions.LimitsInput
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	sub, err := s.subs.UpdateSubscriptionLimits(c.UserContext(), uint(id), body.LimitsInput, models.TransitionActorAdmin, body.Reason)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		var verr *apperrors.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": verr.Error()})
		}
		var invalid *apperrors.InvalidTransitionError
		if errors.As(err, &invalid) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid_state", "message": invalid.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "limits_update_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(sub)
}

// GetRevenueReport aggregates settled and outstanding invoices (admin).
func (s *APIServer) GetRevenueReport(c *fiber.Ctx) error {
	from, err := queryDate(c, "from")
	if err != nil {
		return badRequest(c, "from must be YYYY-MM-DD")
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return badRequest(c, "to must be YYYY-MM-DD")
	}

	stats, err := s.billing.GetRevenueStats(c.UserContext(), from, to)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "revenue_report_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

// GetApproachingLimits lists customers whose usage reached the warning
// threshold on any dimension (admin).
func (s *APIServer) GetApproachingLimits(c *fiber.Ctx) error {
	threshold := limits.NearLimitThresholdPercent
	if raw := c.Query("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 100 {
			return badRequest(c, "threshold must be between 0 and 100")
		}
		threshold = v
	}

	entries, err := s.subs.GetUsersApproachingLimits(c.UserContext(), threshold)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "report_failed"})
	}
	if entries == nil {
		entries = []subscriptions.ApproachingLimitsEntry{}
	}
	return c.Status(fiber.StatusOK).JSON(entries)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": message})
}

func queryUint(c *fiber.Ctx, key string) (uint, error) {
	v, err := strconv.ParseUint(c.Query(key), 10, 64)
	if err != nil || v == 0 {
		return 0, errors.New(key + " must be a positive integer")
	}
	return uint(v), nil
}

func queryDate(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
