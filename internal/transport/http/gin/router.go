package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/bustix/bustix/internal/domain"
	redisrepo "github.com/bustix/bustix/internal/repository/redis"
	"github.com/bustix/bustix/internal/service"
	"github.com/bustix/bustix/internal/service/admin"
	"github.com/bustix/bustix/internal/service/inventory"
	"github.com/bustix/bustix/internal/service/ledger"
	"github.com/bustix/bustix/internal/service/query"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/schedules/:id", handleGetSchedule(svcs))
	r.GET("/schedules/:id/availability", handleGetAvailability(svcs))
	r.GET("/schedules/:id/seats", handleGetSeatMap(svcs))

	r.POST("/schedules/:id/bookings", handleCreateBooking(svcs, idem))

	r.GET("/bookings/:id", handleGetBooking(svcs))
	r.POST("/bookings/:id/cancel", handleCancelBooking(svcs))

	r.POST("/payments/callback", handlePaymentCallback(svcs))

	// Admin-API
	// TODO: add admin middleware
	adm := r.Group("/admin")
	{
		adm.POST("/schedules", handleCreateSchedule(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Get schedule
// @Param    id  path  int  true  "Schedule ID"
// @Success  200  {object}  domain.Schedule
// @Failure  404  {object}  ErrorResponse
// @Router   /schedules/{id} [get]
func handleGetSchedule(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheduleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		s, err := svcs.Query.GetSchedule(c.Request.Context(), scheduleID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 60s
		writeJSONWithCache(c, http.StatusOK, s, "public, max-age=60", true)
	}
}

// @Summary  Get availability counters
// @Param    id  path  int  true  "Schedule ID"
// @Success  200  {object}  domain.ScheduleCounts
// @Router   /schedules/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheduleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		cnt, err := svcs.Query.Availability(c.Request.Context(), scheduleID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 15s
		writeJSONWithCache(c, http.StatusOK, cnt, "public, max-age=15", true)
	}
}

// @Summary  Get seat map
// @Param    id     path   int     true  "Schedule ID"
// @Param    only   query  string  false "available"
// @Param    limit  query  int     false "page size"
// @Param    offset query  int     false "offset"
// @Success  200  {array}   domain.SeatWithStatus
// @Router   /schedules/{id}/seats [get]
func handleGetSeatMap(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheduleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		onlyAvailable := c.Query("only") == "available" ||
			c.Query("only_available") == "true"
		limit := parseIntDefault(c.Query("limit"), 0)
		offset := parseIntDefault(c.Query("offset"), 0)

		seats, err := svcs.Query.SeatMap(
			c.Request.Context(),
			scheduleID,
			onlyAvailable,
			limit,
			offset,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 15s
		writeJSONWithCache(c, http.StatusOK, seats, "public, max-age=15", true)
	}
}

// @Summary  Create booking (idempotent)
// @Param    id  path  int  true  "Schedule ID"
// @Param    req body  CreateBookingRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} CreateBookingResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seats unavailable / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /schedules/{id}/bookings [post]
func handleCreateBooking(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheduleID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemBooking(scheduleID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusCreated,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusCreated,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		rlKey := "ip:" + c.ClientIP()

		b, err := svcs.Ledger.CreateBooking(
			c.Request.Context(),
			scheduleID,
			req.Seats,
			domain.Passenger{Name: req.PassengerName, Phone: req.PassengerPhone},
			req.TotalCents,
			rlKey,
		)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			if isRateLimitedErr(err) {
				c.Header("Retry-After", "60")
				c.JSON(
					http.StatusTooManyRequests,
					ErrorResponse{Error: err.Error()},
				)
				return
			}
			respondErr(c, err)
			return
		}

		resp := CreateBookingResponse{
			BookingID:     b.ID.String(),
			ScheduleID:    b.ScheduleID,
			Seats:         b.Seats,
			PaymentStatus: string(b.PaymentStatus),
			BookingStatus: string(b.BookingStatus),
			TotalCents:    b.TotalCents,
		}

		if idemStorageKey != "" && idem != nil {
			raw, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(raw))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Get booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} BookingResponse
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Ledger.GetBooking(c.Request.Context(), bookingID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, bookingResponse(b))
	}
}

// @Summary  Cancel booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  204
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse
// @Router   /bookings/{id}/cancel [post]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		if err := svcs.Ledger.Cancel(c.Request.Context(), bookingID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Payment provider callback
// @Param    req body  PaymentCallbackRequest true "payload"
// @Success  200 {object} map[string]string
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "inconsistent state"
// @Router   /payments/callback [post]
func handlePaymentCallback(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PaymentCallbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		bookingID, err := uuid.Parse(req.BookingID)
		if err != nil {
			badRequest(c, "invalid booking_id")
			return
		}

		status := domain.PaymentStatus(req.Status)
		if !status.Valid() {
			badRequest(c, "unknown status")
			return
		}

		ctx := c.Request.Context()
		if status.Terminal() {
			err = svcs.Ledger.ResolvePayment(ctx, bookingID, status, req.TxRef)
		} else {
			err = svcs.Ledger.RecordPaymentObservation(ctx, bookingID, status, req.TxRef)
		}
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"result": "ok"})
	}
}

// @Summary  Create schedule and init seats
// @Param    req body  CreateScheduleRequest true "payload"
// @Success  201 {object} CreateScheduleResponse
// @Router   /admin/schedules [post]
func handleCreateSchedule(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateScheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		departs, err := parseRFC3339(req.DepartsAt)
		if err != nil {
			badRequest(c, "invalid departs_at (RFC3339)")
			return
		}
		s, err := svcs.Admin.CreateSchedule(
			c.Request.Context(),
			req.Route,
			departs,
			req.Capacity,
			req.FareCents,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateScheduleResponse{ScheduleID: s.ID})
	}
}

// --- Helpers ---

func bookingResponse(b *domain.Booking) BookingResponse {
	return BookingResponse{
		BookingID:      b.ID.String(),
		ScheduleID:     b.ScheduleID,
		Seats:          b.Seats,
		PassengerName:  b.Passenger.Name,
		PassengerPhone: b.Passenger.Phone,
		TxRef:          b.TxRef,
		PaymentStatus:  string(b.PaymentStatus),
		BookingStatus:  string(b.BookingStatus),
		TotalCents:     b.TotalCents,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
	}
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.UUID{}, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func isRateLimitedErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "rate limited")
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var seatConflict *inventory.SeatConflictError
	if errors.As(err, &seatConflict) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:            "seats unavailable",
			ConflictingSeats: seatConflict.ConflictingSeats,
		})
		return
	}

	var rangeErr *inventory.SeatRangeError
	if errors.As(err, &rangeErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: rangeErr.Error()})
		return
	}

	var holdErr *inventory.HoldNotFoundError
	if errors.As(err, &holdErr) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "hold expired, re-create the booking"})
		return
	}

	var stateErr *ledger.InconsistentStateError
	if errors.As(err, &stateErr) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: stateErr.Error()})
		return
	}

	switch {
	// inventory service
	case errors.Is(err, inventory.ErrNoSeats):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no seats selected"})
		return
	case errors.Is(err, inventory.ErrScheduleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "schedule not found"})
		return
	case errors.Is(err, inventory.ErrHoldConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "hold conflict"})
		return
	case errors.Is(err, inventory.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	// ledger service
	case errors.Is(err, ledger.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "total must be positive"})
		return
	case errors.Is(err, ledger.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown payment status"})
		return
	// query service
	case errors.Is(err, query.ErrScheduleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "schedule not found"})
		return
	// admin service
	case errors.Is(err, admin.ErrEmptyRoute),
		errors.Is(err, admin.ErrInvalidCapacity),
		errors.Is(err, admin.ErrInvalidFare),
		errors.Is(err, admin.ErrDepartsInPast):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
