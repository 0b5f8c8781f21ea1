package server

import (
	"net/http"
	"time"

	"v2gbridge/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/charger/state", s.ChargerStateHandler)
	e.GET("/charger/soc", s.ChargerSoCHandler)
	e.POST("/charger/charge", s.StartChargingHandler)
	e.POST("/charger/stop", s.StopChargingHandler)
	e.POST("/charger/schedule", s.ApplyScheduleHandler)

	return e
}

type chargerStateResponse struct {
	State          string   `json:"state"`
	CarConnected   bool     `json:"car_connected"`
	Charging       bool     `json:"charging"`
	Discharging    bool     `json:"discharging"`
	PowerWatt      *float64 `json:"power_watt,omitempty"`
	SoCPercent     *float64 `json:"soc_percent,omitempty"`
	CanCommunicate bool     `json:"can_communicate"`
}

type startChargingBody struct {
	PowerWatt int64 `json:"power_watt"`
}

type socResponse struct {
	SoCPercent *float64 `json:"soc_percent"`
}

type scheduleResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) ChargerStateHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ChargerStateRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.ChargerStateResponse)
	if !ok || response.HasResponseError() {
		return c.String(http.StatusServiceUnavailable, "charger state unavailable")
	}
	return c.JSON(http.StatusOK, chargerStateResponse{
		State:          response.State.String(),
		CarConnected:   response.CarConnected,
		Charging:       response.Charging,
		Discharging:    response.Discharging,
		PowerWatt:      response.PowerWatt,
		SoCPercent:     response.SoCPercent,
		CanCommunicate: response.CanCommunicate,
	})
}

// ChargerSoCHandler answers from cache when possible. When no cached SoC
// exists and a car is connected, the control actor starts a probe; if it
// does not finish before the HTTP deadline the caller gets 202 and should
// retry.
func (s *Server) ChargerSoCHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetSoCRequest{}, 25*time.Second).Result()
	if err != nil {
		return c.NoContent(http.StatusAccepted)
	}
	response, ok := res.(domain.GetSoCResponse)
	if !ok || response.HasResponseError() {
		return c.String(http.StatusServiceUnavailable, "soc unavailable")
	}
	return c.JSON(http.StatusOK, socResponse{SoCPercent: response.Percent})
}

func (s *Server) StartChargingHandler(c echo.Context) error {
	var body startChargingBody
	if err := c.Bind(&body); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	var req any = domain.StartChargingRequest{PowerWatt: body.PowerWatt, Source: "api"}
	if body.PowerWatt == 0 {
		req = domain.StopChargingRequest{Source: "api"}
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, req, 30*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	if response, ok := res.(domain.ActorResponse); ok && response.HasResponseError() {
		return c.String(http.StatusConflict, response.GetResponseError().Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) StopChargingHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.StopChargingRequest{Source: "api"}, 30*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	if response, ok := res.(domain.StopChargingResponse); ok && response.HasResponseError() {
		return c.String(http.StatusConflict, response.GetResponseError().Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) ApplyScheduleHandler(c echo.Context) error {
	var doc domain.ScheduleDocument
	if err := c.Bind(&doc); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	schedule, err := doc.ToSchedule()
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ApplyScheduleRequest{Schedule: *schedule}, 30*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.ApplyScheduleResponse)
	if !ok {
		return c.String(http.StatusServiceUnavailable, "schedule executor unavailable")
	}
	if !response.Valid {
		return c.JSON(http.StatusUnprocessableEntity, scheduleResponse{Valid: false, Reason: response.Reason})
	}
	return c.JSON(http.StatusOK, scheduleResponse{Valid: true})
}
