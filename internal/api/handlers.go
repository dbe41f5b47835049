package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roman-kulish/signal-logger/internal/export"
	"github.com/roman-kulish/signal-logger/internal/geo"
	"github.com/roman-kulish/signal-logger/internal/measurement"
	"github.com/roman-kulish/signal-logger/internal/pipeline"
	"github.com/roman-kulish/signal-logger/internal/radio"
	"github.com/roman-kulish/signal-logger/internal/storage"
	"github.com/roman-kulish/signal-logger/internal/upload"
	"github.com/roman-kulish/signal-logger/pkg/response"
)

const maxImportSize = 64 << 20

type startRequest struct {
	Filename string `json:"filename" binding:"required"`
}

type statusResponse struct {
	pipeline.Status
	LastSync *syncResponse `json:"lastSync,omitempty"`
}

type syncResponse struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Error    string    `json:"error,omitempty"`
	Finished time.Time `json:"finished,omitzero"`
	upload.Result
}

type coverageResponse struct {
	SessionID string         `json:"sessionId"`
	Level     int            `json:"level"`
	Records   int            `json:"records"`
	Distance  float64        `json:"distanceMeters"`
	Cells     []geo.CellStat `json:"cells"`
}

type importResponse struct {
	Session *storage.Session `json:"session"`
	Records int              `json:"records"`
}

type parseErrorData struct {
	Line   int    `json:"line"`
	Column string `json:"column,omitempty"`
}

// GET /api/v1/status
func (s *Server) status(c *gin.Context) {
	resp := statusResponse{Status: s.controller.Status()}
	if s.syncer != nil {
		if res, at, ok := s.syncer.Last(); ok {
			sr := newSyncResponse(res)
			sr.Finished = at
			resp.LastSync = &sr
		}
	}

	response.Success(c, resp)
}

// POST /api/v1/sessions
func (s *Server) startSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	sess, err := s.controller.Start(c.Request.Context(), req.Filename)
	switch {
	case errors.Is(err, pipeline.ErrSessionActive), errors.Is(err, pipeline.ErrStopPending):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		s.logger.Error(fmt.Sprintf("starting session: %s", err.Error()))
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, sess)
}

// POST /api/v1/sessions/stop
func (s *Server) stopSession(c *gin.Context) {
	sess, err := s.controller.Stop(c.Request.Context())
	switch {
	case errors.Is(err, pipeline.ErrNotRecording), errors.Is(err, pipeline.ErrStopPending):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		s.logger.Error(fmt.Sprintf("stopping session: %s", err.Error()))
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, sess)
}

// GET /api/v1/sessions
func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.store.Sessions(c.Request.Context())
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, sessions)
}

// GET /api/v1/sessions/:id
func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	response.Success(c, sess)
}

// GET /api/v1/sessions/:id/export?format=csv|gpx
func (s *Server) exportSession(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "gpx" {
		response.BadRequest(c, "format must be csv or gpx")
		return
	}

	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	records, err := s.store.RecordsForSession(c.Request.Context(), sess.ID)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	var contentType, ext string
	if format == "csv" {
		contentType, ext = "text/csv", export.CSVExtension
	} else {
		contentType, ext = "application/gpx+xml", export.GPXExtension
	}

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.Filename+ext))
	c.Status(http.StatusOK)

	if format == "csv" {
		err = export.EncodeCSV(c.Writer, measurement.SchemaExtended, records)
	} else {
		err = export.EncodeTrack(c.Writer, sess.Filename, records)
	}
	if err != nil {
		s.logger.Error(fmt.Sprintf("exporting session %s: %s", sess.ID, err.Error()))
	}
}

// GET /api/v1/sessions/:id/coverage?level=16
func (s *Server) sessionCoverage(c *gin.Context) {
	level := geo.DefaultLevel
	if v := c.Query("level"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 30 {
			response.BadRequest(c, "level must be between 0 and 30")
			return
		}
		level = n
	}

	sess, ok := s.lookupSession(c)
	if !ok {
		return
	}

	records, err := s.store.RecordsForSession(c.Request.Context(), sess.ID)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	response.Success(c, coverageResponse{
		SessionID: sess.ID,
		Level:     level,
		Records:   len(records),
		Distance:  geo.PathLength(records),
		Cells:     geo.Coverage(records, level),
	})
}

// POST /api/v1/sync
func (s *Server) sync(c *gin.Context) {
	if s.syncer == nil {
		response.Error(c, http.StatusServiceUnavailable, "sync is not configured")
		return
	}

	res, err := s.syncer.TriggerNow(c.Request.Context())
	if errors.Is(err, upload.ErrRunInProgress) {
		response.Conflict(c, err.Error())
		return
	}

	response.Success(c, newSyncResponse(res))
}

// POST /api/v1/import?filename=name
// The body is a CSV export. The imported rows become a new closed session
// that is eligible for sync.
func (s *Server) importCSV(c *gin.Context) {
	records, err := export.Parse(http.MaxBytesReader(c.Writer, c.Request.Body, maxImportSize))
	if err != nil {
		var pe *export.ParseError
		if errors.As(err, &pe) {
			response.ErrorWithData(c, http.StatusBadRequest, err.Error(), parseErrorData{Line: pe.Line, Column: pe.Column})
			return
		}
		response.BadRequest(c, err.Error())
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	filename := c.Query("filename")
	if filename == "" {
		filename = "import-" + records[0].Timestamp.UTC().Format("20060102-150405")
	}

	sessionID := id.String()
	for i := range records {
		records[i].SessionID = sessionID
	}

	ctx := c.Request.Context()
	start, end := records[0].Timestamp, records[len(records)-1].Timestamp

	if err = s.store.CreateSession(ctx, sessionID, filename, s.deviceID, start); err != nil {
		response.InternalError(c, err.Error())
		return
	}
	if err = s.upsertProfiles(c, records); err != nil {
		response.InternalError(c, err.Error())
		return
	}
	if err = s.store.InsertRecords(ctx, records); err != nil {
		response.InternalError(c, err.Error())
		return
	}
	if err = s.store.CloseSession(ctx, sessionID, end); err != nil {
		response.InternalError(c, err.Error())
		return
	}

	sess, err := s.store.Session(ctx, sessionID)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}

	s.logger.Info("imported session",
		slog.String("session", sessionID),
		slog.Int("records", len(records)),
	)

	response.Success(c, importResponse{Session: sess, Records: len(records)})
}

// upsertProfiles stores the last seen profile of every subscription in
// records. Rows without a subscription id carry no profile.
func (s *Server) upsertProfiles(c *gin.Context, records []measurement.Record) error {
	profiles := make(map[int]radio.Profile)
	for _, r := range records {
		if r.SubscriptionID < 0 {
			continue
		}
		profiles[r.SubscriptionID] = radio.Profile{
			SubscriptionID: r.SubscriptionID,
			SlotIndex:      r.SlotIndex,
			MCC:            r.MCC,
			MNC:            r.MNC,
			DisplayName:    r.CarrierName,
			Embedded:       r.Embedded,
		}
	}

	for _, p := range profiles {
		if err := s.store.UpsertProfile(c.Request.Context(), p); err != nil {
			return fmt.Errorf("storing profile %d: %w", p.SubscriptionID, err)
		}
	}

	return nil
}

func (s *Server) lookupSession(c *gin.Context) (*storage.Session, bool) {
	sess, err := s.store.Session(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		response.NotFound(c, "session not found")
		return nil, false
	case err != nil:
		response.InternalError(c, err.Error())
		return nil, false
	}

	return sess, true
}

func newSyncResponse(res upload.Result) syncResponse {
	sr := syncResponse{
		Status:  res.Status.String(),
		Message: res.Message(),
		Result:  res,
	}
	if res.Err != nil {
		sr.Error = res.Err.Error()
	}
	return sr
}
