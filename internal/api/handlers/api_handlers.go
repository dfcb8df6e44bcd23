package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"reunite-go/internal/api/middleware"
	"reunite-go/internal/core/lifecycle"
	"reunite-go/internal/core/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ReportService umfasst alle Operationen, die die HTTP-Schicht benötigt
type ReportService interface {
	Compare(ctx context.Context, req lifecycle.CompareRequest) (*lifecycle.CompareResult, error)
	ReportMissing(ctx context.Context, in lifecycle.MissingInput) (*models.MissingReport, bool, error)
	ReportFound(ctx context.Context, in lifecycle.FoundInput) (*models.FoundReport, bool, error)
	ListPending(ctx context.Context) ([]models.MissingReport, error)
	ListFound(ctx context.Context, linked *bool) ([]models.FoundReport, error)
	ClearMatched(ctx context.Context) (models.ClearCounts, error)
	ResetAll(ctx context.Context) (models.ClearCounts, error)
	Stats(ctx context.Context) (models.Statistics, error)
}

// APIHandler behandelt die Melde- und Abgleichsendpunkte
type APIHandler struct {
	service        ReportService
	maxUploadBytes int64
}

// MissingChild ist ein Eintrag von GET /missing-children
type MissingChild struct {
	ID        string    `json:"id"`
	Image     string    `json:"image"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// FoundChild ist ein Eintrag von GET /found-children
type FoundChild struct {
	ID              string    `json:"id"`
	Image           string    `json:"image"`
	FinderName      string    `json:"finder_name"`
	Phone           string    `json:"phone"`
	Email           string    `json:"email"`
	FoundLocation   string    `json:"found_location"`
	CollectLocation string    `json:"collect_location"`
	LinkedMissingID string    `json:"linked_missing_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CompareMatch ist ein Treffer in der Antwort von POST /compare
type CompareMatch struct {
	FinderName      string  `json:"finder_name"`
	Phone           string  `json:"phone"`
	Email           string  `json:"email"`
	FoundLocation   string  `json:"found_location"`
	CollectLocation string  `json:"collect_location"`
	MissingID       string  `json:"missing_id"`
	FoundID         string  `json:"found_id,omitempty"`
	GuardianName    string  `json:"guardian_name"`
	Score           float64 `json:"score"`
	Accepted        bool    `json:"accepted"`
}

// CompareResponse ist die Antwort von POST /compare
type CompareResponse struct {
	Match           bool           `json:"match"`
	Results         []CompareMatch `json:"results"`
	AlreadyReported bool           `json:"already_reported"`
	FoundID         string         `json:"found_id,omitempty"`
	Message         string         `json:"message,omitempty"`
}

// NewAPIHandler erstellt einen neuen API-Handler. maxUploadMB <= 0 bedeutet 10 MB.
func NewAPIHandler(service ReportService, maxUploadMB int) *APIHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &APIHandler{
		service:        service,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
}

// RegisterRoutes registriert alle Melde-Routen
func (h *APIHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/missing-children", h.ListMissingChildren)
	router.GET("/found-children", h.ListFoundChildren)
	router.POST("/compare", h.Compare)
	router.POST("/upload-missing", h.UploadMissing)
	router.POST("/upload-found", h.UploadFound)
	router.POST("/clear-matched", h.ClearMatched)
	router.POST("/reset-all", h.ResetAll)
}

// ListMissingChildren gibt alle offenen Vermisstenmeldungen zurück
func (h *APIHandler) ListMissingChildren(c *gin.Context) {
	reports, err := h.service.ListPending(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to list missing children")
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "admin.failed")})
		return
	}

	children := make([]MissingChild, 0, len(reports))
	for _, r := range reports {
		children = append(children, MissingChild{
			ID:        r.ID,
			Image:     imageURL(r.ImagePath),
			Name:      r.GuardianName,
			Phone:     r.Phone,
			Email:     r.Email,
			CreatedAt: r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, children)
}

// ListFoundChildren gibt Fundmeldungen zurück, optional gefiltert mit ?linked=true|false
func (h *APIHandler) ListFoundChildren(c *gin.Context) {
	var linked *bool
	if raw := c.Query("linked"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "request.invalid")})
			return
		}
		linked = &value
	}

	reports, err := h.service.ListFound(c.Request.Context(), linked)
	if err != nil {
		log.WithError(err).Error("Failed to list found children")
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "admin.failed")})
		return
	}

	children := make([]FoundChild, 0, len(reports))
	for _, r := range reports {
		children = append(children, FoundChild{
			ID:              r.ID,
			Image:           imageURL(r.ImagePath),
			FinderName:      r.FinderName,
			Phone:           r.Phone,
			Email:           r.Email,
			FoundLocation:   r.FoundLocation,
			CollectLocation: r.CollectLocation,
			LinkedMissingID: r.LinkedMissingID,
			CreatedAt:       r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, children)
}

// Compare gleicht ein hochgeladenes Foto mit den offenen Vermisstenmeldungen ab
func (h *APIHandler) Compare(c *gin.Context) {
	data, ok := h.readImage(c)
	if !ok {
		return
	}

	var fileReport bool
	if raw := c.PostForm("file_report"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "request.invalid")})
			return
		}
		fileReport = value
	}
	req := lifecycle.CompareRequest{
		Image:      data,
		Finder:     finderFromForm(c),
		FileReport: fileReport,
	}

	result, err := h.service.Compare(c.Request.Context(), req)
	if err != nil {
		// Jeder Fehler wird einzeln protokolliert, der Nutzer sieht nur eine Meldung
		c.JSON(errorStatus(err), gin.H{"error": middleware.T(c, "compare.failed")})
		return
	}

	resp := toCompareResponse(result)
	if result.Outcome == lifecycle.OutcomeNovel {
		resp.Message = middleware.T(c, "compare.no_match")
	}
	c.JSON(http.StatusOK, resp)
}

// UploadMissing legt eine Vermisstenmeldung an
func (h *APIHandler) UploadMissing(c *gin.Context) {
	data, ok := h.readImage(c)
	if !ok {
		return
	}

	report, alreadyReported, err := h.service.ReportMissing(c.Request.Context(), lifecycle.MissingInput{
		Image:        data,
		GuardianName: c.PostForm("name"),
		Phone:        c.PostForm("phone"),
		Email:        c.PostForm("email"),
	})
	if err != nil {
		h.respondUploadError(c, "missing", err)
		return
	}

	message := middleware.T(c, "missing.added")
	if alreadyReported {
		message = middleware.T(c, "missing.already_reported")
	}
	c.JSON(http.StatusOK, gin.H{
		"message":          message,
		"id":               report.ID,
		"already_reported": alreadyReported,
	})
}

// UploadFound legt eine Fundmeldung ohne Abgleich an
func (h *APIHandler) UploadFound(c *gin.Context) {
	data, ok := h.readImage(c)
	if !ok {
		return
	}

	report, alreadyReported, err := h.service.ReportFound(c.Request.Context(), lifecycle.FoundInput{
		Image:  data,
		Finder: finderFromForm(c),
	})
	if err != nil {
		h.respondUploadError(c, "found", err)
		return
	}

	message := middleware.T(c, "found.added")
	if alreadyReported {
		message = middleware.T(c, "found.already_reported")
	}
	c.JSON(http.StatusOK, gin.H{
		"message":          message,
		"id":               report.ID,
		"already_reported": alreadyReported,
	})
}

// ClearMatched entfernt alle verknüpften Paare
func (h *APIHandler) ClearMatched(c *gin.Context) {
	counts, err := h.service.ClearMatched(c.Request.Context())
	if err != nil {
		log.WithError(err).WithField("error_kind", models.ErrorKind(err)).Error("Clear matched failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "admin.failed")})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         middleware.T(c, "admin.matched_cleared"),
		"missing_removed": counts.MissingRemoved,
		"found_removed":   counts.FoundRemoved,
	})
}

// ResetAll entfernt alle Meldungen
func (h *APIHandler) ResetAll(c *gin.Context) {
	counts, err := h.service.ResetAll(c.Request.Context())
	if err != nil {
		log.WithError(err).WithField("error_kind", models.ErrorKind(err)).Error("Reset all failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "admin.failed")})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         middleware.T(c, "admin.all_cleared"),
		"missing_removed": counts.MissingRemoved,
		"found_removed":   counts.FoundRemoved,
	})
}

// readImage liest das Formularfeld "image"; bei Fehlern ist die Antwort bereits geschrieben
func (h *APIHandler) readImage(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": middleware.T(c, "request.image_too_large")})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "request.image_required")})
		return nil, false
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": middleware.T(c, "request.image_too_large")})
		return nil, false
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "request.image_required")})
		return nil, false
	}
	if int64(len(data)) > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": middleware.T(c, "request.image_too_large")})
		return nil, false
	}
	return data, true
}

func (h *APIHandler) respondUploadError(c *gin.Context, kind string, err error) {
	status := errorStatus(err)
	log.WithError(err).WithFields(log.Fields{
		"kind":       kind,
		"error_kind": models.ErrorKind(err),
	}).Warn("Upload failed")

	messageID := "admin.failed"
	if status < http.StatusInternalServerError {
		messageID = "request.invalid"
	}
	c.JSON(status, gin.H{"error": middleware.T(c, messageID)})
}

// finderFromForm liest die Finder-Felder; "finder_name" und "name" sind gleichwertig
func finderFromForm(c *gin.Context) lifecycle.FinderInfo {
	name := c.PostForm("finder_name")
	if name == "" {
		name = c.PostForm("name")
	}
	return lifecycle.FinderInfo{
		Name:            name,
		Phone:           c.PostForm("phone"),
		Email:           c.PostForm("email"),
		FoundLocation:   c.PostForm("found_location"),
		CollectLocation: c.PostForm("collect_location"),
	}
}

func toCompareResponse(result *lifecycle.CompareResult) CompareResponse {
	resp := CompareResponse{
		Match:           result.Match(),
		Results:         make([]CompareMatch, 0, len(result.Matches)),
		AlreadyReported: result.AlreadyReported(),
	}
	if result.Found != nil {
		resp.FoundID = result.Found.ID
	}

	for _, m := range result.Matches {
		match := CompareMatch{
			MissingID:    m.Missing.ID,
			GuardianName: m.Missing.GuardianName,
			Score:        m.Score,
			Accepted:     m.Accepted,
		}
		// Alle Treffer stammen aus derselben Einreichung
		if found := result.Found; found != nil {
			match.FinderName = found.FinderName
			match.Phone = found.Phone
			match.Email = found.Email
			match.FoundLocation = found.FoundLocation
			match.CollectLocation = found.CollectLocation
		}
		if m.Accepted && m.Found != nil {
			match.FoundID = m.Found.ID
		}
		resp.Results = append(resp.Results, match)
	}
	return resp
}

// errorStatus bildet die Fehlerarten auf HTTP-Statuscodes ab
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidImage), errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func imageURL(path string) string {
	if path == "" {
		return ""
	}
	return "/images/" + path
}
