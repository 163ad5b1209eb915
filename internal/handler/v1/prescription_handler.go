package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/metapharm/rxgate/internal/domain/prescription"
	"github.com/metapharm/rxgate/internal/service"
)

// PrescriptionHandler exposes the review workflow over HTTP. Handlers stay
// thin: bind, delegate to a service, translate the error.
type PrescriptionHandler struct {
	intake     *service.IntakeService
	evaluation *service.EvaluationService
	review     *service.ReviewService
}

func NewPrescriptionHandler(intake *service.IntakeService, evaluation *service.EvaluationService, review *service.ReviewService) *PrescriptionHandler {
	return &PrescriptionHandler{
		intake:     intake,
		evaluation: evaluation,
		review:     review,
	}
}

type itemRequest struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
	Quantity  int    `json:"quantity"`
}

// Structural checks live in the binding tags; everything semantic (source
// validity, item contents, date ordering) belongs to the domain so the
// response carries per-field details.
type createPrescriptionRequest struct {
	PatientID      uuid.UUID     `json:"patient_id" binding:"required"`
	Source         string        `json:"source" binding:"required"`
	ImageRef       *string       `json:"image_ref"`
	Items          []itemRequest `json:"items"`
	PrescribedDate time.Time     `json:"prescribed_date" binding:"required"`
	ExpiryDate     *time.Time    `json:"expiry_date"`
}

type approveRequest struct {
	Note string `json:"note"`
}

type rejectRequest struct {
	ReasonCode string `json:"reason_code"`
}

type clarificationRequest struct {
	Question string `json:"question"`
}

type clarificationResponseRequest struct {
	Answer string `json:"answer"`
}

type editFieldRequest struct {
	Value string `json:"value"`
}

type resolveFindingRequest struct {
	Note string `json:"note"`
}

func (h *PrescriptionHandler) Create(c *gin.Context) {
	var req createPrescriptionRequest
	if !bindJSON(c, &req) {
		return
	}

	claims := claimsFrom(c)
	cmd := &prescription.CreateCommand{
		PatientID:      req.PatientID,
		Source:         prescription.Source(req.Source),
		ImageRef:       req.ImageRef,
		PrescribedDate: req.PrescribedDate,
		ExpiryDate:     req.ExpiryDate,
		CreatedBy:      claims.UserID,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, prescription.ItemInput{
			Name:      item.Name,
			Dosage:    item.Dosage,
			Frequency: item.Frequency,
			Duration:  item.Duration,
			Quantity:  item.Quantity,
		})
	}

	rec, err := h.intake.Create(c.Request.Context(), cmd, claims.UserID, claims.Role, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondCreated(c, rec)
}

func (h *PrescriptionHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	claims := claimsFrom(c)
	rec, err := h.intake.Get(c.Request.Context(), id, claims.UserID, claims.Role)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

func (h *PrescriptionHandler) List(c *gin.Context) {
	q := &prescription.ListQuery{
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 20),
	}
	if raw := c.Query("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid patient_id: must be a valid UUID")
			return
		}
		q.PatientID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := prescription.Status(raw)
		if !status.IsValid() {
			respondError(c, http.StatusBadRequest, "invalid status: unknown workflow status")
			return
		}
		q.Status = &status
	}

	claims := claimsFrom(c)
	page, err := h.intake.List(c.Request.Context(), q, claims.UserID, claims.Role)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, page)
}

func (h *PrescriptionHandler) Transcribe(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	claims := claimsFrom(c)
	rec, err := h.evaluation.Transcribe(c.Request.Context(), id, claims.UserID, claims.Role, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

func (h *PrescriptionHandler) EvaluateSafety(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	claims := claimsFrom(c)
	rec, err := h.evaluation.EvaluateSafety(c.Request.Context(), id, claims.UserID, claims.Role, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

func (h *PrescriptionHandler) Approve(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	var req approveRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	claims := claimsFrom(c)
	rec, err := h.review.Approve(c.Request.Context(), id, req.Note, claims.UserID, claims.Role, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

func (h *PrescriptionHandler) Reject(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	claims := claimsFrom(c)
	rec, err := h.review.Reject(c.Request.Context(), id, req.ReasonCode, claims.UserID, claims.Role, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

func (h *PrescriptionHandler) RequestClarification(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	var req clarificationRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	claims := claimsFrom(c)
	rec, err := h.review.RequestClarification(c.Request.Context(), id, req.Question, claims.UserID, claims.Role, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

func (h *PrescriptionHandler) RespondClarification(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	var req clarificationResponseRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	claims := claimsFrom(c)
	rec, err := h.review.RespondClarification(c.Request.Context(), id, req.Answer, claims.UserID, claims.Role, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

func (h *PrescriptionHandler) EditField(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	index, ok := parseItemIndex(c)
	if !ok {
		return
	}
	field, ok := parseField(c)
	if !ok {
		return
	}
	var req editFieldRequest
	if !bindJSON(c, &req) {
		return
	}

	claims := claimsFrom(c)
	rec, err := h.review.EditField(c.Request.Context(), id, index, field, req.Value, claims.UserID, claims.Role, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

func (h *PrescriptionHandler) VerifyField(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	index, ok := parseItemIndex(c)
	if !ok {
		return
	}
	field, ok := parseField(c)
	if !ok {
		return
	}

	claims := claimsFrom(c)
	rec, err := h.review.VerifyField(c.Request.Context(), id, index, field, claims.UserID, claims.Role, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}

func (h *PrescriptionHandler) ResolveFinding(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}
	findingID, ok := parseUUID(c, "finding_id")
	if !ok {
		return
	}
	var req resolveFindingRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	claims := claimsFrom(c)
	rec, err := h.review.ResolveFinding(c.Request.Context(), id, findingID, req.Note, claims.UserID, claims.Role, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, rec)
}
