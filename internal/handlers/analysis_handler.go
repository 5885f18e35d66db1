package handlers

import (
	"io"

	"github.com/contractear/contractear-api/internal/dto"
	"github.com/contractear/contractear-api/internal/identity"
	"github.com/contractear/contractear-api/internal/models"
	"github.com/contractear/contractear-api/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type AnalysisHandler struct {
	analyses *services.AnalysisService
}

func NewAnalysisHandler(analyses *services.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analyses: analyses}
}

func caller(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := identity.GetUserID(c)
	if err != nil {
		return uuid.Nil, services.ErrUnauthorized
	}
	return id, nil
}

func parseAnalysisID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, services.ErrInvalidInput
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, services.ErrInvalidInput
	}
	return id, nil
}

func (h *AnalysisHandler) bodyAnalysisID(c *fiber.Ctx) (uuid.UUID, error) {
	var req dto.AnalysisIDRequest
	if err := c.BodyParser(&req); err != nil {
		return uuid.Nil, services.ErrInvalidInput
	}
	return parseAnalysisID(req.AnalysisID)
}

// Upload accepts a multipart "file" field.
func (h *AnalysisHandler) Upload(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "No file provided")
	}
	if fh.Size > services.MaxAudioBytes {
		return errorJSON(c, fiber.StatusBadRequest, "File too large. Maximum size is 25MB.")
	}
	f, err := fh.Open()
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Could not read uploaded file")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, services.MaxAudioBytes+1))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Could not read uploaded file")
	}

	res, err := h.analyses.Submit(c.UserContext(), services.SubmitInput{
		UserID:      userID,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(res)
}

func (h *AnalysisHandler) UploadURL(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	var req dto.UploadURLRequest
	if err := c.BodyParser(&req); err != nil || req.URL == "" {
		return errorJSON(c, fiber.StatusBadRequest, "URL is required")
	}

	res, err := h.analyses.SubmitURL(c.UserContext(), userID, req.URL)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(res)
}

func (h *AnalysisHandler) ConfirmPayment(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	id, err := h.bodyAnalysisID(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Analysis ID is required")
	}

	status, err := h.analyses.ConfirmPayment(c.UserContext(), userID, id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(dto.StatusResponse{Status: string(status)})
}

// Status is the public poll endpoint.
func (h *AnalysisHandler) Status(c *fiber.Ctx) error {
	id, err := parseAnalysisID(c.Query("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Analysis ID is required")
	}
	a, err := h.analyses.Status(c.UserContext(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(analysisView(a))
}

func analysisView(a *models.Analysis) dto.AnalysisView {
	return dto.AnalysisView{
		ID:        a.ID.String(),
		Status:    string(a.Status),
		Result:    a.Result,
		Error:     a.ErrorMessage,
		FileName:  a.FileName,
		CreatedAt: a.CreatedAt,
	}
}

func (h *AnalysisHandler) List(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	list, err := h.analyses.List(c.UserContext(), userID)
	if err != nil {
		return writeServiceError(c, err)
	}

	out := make([]dto.AnalysisSummary, 0, len(list))
	for _, a := range list {
		out = append(out, dto.AnalysisSummary{
			ID:         a.ID.String(),
			FileName:   a.FileName,
			SourceType: string(a.SourceType),
			Tier:       string(a.Tier),
			Status:     string(a.Status),
			Error:      a.ErrorMessage,
			HasResult:  len(a.Result) > 0,
			CreatedAt:  a.CreatedAt,
		})
	}
	return c.JSON(out)
}

func (h *AnalysisHandler) Stats(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	stats, err := h.analyses.Stats(c.UserContext(), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(stats)
}

func (h *AnalysisHandler) Delete(c *fiber.Ctx) error {
	userID, err := caller(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	id, err := h.bodyAnalysisID(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Analysis ID is required")
	}
	if err := h.analyses.Delete(c.UserContext(), userID, id); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
