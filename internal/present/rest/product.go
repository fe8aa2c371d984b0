package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/internal/present/rest/middleware"
	"github.com/totegamma/agrichain/internal/present/rest/presenter"
	"github.com/totegamma/agrichain/internal/usecase"
)

func (h *Handler) handleListProducts(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	products, err := h.products.List(c.Request().Context(), requester)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, products)
}

func (h *Handler) handleGetProduct(c echo.Context) error {
	product, err := h.products.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, product)
}

type registerProductRequest struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Image       string   `json:"image"`
	Status      string   `json:"status"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	RetailPrice *float64 `json:"retailPrice" validate:"omitempty,gte=0"`
}

func (h *Handler) handleRegisterProduct(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	var req registerProductRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err, invalidBody)
	}
	if err := v.Struct(req); err != nil {
		return invalidField(c, err)
	}

	product, err := h.products.Register(c.Request().Context(), requester, usecase.RegisterProductInput{
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		ImageURL:    req.Image,
		Status:      req.Status,
		Temperature: req.Temperature,
		Humidity:    req.Humidity,
		RetailPrice: req.RetailPrice,
	})
	if err != nil {
		if errors.Is(err, domain.ErrLedgerMirror) {
			return presenter.BadGateway(c, "product stored but not yet confirmed on the ledger", product)
		}
		return presenter.Error(c, err)
	}
	return presenter.OK(c, product)
}

type recordStepRequest struct {
	Action      string         `json:"action" validate:"required"`
	Description string         `json:"description"`
	LocationID  *string        `json:"locationId"`
	Temperature *float64       `json:"temperature"`
	Humidity    *float64       `json:"humidity" validate:"omitempty,gte=0,lte=100"`
	Metadata    map[string]any `json:"metadata"`
	Status      string         `json:"status"`
}

func (h *Handler) handleRecordStep(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	var req recordStepRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err, invalidBody)
	}
	if err := v.Struct(req); err != nil {
		return invalidField(c, err)
	}

	step, err := h.steps.Record(c.Request().Context(), requester, c.Param("id"), usecase.RecordStepInput{
		Action:      req.Action,
		Description: req.Description,
		LocationID:  req.LocationID,
		Temperature: req.Temperature,
		Humidity:    req.Humidity,
		Metadata:    req.Metadata,
		Status:      req.Status,
	})
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.Created(c, step)
}

func (h *Handler) handleVerify(c echo.Context) error {
	product, err := h.products.Verify(c.Request().Context(), c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{
		"success":           true,
		"id":                product.ID,
		"batchId":           product.BatchID,
		"verificationCount": product.VerificationCount,
		"lastVerified":      product.LastVerified,
	})
}

func (h *Handler) handleQRImage(c echo.Context) error {
	ctx := c.Request().Context()

	product, err := h.products.Resolve(ctx, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}

	size := 0
	if s := c.QueryParam("size"); s != "" {
		size, err = strconv.Atoi(s)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid size")
		}
	}

	png, err := h.qr.PNG(ctx, product.QRCode, size)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return c.Blob(http.StatusOK, "image/png", png)
}

func (h *Handler) handleListCertificates(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	certs, err := h.certificates.List(c.Request().Context(), requester)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, certs)
}

func (h *Handler) handleGetCertificate(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	cert, err := h.certificates.Get(c.Request().Context(), requester, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, cert)
}

type issueCertificateRequest struct {
	Name       string     `json:"name" validate:"required"`
	ProductID  string     `json:"productId" validate:"required"`
	StepID     string     `json:"stepId"`
	ExpiryDate *time.Time `json:"expiryDate"`
}

func (h *Handler) handleIssueCertificate(c echo.Context) error {
	requester, _ := middleware.Requester(c)

	var req issueCertificateRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err, invalidBody)
	}
	if err := v.Struct(req); err != nil {
		return invalidField(c, err)
	}

	cert, err := h.certificates.Issue(c.Request().Context(), requester, usecase.IssueCertificateInput{
		Name:       req.Name,
		ProductID:  req.ProductID,
		StepID:     req.StepID,
		ExpiryDate: req.ExpiryDate,
	})
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.Created(c, cert)
}
