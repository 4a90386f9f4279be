package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
)

type vendorSetting struct {
	Vendor     credentials.Vendor `json:"vendor"`
	Name       string             `json:"name"`
	Masked     string             `json:"masked"`
	Configured bool               `json:"configured"`
}

type settingsResponse struct {
	Vendors    []vendorSetting   `json:"vendors"`
	Theme      credentials.Theme `json:"theme"`
	Configured bool              `json:"configured"`
}

type settingsRequest struct {
	APIKeys map[string]string `json:"apiKeys"`
	Theme   string            `json:"theme,omitempty"`
}

func (h *Handler) settings() settingsResponse {
	store := h.deps.Credentials
	resp := settingsResponse{Theme: store.Theme(), Configured: store.IsConfigured()}
	for _, v := range credentials.Vendors() {
		secret, ok := store.Get(v)
		resp.Vendors = append(resp.Vendors, vendorSetting{
			Vendor:     v,
			Name:       v.DisplayName(),
			Masked:     credentials.Mask(secret),
			Configured: ok,
		})
	}
	return resp
}

// GetSettings handles GET /settings. Secrets are only ever returned masked.
func (h *Handler) GetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.settings())
}

// PutSettings handles PUT /settings: the key set is replaced, vendors left
// out are cleared. Nothing changes unless the new set is saved.
func (h *Handler) PutSettings(c echo.Context) error {
	var req settingsRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}

	keys := make(map[credentials.Vendor]string, len(req.APIKeys))
	for name, secret := range req.APIKeys {
		v, ok := credentials.ParseVendor(name)
		if !ok {
			return handleError(c, core.NewInvalidRequestError("unknown vendor: "+name, nil))
		}
		keys[v] = secret
	}
	var theme credentials.Theme
	if req.Theme != "" {
		t, err := credentials.ParseTheme(req.Theme)
		if err != nil {
			return handleError(c, core.NewInvalidRequestError(err.Error(), err))
		}
		theme = t
	}

	if err := h.deps.Credentials.Replace(c.Request().Context(), keys, theme); err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, h.settings())
}

// ClearKey handles DELETE /settings/keys/:vendor
func (h *Handler) ClearKey(c echo.Context) error {
	v, ok := credentials.ParseVendor(c.Param("vendor"))
	if !ok {
		return handleError(c, core.NewNotFoundError("unknown vendor: "+c.Param("vendor")))
	}
	err := h.deps.Credentials.Update(c.Request().Context(), func(snap *credentials.Snapshot) error {
		delete(snap.Keys, v)
		return nil
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, h.settings())
}
