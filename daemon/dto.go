package daemon

import "time"

// textRenderRequest is the body of POST /api/v1/renders/text.
type textRenderRequest struct {
	Text            string  `json:"text"`
	Font            string  `json:"font,omitempty"`
	WidthPx         int     `json:"width_px"`
	FontSizeMinPx   float64 `json:"font_size_min_px"`
	FontSizeMaxPx   float64 `json:"font_size_max_px"`
	LineSpacing     float64 `json:"line_spacing"`
	Threshold       uint8   `json:"threshold"`
	Invert          bool    `json:"invert"`
	TrimBlank       bool    `json:"trim_blank"`
	Density         uint8   `json:"density"`
	AddressOverride string  `json:"address_override,omitempty"`
}

// imageRenderRequest is the body of POST /api/v1/renders/image.
type imageRenderRequest struct {
	ImageBase64     string `json:"image_base64"`
	WidthPx         int    `json:"width_px"`
	MaxHeightPx     int    `json:"max_height_px,omitempty"`
	Method          string `json:"method,omitempty"` // "threshold" (default) | "floyd-steinberg"
	Dither          string `json:"dither,omitempty"` // overrides method with a named raster.DitherFunction, e.g. "atkinson", "stucki", "bayer"
	Threshold       uint8  `json:"threshold"`
	Invert          bool   `json:"invert"`
	TrimBlank       bool   `json:"trim_blank"`
	Density         uint8  `json:"density"`
	AddressOverride string `json:"address_override,omitempty"`
}

// renderResponse is returned by both render endpoints.
type renderResponse struct {
	ID         string `json:"id"`
	Lines      int    `json:"lines"`
	Density    uint8  `json:"density"`
	PreviewURL string `json:"preview_url"`
}

// printRequest is the body of POST /api/v1/print.
type printRequest struct {
	RenderID string `json:"render_id"`
	Address  string `json:"address,omitempty"`
}

// printResponse is returned by POST /api/v1/print.
type printResponse struct {
	JobID string `json:"job_id"`
}

// jobResponse mirrors Job for the wire, formatted for JSON.
type jobResponse struct {
	ID        string    `json:"id"`
	RenderID  string    `json:"render_id"`
	Address   string    `json:"address"`
	Density   uint8     `json:"density"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newJobResponse(j Job) jobResponse {
	return jobResponse{
		ID:        j.ID,
		RenderID:  j.RenderID,
		Address:   j.Address,
		Density:   j.Density,
		Status:    string(j.Status),
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
	}
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}
