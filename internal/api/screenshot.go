package api

import (
	"net/http"

	"go.uber.org/zap"
)

// ScreenshotHandler serves GET /screenshot: it triggers a coordinator
// dispatch and returns the aggregated result as-is. spec.md §6/§7 require
// the literal {agent_name: [urls]} shape with no envelope, and the handler
// cannot itself fail — the coordinator always returns a (possibly partial)
// map.
type ScreenshotHandler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewScreenshotHandler creates a ScreenshotHandler.
func NewScreenshotHandler(d Dispatcher, logger *zap.Logger) *ScreenshotHandler {
	return &ScreenshotHandler{dispatcher: d, logger: logger.Named("screenshot_handler")}
}

// Get handles GET /screenshot.
func (h *ScreenshotHandler) Get(w http.ResponseWriter, r *http.Request) {
	result := h.dispatcher.Dispatch(r.Context(), screenshotDeadline)
	JSON(w, http.StatusOK, result)
}
