package portal

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gannportal/internal/gann"
	"gannportal/internal/markethours"
	"gannportal/internal/marketdata"
	"gannportal/internal/model"
	"gannportal/internal/sheet"
)

type analysisRequest struct {
	Symbol        string             `json:"symbol"`
	Category      string             `json:"category"`
	Item          string             `json:"item"`
	Values        []model.PricePoint `json:"values"`
	Duration      int                `json:"duration"`
	OverridePrice *float64           `json:"override_price"`
}

func (s *Server) handleAnalysis(c *gin.Context) {
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Duration == 0 {
		req.Duration = 1
	}

	var (
		series []model.PricePoint
		source string
		symbol string
	)
	switch {
	case len(req.Values) > 0:
		// Caller-supplied bars, oldest first.
		series = req.Values
		source = "inline"
	default:
		symbol = req.Symbol
		if req.Category != "" && req.Item != "" {
			symbol = marketdata.Resolve(req.Category, req.Item)
		}
		if symbol == "" {
			errJSON(c, http.StatusBadRequest, "Either values or a symbol is required")
			return
		}
		hist, err := s.market.EOD(c.Request.Context(), symbol, 30)
		if err != nil {
			s.marketError(c, err, symbol)
			return
		}
		series = chronological(hist.Values)
		series = s.dropFormingBar(series)
		source = "provider"
	}

	s.runAnalysis(c, series, req.Duration, req.OverridePrice, source, symbol)
}

func (s *Server) handleAnalysisUpload(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		errJSON(c, http.StatusBadRequest, "An XLSX file is required")
		return
	}
	defer file.Close()

	duration := 1
	if v := c.PostForm("duration"); v != "" {
		if duration, err = strconv.Atoi(v); err != nil || duration < 1 {
			errJSON(c, http.StatusBadRequest, "Invalid duration")
			return
		}
	}
	var override *float64
	if v := c.PostForm("override_price"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errJSON(c, http.StatusBadRequest, "Invalid override price")
			return
		}
		override = &f
	}

	series, err := sheet.Parse(file)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SheetUploadErrors.Inc()
		}
		errJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	s.runAnalysis(c, series, duration, override, "upload", "")
}

func (s *Server) handleTemplate(c *gin.Context) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="price-history-template.xlsx"`)
	if err := sheet.WriteTemplate(c.Writer); err != nil {
		s.log.Error("template write failed", "error", err)
	}
}

// runAnalysis feeds a chronological series through the engine and writes
// the response.
func (s *Server) runAnalysis(c *gin.Context, series []model.PricePoint, duration int, override *float64, source, symbol string) {
	start := time.Now()
	result, err := s.engine.Analyze(series, duration, override)
	if err != nil {
		s.analysisError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.AnalysisDur.Observe(time.Since(start).Seconds())
		s.metrics.AnalysesTotal.WithLabelValues(source).Inc()
	}

	resp := gin.H{
		"success":    true,
		"source":     source,
		"stats":      result.Stats,
		"returns":    result.Returns,
		"levels":     result.Levels,
		"key_levels": gann.KeyLevels(result.Levels),
	}
	if symbol != "" {
		resp["symbol"] = symbol
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) analysisError(c *gin.Context, err error) {
	var priceErr *gann.InvalidPriceError
	switch {
	case errors.Is(err, gann.ErrInsufficientData),
		errors.Is(err, gann.ErrInvalidDuration),
		errors.As(err, &priceErr):
		errJSON(c, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("analysis failed", "error", err)
		errJSON(c, http.StatusInternalServerError, "Internal server error")
	}
}

// chronological returns the series oldest-first. The provider delivers
// bars newest-first.
func chronological(values []model.PricePoint) []model.PricePoint {
	out := make([]model.PricePoint, len(values))
	for i, v := range values {
		out[len(values)-1-i] = v
	}
	return out
}

// dropFormingBar removes the trailing bar when today's session has not
// settled yet, so a half-formed close never skews the estimate.
func (s *Server) dropFormingBar(series []model.PricePoint) []model.PricePoint {
	if len(series) == 0 {
		return series
	}
	last := series[len(series)-1]
	if markethours.Forming(last.Datetime, s.now()) {
		return series[:len(series)-1]
	}
	return series
}
