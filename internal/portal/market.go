package portal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gannportal/internal/marketdata"
)

func (s *Server) handleStockData(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		errJSON(c, http.StatusBadRequest, "Symbol parameter is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	hist, err := s.market.EOD(c.Request.Context(), symbol, limit)
	if err != nil {
		s.marketError(c, err, symbol)
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (s *Server) handleStockSearch(c *gin.Context) {
	query := c.Query("query")
	if len(query) < 2 {
		errJSON(c, http.StatusBadRequest, "Query parameter is required and must be at least 2 characters long")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	res, err := s.market.Search(c.Request.Context(), query, limit, offset)
	if err != nil {
		s.marketError(c, err, query)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": marketdata.Categories()})
}

func (s *Server) marketError(c *gin.Context, err error, subject string) {
	if errors.Is(err, marketdata.ErrSymbolNotFound) {
		errJSON(c, http.StatusNotFound, "Invalid symbol or symbol not found")
		return
	}
	var se *marketdata.StatusError
	if errors.As(err, &se) {
		s.log.Warn("provider error", "status", se.Code, "subject", subject)
		errJSON(c, http.StatusBadGateway, "Market data provider error")
		return
	}
	s.log.Error("market data fetch failed", "error", err, "subject", subject)
	errJSON(c, http.StatusInternalServerError, "Internal server error")
}
