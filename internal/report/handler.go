package report

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
	httperr "github.com/aevon-lab/report-core/internal/core/errors"
)

// RegisterRoutes registers the read-only report API on r.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/v1/reports")
	g.GET("/sales", s.HandleSales)
	g.GET("/dashboard", s.HandleDashboard)
	g.GET("/forecast", s.HandleForecast)
	g.GET("/inventory", s.HandleInventory)
	g.GET("/customers", s.HandleCustomers)
	g.GET("/financial", s.HandleFinancial)
	g.GET("/export/:report", s.HandleExport)
}

type rangeQuery struct {
	DealerID  string    `form:"dealerId"`
	Region    string    `form:"region"`
	StartDate time.Time `form:"startDate" time_format:"2006-01-02" time_utc:"1"`
	EndDate   time.Time `form:"endDate" time_format:"2006-01-02" time_utc:"1"`
	Period    string    `form:"period"`
}

func (q rangeQuery) dateRange() DateRange {
	return DateRange{StartDate: q.StartDate, EndDate: q.EndDate}
}

type salesQuery struct {
	rangeQuery
	Last    string `form:"last"`
	GroupBy string `form:"groupBy"`
}

func (q salesQuery) request() SalesReportRequest {
	return SalesReportRequest{
		DealerID:  q.DealerID,
		Region:    q.Region,
		DateRange: q.dateRange(),
		Last:      q.Last,
		Period:    coreagg.Granularity(q.Period),
		GroupBy:   GroupBy(strings.ToLower(q.GroupBy)),
	}
}

type dashboardQuery struct {
	DealerID string `form:"dealerId"`
	UserType string `form:"userType" binding:"required"`
}

func (q dashboardQuery) request() DashboardRequest {
	return DashboardRequest{DealerID: q.DealerID, UserType: UserType(strings.ToLower(q.UserType))}
}

type forecastQuery struct {
	ModelID  string `form:"modelId" binding:"required"`
	Region   string `form:"region"`
	DealerID string `form:"dealerId"`
	Periods  int    `form:"periods"`
	Period   string `form:"period"`
}

func (q forecastQuery) request() ForecastRequest {
	periods := q.Periods
	if periods == 0 {
		periods = 1
	}
	return ForecastRequest{
		ModelID:  q.ModelID,
		Region:   q.Region,
		DealerID: q.DealerID,
		Periods:  periods,
		Period:   coreagg.Granularity(q.Period),
	}
}

type inventoryQuery struct {
	DealerID string `form:"dealerId"`
	ModelID  string `form:"modelId"`
}

func (q inventoryQuery) request() InventoryReportRequest {
	return InventoryReportRequest{DealerID: q.DealerID, ModelID: q.ModelID}
}

func customerRequest(q rangeQuery) CustomerReportRequest {
	return CustomerReportRequest{
		DealerID:  q.DealerID,
		Region:    q.Region,
		DateRange: q.dateRange(),
		Period:    coreagg.Granularity(q.Period),
	}
}

func financialRequest(q rangeQuery) FinancialReportRequest {
	return FinancialReportRequest{DealerID: q.DealerID, DateRange: q.dateRange()}
}

// HandleSales handles GET /v1/reports/sales
// Query parameters: dealerId, region, startDate, endDate, last, period, groupBy
func (s *Service) HandleSales(c *gin.Context) {
	var q salesQuery
	if !bindQuery(c, &q) {
		return
	}
	respond(c, KindSales, func(ctx context.Context) (any, error) { return s.SalesReport(ctx, q.request()) })
}

// HandleDashboard handles GET /v1/reports/dashboard
// Query parameters: dealerId, userType
func (s *Service) HandleDashboard(c *gin.Context) {
	var q dashboardQuery
	if !bindQuery(c, &q) {
		return
	}
	respond(c, KindDashboard, func(ctx context.Context) (any, error) { return s.Dashboard(ctx, q.request()) })
}

// HandleForecast handles GET /v1/reports/forecast
// Query parameters: modelId, region, dealerId, periods, period
func (s *Service) HandleForecast(c *gin.Context) {
	var q forecastQuery
	if !bindQuery(c, &q) {
		return
	}
	respond(c, KindForecast, func(ctx context.Context) (any, error) { return s.Forecast(ctx, q.request()) })
}

func (s *Service) HandleInventory(c *gin.Context) {
	var q inventoryQuery
	if !bindQuery(c, &q) {
		return
	}
	respond(c, KindInventory, func(ctx context.Context) (any, error) { return s.InventoryReport(ctx, q.request()) })
}

func (s *Service) HandleCustomers(c *gin.Context) {
	var q rangeQuery
	if !bindQuery(c, &q) {
		return
	}
	respond(c, KindCustomer, func(ctx context.Context) (any, error) { return s.CustomerReport(ctx, customerRequest(q)) })
}

func (s *Service) HandleFinancial(c *gin.Context) {
	var q rangeQuery
	if !bindQuery(c, &q) {
		return
	}
	respond(c, KindFinancial, func(ctx context.Context) (any, error) { return s.FinancialReport(ctx, financialRequest(q)) })
}

// HandleExport handles GET /v1/reports/export/:report?format=CSV|EXCEL|PDF
// with the query parameters of the exported report.
func (s *Service) HandleExport(c *gin.Context) {
	req := ExportRequest{
		Kind:   Kind(strings.ToLower(c.Param("report"))),
		Format: Format(strings.ToUpper(c.Query("format"))),
	}

	var ok bool
	switch req.Kind {
	case KindSales:
		var q salesQuery
		if ok = bindQuery(c, &q); ok {
			r := q.request()
			req.Sales = &r
		}
	case KindDashboard:
		var q dashboardQuery
		if ok = bindQuery(c, &q); ok {
			r := q.request()
			req.Dashboard = &r
		}
	case KindForecast:
		var q forecastQuery
		if ok = bindQuery(c, &q); ok {
			r := q.request()
			req.Forecast = &r
		}
	case KindInventory:
		var q inventoryQuery
		if ok = bindQuery(c, &q); ok {
			r := q.request()
			req.Inventory = &r
		}
	case KindCustomer:
		var q rangeQuery
		if ok = bindQuery(c, &q); ok {
			r := customerRequest(q)
			req.Customer = &r
		}
	case KindFinancial:
		var q rangeQuery
		if ok = bindQuery(c, &q); ok {
			r := financialRequest(q)
			req.Financial = &r
		}
	default:
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Unknown report",
			Details:   c.Param("report"),
		})
		return
	}
	if !ok {
		return
	}

	out, err := s.Export(c.Request.Context(), req)
	if err != nil {
		writeError(c, req.Kind, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+out.Filename+`"`)
	c.Data(http.StatusOK, out.ContentType, out.Body)
}

func bindQuery(c *gin.Context, q any) bool {
	if err := c.ShouldBindQuery(q); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return false
	}
	return true
}

func respond(c *gin.Context, kind Kind, run func(context.Context) (any, error)) {
	resp, err := run(c.Request.Context())
	if err != nil {
		writeError(c, kind, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func writeError(c *gin.Context, kind Kind, err error) {
	switch {
	case errors.Is(err, httperr.ErrInvalidQueryRange):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid " + string(kind) + " report query",
			Details:   err.Error(),
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, httperr.ErrTransientStore):
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnavailableError,
			Message:   "Report temporarily unavailable",
			Details:   err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to compute " + string(kind) + " report",
			Details:   err.Error(),
		})
	}
}
