package report

import (
	"fmt"
	"strings"
	"time"

	coreagg "github.com/aevon-lab/report-core/internal/core/aggregation"
	coreerrors "github.com/aevon-lab/report-core/internal/core/errors"
)

// maxRangeDays bounds the days a ranged report may span.
const maxRangeDays = 3660

const maxForecastPeriods = 24

func invalidQueryf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", coreerrors.ErrInvalidQueryRange, fmt.Sprintf(format, args...))
}

func normalizeRange(r DateRange) (DateRange, error) {
	if r.StartDate.IsZero() {
		return r, invalidQueryf("startDate is required")
	}
	if r.EndDate.IsZero() {
		return r, invalidQueryf("endDate is required")
	}
	r.StartDate = coreagg.Day(r.StartDate)
	r.EndDate = coreagg.Day(r.EndDate)
	if r.EndDate.Before(r.StartDate) {
		return r, invalidQueryf("endDate %s is before startDate %s",
			r.EndDate.Format(time.DateOnly), r.StartDate.Format(time.DateOnly))
	}
	if days := r.end().Sub(r.start()).Hours() / 24; days > maxRangeDays {
		return r, invalidQueryf("range of %d days exceeds %d", int(days), maxRangeDays)
	}
	return r, nil
}

func normalizeGranularity(g coreagg.Granularity) (coreagg.Granularity, error) {
	parsed, err := coreagg.ParseGranularity(string(g))
	if err != nil {
		return "", invalidQueryf("%v", err)
	}
	return parsed, nil
}

func normalizeSales(req SalesReportRequest) (SalesReportRequest, error) {
	req.DealerID = strings.TrimSpace(req.DealerID)
	req.Region = strings.TrimSpace(req.Region)

	if req.Last != "" {
		span, err := coreagg.ParseSpan(req.Last)
		if err != nil {
			return req, invalidQueryf("last: %v", err)
		}
		if span < 24*time.Hour {
			return req, invalidQueryf("last must cover at least one day, got %q", req.Last)
		}
		if req.EndDate.IsZero() {
			return req, invalidQueryf("endDate is required")
		}
		days := int(span / (24 * time.Hour))
		req.StartDate = coreagg.Day(req.EndDate).AddDate(0, 0, -(days - 1))
		req.Last = ""
	}

	var err error
	if req.DateRange, err = normalizeRange(req.DateRange); err != nil {
		return req, err
	}
	if req.Period, err = normalizeGranularity(req.Period); err != nil {
		return req, err
	}

	switch req.GroupBy {
	case "", GroupByModel, GroupByRegion, GroupByPeriod:
	case GroupByStaff:
		if req.Region != "" {
			return req, invalidQueryf("groupBy staff cannot be combined with a region filter")
		}
	default:
		return req, invalidQueryf("invalid groupBy %q (must be model, region, staff or period)", req.GroupBy)
	}
	return req, nil
}

func normalizeDashboard(req DashboardRequest) (DashboardRequest, error) {
	req.DealerID = strings.TrimSpace(req.DealerID)
	switch req.UserType {
	case UserDealer:
		if req.DealerID == "" {
			return req, invalidQueryf("dealerId is required for dealer dashboards")
		}
	case UserManufacturer, UserAdmin:
	case "":
		return req, invalidQueryf("userType is required")
	default:
		return req, invalidQueryf("invalid userType %q (must be dealer, manufacturer or admin)", req.UserType)
	}
	return req, nil
}

func normalizeForecast(req ForecastRequest) (ForecastRequest, error) {
	req.ModelID = strings.TrimSpace(req.ModelID)
	req.Region = strings.TrimSpace(req.Region)
	req.DealerID = strings.TrimSpace(req.DealerID)
	if req.ModelID == "" {
		return req, invalidQueryf("modelId is required")
	}
	if req.Periods <= 0 || req.Periods > maxForecastPeriods {
		return req, invalidQueryf("periods must be between 1 and %d, got %d", maxForecastPeriods, req.Periods)
	}
	if req.Period == "" {
		req.Period = coreagg.Monthly
	}
	var err error
	if req.Period, err = normalizeGranularity(req.Period); err != nil {
		return req, err
	}
	return req, nil
}

func normalizeInventory(req InventoryReportRequest) InventoryReportRequest {
	req.DealerID = strings.TrimSpace(req.DealerID)
	req.ModelID = strings.TrimSpace(req.ModelID)
	return req
}

func normalizeCustomer(req CustomerReportRequest) (CustomerReportRequest, error) {
	req.DealerID = strings.TrimSpace(req.DealerID)
	req.Region = strings.TrimSpace(req.Region)
	var err error
	if req.DateRange, err = normalizeRange(req.DateRange); err != nil {
		return req, err
	}
	if req.Period, err = normalizeGranularity(req.Period); err != nil {
		return req, err
	}
	return req, nil
}

func normalizeFinancial(req FinancialReportRequest) (FinancialReportRequest, error) {
	req.DealerID = strings.TrimSpace(req.DealerID)
	var err error
	req.DateRange, err = normalizeRange(req.DateRange)
	return req, err
}

// validate checks that exactly the request matching Kind is set.
func (r ExportRequest) validate() error {
	switch r.Format {
	case FormatCSV, FormatExcel, FormatPDF:
	case "":
		return invalidQueryf("format is required")
	default:
		return invalidQueryf("invalid format %q (must be PDF, EXCEL or CSV)", r.Format)
	}

	set := 0
	for _, present := range []bool{
		r.Sales != nil, r.Dashboard != nil, r.Forecast != nil,
		r.Inventory != nil, r.Customer != nil, r.Financial != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return invalidQueryf("exactly one report request must be set, got %d", set)
	}

	var ok bool
	switch r.Kind {
	case KindSales:
		ok = r.Sales != nil
	case KindDashboard:
		ok = r.Dashboard != nil
	case KindForecast:
		ok = r.Forecast != nil
	case KindInventory:
		ok = r.Inventory != nil
	case KindCustomer:
		ok = r.Customer != nil
	case KindFinancial:
		ok = r.Financial != nil
	default:
		return invalidQueryf("invalid reportType %q", r.Kind)
	}
	if !ok {
		return invalidQueryf("reportType %s does not match the request set", r.Kind)
	}
	return nil
}
