package model

import "time"

// PeriodType is the temporal granularity a schedule entry's partitions are
// keyed on.
type PeriodType string

const (
	PeriodHourly  PeriodType = "hourly"
	PeriodDaily   PeriodType = "daily"
	PeriodMonthly PeriodType = "monthly"
)

// IsValid reports whether the period type is one of the supported values.
func (p PeriodType) IsValid() bool {
	switch p {
	case PeriodHourly, PeriodDaily, PeriodMonthly:
		return true
	}
	return false
}

// Period is the resolved granularity instance for one audit batch:
// Daily carries a date, Monthly a month, Hourly a date plus an hour.
// Only the fields applicable to the Type are populated; the ledger receives
// the same fields flattened, empty where inapplicable.
type Period struct {
	Type PeriodType
	// Date is the business date (YYYYMMDD). Set for daily and hourly periods.
	Date string
	// Month is the business month (YYYYMM). Set for monthly periods.
	Month string
	// Hour is the business hour (HH, zero-padded). Set for hourly periods.
	Hour string
}

// NewDailyPeriod builds a daily period for a YYYYMMDD date.
func NewDailyPeriod(date string) Period {
	return Period{Type: PeriodDaily, Date: date}
}

// NewMonthlyPeriod builds a monthly period for a YYYYMM month.
func NewMonthlyPeriod(month string) Period {
	return Period{Type: PeriodMonthly, Month: month}
}

// NewHourlyPeriod builds an hourly period for a YYYYMMDD date and HH hour.
func NewHourlyPeriod(date, hour string) Period {
	return Period{Type: PeriodHourly, Date: date, Hour: hour}
}

// String renders the period for log lines.
func (p Period) String() string {
	switch p.Type {
	case PeriodMonthly:
		return string(p.Type) + " " + p.Month
	case PeriodHourly:
		return string(p.Type) + " " + p.Date + "/" + p.Hour
	default:
		return string(p.Type) + " " + p.Date
	}
}

// DataDate returns the ledger data_date value, empty when inapplicable.
func (p Period) DataDate() string {
	if p.Type == PeriodMonthly {
		return ""
	}
	return p.Date
}

// DataMonth returns the ledger data_month value, empty when inapplicable.
func (p Period) DataMonth() string {
	if p.Type == PeriodMonthly {
		return p.Month
	}
	return ""
}

// DataHour returns the ledger data_hour value, empty when inapplicable.
func (p Period) DataHour() string {
	if p.Type == PeriodHourly {
		return p.Hour
	}
	return ""
}

// Placeholders returns the substitution values available to partition
// templates for this period. Daily and hourly periods also expose
// ${data_month} derived from the date prefix, matching how catalogs mix a
// month directory into date-partitioned paths. Missing values are absent
// from the map so unresolved placeholders can be detected after
// substitution.
func (p Period) Placeholders() map[string]string {
	vals := make(map[string]string, 3)
	switch p.Type {
	case PeriodDaily:
		if p.Date != "" {
			vals["data_date"] = p.Date
			if len(p.Date) >= 6 {
				vals["data_month"] = p.Date[:6]
			}
		}
	case PeriodMonthly:
		if p.Month != "" {
			vals["data_month"] = p.Month
		}
	case PeriodHourly:
		if p.Date != "" {
			vals["data_date"] = p.Date
			if len(p.Date) >= 6 {
				vals["data_month"] = p.Date[:6]
			}
		}
		if p.Hour != "" {
			vals["data_hour"] = p.Hour
		}
	}
	return vals
}

// DateLayout is the wire format of business dates (YYYYMMDD).
const DateLayout = "20060102"

// MonthLayout is the wire format of business months (YYYYMM).
const MonthLayout = "200601"

// HourLayout is the wire format of business hours (HH).
const HourLayout = "15"

// Yesterday returns the business date one day before now, in now's location.
func Yesterday(now time.Time) string {
	return now.AddDate(0, 0, -1).Format(DateLayout)
}

// PreviousMonth returns the business month before the month of now.
func PreviousMonth(now time.Time) string {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return firstOfMonth.AddDate(0, 0, -1).Format(MonthLayout)
}
