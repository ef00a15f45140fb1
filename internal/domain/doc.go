// Package domain models penalty-disclosure records published through the
// Taiwan PRTR (Pollutant Release and Transfer Register) open-data API.
//
// # Record Shapes
//
// The upstream system has published two field-naming schemes over time:
//
//	Legacy CSV export (ZIP of CSV files), Chinese column names:
//	  裁處書字號  "21-113-000123"
//	  裁處日期    "113/05/01"       (ROC calendar: 113 + 1911 = 2024)
//
//	Current JSON API, upper-case English field names:
//	  COUNTY       "高雄市"
//	  DOCUMENTNO   "21-114-070054"
//	  PENALTYDATE  "2025/07/03"
//
// Both are normalized into a flat [RawRecord] of text values.
//
// # Document Numbers
//
// A document number has the form "<agency>-<year>-<sequence>", e.g.
// "21-114-070054": agency code 21, ROC year 114, sequence 070054. The unique
// id of a current-format record is "<county>_<document number>"; legacy
// records use the bare document number.
//
// # Year Resolution
//
// The year embedded in a document number is not always the filing year: a
// document series keeps its original year after it rolls over. [ExtractYear]
// therefore prefers an explicit date field (PENALTYDATE, TRANSGRESSDATE,
// UPDATETIME, then the legacy date columns) and [ParseUniqueID] only falls
// back to ROC-to-Gregorian conversion of the embedded year when no date field
// is usable.
//
// # Periods
//
// Queries are issued per date range. [FixedWidthPeriods] slices a known range
// into fixed-width windows; [QuarterWalkBackward] walks calendar quarters
// into the past for open-ended backfills.
package domain
