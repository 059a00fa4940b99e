// Package domain models per-parcel crop growth signals: satellite vegetation
// index observations, the daily curves smoothed from them, phenology indices,
// daily weather and the feature records handed to the yield estimator.
//
// # Data Source
//
// Observations are zonal statistics computed upstream from vegetation index
// rasters (LAI, NDVI, ...) over each parcel polygon. Every acquisition date
// contributes one triple per parcel and feature:
//
//	mean   integer-encoded index value (LAI 1.25 is stored as 1250)
//	valid  number of cloud-free pixels inside the parcel
//	total  number of pixels inside the parcel
//
// Weather is extracted upstream from gridded reanalysis files onto each
// parcel, one record per day.
//
// # Season Grid
//
// All day-indexed arrays share one grid: offset 0 is the season start date
// and offset [Season.GridLength]-1 is the (inclusive) season end date. The
// default season runs from January 1 to November 30.
//
// # Undefined Values
//
// A [DailyCurve] stores NaN for days it cannot support. Curves are only
// smoothed inside the observed date range, so leading and trailing days stay
// undefined until the phenology indexer edge-extends them.
//
// # Phenology Indices
//
//	IndEmerg    emergence, the end of the flat pre-season baseline
//	IndHalfLai  first day above half of the green-up amplitude
//	IndMaxLai   first day of the seasonal maximum
//	IndEndLai   first day the senescence decline falls under 10% of amplitude
//
// Indices are day offsets on the season grid and are non-decreasing in the
// order listed.
package domain
