package domain

import (
	"encoding/json"
	"math"
	"reflect"
)

// FeatureRecord is the per-parcel input row of the yield estimator. Suffixes
// name the phenology interval a value was aggregated over:
//
//	E  [IndEmerg, IndHalfLai]
//	M  [IndHalfLai, IndMaxLai]
//	L  [IndMaxLai, IndEndLai]
//	S1 [IndEmerg, IndMaxLai], S2 [IndMaxLai, IndEndLai], S3 [IndEndLai, season end]
type FeatureRecord struct {
	ParcelID ParcelID `csv:"id" json:"id"`

	ColdDaysE int `csv:"cold_days_e" json:"cold_days_e"`
	ColdDaysM int `csv:"cold_days_m" json:"cold_days_m"`
	HeatDaysL int `csv:"heat_days_l" json:"heat_days_l"`

	TempSumE  float64 `csv:"temp_sum_e" json:"temp_sum_e"`
	TempSumM  float64 `csv:"temp_sum_m" json:"temp_sum_m"`
	TempSumL  float64 `csv:"temp_sum_l" json:"temp_sum_l"`
	TempMeanE float64 `csv:"temp_mean_e" json:"temp_mean_e"`
	TempMeanM float64 `csv:"temp_mean_m" json:"temp_mean_m"`
	TempMeanL float64 `csv:"temp_mean_l" json:"temp_mean_l"`

	PrecSumE float64 `csv:"prec_sum_e" json:"prec_sum_e"`
	PrecSumM float64 `csv:"prec_sum_m" json:"prec_sum_m"`
	PrecSumL float64 `csv:"prec_sum_l" json:"prec_sum_l"`

	RadSumE float64 `csv:"rad_sum_e" json:"rad_sum_e"`
	RadSumM float64 `csv:"rad_sum_m" json:"rad_sum_m"`
	RadSumL float64 `csv:"rad_sum_l" json:"rad_sum_l"`

	EtSumE float64 `csv:"et_sum_e" json:"et_sum_e"`
	EtSumM float64 `csv:"et_sum_m" json:"et_sum_m"`
	EtSumL float64 `csv:"et_sum_l" json:"et_sum_l"`

	SM1S1 float64 `csv:"sm1_s1" json:"sm1_s1"`
	SM2S1 float64 `csv:"sm2_s1" json:"sm2_s1"`
	SM3S1 float64 `csv:"sm3_s1" json:"sm3_s1"`
	SM4S1 float64 `csv:"sm4_s1" json:"sm4_s1"`
	SM1S2 float64 `csv:"sm1_s2" json:"sm1_s2"`
	SM2S2 float64 `csv:"sm2_s2" json:"sm2_s2"`
	SM3S2 float64 `csv:"sm3_s2" json:"sm3_s2"`
	SM4S2 float64 `csv:"sm4_s2" json:"sm4_s2"`
	SM1S3 float64 `csv:"sm1_s3" json:"sm1_s3"`
	SM2S3 float64 `csv:"sm2_s3" json:"sm2_s3"`
	SM3S3 float64 `csv:"sm3_s3" json:"sm3_s3"`
	SM4S3 float64 `csv:"sm4_s3" json:"sm4_s3"`

	SimMaxLAI    float64 `csv:"sim_max_lai" json:"sim_max_lai"`
	SimLAIAtPeak float64 `csv:"sim_lai_at_peak" json:"sim_lai_at_peak"`
	SimGrainMass float64 `csv:"sim_grain_mass" json:"sim_grain_mass"`
	AnthesisDay  int     `csv:"anthesis_day" json:"anthesis_day"`
}

// ParcelResult collects everything computed for one parcel. Indices, Metrics
// and Features are nil when the parcel was excluded.
type ParcelResult struct {
	ParcelID ParcelID
	Curve    ParcelCurve
	Indices  *PhenologyIndices
	Metrics  *CurveMetrics
	Features *FeatureRecord
}

// FeatureValue is one numeric field of a FeatureRecord.
type FeatureValue struct {
	Name  string
	Value float64
}

// Values lists the numeric fields in column order, named by their csv tag.
func (r FeatureRecord) Values() []FeatureValue {
	v := reflect.ValueOf(r)
	t := v.Type()
	out := make([]FeatureValue, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		switch f.Kind() {
		case reflect.Float64:
			out = append(out, FeatureValue{t.Field(i).Tag.Get("csv"), f.Float()})
		case reflect.Int:
			out = append(out, FeatureValue{t.Field(i).Tag.Get("csv"), float64(f.Int())})
		}
	}
	return out
}

// SetValue assigns the field tagged name. It reports false for unknown names.
// NaN leaves integer fields unchanged.
func (r *FeatureRecord) SetValue(name string, value float64) bool {
	v := reflect.ValueOf(r).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("csv") != name {
			continue
		}
		f := v.Field(i)
		switch f.Kind() {
		case reflect.Float64:
			f.SetFloat(value)
		case reflect.Int:
			if !math.IsNaN(value) {
				f.SetInt(int64(value))
			}
		default:
			return false
		}
		return true
	}
	return false
}

// MarshalJSON encodes undefined values as null.
func (r FeatureRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 35)
	m["id"] = r.ParcelID
	for _, fv := range r.Values() {
		if math.IsNaN(fv.Value) || math.IsInf(fv.Value, 0) {
			m[fv.Name] = nil
			continue
		}
		m[fv.Name] = fv.Value
	}
	return json.Marshal(m)
}
