package indicator

// Default rule set names.
const (
	ClinicalSet = "clinical"
	FoodCostSet = "food_cost"
)

var sexCodes = &Covariate{
	Field: "sex",
	Codes: map[string]string{"1": "male", "2": "female", "M": "male", "F": "female"},
}

func fptr(f float64) *float64 { return &f }

// ClinicalRules returns the laboratory and anthropometric categories, the
// metabolic syndrome count and the cardiovascular risk score. Inputs are
// the attribute names produced by the clinical reshaper.
func ClinicalRules() RuleSet {
	return RuleSet{
		Name: ClinicalSet,
		Rules: []Rule{
			{Name: "hba1c_status", Inputs: []string{"hba1c"},
				Table: bands(ClosedLower, "Normal", 5.7, "Prediabetes", 6.5, "Diabetes")},
			{Name: "glucose_status", Inputs: []string{"glucose"},
				Table: bands(ClosedLower, "Normal", 100, "Prediabetes", 126, "Diabetes")},
			{Name: "bmi_category", Inputs: []string{"bmi"},
				Table: bands(ClosedLower, "Underweight", 18.5, "Normal", 25, "Overweight", 30, "Obese")},
			{Name: "total_cholesterol_status", Inputs: []string{"total_cholesterol"},
				Table: bands(ClosedLower, "Desirable", 200, "Borderline high", 240, "High")},
			{Name: "ldl_status", Inputs: []string{"total_cholesterol", "hdl", "triglycerides"},
				Formula: &Formula{
					Op:           OpLinear,
					Coefficients: []float64{1, -1, -0.2},
					Guards:       []Guard{{Input: "triglycerides", Below: fptr(400)}},
				},
				Table: bands(ClosedLower, "Optimal", 100, "Near optimal", 130, "Borderline high", 160, "High", 190, "Very high")},
			{Name: "hdl_status", Inputs: []string{"hdl"}, Covariate: sexCodes,
				Tables: map[string]*Table{
					"male":   bands(ClosedLower, "Low", 40, "Normal", 60, "Protective"),
					"female": bands(ClosedLower, "Low", 50, "Normal", 60, "Protective"),
				}},
			{Name: "triglycerides_status", Inputs: []string{"triglycerides"},
				Table: bands(ClosedLower, "Normal", 150, "Borderline high", 200, "High", 500, "Very high")},
			{Name: "crp_status", Inputs: []string{"crp"},
				Table: bands(ClosedLower, "Low risk", 1, "Moderate risk", 3, "High risk")},
			{Name: "homa_ir", Inputs: []string{"glucose", "insulin"},
				Formula: &Formula{Op: OpProduct, Divisor: 405},
				Table:   bands(ClosedUpper, "Normal", 2.5, "Insulin resistance")},
			{Name: "tg_hdl_ratio", Inputs: []string{"triglycerides", "hdl"},
				Formula: &Formula{Op: OpRatio},
				Table:   bands(ClosedUpper, "Normal", 3, "Elevated")},
			{Name: "cholesterol_hdl_ratio", Inputs: []string{"total_cholesterol", "hdl"},
				Formula: &Formula{Op: OpRatio},
				Table:   bands(ClosedUpper, "Normal", 5, "Elevated")},
			{Name: "waist_risk", Inputs: []string{"waist"}, Covariate: sexCodes,
				Tables: map[string]*Table{
					"male":   bands(ClosedUpper, "Normal", 102, "High"),
					"female": bands(ClosedUpper, "Normal", 88, "High"),
				}},
			{Name: "waist_hip_ratio", Inputs: []string{"waist", "hip"}, Covariate: sexCodes,
				Formula: &Formula{Op: OpRatio},
				Tables: map[string]*Table{
					"male":   bands(ClosedUpper, "Normal", 0.90, "High"),
					"female": bands(ClosedUpper, "Normal", 0.85, "High"),
				}},
			{Name: "age_band", Inputs: []string{"age"},
				Table: bands(ClosedLower, "Under 45", 45, "45-64", 65, "65 and over")},
			{Name: "poverty_category", Inputs: []string{"poverty_ratio"},
				Table: bands(ClosedLower, "Below poverty line", 1, "Near poverty", 2, "Middle income", 4, "High income")},
			{Name: "diabetes_status",
				Components: []Component{
					{Indicator: "hba1c_status", Points: map[string]float64{"Diabetes": 1}},
					{Indicator: "glucose_status", Points: map[string]float64{"Diabetes": 1}},
				},
				Table: bands(ClosedLower, "No", 1, "Yes")},
			{Name: "metabolic_syndrome",
				Components: []Component{
					{Indicator: "waist_risk", Points: map[string]float64{"High": 1}},
					{Indicator: "triglycerides_status", Points: map[string]float64{"Borderline high": 1, "High": 1, "Very high": 1}},
					{Indicator: "hdl_status", Points: map[string]float64{"Low": 1}},
					{Indicator: "glucose_status", Points: map[string]float64{"Prediabetes": 1, "Diabetes": 1}},
				},
				Table: bands(ClosedLower, "No", 3, "Yes")},
			{Name: "cardiovascular_risk",
				Components: []Component{
					{Indicator: "age_band", Points: map[string]float64{"45-64": 1, "65 and over": 2}},
					{Indicator: "diabetes_status", Weight: 3, Points: map[string]float64{"Yes": 1}},
					{Indicator: "total_cholesterol_status", Weight: 2, Points: map[string]float64{"High": 1}},
					{Indicator: "hdl_status", Points: map[string]float64{"Low": 1}},
					{Indicator: "bmi_category", Points: map[string]float64{"Obese": 1}},
					{Indicator: "metabolic_syndrome", Points: map[string]float64{"Yes": 1}},
				},
				Table: bands(ClosedUpper, "Low", 2, "Moderate", 5, "High", 7, "Very high")},
		},
	}
}

// FoodCostRules returns the cost-efficiency ratios and nutrient quality
// estimates over a joined price and nutrient row. Prices are per kilogram;
// nutrients are per 100 g. The glycemic estimate is net carbohydrate over
// fiber plus one; the fat ratio is unsaturated over saturated fat plus one.
func FoodCostRules() RuleSet {
	return RuleSet{
		Name: FoodCostSet,
		Rules: []Rule{
			{Name: "price_per_100g", Inputs: []string{"price_per_kg"},
				Formula: &Formula{Op: OpValue, Divisor: 10}},
			{Name: "cost_per_g_protein", Inputs: []string{"price_per_kg", "protein"},
				Formula: &Formula{Op: OpRatio, Divisor: 10}},
			{Name: "cost_per_g_fiber", Inputs: []string{"price_per_kg", "fiber"},
				Formula: &Formula{Op: OpRatio, Divisor: 10}},
			{Name: "cost_per_100kcal", Inputs: []string{"price_per_kg", "energy"},
				Formula: &Formula{Op: OpRatio, Scale: 10}},
			{Name: "net_carbohydrate", Inputs: []string{"carbohydrate", "fiber"},
				Formula: &Formula{Op: OpLinear, Coefficients: []float64{1, -1}}},
			{Name: "fiber_density", Inputs: []string{"fiber", "energy"},
				Formula: &Formula{Op: OpRatio, Scale: 100}},
			{Name: "glycemic_index_estimate", Inputs: []string{"carbohydrate", "fiber"},
				Formula: &Formula{Op: OpQuotient, Coefficients: []float64{1, -1}, Denominator: []float64{0, 1}, Offset: 1}},
			{Name: "healthy_fat", Inputs: []string{"monounsaturated_fat", "polyunsaturated_fat"},
				Formula: &Formula{Op: OpLinear, Coefficients: []float64{1, 1}}},
			{Name: "fat_quality_ratio", Inputs: []string{"monounsaturated_fat", "polyunsaturated_fat", "saturated_fat"},
				Formula: &Formula{Op: OpQuotient, Coefficients: []float64{1, 1, 0}, Denominator: []float64{0, 0, 1}, Offset: 1}},
		},
	}
}

// DefaultRuleSets returns the built-in rule sets keyed by name.
func DefaultRuleSets() map[string]RuleSet {
	return map[string]RuleSet{
		ClinicalSet: ClinicalRules(),
		FoodCostSet: FoodCostRules(),
	}
}
