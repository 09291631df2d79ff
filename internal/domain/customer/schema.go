package customer

import "sort"

// Raw input column names.
const (
	FieldEducation     = "Education"
	FieldMaritalStatus = "Marital_Status"
	FieldIncome        = "Income"
	FieldKidhome       = "Kidhome"
	FieldTeenhome      = "Teenhome"
	FieldRecency       = "Recency"
	FieldDtCustomer    = "Dt_Customer"
	FieldYearBirth     = "Year_Birth"
)

// Derived feature column names.
const (
	ColTenureDays      = "tenure_days"
	ColAge             = "age"
	ColTotalSpend      = "total_spend"
	ColLivingSituation = "living_situation"
	ColChildren        = "children"
	ColFamilySize      = "family_size"
	ColIsParent        = "is_parent"
	ColEducationTier   = "education_tier"
)

// Category values produced by the remaps.
const (
	Partner       = "Partner"
	Alone         = "Alone"
	Undergraduate = "Undergraduate"
	Graduate      = "Graduate"
	Postgraduate  = "Postgraduate"
)

// SpendFields are the six category-spend columns summed into total_spend.
var SpendFields = []string{
	"MntWines",
	"MntFruits",
	"MntMeatProducts",
	"MntFishProducts",
	"MntSweetProducts",
	"MntGoldProds",
}

// EngagementFields are the purchase and visit counters carried through.
var EngagementFields = []string{
	"NumDealsPurchases",
	"NumWebPurchases",
	"NumCatalogPurchases",
	"NumStorePurchases",
	"NumWebVisitsMonth",
}

// educationTiers is the fixed education lookup. Values outside it pass
// through unchanged and are handled by the encoder's unknown ordinal.
var educationTiers = map[string]string{
	"Basic":      Undergraduate,
	"2n Cycle":   Undergraduate,
	"Graduation": Graduate,
	"Master":     Postgraduate,
	"PhD":        Postgraduate,
}

// partnerStatuses lists the marital statuses that count as living with a
// partner. Anything else, known or not, is Alone.
var partnerStatuses = map[string]bool{
	"Married":  true,
	"Together": true,
}

// EducationTier remaps a raw education label.
func EducationTier(education string) string {
	if tier, ok := educationTiers[education]; ok {
		return tier
	}
	return education
}

// LivingSituation remaps a raw marital status.
func LivingSituation(marital string) string {
	if partnerStatuses[marital] {
		return Partner
	}
	return Alone
}

// Kind is the storage class of a feature column.
type Kind int

const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	if k == Categorical {
		return "categorical"
	}
	return "numeric"
}

// Column describes one feature column.
type Column struct {
	Name string
	Kind Kind
}

// Schema is an ordered set of feature columns.
type Schema []Column

// FeatureSchema is the column set every FeatureRecord carries, in order.
var FeatureSchema = Schema{
	{Name: ColEducationTier, Kind: Categorical},
	{Name: FieldIncome, Kind: Numeric},
	{Name: FieldKidhome, Kind: Numeric},
	{Name: FieldTeenhome, Kind: Numeric},
	{Name: FieldRecency, Kind: Numeric},
	{Name: "MntWines", Kind: Numeric},
	{Name: "MntFruits", Kind: Numeric},
	{Name: "MntMeatProducts", Kind: Numeric},
	{Name: "MntFishProducts", Kind: Numeric},
	{Name: "MntSweetProducts", Kind: Numeric},
	{Name: "MntGoldProds", Kind: Numeric},
	{Name: "NumDealsPurchases", Kind: Numeric},
	{Name: "NumWebPurchases", Kind: Numeric},
	{Name: "NumCatalogPurchases", Kind: Numeric},
	{Name: "NumStorePurchases", Kind: Numeric},
	{Name: "NumWebVisitsMonth", Kind: Numeric},
	{Name: ColTenureDays, Kind: Numeric},
	{Name: ColAge, Kind: Numeric},
	{Name: ColTotalSpend, Kind: Numeric},
	{Name: ColLivingSituation, Kind: Categorical},
	{Name: ColChildren, Kind: Numeric},
	{Name: ColFamilySize, Kind: Numeric},
	{Name: ColIsParent, Kind: Numeric},
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Filter returns the columns of the given kind, in schema order.
func (s Schema) Filter(kind Kind) Schema {
	var out Schema
	for _, c := range s {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Diff compares a record's keys against the schema.
// Both results are sorted.
func (s Schema) Diff(rec FeatureRecord) (missing, extra []string) {
	known := make(map[string]struct{}, len(s))
	for _, c := range s {
		known[c.Name] = struct{}{}
		if _, ok := rec[c.Name]; !ok {
			missing = append(missing, c.Name)
		}
	}
	for name := range rec {
		if _, ok := known[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}
